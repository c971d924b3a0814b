// Package ingest 消费循环测试
package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rawEvent(taskID, kind string, offset time.Duration) []byte {
	return []byte(fmt.Sprintf(`{"task_id": %q, "type": %q, "timestamp": %q, "name": "tasks.demo", "hostname": "w1"}`,
		taskID, kind, base.Add(offset).Format(time.RFC3339Nano)))
}

func newTestMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	mon := monitor.New(monitor.DefaultConfig(), nil, nil, nil, nil)
	t.Cleanup(mon.Close)
	return mon
}

func TestRun_ConsumesAndAcks(t *testing.T) {
	q := queue.NewMockQueue()
	mon := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i, kind := range []string{"task-sent", "task-started", "task-succeeded"} {
		id, _ := q.PublishRawEvent(ctx, rawEvent("t1", kind, time.Duration(i)*time.Second))
		ids = append(ids, id)
	}
	// malformed 载荷同样要被确认
	badID, _ := q.PublishRawEvent(ctx, []byte(`{"type": "task-exploded"}`))
	ids = append(ids, badID)

	c := New(q, mon, nil, "consumer-test")
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		rec, err := mon.GetTask("t1")
		if err == nil && rec.Status == model.StatusSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatal("task never reached succeeded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}

	for _, id := range ids {
		if !q.Acked(id) {
			t.Errorf("message %s not acked", id)
		}
	}
}

func TestRun_RedeliveryAbsorbedByDedup(t *testing.T) {
	q := queue.NewMockQueue()
	mon := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 同一事件投递两次，模拟 at-least-once 重投
	payload := rawEvent("t1", "task-started", 0)
	id1, _ := q.PublishRawEvent(ctx, payload)
	id2, _ := q.PublishRawEvent(ctx, payload)

	c := New(q, mon, nil, "consumer-test")
	go c.Run(ctx)

	// 确认发生在处理之后，两条都确认即处理完毕
	deadline := time.After(2 * time.Second)
	for !q.Acked(id1) || !q.Acked(id2) {
		select {
		case <-deadline:
			t.Fatal("messages never acked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec, err := mon.GetTask("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.Status != model.StatusRunning || len(rec.History) != 1 {
		t.Errorf("status=%s history=%d, want running with single event", rec.Status, len(rec.History))
	}
}

func TestNew_GeneratesConsumerID(t *testing.T) {
	c := New(queue.NewMockQueue(), newTestMonitor(t), nil, "")
	if c.consumerID == "" {
		t.Fatal("consumer id empty")
	}
}
