// Package monitor 监控器门面测试
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor/broadcast"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/index"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/normalizer"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage"
)

// memorySnapshotStore 内存 SnapshotStore（测试用）
type memorySnapshotStore struct {
	mu      sync.Mutex
	tasks   map[string]*model.TaskView
	workers map[string]*model.WorkerRecord
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{
		tasks:   make(map[string]*model.TaskView),
		workers: make(map[string]*model.WorkerRecord),
	}
}

func (s *memorySnapshotStore) UpsertTask(ctx context.Context, view *model.TaskView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[view.ID] = view
	return nil
}

func (s *memorySnapshotStore) GetTask(ctx context.Context, taskID string) (*model.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.tasks[taskID]; ok {
		return v, nil
	}
	return nil, storage.ErrNotFound
}

func (s *memorySnapshotStore) UpsertWorker(ctx context.Context, record *model.WorkerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[record.Hostname] = record
	return nil
}

func (s *memorySnapshotStore) ListWorkers(ctx context.Context) ([]*model.WorkerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.WorkerRecord, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out, nil
}

func (s *memorySnapshotStore) Close() error { return nil }

var _ storage.SnapshotStore = (*memorySnapshotStore)(nil)

func newTestMonitor(t *testing.T, resubmit queue.ResubmitQueue) *Monitor {
	t.Helper()
	m := New(DefaultConfig(), nil, nil, resubmit, nil)
	t.Cleanup(m.Close)
	return m
}

func rawEvent(taskID string, kind model.EventType, ts time.Time, extra string) json.RawMessage {
	s := fmt.Sprintf(`{"task_id": %q, "type": %q, "timestamp": %q, "name": "tasks.demo", "hostname": "w1"%s}`,
		taskID, kind, ts.Format(time.RFC3339Nano), extra)
	return json.RawMessage(s)
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// TestApplyEvent_EndToEnd 事件流过门面后索引、订阅、查询同步可见
func TestApplyEvent_EndToEnd(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	sub := m.Subscribe(broadcast.Filter{})

	for i, kind := range []model.EventType{model.EventTaskSent, model.EventTaskStarted, model.EventTaskSucceeded} {
		tr, err := m.ApplyEvent(ctx, rawEvent("task-1", kind, base.Add(time.Duration(i)*time.Second), ""))
		if err != nil {
			t.Fatalf("apply %s: %v", kind, err)
		}
		if tr == nil {
			t.Fatalf("apply %s: no transition", kind)
		}
	}

	// 查询索引同步更新
	rec, err := m.GetTask("task-1")
	if err != nil || rec.Status != model.StatusSucceeded {
		t.Fatalf("get: rec=%+v err=%v", rec, err)
	}
	if got := m.CountByStatus()[model.StatusSucceeded]; got != 1 {
		t.Errorf("count = %d", got)
	}
	res, err := m.Query(index.QueryOptions{Filters: []index.Filter{
		{Field: "status", Op: index.OpIs, Values: []string{"succeeded"}},
	}})
	if err != nil || res.Total != 1 {
		t.Errorf("query: total=%d err=%v", res.Total, err)
	}

	// 订阅者按 Apply 顺序收到三次变更
	var got []model.EventType
	for range 3 {
		select {
		case tr := <-sub.Events():
			got = append(got, tr.Event)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	want := []model.EventType{model.EventTaskSent, model.EventTaskStarted, model.EventTaskSucceeded}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition order = %v, want %v", got, want)
		}
	}
}

// TestApplyEvent_Malformed 规范化失败返回错误且不产生状态
func TestApplyEvent_Malformed(t *testing.T) {
	m := newTestMonitor(t, nil)

	_, err := m.ApplyEvent(context.Background(), json.RawMessage(`{"type": "task-exploded"}`))
	if !errors.Is(err, normalizer.ErrMalformedEvent) {
		t.Fatalf("err = %v", err)
	}
	if m.TaskCount() != 0 {
		t.Errorf("malformed event created state")
	}
}

// TestApplyEvent_WorkerLifecycle Worker 事件路由到注册表
func TestApplyEvent_WorkerLifecycle(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	hb := fmt.Sprintf(`{"type": "worker-heartbeat", "timestamp": %q, "hostname": "w1", "active": 2, "processed": 40, "sw_ident": "celery", "sw_ver": "5.4"}`,
		base.Format(time.RFC3339Nano))
	if _, err := m.ApplyEvent(ctx, json.RawMessage(hb)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	w, err := m.GetWorker("w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if !w.IsOnline() || w.ActiveTasks != 2 || w.Processed != 40 || w.SoftwareIdent != "celery" {
		t.Errorf("worker: %+v", w)
	}

	off := fmt.Sprintf(`{"type": "worker-offline", "timestamp": %q, "hostname": "w1"}`, base.Add(time.Minute).Format(time.RFC3339Nano))
	if _, err := m.ApplyEvent(ctx, json.RawMessage(off)); err != nil {
		t.Fatalf("offline: %v", err)
	}
	w, _ = m.GetWorker("w1")
	if w.Status != model.WorkerOffline {
		t.Errorf("status = %s", w.Status)
	}

	if _, err := m.GetWorker("nope"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("unknown worker err = %v", err)
	}
}

// TestApplyEvent_TaskEventObservesWorker 任务事件让注册表见到主机名
func TestApplyEvent_TaskEventObservesWorker(t *testing.T) {
	m := newTestMonitor(t, nil)

	if _, err := m.ApplyEvent(context.Background(), rawEvent("task-1", model.EventTaskStarted, base, "")); err != nil {
		t.Fatal(err)
	}
	w, err := m.GetWorker("w1")
	if err != nil || w.Status != model.WorkerUnknown {
		t.Fatalf("observed worker: %+v err=%v", w, err)
	}
}

// TestRetry 重投生成新身份、入队、串链
func TestRetry(t *testing.T) {
	q := queue.NewMockQueue()
	m := newTestMonitor(t, q)
	ctx := context.Background()

	if _, err := m.ApplyEvent(ctx, rawEvent("task-a", model.EventTaskFailed, base, `, "queue": "default", "args": "[1]"`)); err != nil {
		t.Fatal(err)
	}

	newID, err := m.Retry(ctx, "task-a")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if newID == "" || newID == "task-a" {
		t.Fatalf("new id = %q", newID)
	}

	// 重投请求进了队列
	resubmits := q.Resubmits()
	if len(resubmits) != 1 {
		t.Fatalf("resubmits = %d", len(resubmits))
	}
	if resubmits[0].RetryOf != "task-a" || resubmits[0].NewTaskID != newID || resubmits[0].Name != "tasks.demo" {
		t.Errorf("resubmit: %+v", resubmits[0])
	}

	// 前驱转 retry，后继挂上链
	a, _ := m.GetTask("task-a")
	if a.Status != model.StatusRetry || !a.HasRetries {
		t.Errorf("predecessor: status=%s has_retries=%v", a.Status, a.HasRetries)
	}
	b, err := m.GetTask(newID)
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	if b.RetryOf != "task-a" {
		t.Errorf("successor retry_of = %q", b.RetryOf)
	}

	// 未知任务与未配置队列的降级
	if _, err := m.Retry(ctx, "task-missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing task err = %v", err)
	}
	m2 := newTestMonitor(t, nil)
	if _, err := m2.Retry(ctx, "task-a"); !errors.Is(err, ErrRetryUnavailable) {
		t.Errorf("no queue err = %v", err)
	}
}

// TestSweepIntegration 扫描在门面管线上走完整路径（索引、订阅可见）
func TestSweepIntegration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTimeout = time.Minute
	m := New(cfg, nil, nil, nil, nil)
	t.Cleanup(m.Close)
	ctx := context.Background()

	hb := fmt.Sprintf(`{"type": "worker-heartbeat", "timestamp": %q, "hostname": "w1"}`, base.Format(time.RFC3339Nano))
	if _, err := m.ApplyEvent(ctx, json.RawMessage(hb)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ApplyEvent(ctx, rawEvent("task-1", model.EventTaskStarted, base, "")); err != nil {
		t.Fatal(err)
	}

	sub := m.Subscribe(broadcast.Filter{EventTypes: []model.EventType{model.EventTaskOrphaned}})

	if marked := m.Sweep(ctx); marked != 1 {
		t.Fatalf("marked = %d", marked)
	}

	orphans := m.ListOrphaned()
	if len(orphans) != 1 || orphans[0].ID != "task-1" {
		t.Fatalf("orphans = %v", orphans)
	}
	select {
	case tr := <-sub.Events():
		if tr.Event != model.EventTaskOrphaned || tr.To != model.StatusOrphaned {
			t.Errorf("transition: %+v", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("no orphan transition broadcast")
	}
}

// TestSnapshotWriter 状态变更异步落到快照存储
func TestSnapshotWriter(t *testing.T) {
	store := newMemorySnapshotStore()
	m := New(DefaultConfig(), nil, store, nil, nil)
	t.Cleanup(m.Close)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)

	if _, err := m.ApplyEvent(ctx, rawEvent("task-1", model.EventTaskStarted, base, "")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, err := store.GetTask(ctx, "task-1"); err == nil && v.Status == model.StatusRunning {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never written")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestApplyEvent_Duplicate 重复投递经门面仍被吸收
func TestApplyEvent_Duplicate(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	raw := rawEvent("task-1", model.EventTaskStarted, base, "")
	if tr, err := m.ApplyEvent(ctx, raw); err != nil || tr == nil {
		t.Fatalf("first: tr=%v err=%v", tr, err)
	}
	tr, err := m.ApplyEvent(ctx, raw)
	if err != nil || tr != nil {
		t.Fatalf("duplicate: tr=%v err=%v", tr, err)
	}
}
