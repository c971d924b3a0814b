// Package registry Worker 注册表测试
package registry

import (
	"context"
	"testing"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/cache"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecordHeartbeat_Upsert(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	w := r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base, ActiveTasks: 2, Processed: 10})
	if w.Status != model.WorkerOnline || w.ActiveTasks != 2 {
		t.Fatalf("first heartbeat: %+v", w)
	}

	w = r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base.Add(time.Minute), ActiveTasks: 1, Processed: 15})
	if w.ActiveTasks != 1 || w.Processed != 15 {
		t.Errorf("second heartbeat: %+v", w)
	}
	if r.OnlineCount() != 1 {
		t.Errorf("online = %d", r.OnlineCount())
	}
}

func TestRecordHeartbeat_OutOfOrderIgnored(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base.Add(time.Minute), ActiveTasks: 3})
	w := r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base, ActiveTasks: 9})

	if !w.LastHeartbeat.Equal(base.Add(time.Minute)) {
		t.Errorf("last_heartbeat rolled back to %v", w.LastHeartbeat)
	}
	if w.ActiveTasks != 3 {
		t.Errorf("active_tasks overwritten by stale heartbeat: %d", w.ActiveTasks)
	}
}

func TestRecordHeartbeat_RevivesOfflineWorker(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base})
	if !r.MarkOffline(ctx, "w1") {
		t.Fatal("mark offline")
	}
	if r.MarkOffline(ctx, "w1") {
		t.Error("second mark offline reported a change")
	}

	w := r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base.Add(time.Minute)})
	if w.Status != model.WorkerOnline {
		t.Errorf("status after revival = %s", w.Status)
	}
}

func TestObserve_CreatesUnknownRecord(t *testing.T) {
	r := New(nil)

	r.Observe("w-seen-in-task-event")
	r.Observe("") // 空主机名是空操作

	w, ok := r.Get("w-seen-in-task-event")
	if !ok || w.Status != model.WorkerUnknown {
		t.Fatalf("observed worker: ok=%v %+v", ok, w)
	}
	if r.OnlineCount() != 0 {
		t.Errorf("unknown worker counted as online")
	}

	// 已知主机名不被降级
	r.RecordHeartbeat(context.Background(), Heartbeat{Hostname: "w-seen-in-task-event", Timestamp: base})
	r.Observe("w-seen-in-task-event")
	w, _ = r.Get("w-seen-in-task-event")
	if w.Status != model.WorkerOnline {
		t.Errorf("observe downgraded an online worker to %s", w.Status)
	}
}

func TestSweepExpired(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w-fresh", Timestamp: base.Add(50 * time.Second)})
	r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w-stale", Timestamp: base})
	r.Observe("w-unknown") // 从未有心跳，不参与超时判定

	now := base.Add(70 * time.Second)
	expired := r.SweepExpired(ctx, now, time.Minute)

	if len(expired) != 1 || expired[0] != "w-stale" {
		t.Fatalf("expired = %v", expired)
	}
	w, _ := r.Get("w-stale")
	if w.Status != model.WorkerOffline || w.ActiveTasks != 0 {
		t.Errorf("stale worker: %+v", w)
	}
	w, _ = r.Get("w-unknown")
	if w.Status != model.WorkerUnknown {
		t.Errorf("unknown worker swept to %s", w.Status)
	}

	// 幂等：再扫不重复报告
	if again := r.SweepExpired(ctx, now, time.Minute); len(again) != 0 {
		t.Errorf("second sweep reported %v", again)
	}
}

func TestHeartbeatMirror(t *testing.T) {
	mock := cache.NewMockStore()
	r := New(mock)
	ctx := context.Background()

	r.RecordHeartbeat(ctx, Heartbeat{Hostname: "w1", Timestamp: base})
	if w, _ := mock.GetWorkerHeartbeat(ctx, "w1"); w == nil {
		t.Fatal("heartbeat not mirrored")
	}

	r.MarkOffline(ctx, "w1")
	if w, _ := mock.GetWorkerHeartbeat(ctx, "w1"); w != nil {
		t.Fatal("mirror entry not deleted on offline")
	}
}
