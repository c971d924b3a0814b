// Package model 核心数据模型测试
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// EventType
// ============================================================================

func TestEventType_Classification(t *testing.T) {
	taskEvents := []EventType{
		EventTaskSent, EventTaskReceived, EventTaskStarted,
		EventTaskSucceeded, EventTaskFailed, EventTaskRetried,
		EventTaskRevoked, EventTaskOrphaned,
	}
	for _, e := range taskEvents {
		assert.True(t, e.IsValid(), "%s valid", e)
		assert.True(t, e.IsTaskEvent(), "%s is task event", e)
		assert.False(t, e.IsWorkerEvent(), "%s not worker event", e)
	}

	workerEvents := []EventType{EventWorkerOnline, EventWorkerHeartbeat, EventWorkerOffline}
	for _, e := range workerEvents {
		assert.True(t, e.IsValid(), "%s valid", e)
		assert.True(t, e.IsWorkerEvent(), "%s is worker event", e)
		assert.False(t, e.IsTaskEvent(), "%s not task event", e)
	}

	// 封闭集合：未知类型非法
	assert.False(t, EventType("task-exploded").IsValid())
	assert.False(t, EventType("").IsValid())
}

func TestEventType_IsRepeatable(t *testing.T) {
	assert.True(t, EventTaskRetried.IsRepeatable())
	assert.True(t, EventWorkerHeartbeat.IsRepeatable())
	assert.False(t, EventTaskStarted.IsRepeatable())
	assert.False(t, EventTaskOrphaned.IsRepeatable())
}

func TestTaskEvent_DedupKey(t *testing.T) {
	started := &TaskEvent{TaskID: "a", Type: EventTaskStarted}
	assert.Equal(t, "task-started", started.DedupKey())

	// retried 按重试计数区分
	r1 := &TaskEvent{TaskID: "a", Type: EventTaskRetried, Retries: 1}
	r2 := &TaskEvent{TaskID: "a", Type: EventTaskRetried, Retries: 2}
	assert.NotEqual(t, r1.DedupKey(), r2.DedupKey())
	assert.Equal(t, "task-retried:1", r1.DedupKey())
}

// ============================================================================
// TaskStatus
// ============================================================================

func TestTaskStatus_TerminalAndActive(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusRetry.IsTerminal())
	assert.True(t, StatusRevoked.IsTerminal())
	assert.False(t, StatusOrphaned.IsTerminal(), "orphaned is a verdict, not a terminal event")

	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusReceived.IsActive())
	assert.True(t, StatusRunning.IsActive())
	assert.False(t, StatusOrphaned.IsActive())
	assert.False(t, StatusSucceeded.IsActive())
}

// ============================================================================
// TaskRecord
// ============================================================================

func TestTaskRecord_ViewIsDetached(t *testing.T) {
	rt := 2.5
	orphanedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &TaskRecord{
		ID:         "task-1",
		Status:     StatusSucceeded,
		Name:       "tasks.demo",
		Runtime:    &rt,
		IsOrphan:   true,
		OrphanedAt: &orphanedAt,
		RetriedBy:  []string{"task-2"},
	}

	v := rec.View()
	require.NotNil(t, v.Runtime)
	assert.Equal(t, 2.5, *v.Runtime)

	// 视图持有拷贝，后续修改记录不影响已发出的视图
	*rec.Runtime = 9.0
	rec.RetriedBy[0] = "mutated"
	rec.Status = StatusFailed

	assert.Equal(t, 2.5, *v.Runtime)
	assert.Equal(t, "task-2", v.RetriedBy[0])
	assert.Equal(t, StatusSucceeded, v.Status)
}

func TestTaskRecord_CloneDeepCopiesHistory(t *testing.T) {
	rec := &TaskRecord{
		ID:      "task-1",
		Status:  StatusRunning,
		History: []*TaskEvent{{TaskID: "task-1", Type: EventTaskStarted}},
	}

	c := rec.Clone()
	require.Len(t, c.History, 1)

	rec.History = append(rec.History, &TaskEvent{TaskID: "task-1", Type: EventTaskSucceeded})
	assert.Len(t, c.History, 1, "clone shares history slice")
}

// ============================================================================
// WorkerRecord
// ============================================================================

func TestWorkerRecord_HeartbeatExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &WorkerRecord{Hostname: "w1", Status: WorkerOnline, LastHeartbeat: now.Add(-90 * time.Second)}

	assert.True(t, w.HeartbeatExpired(now, time.Minute))
	assert.False(t, w.HeartbeatExpired(now, 2*time.Minute))
	assert.True(t, w.IsOnline())
}
