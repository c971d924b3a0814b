// Package storage 定义快照持久化的抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 核心只通过简单的 upsert 接口把 TaskView / WorkerRecord 快照
//     交给外部持久化协作方，不定义磁盘格式
//   - 具体实现在子包中：repository/（SQL，经 dbutil 方言适配
//     SQLite 与 PostgreSQL）
//   - 初始化时通过依赖注入传入实现，可为空（纯内存运行）
package storage

import (
	"context"
	"errors"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// ErrNotFound 快照不存在
var ErrNotFound = errors.New("snapshot not found")

// TaskSnapshotStore 任务快照存储接口
type TaskSnapshotStore interface {
	// UpsertTask 写入/覆盖一条任务快照（幂等）
	UpsertTask(ctx context.Context, view *model.TaskView) error

	// GetTask 读取一条任务快照，不存在时返回 ErrNotFound
	GetTask(ctx context.Context, taskID string) (*model.TaskView, error)
}

// WorkerSnapshotStore Worker 快照存储接口
type WorkerSnapshotStore interface {
	// UpsertWorker 写入/覆盖一条 Worker 快照（幂等）
	UpsertWorker(ctx context.Context, record *model.WorkerRecord) error

	// ListWorkers 读取全部 Worker 快照
	ListWorkers(ctx context.Context) ([]*model.WorkerRecord, error)
}

// SnapshotStore 快照存储组合接口
type SnapshotStore interface {
	TaskSnapshotStore
	WorkerSnapshotStore
	Close() error
}
