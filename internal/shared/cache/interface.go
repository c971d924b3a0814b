// Package cache 缓存层抽象接口
//
// 提供 Worker 心跳镜像的存取能力，当前由 Redis 实现。
// 注册表本体在内存中，缓存只是给同一事件流的其他监控实例
// 提供的共享视图，写失败不影响主路径。
package cache

import (
	"context"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// HeartbeatStore Worker 心跳缓存接口
type HeartbeatStore interface {
	// UpdateWorkerHeartbeat 写入/刷新一条 Worker 心跳（带 TTL）
	UpdateWorkerHeartbeat(ctx context.Context, hostname string, record *model.WorkerRecord) error

	// GetWorkerHeartbeat 读取一条 Worker 心跳，不存在时返回 (nil, nil)
	GetWorkerHeartbeat(ctx context.Context, hostname string) (*model.WorkerRecord, error)

	// DeleteWorkerHeartbeat 删除一条 Worker 心跳
	DeleteWorkerHeartbeat(ctx context.Context, hostname string) error

	// ListOnlineWorkers 列出缓存中存在心跳的主机名
	ListOnlineWorkers(ctx context.Context) ([]string, error)
}

// Cache 缓存组合接口
type Cache interface {
	HeartbeatStore
	Close() error
}
