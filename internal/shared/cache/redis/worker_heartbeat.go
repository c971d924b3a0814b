// Package redis WorkerHeartbeat 缓存操作
package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/getkanchi/kanchi-sub002/internal/shared/cache"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// UpdateWorkerHeartbeat 写入/刷新 Worker 心跳
func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, hostname string, record *model.WorkerRecord) error {
	key := cache.KeyWorkerHeartbeat + hostname

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLWorkerHeartbeat).Err()
}

// GetWorkerHeartbeat 读取 Worker 心跳
func (s *Store) GetWorkerHeartbeat(ctx context.Context, hostname string) (*model.WorkerRecord, error) {
	key := cache.KeyWorkerHeartbeat + hostname

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record model.WorkerRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// DeleteWorkerHeartbeat 删除 Worker 心跳缓存
func (s *Store) DeleteWorkerHeartbeat(ctx context.Context, hostname string) error {
	key := cache.KeyWorkerHeartbeat + hostname
	return s.client.Del(ctx, key).Err()
}

// ListOnlineWorkers 列出缓存中存在心跳的主机名
//
// 使用 SCAN 替代 KEYS，避免在 Worker 数量大时阻塞 Redis
func (s *Store) ListOnlineWorkers(ctx context.Context) ([]string, error) {
	pattern := cache.KeyWorkerHeartbeat + "*"
	var hostnames []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		hostnames = append(hostnames, key[len(cache.KeyWorkerHeartbeat):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return hostnames, nil
}

// 确保 Store 实现了 Cache 接口
var _ cache.Cache = (*Store)(nil)
