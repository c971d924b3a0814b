// Package cache 缓存 mock 实现
package cache

import (
	"context"
	"sync"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// MockStore 内存 HeartbeatStore 实现（用于测试和单机部署）
type MockStore struct {
	mu      sync.RWMutex
	entries map[string]*model.WorkerRecord
}

// NewMockStore 创建 MockStore 实例
func NewMockStore() *MockStore {
	return &MockStore{entries: make(map[string]*model.WorkerRecord)}
}

func (m *MockStore) UpdateWorkerHeartbeat(ctx context.Context, hostname string, record *model.WorkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hostname] = record.Clone()
	return nil
}

func (m *MockStore) GetWorkerHeartbeat(ctx context.Context, hostname string) (*model.WorkerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.entries[hostname]; ok {
		return r.Clone(), nil
	}
	return nil, nil
}

func (m *MockStore) DeleteWorkerHeartbeat(ctx context.Context, hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hostname)
	return nil
}

func (m *MockStore) ListOnlineWorkers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for hostname := range m.entries {
		out = append(out, hostname)
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}

// 确保 MockStore 实现了 Cache 接口
var _ Cache = (*MockStore)(nil)
