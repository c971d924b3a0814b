// Package queue 消息队列 mock 实现
package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MockQueue 内存 Queue 实现（用于测试）
type MockQueue struct {
	mu        sync.Mutex
	events    []*RawEventMessage
	resubmits []*ResubmitMessage
	acked     map[string]bool
	nextID    int
}

// NewMockQueue 创建 MockQueue 实例
func NewMockQueue() *MockQueue {
	return &MockQueue{acked: make(map[string]bool)}
}

func (m *MockQueue) PublishRawEvent(ctx context.Context, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.events = append(m.events, &RawEventMessage{
		ID:         id,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now(),
	})
	return id, nil
}

func (m *MockQueue) CreateEventConsumerGroup(ctx context.Context) error {
	return nil
}

func (m *MockQueue) ConsumeRawEvents(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RawEventMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.events))
	if n == 0 {
		return nil, nil
	}
	if count < n {
		n = count
	}
	out := m.events[:n]
	m.events = m.events[n:]
	return out, nil
}

func (m *MockQueue) AckRawEvent(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked[messageID] = true
	return nil
}

func (m *MockQueue) GetEventQueueLength(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *MockQueue) EnqueueResubmit(ctx context.Context, msg *ResubmitMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.resubmits = append(m.resubmits, msg)
	return strconv.Itoa(m.nextID), nil
}

// Resubmits 返回已入队的重投请求（测试断言用）
func (m *MockQueue) Resubmits() []*ResubmitMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ResubmitMessage(nil), m.resubmits...)
}

// Acked 判断消息是否已确认（测试断言用）
func (m *MockQueue) Acked(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked[messageID]
}

func (m *MockQueue) Close() error {
	return nil
}

// 确保 MockQueue 实现了 Queue 接口
var _ Queue = (*MockQueue)(nil)
