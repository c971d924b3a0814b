// Package queue 消息队列抽象接口
//
// 提供原始事件摄入流和任务重投队列的能力，当前由 Redis Streams 实现。
// 事件流是 at-least-once、无序的：去重和乱序纠正由状态跟踪器负责。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// EventQueue 原始事件摄入流接口
type EventQueue interface {
	// PublishRawEvent 把一条原始事件载荷写入事件流（上游采集方使用）
	PublishRawEvent(ctx context.Context, payload []byte) (string, error)
	CreateEventConsumerGroup(ctx context.Context) error
	ConsumeRawEvents(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RawEventMessage, error)
	AckRawEvent(ctx context.Context, messageID string) error
	GetEventQueueLength(ctx context.Context) (int64, error)
}

// ResubmitQueue 任务重投队列接口
//
// Retry 操作把重投请求交给外部执行协作方消费；
// 核心只在入队成功后记录由此产生的 sent 事件。
type ResubmitQueue interface {
	EnqueueResubmit(ctx context.Context, msg *ResubmitMessage) (string, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Queue 消息队列组合接口
type Queue interface {
	EventQueue
	ResubmitQueue
	Close() error
}
