// Package queue 消息队列类型定义
package queue

import (
	"encoding/json"
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// RawEventMessage 事件流中的一条原始事件
type RawEventMessage struct {
	ID         string          `json:"id"`          // Stream 消息 ID（Ack 用）
	Payload    json.RawMessage `json:"payload"`     // 原始事件载荷（未规范化）
	ReceivedAt time.Time       `json:"received_at"` // 入流时间
}

// ResubmitMessage 任务重投请求
type ResubmitMessage struct {
	NewTaskID   string    `json:"new_task_id"`      // 新任务身份
	RetryOf     string    `json:"retry_of"`         // 被重投的任务 ID
	Name        string    `json:"name"`             // 任务名称
	Queue       string    `json:"queue,omitempty"`  // 路由键/队列名
	Args        string    `json:"args,omitempty"`   // 位置参数
	Kwargs      string    `json:"kwargs,omitempty"` // 关键字参数
	RequestedAt time.Time `json:"requested_at"`     // 请求时间
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyTaskEvents 原始事件流
	KeyTaskEvents = "kanchi:events"

	// KeyResubmissions 任务重投流
	KeyResubmissions = "kanchi:resubmissions"

	// EventConsumerGroup 事件流消费者组
	EventConsumerGroup = "monitors"

	// MaxStreamLength Stream 最大长度（近似裁剪）
	MaxStreamLength = 100000
)
