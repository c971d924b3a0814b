// Package model 定义核心数据模型
//
// event.go 包含事件相关的数据模型定义：
//   - TaskEvent：任务生命周期事件（规范化后的不可变事件）
//   - EventType：事件类型枚举（封闭集合）
//   - StateTransition：状态变更通知
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ============================================================================
// EventType - 事件类型
// ============================================================================

// EventType 定义事件的类型
//
// 事件分类：
//  1. 任务生命周期事件：task-sent, task-received, task-started,
//     task-succeeded, task-failed, task-retried, task-revoked
//  2. 合成事件：task-orphaned（由孤儿扫描器注入，不来自外部事件流）
//  3. Worker 事件：worker-online, worker-heartbeat, worker-offline
//
// 类型集合是封闭的：规范化器拒绝集合之外的任何事件类型。
type EventType string

const (
	// === 任务生命周期事件 ===

	// EventTaskSent 任务已发送（进入队列，尚未被 Worker 接收）
	EventTaskSent EventType = "task-sent"

	// EventTaskReceived 任务已被 Worker 接收
	EventTaskReceived EventType = "task-received"

	// EventTaskStarted 任务开始执行
	EventTaskStarted EventType = "task-started"

	// EventTaskSucceeded 任务执行成功（终态）
	EventTaskSucceeded EventType = "task-succeeded"

	// EventTaskFailed 任务执行失败（终态，除非后续被重试）
	EventTaskFailed EventType = "task-failed"

	// EventTaskRetried 任务被重试
	// 事件归属于后继任务身份，通过 RetryOf 指向前驱
	EventTaskRetried EventType = "task-retried"

	// EventTaskRevoked 任务被撤销（终态）
	EventTaskRevoked EventType = "task-revoked"

	// === 合成事件 ===

	// EventTaskOrphaned 任务被标记为孤儿（Worker 失联）
	// 由孤儿扫描器合成，走与外部事件相同的 Apply 路径
	EventTaskOrphaned EventType = "task-orphaned"

	// === Worker 事件 ===

	// EventWorkerOnline Worker 上线
	EventWorkerOnline EventType = "worker-online"

	// EventWorkerHeartbeat Worker 心跳
	EventWorkerHeartbeat EventType = "worker-heartbeat"

	// EventWorkerOffline Worker 主动下线
	EventWorkerOffline EventType = "worker-offline"
)

// taskEventTypes 任务事件类型集合（包含合成的 orphaned）
var taskEventTypes = map[EventType]bool{
	EventTaskSent:      true,
	EventTaskReceived:  true,
	EventTaskStarted:   true,
	EventTaskSucceeded: true,
	EventTaskFailed:    true,
	EventTaskRetried:   true,
	EventTaskRevoked:   true,
	EventTaskOrphaned:  true,
}

// workerEventTypes Worker 事件类型集合
var workerEventTypes = map[EventType]bool{
	EventWorkerOnline:    true,
	EventWorkerHeartbeat: true,
	EventWorkerOffline:   true,
}

// IsValid 判断事件类型是否在封闭集合内
func (t EventType) IsValid() bool {
	return taskEventTypes[t] || workerEventTypes[t]
}

// IsTaskEvent 判断是否为任务事件
func (t EventType) IsTaskEvent() bool {
	return taskEventTypes[t]
}

// IsWorkerEvent 判断是否为 Worker 事件
func (t EventType) IsWorkerEvent() bool {
	return workerEventTypes[t]
}

// IsRepeatable 判断同一任务是否允许重复出现该类型事件
//
// 去重规则：
//   - task-retried 可重复（按重试计数器额外区分）
//   - worker-heartbeat 可重复（心跳天然是重复的）
//   - 其余类型对同一任务至多出现一次，重复投递被静默吸收
func (t EventType) IsRepeatable() bool {
	return t == EventTaskRetried || t == EventWorkerHeartbeat
}

// ============================================================================
// TaskEvent - 任务事件（规范化后，不可变）
// ============================================================================

// TaskEvent 表示一条规范化后的任务生命周期事件
//
// TaskEvent 由规范化器从原始事件载荷构造，构造完成后不再修改。
// 事件可能乱序、重复到达（at-least-once 投递），状态跟踪器负责纠正。
//
// 关联字段：
//   - ParentID/RootID：任务树关系（上游携带，仅透传）
//   - RetryOf：重试链前驱任务 ID，仅 task-retried 事件携带
type TaskEvent struct {
	TaskID    string    `json:"task_id"`             // 任务唯一标识
	Type      EventType `json:"type"`                // 事件类型
	Timestamp time.Time `json:"timestamp"`           // 事件发生时间（墙钟）
	Name      string    `json:"name,omitempty"`      // 任务名称
	Queue     string    `json:"queue,omitempty"`     // 路由键/队列名
	Hostname  string    `json:"hostname,omitempty"`  // Worker 主机名
	Args      string    `json:"args,omitempty"`      // 位置参数（不透明字符串）
	Kwargs    string    `json:"kwargs,omitempty"`    // 关键字参数（不透明字符串）
	Retries   int       `json:"retries"`             // 重试计数器
	Result    string    `json:"result,omitempty"`    // 执行结果（succeeded 事件携带）
	Error     string    `json:"error,omitempty"`     // 错误消息（failed 事件携带）
	Traceback string    `json:"traceback,omitempty"` // 错误堆栈
	ParentID  string    `json:"parent_id,omitempty"` // 父任务 ID
	RootID    string    `json:"root_id,omitempty"`   // 根任务 ID
	RetryOf   string    `json:"retry_of,omitempty"`  // 重试链前驱任务 ID

	// Extra 保留未识别的原始字段（向前兼容，不做解释）
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// DedupKey 返回事件的去重键
//
// 不可重复的事件类型按类型本身去重；task-retried 额外带上重试计数器。
func (e *TaskEvent) DedupKey() string {
	if e.Type == EventTaskRetried {
		return string(e.Type) + ":" + strconv.Itoa(e.Retries)
	}
	return string(e.Type)
}

// ============================================================================
// StateTransition - 状态变更通知
// ============================================================================

// StateTransition 描述一次任务状态变更
//
// 由状态跟踪器在成功应用事件后发出（重复事件不发出），
// 依次驱动查询索引更新、订阅广播和快照落盘。
// 同一任务的 Transition 严格按 Apply 顺序发出。
type StateTransition struct {
	TaskID    string     `json:"task_id"`             // 任务 ID
	Name      string     `json:"name,omitempty"`      // 任务名称
	Event     EventType  `json:"event"`               // 触发变更的事件类型
	From      TaskStatus `json:"from"`                // 变更前状态
	To        TaskStatus `json:"to"`                  // 变更后状态
	Hostname  string     `json:"hostname,omitempty"`  // 当前 Worker 主机名
	Timestamp time.Time  `json:"timestamp"`           // 事件时间
	IsOrphan  bool       `json:"is_orphan,omitempty"` // 孤儿标记（粘性）
	RetryOf   string     `json:"retry_of,omitempty"`  // 重试链前驱（如有）
}
