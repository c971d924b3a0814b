// Package model 定义核心数据模型
//
// task.go 包含任务相关的数据模型定义：
//   - TaskRecord：任务权威状态记录（每个任务身份一条）
//   - TaskStatus：任务状态枚举
//   - TaskView：任务只读视图（索引/查询/快照使用）
package model

import (
	"time"
)

// ============================================================================
// TaskStatus - 任务状态
// ============================================================================

// TaskStatus 表示任务的派生状态
//
// 任务生命周期：
//
//	pending → received → running → succeeded
//	                        │
//	                        ├→ failed → retry（被重试）
//	                        ├→ revoked
//	                        └→ orphaned（Worker 失联）
//
// 状态是事件历史的纯函数（加孤儿扫描旁路状态）：
// 以任意顺序重放同一组事件必须得到相同状态。
type TaskStatus string

const (
	// StatusPending 仅见到 sent 事件
	StatusPending TaskStatus = "pending"

	// StatusReceived 已被 Worker 接收，尚未开始执行
	StatusReceived TaskStatus = "received"

	// StatusRunning 执行中，尚无终态事件
	StatusRunning TaskStatus = "running"

	// StatusSucceeded 执行成功（终态）
	StatusSucceeded TaskStatus = "succeeded"

	// StatusFailed 执行失败且未被重试（终态）
	StatusFailed TaskStatus = "failed"

	// StatusRetry 失败后已被重试，后继任务在重试链上延续
	StatusRetry TaskStatus = "retry"

	// StatusRevoked 已被撤销（终态）
	StatusRevoked TaskStatus = "revoked"

	// StatusOrphaned Worker 失联，任务下落不明
	// 后到的终态事件会覆盖状态，但 IsOrphan 标记保留
	StatusOrphaned TaskStatus = "orphaned"
)

// IsTerminal 判断是否为终态
//
// 终态具有粘性：按时间戳最早的终态事件决定状态，
// 之后的终态事件只记入历史，不再改变状态。
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRetry, StatusRevoked:
		return true
	}
	return false
}

// IsActive 判断任务是否仍在活动（可能还会产生事件）
func (s TaskStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusReceived, StatusRunning:
		return true
	}
	return false
}

// ============================================================================
// TaskRecord - 任务权威状态记录
// ============================================================================

// TaskRecord 是一个任务身份的权威状态记录
//
// TaskRecord 由状态跟踪器独占持有和修改，其他组件只能拿到
// 只读的 TaskView 快照。记录在第一条引用该任务身份的事件到达时创建，
// 之后每条事件或孤儿扫描裁决都会更新它，不会被删除。
//
// 字段一致性约束：Status、Runtime、重试链指针必须在同一次
// Apply 中原子更新，读者不会观察到更新了一半的记录。
type TaskRecord struct {
	ID string `json:"id"` // 任务唯一标识

	// === 派生缓存字段（由事件历史推导） ===

	Status      TaskStatus `json:"status"`                 // 当前状态
	Name        string     `json:"name,omitempty"`         // 任务名称
	Queue       string     `json:"queue,omitempty"`        // 路由键/队列名
	Hostname    string     `json:"hostname,omitempty"`     // 当前 Worker 主机名
	Args        string     `json:"args,omitempty"`         // 位置参数
	Kwargs      string     `json:"kwargs,omitempty"`       // 关键字参数
	Result      string     `json:"result,omitempty"`       // 执行结果
	Error       string     `json:"error,omitempty"`        // 错误消息
	Traceback   string     `json:"traceback,omitempty"`    // 错误堆栈
	Retries     int        `json:"retries"`                // 已知最大重试计数
	FirstSeen   time.Time  `json:"first_seen"`             // 首次见到该任务的时间
	LastUpdated time.Time  `json:"last_updated"`           // 最近一次更新时间
	SentAt      *time.Time `json:"sent_at,omitempty"`      // sent 事件时间
	StartedAt   *time.Time `json:"started_at,omitempty"`   // started 事件时间
	FinishedAt  *time.Time `json:"finished_at,omitempty"`  // 首个终态事件时间
	Runtime     *float64   `json:"runtime,omitempty"`      // 执行耗时（秒），缺 started 则不定义

	// === 重试链 ===

	ParentID   string   `json:"parent_id,omitempty"`  // 父任务 ID
	RootID     string   `json:"root_id,omitempty"`    // 根任务 ID
	RetryOf    string   `json:"retry_of,omitempty"`   // 重试链前驱任务 ID
	RetriedBy  []string `json:"retried_by,omitempty"` // 重试链后继任务 ID 列表
	HasRetries bool     `json:"has_retries"`          // 是否存在后继重试

	// === 孤儿状态（扫描旁路，粘性） ===

	IsOrphan   bool       `json:"is_orphan"`             // 孤儿标记，一旦置位不自动清除
	OrphanedAt *time.Time `json:"orphaned_at,omitempty"` // 置位时间

	// Incomplete 占位记录标记
	// 重试事件引用了未见过的前驱时创建的占位前驱记录
	Incomplete bool `json:"incomplete,omitempty"`

	// History 按应用顺序保存的事件历史
	History []*TaskEvent `json:"history,omitempty"`
}

// View 返回记录的只读视图快照
//
// 视图是值拷贝，调用方持有后不受跟踪器后续更新影响。
// 必须在跟踪器的分片锁内调用。
func (r *TaskRecord) View() *TaskView {
	v := &TaskView{
		ID:          r.ID,
		Status:      r.Status,
		Name:        r.Name,
		Queue:       r.Queue,
		Hostname:    r.Hostname,
		Retries:     r.Retries,
		FirstSeen:   r.FirstSeen,
		LastUpdated: r.LastUpdated,
		RetryOf:     r.RetryOf,
		HasRetries:  r.HasRetries,
		IsOrphan:    r.IsOrphan,
	}
	if r.Runtime != nil {
		rt := *r.Runtime
		v.Runtime = &rt
	}
	if r.OrphanedAt != nil {
		t := *r.OrphanedAt
		v.OrphanedAt = &t
	}
	if len(r.RetriedBy) > 0 {
		v.RetriedBy = append([]string(nil), r.RetriedBy...)
	}
	return v
}

// Clone 返回记录的深拷贝（含事件历史）
//
// GetTask 之类需要完整历史的查询走这里，避免把内部指针漏到锁外。
func (r *TaskRecord) Clone() *TaskRecord {
	c := *r
	if r.Runtime != nil {
		rt := *r.Runtime
		c.Runtime = &rt
	}
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.OrphanedAt != nil {
		t := *r.OrphanedAt
		c.OrphanedAt = &t
	}
	c.RetriedBy = append([]string(nil), r.RetriedBy...)
	c.History = append([]*TaskEvent(nil), r.History...)
	return &c
}

// ============================================================================
// TaskView - 任务只读视图
// ============================================================================

// TaskView 是 TaskRecord 的不可变摘要
//
// 查询索引、订阅者和快照存储消费视图而非记录本身，
// 保证跟踪器之外没有任何写路径。
type TaskView struct {
	ID          string     `json:"id" db:"id"`
	Status      TaskStatus `json:"status" db:"status"`
	Name        string     `json:"name,omitempty" db:"name"`
	Queue       string     `json:"queue,omitempty" db:"queue"`
	Hostname    string     `json:"hostname,omitempty" db:"hostname"`
	Retries     int        `json:"retries" db:"retries"`
	FirstSeen   time.Time  `json:"first_seen" db:"first_seen"`
	LastUpdated time.Time  `json:"last_updated" db:"last_updated"`
	Runtime     *float64   `json:"runtime,omitempty" db:"runtime"`
	RetryOf     string     `json:"retry_of,omitempty" db:"retry_of"`
	RetriedBy   []string   `json:"retried_by,omitempty" db:"retried_by"`
	HasRetries  bool       `json:"has_retries" db:"has_retries"`
	IsOrphan    bool       `json:"is_orphan" db:"is_orphan"`
	OrphanedAt  *time.Time `json:"orphaned_at,omitempty" db:"orphaned_at"`
}
