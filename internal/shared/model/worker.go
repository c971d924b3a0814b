// Package model 定义核心数据模型
//
// worker.go 包含 Worker 相关的数据模型定义：
//   - WorkerRecord：Worker 存活状态记录
//   - WorkerStatus：Worker 状态枚举
package model

import (
	"time"
)

// ============================================================================
// WorkerStatus - Worker 状态
// ============================================================================

// WorkerStatus 表示 Worker 的存活状态
//
// 状态说明：
//   - online：心跳正常
//   - offline：心跳超时或主动下线
//   - unknown：只从任务事件里见过该主机名，从未收到心跳
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
	WorkerUnknown WorkerStatus = "unknown"
)

// ============================================================================
// WorkerRecord - Worker 记录
// ============================================================================

// WorkerRecord 表示一个 Worker 的存活状态
//
// 以主机名为身份标识。首次收到该主机名的事件或心跳时创建，
// 心跳超时后转为 offline（由孤儿扫描器裁决），只有管理操作才会删除。
type WorkerRecord struct {
	Hostname      string       `json:"hostname" db:"hostname"`             // 主机名（身份标识）
	Status        WorkerStatus `json:"status" db:"status"`                 // 存活状态
	LastHeartbeat time.Time    `json:"last_heartbeat" db:"last_heartbeat"` // 最近心跳时间
	FirstSeen     time.Time    `json:"first_seen" db:"first_seen"`         // 首次见到时间
	ActiveTasks   int          `json:"active_tasks" db:"active_tasks"`     // 活动任务数（Worker 上报）
	Processed     int64        `json:"processed" db:"processed"`           // 累计处理任务数（Worker 上报）
	SoftwareIdent string       `json:"sw_ident,omitempty" db:"sw_ident"`   // 软件标识
	SoftwareVer   string       `json:"sw_ver,omitempty" db:"sw_ver"`       // 软件版本
}

// Clone 返回记录的拷贝
func (w *WorkerRecord) Clone() *WorkerRecord {
	c := *w
	return &c
}

// IsOnline 判断 Worker 是否在线
func (w *WorkerRecord) IsOnline() bool {
	return w.Status == WorkerOnline
}

// HeartbeatExpired 判断心跳是否超时
func (w *WorkerRecord) HeartbeatExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > timeout
}
