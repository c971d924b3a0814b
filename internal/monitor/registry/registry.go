// Package registry Worker 注册表
//
// 跟踪 Worker 存活状态（心跳、在线/离线），供孤儿扫描器消费，
// 同时对外提供查询。心跳更新是幂等 upsert。
//
// 可选地把心跳镜像写入共享缓存（Redis），供同一事件流的
// 其他监控实例观察 Worker 存活。
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/cache"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// Heartbeat 一次心跳携带的元数据
type Heartbeat struct {
	Hostname      string    `json:"hostname"`
	Timestamp     time.Time `json:"timestamp"`
	ActiveTasks   int       `json:"active_tasks"`
	Processed     int64     `json:"processed"`
	SoftwareIdent string    `json:"sw_ident,omitempty"`
	SoftwareVer   string    `json:"sw_ver,omitempty"`
}

// Registry Worker 注册表
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*model.WorkerRecord

	mirror cache.HeartbeatStore // 可为 nil
}

// New 创建注册表
//
// mirror 非 nil 时心跳会异镜像到共享缓存，写失败只记日志。
func New(mirror cache.HeartbeatStore) *Registry {
	return &Registry{
		workers: make(map[string]*model.WorkerRecord),
		mirror:  mirror,
	}
}

// RecordHeartbeat 记录一次心跳（幂等 upsert）
//
// 首次见到的主机名会创建记录；已离线的 Worker 收到心跳即恢复在线。
func (r *Registry) RecordHeartbeat(ctx context.Context, hb Heartbeat) *model.WorkerRecord {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now()
	}

	r.mu.Lock()
	w, ok := r.workers[hb.Hostname]
	if !ok {
		w = &model.WorkerRecord{
			Hostname:  hb.Hostname,
			FirstSeen: time.Now(),
		}
		r.workers[hb.Hostname] = w
	}
	// 乱序心跳：不回退已知的更新时间
	if hb.Timestamp.After(w.LastHeartbeat) {
		w.LastHeartbeat = hb.Timestamp
		w.ActiveTasks = hb.ActiveTasks
		if hb.Processed > w.Processed {
			w.Processed = hb.Processed
		}
	}
	w.Status = model.WorkerOnline
	if hb.SoftwareIdent != "" {
		w.SoftwareIdent = hb.SoftwareIdent
	}
	if hb.SoftwareVer != "" {
		w.SoftwareVer = hb.SoftwareVer
	}
	snapshot := w.Clone()
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.UpdateWorkerHeartbeat(ctx, hb.Hostname, snapshot); err != nil {
			log.Printf("[registry.mirror.failed] hostname=%s error=%v", hb.Hostname, err)
		}
	}

	return snapshot
}

// Observe 从任务事件里见到一个主机名（无心跳）
//
// 已知主机名是空操作；未知主机名创建 unknown 状态的记录，
// 等待第一次心跳或扫描裁决。
func (r *Registry) Observe(hostname string) {
	if hostname == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[hostname]; !ok {
		r.workers[hostname] = &model.WorkerRecord{
			Hostname:  hostname,
			Status:    model.WorkerUnknown,
			FirstSeen: time.Now(),
		}
	}
}

// MarkOffline 把 Worker 标记为离线
//
// 返回状态是否发生变化（幂等：已离线时返回 false）。
func (r *Registry) MarkOffline(ctx context.Context, hostname string) bool {
	r.mu.Lock()
	w, ok := r.workers[hostname]
	changed := ok && w.Status != model.WorkerOffline
	if changed {
		w.Status = model.WorkerOffline
		w.ActiveTasks = 0
	}
	r.mu.Unlock()

	if changed && r.mirror != nil {
		if err := r.mirror.DeleteWorkerHeartbeat(ctx, hostname); err != nil {
			log.Printf("[registry.mirror.failed] hostname=%s error=%v", hostname, err)
		}
	}
	return changed
}

// Get 返回 Worker 记录
func (r *Registry) Get(hostname string) (*model.WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[hostname]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// List 返回全部 Worker 记录
func (r *Registry) List() []*model.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Clone())
	}
	return out
}

// SweepExpired 把心跳超时的在线 Worker 转为离线，返回本次转离线的主机名
//
// 由孤儿扫描器周期调用。unknown 状态的 Worker（从未有过心跳）
// 不参与超时判定，它们的任务按陈旧阈值单独处理。
func (r *Registry) SweepExpired(ctx context.Context, now time.Time, timeout time.Duration) []string {
	var expired []string

	r.mu.Lock()
	for hostname, w := range r.workers {
		if w.Status == model.WorkerOnline && w.HeartbeatExpired(now, timeout) {
			w.Status = model.WorkerOffline
			w.ActiveTasks = 0
			expired = append(expired, hostname)
		}
	}
	r.mu.Unlock()

	if r.mirror != nil {
		for _, hostname := range expired {
			if err := r.mirror.DeleteWorkerHeartbeat(ctx, hostname); err != nil {
				log.Printf("[registry.mirror.failed] hostname=%s error=%v", hostname, err)
			}
		}
	}
	return expired
}

// OnlineCount 返回在线 Worker 数
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, w := range r.workers {
		if w.Status == model.WorkerOnline {
			n++
		}
	}
	return n
}
