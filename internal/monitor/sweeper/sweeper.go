// Package sweeper 孤儿扫描器
//
// 周期性扫描 Worker 注册表和任务跟踪器：
//  1. 心跳超时的 Worker 标记为离线；
//  2. 归属已离线 Worker 的 RUNNING 任务（以及超过陈旧阈值的
//     RECEIVED/PENDING 任务）标记为孤儿，通过与外部事件相同的
//     Apply 路径注入合成 task-orphaned 事件。
//
// 去重由跟踪器统一负责：已是孤儿的任务不会被重复发出通知。
// 超时与阈值都是策略参数，通过配置调整，不影响正确性。
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor/registry"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// TaskSource 任务视图来源（由状态跟踪器实现）
type TaskSource interface {
	Range(fn func(view *model.TaskView) bool)
}

// EventSink 合成事件的注入口（由状态跟踪器实现）
type EventSink interface {
	Apply(event *model.TaskEvent) (*model.StateTransition, error)
}

// Config 扫描器配置
type Config struct {
	Interval       time.Duration // 扫描周期
	WorkerTimeout  time.Duration // 心跳超时，超过即判定 Worker 离线
	StaleThreshold time.Duration // RECEIVED/PENDING 任务的陈旧阈值
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		WorkerTimeout:  60 * time.Second,
		StaleThreshold: 10 * time.Minute,
	}
}

// Validate 补齐非法配置项
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = def.WorkerTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = def.StaleThreshold
	}
}

// Sweeper 孤儿扫描器
type Sweeper struct {
	config   Config
	registry *registry.Registry
	tasks    TaskSource
	sink     EventSink
}

// New 创建扫描器
func New(config Config, reg *registry.Registry, tasks TaskSource, sink EventSink) *Sweeper {
	config.Validate()
	return &Sweeper{
		config:   config,
		registry: reg,
		tasks:    tasks,
		sink:     sink,
	}
}

// Start 启动周期扫描，ctx 取消后返回
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[sweeper.start] interval=%s worker_timeout=%s stale_threshold=%s",
		s.config.Interval, s.config.WorkerTimeout, s.config.StaleThreshold)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper.stop]")
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep 执行一轮扫描，返回本轮新标记的孤儿任务数
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	expired := s.registry.SweepExpired(ctx, now, s.config.WorkerTimeout)
	for _, hostname := range expired {
		log.Printf("[sweeper.worker.offline] hostname=%s heartbeat timeout", hostname)
	}

	// 先收集后注入：Range 持有分片读锁，Apply 需要写锁
	type candidate struct {
		taskID   string
		hostname string
	}
	var candidates []candidate

	s.tasks.Range(func(v *model.TaskView) bool {
		if v.IsOrphan || !v.Status.IsActive() || v.Hostname == "" {
			return true
		}
		stale := now.Sub(v.LastUpdated) >= s.config.StaleThreshold

		w, known := s.registry.Get(v.Hostname)
		switch {
		case known && w.Status == model.WorkerOffline:
			// 明确离线：RUNNING 立即判孤儿，RECEIVED/PENDING 看陈旧阈值
			if v.Status != model.StatusRunning && !stale {
				return true
			}
		case !known || w.Status == model.WorkerUnknown:
			// 从未见过心跳的主机名：只按陈旧阈值兜底
			if !stale {
				return true
			}
		default: // online
			return true
		}
		candidates = append(candidates, candidate{taskID: v.ID, hostname: v.Hostname})
		return true
	})

	marked := 0
	for _, c := range candidates {
		tr, err := s.sink.Apply(&model.TaskEvent{
			TaskID:    c.taskID,
			Type:      model.EventTaskOrphaned,
			Timestamp: now,
			Hostname:  c.hostname,
		})
		if err != nil {
			log.Printf("[sweeper.orphan.failed] task_id=%s error=%v", c.taskID, err)
			continue
		}
		if tr != nil {
			marked++
			log.Printf("[sweeper.orphan] task_id=%s hostname=%s", c.taskID, c.hostname)
		}
	}
	return marked
}
