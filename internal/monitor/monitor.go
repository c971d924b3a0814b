// Package monitor 任务监控器门面
//
// 组合规范化器、状态跟踪器、查询索引、订阅广播器、Worker 注册表
// 和孤儿扫描器，对外提供统一入口：
//   - ApplyEvent：摄入一条原始事件（HTTP 或事件流消费者调用）
//   - 查询族：单任务 / 过滤分页 / 活动 / 孤儿 / 统计 / Worker
//   - Subscribe/Unsubscribe：实时状态变更订阅
//   - Retry：请求任务重投
//
// 数据流（Apply 周期内同步完成，无最终一致窗口）：
//
//	原始事件 → 规范化 → 跟踪器 Apply → TransitionFunc
//	                                     ├→ 查询索引 Update
//	                                     ├→ 广播器 Publish
//	                                     ├→ 快照写队列（异步落盘）
//	                                     └→ 指标
package monitor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor/broadcast"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/index"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/normalizer"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/registry"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/sweeper"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/tracker"
	"github.com/getkanchi/kanchi-sub002/internal/shared/cache"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage"
	"github.com/getkanchi/kanchi-sub002/pkg/logging"
)

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = tracker.ErrNotFound

	// ErrWorkerNotFound Worker 不存在
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrRetryUnavailable 未配置重投队列
	ErrRetryUnavailable = errors.New("resubmit queue not configured")
)

// Config 监控器配置
type Config struct {
	SweepInterval      time.Duration // 孤儿扫描周期
	WorkerTimeout      time.Duration // Worker 心跳超时
	StaleThreshold     time.Duration // RECEIVED/PENDING 陈旧阈值
	SubscriberBuffer   int           // 订阅通道容量
	SubscriberMaxDrops int64         // 订阅者丢弃上限，超过强制退订
	MetricsNamespace   string        // Prometheus 指标命名空间
	SnapshotQueueSize  int           // 快照写队列容量
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	sw := sweeper.DefaultConfig()
	return Config{
		SweepInterval:      sw.Interval,
		WorkerTimeout:      sw.WorkerTimeout,
		StaleThreshold:     sw.StaleThreshold,
		SubscriberBuffer:   broadcast.DefaultBufferSize,
		SubscriberMaxDrops: broadcast.DefaultMaxDrops,
		MetricsNamespace:   "kanchi",
		SnapshotQueueSize:  4096,
	}
}

// snapshotItem 快照写队列的元素（任务或 Worker 二选一）
type snapshotItem struct {
	task   *model.TaskView
	worker *model.WorkerRecord
}

// Monitor 任务监控器
type Monitor struct {
	config Config
	logger *logging.Logger

	tracker     *tracker.Tracker
	index       *index.Index
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	sweeper     *sweeper.Sweeper
	metrics     *Metrics

	snapshots storage.SnapshotStore // 可为 nil（纯内存运行）
	resubmit  queue.ResubmitQueue   // 可为 nil（禁用重投）

	snapCh chan snapshotItem

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// New 创建监控器
//
// snapshots、resubmit、mirror 均可为 nil，对应能力降级：
// 不落快照、Retry 返回 ErrRetryUnavailable、心跳不镜像到共享缓存。
func New(cfg Config, logger *logging.Logger, snapshots storage.SnapshotStore, resubmit queue.ResubmitQueue, mirror cache.HeartbeatStore) *Monitor {
	def := DefaultConfig()
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = def.MetricsNamespace
	}
	if cfg.SnapshotQueueSize <= 0 {
		cfg.SnapshotQueueSize = def.SnapshotQueueSize
	}
	if logger == nil {
		logger = logging.Default("monitor")
	}

	m := &Monitor{
		config:      cfg,
		logger:      logger,
		index:       index.New(),
		broadcaster: broadcast.New(cfg.SubscriberBuffer, cfg.SubscriberMaxDrops),
		registry:    registry.New(mirror),
		snapshots:   snapshots,
		resubmit:    resubmit,
		snapCh:      make(chan snapshotItem, cfg.SnapshotQueueSize),
	}

	m.tracker = tracker.New(m.onTransition)
	m.sweeper = sweeper.New(sweeper.Config{
		Interval:       cfg.SweepInterval,
		WorkerTimeout:  cfg.WorkerTimeout,
		StaleThreshold: cfg.StaleThreshold,
	}, m.registry, m.tracker, m.tracker)
	m.metrics = newMetrics(cfg.MetricsNamespace, m)

	return m
}

// onTransition 跟踪器状态变更回调
//
// 在分片锁内被调用：只做非阻塞操作（索引、非阻塞广播、
// 非阻塞入队），不得回调跟踪器。
func (m *Monitor) onTransition(tr *model.StateTransition, view *model.TaskView) {
	m.index.Update(view)
	m.broadcaster.Publish(tr)

	m.metrics.TransitionsTotal.Inc()
	if tr.Event == model.EventTaskOrphaned {
		m.metrics.OrphansMarked.Inc()
	}

	m.enqueueSnapshot(snapshotItem{task: view})
}

// enqueueSnapshot 非阻塞入队快照写请求，队列满时丢弃
//
// 快照是尽力而为的镜像，权威状态在内存里；丢最新不如丢旧的，
// 但队列元素是完整视图而非增量，后续同任务的写会覆盖，丢弃无害。
func (m *Monitor) enqueueSnapshot(item snapshotItem) {
	if m.snapshots == nil {
		return
	}
	select {
	case m.snapCh <- item:
	default:
		m.logger.Warn("snapshot queue full, dropping write")
	}
}

// ============================================================================
// 摄入
// ============================================================================

// ApplyEvent 摄入一条原始事件载荷
//
// 规范化失败返回包装了 normalizer.ErrMalformedEvent 的错误。
// Worker 事件路由到注册表，任务事件路由到跟踪器。
// 重复投递返回 (nil, nil)。
func (m *Monitor) ApplyEvent(ctx context.Context, raw json.RawMessage) (*model.StateTransition, error) {
	event, err := normalizer.Normalize(raw)
	if err != nil {
		m.metrics.EventsMalformed.Inc()
		return nil, err
	}
	return m.ApplyNormalized(ctx, event)
}

// ApplyNormalized 摄入一条已规范化的事件
func (m *Monitor) ApplyNormalized(ctx context.Context, event *model.TaskEvent) (*model.StateTransition, error) {
	m.metrics.EventsIngested.WithLabelValues(string(event.Type)).Inc()

	if event.Type.IsWorkerEvent() {
		m.applyWorkerEvent(ctx, event)
		return nil, nil
	}

	// 任务事件顺带让注册表见到主机名（unknown 记录，等首次心跳裁决）
	m.registry.Observe(event.Hostname)

	tr, err := m.tracker.Apply(event)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		m.metrics.EventsDuplicate.Inc()
	}
	return tr, nil
}

// applyWorkerEvent 把 Worker 事件路由到注册表
func (m *Monitor) applyWorkerEvent(ctx context.Context, event *model.TaskEvent) {
	switch event.Type {
	case model.EventWorkerOnline, model.EventWorkerHeartbeat:
		w := m.registry.RecordHeartbeat(ctx, heartbeatFromEvent(event))
		m.enqueueSnapshot(snapshotItem{worker: w})
	case model.EventWorkerOffline:
		if m.registry.MarkOffline(ctx, event.Hostname) {
			m.logger.WithHostname(event.Hostname).Info("worker went offline")
			if w, ok := m.registry.Get(event.Hostname); ok {
				m.enqueueSnapshot(snapshotItem{worker: w})
			}
		}
	}
}

// heartbeatFromEvent 从 Worker 事件提取心跳元数据
//
// active/processed/sw_ident/sw_ver 不是规范化器的已知字段，
// 上游把它们留在 Extra 里。
func heartbeatFromEvent(event *model.TaskEvent) registry.Heartbeat {
	hb := registry.Heartbeat{
		Hostname:  event.Hostname,
		Timestamp: event.Timestamp,
	}
	if raw, ok := event.Extra["active"]; ok {
		_ = json.Unmarshal(raw, &hb.ActiveTasks)
	}
	if raw, ok := event.Extra["processed"]; ok {
		_ = json.Unmarshal(raw, &hb.Processed)
	}
	if raw, ok := event.Extra["sw_ident"]; ok {
		_ = json.Unmarshal(raw, &hb.SoftwareIdent)
	}
	if raw, ok := event.Extra["sw_ver"]; ok {
		_ = json.Unmarshal(raw, &hb.SoftwareVer)
	}
	return hb
}

// ============================================================================
// 查询
// ============================================================================

// GetTask 返回任务完整记录（含事件历史）
func (m *Monitor) GetTask(taskID string) (*model.TaskRecord, error) {
	return m.tracker.Get(taskID)
}

// Query 过滤/排序/分页查询任务
func (m *Monitor) Query(opts index.QueryOptions) (*index.QueryResult, error) {
	return m.index.Query(opts)
}

// ListActive 返回所有活动状态（pending/received/running）的任务
func (m *Monitor) ListActive() []*model.TaskView {
	return m.index.ListByStatus(model.StatusPending, model.StatusReceived, model.StatusRunning)
}

// ListOrphaned 返回孤儿标记置位的任务
func (m *Monitor) ListOrphaned() []*model.TaskView {
	return m.index.ListOrphaned()
}

// Recent 返回最近更新的 n 条任务
func (m *Monitor) Recent(n int) []*model.TaskView {
	return m.index.Recent(n)
}

// CountByStatus 返回各状态任务数
func (m *Monitor) CountByStatus() map[model.TaskStatus]int {
	return m.index.CountByStatus()
}

// TaskCount 返回跟踪中的任务总数
func (m *Monitor) TaskCount() int {
	return m.index.Len()
}

// ListWorkers 返回全部 Worker 记录
func (m *Monitor) ListWorkers() []*model.WorkerRecord {
	return m.registry.List()
}

// GetWorker 返回单个 Worker 记录
func (m *Monitor) GetWorker(hostname string) (*model.WorkerRecord, error) {
	w, ok := m.registry.Get(hostname)
	if !ok {
		return nil, ErrWorkerNotFound
	}
	return w, nil
}

// ============================================================================
// 订阅
// ============================================================================

// Subscribe 注册一个状态变更订阅
func (m *Monitor) Subscribe(filter broadcast.Filter) *broadcast.Subscription {
	return m.broadcaster.Subscribe(filter)
}

// Unsubscribe 注销订阅
func (m *Monitor) Unsubscribe(id string) {
	m.broadcaster.Unsubscribe(id)
}

// ============================================================================
// 重投
// ============================================================================

// Retry 请求重投一个任务
//
// 为后继生成新的任务身份，把重投请求写入重投队列（由外部执行
// 协作方真正重新发起执行），随即注入合成的 task-retried 事件
// 把前驱和后继串成链。返回后继任务 ID。
func (m *Monitor) Retry(ctx context.Context, taskID string) (string, error) {
	if m.resubmit == nil {
		return "", ErrRetryUnavailable
	}

	rec, err := m.tracker.Get(taskID)
	if err != nil {
		return "", err
	}

	newID := newTaskID()
	if _, err := m.resubmit.EnqueueResubmit(ctx, &queue.ResubmitMessage{
		NewTaskID: newID,
		RetryOf:   taskID,
		Name:      rec.Name,
		Queue:     rec.Queue,
		Args:      rec.Args,
		Kwargs:    rec.Kwargs,
	}); err != nil {
		return "", fmt.Errorf("enqueue resubmit: %w", err)
	}
	m.metrics.RetriesRequested.Inc()

	now := time.Now()
	if _, err := m.tracker.Apply(&model.TaskEvent{
		TaskID:    newID,
		Type:      model.EventTaskRetried,
		Timestamp: now,
		Name:      rec.Name,
		Queue:     rec.Queue,
		Args:      rec.Args,
		Kwargs:    rec.Kwargs,
		Retries:   rec.Retries + 1,
		RetryOf:   taskID,
	}); err != nil {
		return "", err
	}
	if _, err := m.tracker.Apply(&model.TaskEvent{
		TaskID:    newID,
		Type:      model.EventTaskSent,
		Timestamp: now,
		Name:      rec.Name,
		Queue:     rec.Queue,
		Args:      rec.Args,
		Kwargs:    rec.Kwargs,
		Retries:   rec.Retries + 1,
	}); err != nil {
		return "", err
	}

	m.logger.WithTaskID(taskID).Info("retry requested", "new_task_id", newID)
	return newID, nil
}

// ============================================================================
// 生命周期
// ============================================================================

// Start 启动后台协程（孤儿扫描器、快照写入器）
//
// 幂等：重复调用是空操作。ctx 取消或 Close 后停止。
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.sweeper.Start(ctx)
		}()

		if m.snapshots != nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.snapshotLoop(ctx)
			}()
		}

		m.logger.Info("monitor started",
			"sweep_interval", m.config.SweepInterval,
			"worker_timeout", m.config.WorkerTimeout,
			"snapshots", m.snapshots != nil,
			"resubmit", m.resubmit != nil)
	})
}

// snapshotLoop 单写入协程按到达顺序落盘
//
// 同一任务的快照由同一协程串行写入，后写覆盖先写，
// 数据库里永远是某个一致时刻的视图。
func (m *Monitor) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// 尽力清空积压
			for {
				select {
				case item := <-m.snapCh:
					m.writeSnapshot(context.Background(), item)
				default:
					return
				}
			}
		case item := <-m.snapCh:
			m.writeSnapshot(ctx, item)
		}
	}
}

func (m *Monitor) writeSnapshot(ctx context.Context, item snapshotItem) {
	var err error
	switch {
	case item.task != nil:
		err = m.snapshots.UpsertTask(ctx, item.task)
	case item.worker != nil:
		err = m.snapshots.UpsertWorker(ctx, item.worker)
	}
	if err != nil {
		m.logger.WithError(err).Warn("snapshot write failed")
	}
}

// Sweep 立即执行一轮孤儿扫描（运维/测试入口）
func (m *Monitor) Sweep(ctx context.Context) int {
	return m.sweeper.Sweep(ctx, time.Now())
}

// Metrics 返回指标实例（HTTP 层挂载 /metrics 用）
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Close 停止后台协程并注销全部订阅
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.broadcaster.Close()
		m.logger.Info("monitor stopped")
	})
}

// newTaskID 生成新的任务身份
func newTaskID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
