// Package monitor Prometheus 指标导出
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// allStatuses 指标按状态导出时的固定枚举
var allStatuses = []model.TaskStatus{
	model.StatusPending, model.StatusReceived, model.StatusRunning,
	model.StatusSucceeded, model.StatusFailed, model.StatusRetry,
	model.StatusRevoked, model.StatusOrphaned,
}

// Metrics 包含监控器全部指标
//
// 每个 Monitor 实例持有独立的 Registry，避免测试中重复注册冲突。
type Metrics struct {
	registry *prometheus.Registry

	// 摄入指标
	EventsIngested  *prometheus.CounterVec
	EventsMalformed prometheus.Counter
	EventsDuplicate prometheus.Counter

	// 状态机指标
	TransitionsTotal prometheus.Counter
	OrphansMarked    prometheus.Counter
	RetriesRequested prometheus.Counter
}

// newMetrics 创建指标实例并注册派生指标
//
// 任务数、订阅者数、丢弃数等直接从各组件读取（GaugeFunc/CounterFunc），
// 不维护第二份计数。
func newMetrics(namespace string, m *Monitor) *Metrics {
	reg := prometheus.NewRegistry()

	mx := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total events accepted by the normalizer",
			},
			[]string{"type"},
		),
		EventsMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_malformed_total",
				Help:      "Total events rejected by the normalizer",
			},
		),
		EventsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_duplicate_total",
				Help:      "Total duplicate deliveries absorbed by the tracker",
			},
		),
		TransitionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total state transitions emitted by the tracker",
			},
		),
		OrphansMarked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_marked_total",
				Help:      "Total tasks marked orphaned by the sweeper",
			},
		),
		RetriesRequested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_requested_total",
				Help:      "Total resubmissions requested via the retry operation",
			},
		),
	}

	reg.MustRegister(
		mx.EventsIngested, mx.EventsMalformed, mx.EventsDuplicate,
		mx.TransitionsTotal, mx.OrphansMarked, mx.RetriesRequested,
	)

	// 任务数按状态导出，直接读查询索引
	for _, status := range allStatuses {
		status := status
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "tasks",
				Help:        "Tracked tasks by status",
				ConstLabels: prometheus.Labels{"status": string(status)},
			},
			func() float64 { return float64(m.index.CountByStatus()[status]) },
		))
	}

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Currently registered subscriptions",
		},
		func() float64 { return float64(m.broadcaster.Len()) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total transitions dropped due to subscriber backpressure",
		},
		func() float64 {
			_, drops, _ := m.broadcaster.Stats()
			return float64(drops)
		},
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_evictions_total",
			Help:      "Total subscriptions force-unsubscribed past the drop threshold",
		},
		func() float64 {
			_, _, evictions := m.broadcaster.Stats()
			return float64(evictions)
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_online",
			Help:      "Workers currently online",
		},
		func() float64 { return float64(m.registry.OnlineCount()) },
	))

	return mx
}

// Handler 返回 /metrics 的 HTTP 处理器
func (mx *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(mx.registry, promhttp.HandlerOpts{})
}
