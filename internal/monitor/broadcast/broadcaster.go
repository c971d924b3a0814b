// Package broadcast 订阅广播器
//
// 把状态跟踪器产出的状态变更扇出给一组动态订阅者。
// 每个订阅者持有自己的过滤器（事件类型集合 + 任务名模式集合）
// 和一条有界投递通道。
//
// 背压策略：发布方永远不被慢订阅者阻塞。订阅者通道满时丢弃
// 最旧的未投递项并累加丢弃计数；丢弃数超过阈值的订阅者被强制
// 退订（保护发布吞吐优先于个别掉队者）。
package broadcast

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"path"
	"sync"
	"sync/atomic"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

const (
	// DefaultBufferSize 订阅通道默认容量
	DefaultBufferSize = 256

	// DefaultMaxDrops 默认丢弃阈值，超过即强制退订
	DefaultMaxDrops = 1024
)

// ============================================================================
// Filter - 订阅过滤器
// ============================================================================

// Filter 订阅过滤器
//
// 两个维度都是空集即全匹配：
//   - EventTypes：接受的事件类型集合
//   - TaskNames：接受的任务名模式集合（glob 语法，如 "tasks.email.*"）
type Filter struct {
	EventTypes []model.EventType `json:"event_types,omitempty"`
	TaskNames  []string          `json:"task_names,omitempty"`
}

// Matches 判断一条状态变更是否命中过滤器
func (f *Filter) Matches(tr *model.StateTransition) bool {
	if len(f.EventTypes) > 0 {
		hit := false
		for _, t := range f.EventTypes {
			if t == tr.Event {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if len(f.TaskNames) > 0 {
		hit := false
		for _, pattern := range f.TaskNames {
			if ok, err := path.Match(pattern, tr.Name); err == nil && ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	return true
}

// ============================================================================
// Subscription - 订阅句柄
// ============================================================================

// Subscription 一个观察者的订阅句柄
//
// 观察者从 Events() 消费；断开连接时必须调用 Broadcaster.Unsubscribe
// 释放资源。Drops() 暴露因背压被丢弃的条数。
type Subscription struct {
	id     string
	filter Filter
	ch     chan *model.StateTransition

	drops   atomic.Int64
	evicted atomic.Bool
}

// ID 返回订阅标识
func (s *Subscription) ID() string { return s.id }

// Events 返回投递通道（广播器退订时关闭）
func (s *Subscription) Events() <-chan *model.StateTransition { return s.ch }

// Drops 返回累计丢弃条数
func (s *Subscription) Drops() int64 { return s.drops.Load() }

// Evicted 返回是否因丢弃超限被强制退订
func (s *Subscription) Evicted() bool { return s.evicted.Load() }

// offer 非阻塞投递，通道满时丢弃最旧项
//
// 返回本次投递丢弃的条数。有界重试：极端竞争下放弃本条并计为丢弃。
func (s *Subscription) offer(tr *model.StateTransition) int64 {
	var dropped int64
	for range 8 {
		select {
		case s.ch <- tr:
			return dropped
		default:
		}
		select {
		case <-s.ch: // 丢最旧
			dropped++
		default:
		}
	}
	return dropped + 1
}

// ============================================================================
// Broadcaster - 广播器
// ============================================================================

// Broadcaster 订阅广播器
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	bufSize  int
	maxDrops int64

	published atomic.Int64
	dropTotal atomic.Int64
	evictions atomic.Int64
}

// New 创建广播器
//
// bufSize/maxDrops 传 0 使用默认值。
func New(bufSize int, maxDrops int64) *Broadcaster {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if maxDrops <= 0 {
		maxDrops = DefaultMaxDrops
	}
	return &Broadcaster{
		subs:     make(map[string]*Subscription),
		bufSize:  bufSize,
		maxDrops: maxDrops,
	}
}

// Subscribe 注册一个新订阅
func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:     newSubscriptionID(),
		filter: filter,
		ch:     make(chan *model.StateTransition, b.bufSize),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe 注销订阅并关闭其通道
//
// 幂等：重复注销或注销未知 ID 是空操作。
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish 把状态变更扇出给所有命中的订阅者
//
// 对任何单个订阅者的消费速度都是非阻塞的。丢弃超限的订阅者
// 在本次发布结束后被强制退订。
func (b *Broadcaster) Publish(tr *model.StateTransition) {
	if tr == nil {
		return
	}
	b.published.Add(1)

	var evict []string

	b.mu.RLock()
	for _, sub := range b.subs {
		if !sub.filter.Matches(tr) {
			continue
		}
		if dropped := sub.offer(tr); dropped > 0 {
			total := sub.drops.Add(dropped)
			b.dropTotal.Add(dropped)
			if total > b.maxDrops {
				sub.evicted.Store(true)
				evict = append(evict, sub.id)
			}
		}
	}
	b.mu.RUnlock()

	for _, id := range evict {
		log.Printf("[broadcast.evict] subscription=%s drops exceeded threshold=%d", id, b.maxDrops)
		b.evictions.Add(1)
		b.Unsubscribe(id)
	}
}

// Len 返回当前订阅数
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats 返回累计计数（发布数、丢弃数、强制退订数）
func (b *Broadcaster) Stats() (published, drops, evictions int64) {
	return b.published.Load(), b.dropTotal.Load(), b.evictions.Load()
}

// Close 注销全部订阅
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// newSubscriptionID 生成订阅标识
func newSubscriptionID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return "sub-" + hex.EncodeToString(buf)
}
