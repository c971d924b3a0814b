// Package tracker 任务状态跟踪器
//
// 跟踪器是整个监控系统的关联引擎：消费规范化后的任务事件
// （可能乱序、可能重复），为每个任务身份维护一条权威状态记录，
// 把重试串成链，并承接孤儿扫描器注入的合成事件。
//
// 并发模型：任务身份空间按哈希分片，同一任务的所有操作在
// 分片写锁内严格串行；不同分片的 Apply 可以并行。
// 重试链跨身份联动由单独的链锁串行化，锁序固定为
// 链锁 → 分片锁（按分片下标升序），避免死锁。
package tracker

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// 分片数量，身份按 FNV 哈希散列
const numShards = 64

var (
	// ErrRetryChainCycle 重试链成环，事件被拒绝
	ErrRetryChainCycle = errors.New("retry chain cycle detected")

	// ErrNotTaskEvent 事件类型不是任务事件
	ErrNotTaskEvent = errors.New("not a task event")

	// ErrNotFound 任务不存在
	ErrNotFound = errors.New("task not found")
)

// TransitionFunc 状态变更回调
//
// 跟踪器在分片锁内按序调用，保证同一任务的变更按 Apply 顺序送达。
// 回调方不得再调用跟踪器本身。
type TransitionFunc func(tr *model.StateTransition, view *model.TaskView)

// shard 身份空间分片
type shard struct {
	mu      sync.RWMutex
	records map[string]*model.TaskRecord
	applied map[string]map[string]bool // 任务 ID → 已应用事件去重键集合
}

// Tracker 任务状态跟踪器
//
// TaskRecord 的唯一写入方。查询索引、广播器等下游组件
// 只通过 TransitionFunc 回调拿到只读视图。
type Tracker struct {
	shards  [numShards]*shard
	chainMu sync.Mutex // 串行化重试链变更与遍历

	onTransition TransitionFunc
}

// New 创建跟踪器实例
//
// onTransition 可为 nil（纯查询场景或测试）。
func New(onTransition TransitionFunc) *Tracker {
	t := &Tracker{onTransition: onTransition}
	for i := range t.shards {
		t.shards[i] = &shard{
			records: make(map[string]*model.TaskRecord),
			applied: make(map[string]map[string]bool),
		}
	}
	return t
}

// shardIndex 计算任务 ID 所属分片下标
func shardIndex(taskID string) int {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return int(h.Sum32() % numShards)
}

func (t *Tracker) shard(taskID string) *shard {
	return t.shards[shardIndex(taskID)]
}

// Apply 应用一条任务事件，返回状态变更
//
// 幂等性：重复投递（同一去重键）不改变状态、不发出变更通知，
// 返回 (nil, nil)。事件历史只保留首次投递。
//
// 返回的 StateTransition 描述事件所属任务的变更；重试链联动
// 引起的前驱任务变更通过 TransitionFunc 回调送出。
func (t *Tracker) Apply(event *model.TaskEvent) (*model.StateTransition, error) {
	if event == nil || !event.Type.IsTaskEvent() {
		return nil, ErrNotTaskEvent
	}

	// 跨身份重试链接走专用路径
	if event.Type == model.EventTaskRetried && event.RetryOf != "" && event.RetryOf != event.TaskID {
		return t.applyRetryLink(event)
	}

	sh := t.shard(event.TaskID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.isDuplicate(event) {
		return nil, nil
	}

	rec := sh.getOrCreate(event.TaskID)
	tr := applyToRecord(rec, event)
	sh.markApplied(event)

	t.emit(tr, rec.View())
	return tr, nil
}

// applyRetryLink 应用跨身份的 task-retried 事件
//
// 事件归属后继任务（event.TaskID），RetryOf 指向前驱。
// 前驱不存在时创建 Incomplete 占位记录，绝不丢弃事件；
// 会造成链成环的事件被拒绝并记录日志。
func (t *Tracker) applyRetryLink(event *model.TaskEvent) (*model.StateTransition, error) {
	t.chainMu.Lock()
	defer t.chainMu.Unlock()

	predID, succID := event.RetryOf, event.TaskID

	// 成环检测：沿前驱链上溯，撞到后继说明成环
	if t.wouldCycle(predID, succID) {
		log.Printf("[tracker.retry.cycle] task_id=%s retry_of=%s rejected", succID, predID)
		return nil, fmt.Errorf("%w: %s -> %s", ErrRetryChainCycle, predID, succID)
	}

	predShard, succShard := t.shard(predID), t.shard(succID)
	lockPair(shardIndex(predID), shardIndex(succID), predShard, succShard)
	defer unlockPair(predShard, succShard)

	if succShard.isDuplicate(event) {
		return nil, nil
	}

	pred, existed := predShard.records[predID]
	if !existed {
		// 前驱未见过：容忍，创建占位记录
		pred = predShard.newRecord(predID)
		pred.Incomplete = true
		predShard.records[predID] = pred
		log.Printf("[tracker.retry.placeholder] retry_of=%s referenced by %s before first event", predID, succID)
	}

	succ := succShard.getOrCreate(succID)
	predFrom := pred.Status

	tr := applyToRecord(succ, event)
	succ.RetryOf = predID
	refresh(succ)
	tr.To = succ.Status
	tr.RetryOf = predID
	succShard.markApplied(event)

	if !contains(pred.RetriedBy, succID) {
		pred.RetriedBy = append(pred.RetriedBy, succID)
	}
	pred.HasRetries = true
	pred.LastUpdated = time.Now()
	refresh(pred)

	t.emit(tr, succ.View())

	// 前驱状态联动（如 failed → retry）同样要进索引和广播
	if pred.Status != predFrom || !existed {
		t.emit(&model.StateTransition{
			TaskID:    predID,
			Name:      pred.Name,
			Event:     model.EventTaskRetried,
			From:      predFrom,
			To:        pred.Status,
			Hostname:  pred.Hostname,
			Timestamp: event.Timestamp,
			IsOrphan:  pred.IsOrphan,
		}, pred.View())
	}

	return tr, nil
}

// wouldCycle 判断把 succID 挂到 predID 之后是否成环
//
// 在链锁内调用。上溯长度设上限，防御性终止损坏的链。
func (t *Tracker) wouldCycle(predID, succID string) bool {
	const maxDepth = 1024
	cur := predID
	for i := 0; cur != "" && i < maxDepth; i++ {
		if cur == succID {
			return true
		}
		sh := t.shard(cur)
		sh.mu.RLock()
		rec, ok := sh.records[cur]
		if !ok {
			sh.mu.RUnlock()
			return false
		}
		cur = rec.RetryOf
		sh.mu.RUnlock()
	}
	return false
}

// emit 发出状态变更通知
func (t *Tracker) emit(tr *model.StateTransition, view *model.TaskView) {
	if t.onTransition != nil && tr != nil {
		t.onTransition(tr, view)
	}
}

// ============================================================================
// 查询接口（只读，返回拷贝）
// ============================================================================

// Get 返回任务的完整记录（深拷贝，含事件历史）
func (t *Tracker) Get(taskID string) (*model.TaskRecord, error) {
	sh := t.shard(taskID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Range 遍历所有任务视图
//
// fn 返回 false 时提前终止。遍历期间持有分片读锁，fn 不得回调跟踪器。
func (t *Tracker) Range(fn func(view *model.TaskView) bool) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			if !fn(rec.View()) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Len 返回跟踪中的任务数量
func (t *Tracker) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// ============================================================================
// 分片内部操作（调用方持有分片锁）
// ============================================================================

func (sh *shard) isDuplicate(event *model.TaskEvent) bool {
	if event.Type.IsRepeatable() && event.Type != model.EventTaskRetried {
		return false
	}
	keys, ok := sh.applied[event.TaskID]
	return ok && keys[event.DedupKey()]
}

func (sh *shard) markApplied(event *model.TaskEvent) {
	keys, ok := sh.applied[event.TaskID]
	if !ok {
		keys = make(map[string]bool)
		sh.applied[event.TaskID] = keys
	}
	keys[event.DedupKey()] = true
}

func (sh *shard) getOrCreate(taskID string) *model.TaskRecord {
	rec, ok := sh.records[taskID]
	if !ok {
		rec = sh.newRecord(taskID)
		sh.records[taskID] = rec
	}
	return rec
}

func (sh *shard) newRecord(taskID string) *model.TaskRecord {
	now := time.Now()
	return &model.TaskRecord{
		ID:          taskID,
		Status:      model.StatusPending,
		FirstSeen:   now,
		LastUpdated: now,
	}
}

// lockPair 按分片下标升序锁定两个分片（可能相同）
func lockPair(ai, bi int, a, b *shard) {
	if a == b {
		a.mu.Lock()
		return
	}
	if ai < bi {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *shard) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
