// Package index 查询索引
//
// 在任务状态跟踪器之上维护派生索引（按状态、按 Worker、按队列、
// 按最近更新时间），支撑过滤/分页/排序查询而无需全表扫描。
//
// 索引持有的是只读 TaskView 快照，从不触碰 TaskRecord 本身；
// 每次状态变更由监控器在 Apply 周期内同步调用 Update，
// 不存在额外的最终一致窗口。
package index

import (
	"container/list"
	"sync"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// Index 任务查询索引
type Index struct {
	mu sync.RWMutex

	views    map[string]*model.TaskView               // 任务 ID → 最新视图
	byStatus map[model.TaskStatus]map[string]struct{} // 状态 → 任务 ID 集合
	byWorker map[string]map[string]struct{}           // 主机名 → 任务 ID 集合
	byQueue  map[string]map[string]struct{}           // 队列 → 任务 ID 集合
	orphans  map[string]struct{}                      // 孤儿任务 ID 集合

	// 按最近更新排序的链表，队首最新（"最近 N 条" 查询走这里）
	recency *list.List
	elems   map[string]*list.Element
}

// New 创建空索引
func New() *Index {
	return &Index{
		views:    make(map[string]*model.TaskView),
		byStatus: make(map[model.TaskStatus]map[string]struct{}),
		byWorker: make(map[string]map[string]struct{}),
		byQueue:  make(map[string]map[string]struct{}),
		orphans:  make(map[string]struct{}),
		recency:  list.New(),
		elems:    make(map[string]*list.Element),
	}
}

// Update 并入一条任务视图
//
// 幂等：同一任务的新视图替换旧视图并迁移各索引项。
func (ix *Index) Update(view *model.TaskView) {
	if view == nil {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.views[view.ID]
	ix.views[view.ID] = view

	if old != nil {
		if old.Status != view.Status {
			removeFrom(ix.byStatus, old.Status, view.ID)
		}
		if old.Hostname != view.Hostname {
			removeFrom(ix.byWorker, old.Hostname, view.ID)
		}
		if old.Queue != view.Queue {
			removeFrom(ix.byQueue, old.Queue, view.ID)
		}
	}
	addTo(ix.byStatus, view.Status, view.ID)
	if view.Hostname != "" {
		addTo(ix.byWorker, view.Hostname, view.ID)
	}
	if view.Queue != "" {
		addTo(ix.byQueue, view.Queue, view.ID)
	}

	if view.IsOrphan {
		ix.orphans[view.ID] = struct{}{}
	}

	if el, ok := ix.elems[view.ID]; ok {
		el.Value = view
		ix.recency.MoveToFront(el)
	} else {
		ix.elems[view.ID] = ix.recency.PushFront(view)
	}
}

// Get 返回任务视图
func (ix *Index) Get(taskID string) (*model.TaskView, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.views[taskID]
	return v, ok
}

// Len 返回索引中的任务数
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.views)
}

// CountByStatus 返回各状态的任务数
func (ix *Index) CountByStatus() map[model.TaskStatus]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make(map[model.TaskStatus]int, len(ix.byStatus))
	for status, ids := range ix.byStatus {
		if len(ids) > 0 {
			counts[status] = len(ids)
		}
	}
	return counts
}

// ListByStatus 返回处于任一给定状态的任务视图（最近更新在前）
func (ix *Index) ListByStatus(statuses ...model.TaskStatus) []*model.TaskView {
	want := make(map[model.TaskStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*model.TaskView
	for el := ix.recency.Front(); el != nil; el = el.Next() {
		v := el.Value.(*model.TaskView)
		if want[v.Status] {
			out = append(out, v)
		}
	}
	return out
}

// ListOrphaned 返回孤儿标记置位的任务视图（最近更新在前）
func (ix *Index) ListOrphaned() []*model.TaskView {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*model.TaskView
	for el := ix.recency.Front(); el != nil; el = el.Next() {
		v := el.Value.(*model.TaskView)
		if _, ok := ix.orphans[v.ID]; ok && v.IsOrphan {
			out = append(out, v)
		}
	}
	return out
}

// Recent 返回最近更新的 n 条任务视图
func (ix *Index) Recent(n int) []*model.TaskView {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*model.TaskView, 0, n)
	for el := ix.recency.Front(); el != nil && len(out) < n; el = el.Next() {
		out = append(out, el.Value.(*model.TaskView))
	}
	return out
}

// ============================================================================
// 内部工具
// ============================================================================

func addTo[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom[K comparable](m map[K]map[string]struct{}, key K, id string) {
	if set, ok := m[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}
