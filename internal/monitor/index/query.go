// Package index 查询索引
//
// query.go 实现过滤/排序/分页查询：
//   - 过滤算子：is / not / contains / starts-with / in / not-in
//   - 组合语义：字段之间 AND，同字段多值之间 OR
//   - 候选集从最小的精确索引出发，避免全量扫描
package index

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

var (
	// ErrBadFilter 过滤条件非法（未知字段或算子）
	ErrBadFilter = errors.New("bad filter")

	// ErrBadSort 排序字段非法
	ErrBadSort = errors.New("bad sort field")
)

// Op 过滤算子
type Op string

const (
	OpIs         Op = "is"
	OpNot        Op = "not"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts-with"
	OpIn         Op = "in"
	OpNotIn      Op = "not-in"
)

// Filter 单字段过滤条件
//
// Values 多值之间是 OR 语义；多个 Filter 之间是 AND 语义。
type Filter struct {
	Field  string   `json:"field"`  // id / name / status / worker / queue
	Op     Op       `json:"op"`     // 过滤算子
	Values []string `json:"values"` // 匹配值列表
}

// SortOrder 排序方向
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryOptions 查询参数
type QueryOptions struct {
	Filters  []Filter  `json:"filters,omitempty"`
	SortBy   string    `json:"sort_by,omitempty"`    // last_updated / first_seen / name / status / runtime
	Order    SortOrder `json:"order,omitempty"`      // 默认 desc
	Page     int       `json:"page,omitempty"`       // 从 1 开始
	PageSize int       `json:"page_size,omitempty"`  // 默认 50，上限 500
}

// QueryResult 查询结果页
type QueryResult struct {
	Items []*model.TaskView `json:"items"`
	Total int               `json:"total"` // 过滤后的总数（分页前）
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var sortFields = map[string]bool{
	"": true, "last_updated": true, "first_seen": true,
	"name": true, "status": true, "runtime": true,
}

var filterFields = map[string]bool{
	"id": true, "name": true, "status": true, "worker": true, "queue": true,
}

var filterOps = map[Op]bool{
	OpIs: true, OpNot: true, OpContains: true,
	OpStartsWith: true, OpIn: true, OpNotIn: true,
}

// Query 执行过滤/排序/分页查询
//
// 过滤条件或排序字段非法时同步返回错误；
// 没有任何匹配时返回空结果页而非错误。
func (ix *Index) Query(opts QueryOptions) (*QueryResult, error) {
	for _, f := range opts.Filters {
		if !filterFields[f.Field] {
			return nil, fmt.Errorf("%w: unknown field %q", ErrBadFilter, f.Field)
		}
		if !filterOps[f.Op] {
			return nil, fmt.Errorf("%w: unknown op %q", ErrBadFilter, f.Op)
		}
	}
	if !sortFields[opts.SortBy] {
		return nil, fmt.Errorf("%w: %q", ErrBadSort, opts.SortBy)
	}

	ix.mu.RLock()
	matched := ix.collect(opts.Filters)
	ix.mu.RUnlock()

	sortViews(matched, opts.SortBy, opts.Order)

	total := len(matched)
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	start := (page - 1) * size
	if start >= total {
		return &QueryResult{Items: []*model.TaskView{}, Total: total}, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return &QueryResult{Items: matched[start:end], Total: total}, nil
}

// collect 选取候选集并应用全部过滤条件（调用方持有读锁）
func (ix *Index) collect(filters []Filter) []*model.TaskView {
	// 从最小的精确索引集合出发收窄候选
	candidates := ix.narrowCandidates(filters)

	var out []*model.TaskView
	for _, v := range candidates {
		ok := true
		for _, f := range filters {
			if !matchFilter(v, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, v)
		}
	}
	return out
}

// narrowCandidates 利用 is/in 精确过滤条件挑选最小索引集合
func (ix *Index) narrowCandidates(filters []Filter) []*model.TaskView {
	var best map[string]struct{}
	bestSize := -1

	consider := func(set map[string]struct{}) {
		if bestSize < 0 || len(set) < bestSize {
			best = set
			bestSize = len(set)
		}
	}

	for _, f := range filters {
		if f.Op != OpIs && f.Op != OpIn {
			continue
		}
		union := make(map[string]struct{})
		switch f.Field {
		case "status":
			for _, val := range f.Values {
				for id := range ix.byStatus[model.TaskStatus(strings.ToLower(val))] {
					union[id] = struct{}{}
				}
			}
		case "worker":
			for _, val := range f.Values {
				for id := range ix.byWorker[val] {
					union[id] = struct{}{}
				}
			}
		case "queue":
			for _, val := range f.Values {
				for id := range ix.byQueue[val] {
					union[id] = struct{}{}
				}
			}
		default:
			continue
		}
		consider(union)
	}

	if bestSize >= 0 {
		out := make([]*model.TaskView, 0, bestSize)
		for id := range best {
			if v, ok := ix.views[id]; ok {
				out = append(out, v)
			}
		}
		return out
	}

	out := make([]*model.TaskView, 0, len(ix.views))
	for _, v := range ix.views {
		out = append(out, v)
	}
	return out
}

// matchFilter 判断视图是否满足单个过滤条件
func matchFilter(v *model.TaskView, f Filter) bool {
	field := fieldValue(v, f.Field)

	switch f.Op {
	case OpIs, OpIn:
		for _, val := range f.Values {
			if strings.EqualFold(field, val) {
				return true
			}
		}
		return false
	case OpNot, OpNotIn:
		for _, val := range f.Values {
			if strings.EqualFold(field, val) {
				return false
			}
		}
		return true
	case OpContains:
		lower := strings.ToLower(field)
		for _, val := range f.Values {
			if strings.Contains(lower, strings.ToLower(val)) {
				return true
			}
		}
		return false
	case OpStartsWith:
		lower := strings.ToLower(field)
		for _, val := range f.Values {
			if strings.HasPrefix(lower, strings.ToLower(val)) {
				return true
			}
		}
		return false
	}
	return false
}

func fieldValue(v *model.TaskView, field string) string {
	switch field {
	case "id":
		return v.ID
	case "name":
		return v.Name
	case "status":
		return string(v.Status)
	case "worker":
		return v.Hostname
	case "queue":
		return v.Queue
	}
	return ""
}

// sortViews 对结果排序，默认按最近更新降序
func sortViews(views []*model.TaskView, sortBy string, order SortOrder) {
	if sortBy == "" {
		sortBy = "last_updated"
	}
	if order == "" {
		order = SortDesc
	}

	less := func(a, b *model.TaskView) bool {
		switch sortBy {
		case "first_seen":
			return a.FirstSeen.Before(b.FirstSeen)
		case "name":
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID < b.ID
		case "status":
			if a.Status != b.Status {
				return a.Status < b.Status
			}
			return a.ID < b.ID
		case "runtime":
			return *a.Runtime < *b.Runtime
		default: // last_updated
			return a.LastUpdated.Before(b.LastUpdated)
		}
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		// 无 Runtime 的排在最后，与排序方向无关
		if sortBy == "runtime" {
			switch {
			case a.Runtime == nil && b.Runtime == nil:
				return a.ID < b.ID
			case a.Runtime == nil:
				return false
			case b.Runtime == nil:
				return true
			}
		}
		if order == SortDesc {
			return less(b, a)
		}
		return less(a, b)
	})
}
