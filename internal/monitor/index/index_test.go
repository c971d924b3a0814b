// Package index 查询索引测试
package index

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func view(id string, status model.TaskStatus, opts ...func(*model.TaskView)) *model.TaskView {
	v := &model.TaskView{
		ID:          id,
		Status:      status,
		Name:        "tasks.demo",
		Hostname:    "worker-1",
		Queue:       "default",
		FirstSeen:   base,
		LastUpdated: base,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func withName(name string) func(*model.TaskView) {
	return func(v *model.TaskView) { v.Name = name }
}

func withUpdated(ts time.Time) func(*model.TaskView) {
	return func(v *model.TaskView) { v.LastUpdated = ts }
}

func withRuntime(seconds float64) func(*model.TaskView) {
	return func(v *model.TaskView) { v.Runtime = &seconds }
}

func TestUpdate_MigratesIndexSets(t *testing.T) {
	ix := New()

	ix.Update(view("t1", model.StatusRunning))
	if got := ix.CountByStatus()[model.StatusRunning]; got != 1 {
		t.Fatalf("running count = %d", got)
	}

	// 状态迁移后旧集合不残留
	ix.Update(view("t1", model.StatusSucceeded))
	counts := ix.CountByStatus()
	if counts[model.StatusRunning] != 0 || counts[model.StatusSucceeded] != 1 {
		t.Errorf("counts after migration: %v", counts)
	}
	if ix.Len() != 1 {
		t.Errorf("len = %d, want 1", ix.Len())
	}
}

func TestRecent_MostRecentFirst(t *testing.T) {
	ix := New()
	for i := range 5 {
		ix.Update(view(fmt.Sprintf("t%d", i), model.StatusRunning,
			withUpdated(base.Add(time.Duration(i)*time.Second))))
	}
	// t0 再次更新后应当排到队首
	ix.Update(view("t0", model.StatusSucceeded, withUpdated(base.Add(time.Hour))))

	recent := ix.Recent(3)
	if len(recent) != 3 || recent[0].ID != "t0" || recent[1].ID != "t4" {
		ids := make([]string, len(recent))
		for i, v := range recent {
			ids[i] = v.ID
		}
		t.Fatalf("recent = %v", ids)
	}
}

func TestListOrphaned(t *testing.T) {
	ix := New()
	ix.Update(view("t1", model.StatusRunning))
	o := view("t2", model.StatusOrphaned)
	o.IsOrphan = true
	ix.Update(o)

	orphans := ix.ListOrphaned()
	if len(orphans) != 1 || orphans[0].ID != "t2" {
		t.Fatalf("orphans = %v", orphans)
	}
}

// ============================================================================
// 查询
// ============================================================================

func seedQueryIndex(t *testing.T) *Index {
	t.Helper()
	ix := New()
	rows := []struct {
		id     string
		status model.TaskStatus
		name   string
		worker string
		queue  string
	}{
		{"q1", model.StatusSucceeded, "tasks.email.send", "worker-1", "default"},
		{"q2", model.StatusFailed, "tasks.email.send", "worker-2", "default"},
		{"q3", model.StatusRunning, "tasks.report.build", "worker-1", "reports"},
		{"q4", model.StatusRetry, "tasks.email.digest", "worker-2", "default"},
		{"q5", model.StatusFailed, "tasks.cleanup", "worker-3", "maintenance"},
	}
	for i, r := range rows {
		v := view(r.id, r.status, withName(r.name), withUpdated(base.Add(time.Duration(i)*time.Minute)))
		v.Hostname = r.worker
		v.Queue = r.queue
		ix.Update(v)
	}
	return ix
}

func TestQuery_FilterCombination(t *testing.T) {
	ix := seedQueryIndex(t)

	// 字段之间 AND，同字段多值 OR
	res, err := ix.Query(QueryOptions{Filters: []Filter{
		{Field: "status", Op: OpIn, Values: []string{"failed", "retry"}},
		{Field: "name", Op: OpContains, Values: []string{"email"}},
	}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2 (q2, q4)", res.Total)
	}
	for _, v := range res.Items {
		if v.ID != "q2" && v.ID != "q4" {
			t.Errorf("unexpected item %s", v.ID)
		}
	}
}

func TestQuery_Operators(t *testing.T) {
	ix := seedQueryIndex(t)

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"is case-insensitive", Filter{Field: "status", Op: OpIs, Values: []string{"FAILED"}}, 2},
		{"not", Filter{Field: "worker", Op: OpNot, Values: []string{"worker-1"}}, 3},
		{"starts-with", Filter{Field: "name", Op: OpStartsWith, Values: []string{"tasks.email"}}, 3},
		{"not-in", Filter{Field: "queue", Op: OpNotIn, Values: []string{"default"}}, 2},
		{"no match", Filter{Field: "id", Op: OpIs, Values: []string{"nope"}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ix.Query(QueryOptions{Filters: []Filter{tc.filter}})
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if res.Total != tc.want {
				t.Errorf("total = %d, want %d", res.Total, tc.want)
			}
		})
	}
}

func TestQuery_Validation(t *testing.T) {
	ix := seedQueryIndex(t)

	if _, err := ix.Query(QueryOptions{Filters: []Filter{{Field: "nope", Op: OpIs, Values: []string{"x"}}}}); !errors.Is(err, ErrBadFilter) {
		t.Errorf("unknown field: err = %v", err)
	}
	if _, err := ix.Query(QueryOptions{Filters: []Filter{{Field: "name", Op: "like", Values: []string{"x"}}}}); !errors.Is(err, ErrBadFilter) {
		t.Errorf("unknown op: err = %v", err)
	}
	if _, err := ix.Query(QueryOptions{SortBy: "bogus"}); !errors.Is(err, ErrBadSort) {
		t.Errorf("bad sort: err = %v", err)
	}
}

func TestQuery_SortAndPaginate(t *testing.T) {
	ix := seedQueryIndex(t)

	// 默认按 last_updated 降序
	res, err := ix.Query(QueryOptions{PageSize: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 5 || len(res.Items) != 2 {
		t.Fatalf("total=%d items=%d", res.Total, len(res.Items))
	}
	if res.Items[0].ID != "q5" || res.Items[1].ID != "q4" {
		t.Errorf("page 1 = [%s %s], want [q5 q4]", res.Items[0].ID, res.Items[1].ID)
	}

	res, _ = ix.Query(QueryOptions{Page: 3, PageSize: 2})
	if len(res.Items) != 1 || res.Items[0].ID != "q1" {
		t.Errorf("page 3 = %v", res.Items)
	}

	// 超出范围的页返回空页而非错误
	res, err = ix.Query(QueryOptions{Page: 99, PageSize: 2})
	if err != nil || len(res.Items) != 0 || res.Total != 5 {
		t.Errorf("out of range page: items=%d total=%d err=%v", len(res.Items), res.Total, err)
	}

	// 名称升序
	res, _ = ix.Query(QueryOptions{SortBy: "name", Order: SortAsc})
	if res.Items[0].Name != "tasks.cleanup" {
		t.Errorf("name asc first = %s", res.Items[0].Name)
	}
}

func TestQuery_RuntimeSortNilsLast(t *testing.T) {
	ix := New()
	ix.Update(view("r1", model.StatusSucceeded, withRuntime(5)))
	ix.Update(view("r2", model.StatusRunning)) // 无 Runtime
	ix.Update(view("r3", model.StatusSucceeded, withRuntime(1)))

	for _, order := range []SortOrder{SortAsc, SortDesc} {
		res, err := ix.Query(QueryOptions{SortBy: "runtime", Order: order})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Items[2].ID != "r2" {
			t.Errorf("order %s: nil runtime not last: %s", order, res.Items[2].ID)
		}
	}

	res, _ := ix.Query(QueryOptions{SortBy: "runtime", Order: SortAsc})
	if res.Items[0].ID != "r3" || res.Items[1].ID != "r1" {
		t.Errorf("asc = [%s %s]", res.Items[0].ID, res.Items[1].ID)
	}
}
