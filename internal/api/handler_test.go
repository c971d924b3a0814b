// Package api HTTP 接口测试
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *monitor.Monitor) {
	t.Helper()
	mon := monitor.New(monitor.DefaultConfig(), nil, nil, queue.NewMockQueue(), nil)
	t.Cleanup(mon.Close)
	return NewHandler(mon, nil), mon
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func taskEventBody(taskID, kind string, offset time.Duration) string {
	return fmt.Sprintf(`{"task_id": %q, "type": %q, "timestamp": %q, "name": "tasks.email.send", "hostname": "w1"}`,
		taskID, kind, base.Add(offset).Format(time.RFC3339Nano))
}

func seedTask(t *testing.T, h *Handler, taskID string) {
	t.Helper()
	for i, kind := range []string{"task-sent", "task-started", "task-succeeded"} {
		rec := doRequest(t, h, "POST", "/api/v1/events", taskEventBody(taskID, kind, time.Duration(i)*time.Second))
		if rec.Code != http.StatusOK {
			t.Fatalf("seed %s: status %d body %s", kind, rec.Code, rec.Body.String())
		}
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostEvents_SingleAndBatch(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, "POST", "/api/v1/events", taskEventBody("t1", "task-started", 0))
	if rec.Code != http.StatusOK {
		t.Fatalf("single: status %d", rec.Code)
	}
	var resp PostEventsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 {
		t.Errorf("single: %+v", resp)
	}

	batch := fmt.Sprintf("[%s, %s, %s]",
		taskEventBody("t2", "task-started", 0),
		taskEventBody("t2", "task-started", 0), // 重复投递
		`{"type": "task-exploded", "timestamp": 1}`)
	rec = doRequest(t, h, "POST", "/api/v1/events", batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: status %d body %s", rec.Code, rec.Body.String())
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Duplicates != 1 || resp.Rejected != 1 {
		t.Errorf("batch: %+v", resp)
	}
}

func TestPostEvents_AllRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, "POST", "/api/v1/events", `{"type": "nope", "timestamp": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doRequest(t, h, "POST", "/api/v1/events", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: status = %d", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	h, _ := newTestHandler(t)
	seedTask(t, h, "t1")

	rec := doRequest(t, h, "GET", "/api/v1/tasks/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var task struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		History []any  `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &task)
	if task.ID != "t1" || task.Status != "succeeded" || len(task.History) != 3 {
		t.Errorf("task: %+v", task)
	}

	if rec := doRequest(t, h, "GET", "/api/v1/tasks/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", rec.Code)
	}
}

func TestListTasks_FilterAndPaginate(t *testing.T) {
	h, _ := newTestHandler(t)
	for i := range 5 {
		seedTask(t, h, fmt.Sprintf("t%d", i))
	}

	rec := doRequest(t, h, "GET", "/api/v1/tasks?filter=status:is:succeeded&page_size=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Items []json.RawMessage `json:"items"`
		Total int               `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Total != 5 || len(res.Items) != 2 {
		t.Errorf("total=%d items=%d", res.Total, len(res.Items))
	}

	// 非法过滤条件
	if rec := doRequest(t, h, "GET", "/api/v1/tasks?filter=bogus:is:x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad field: status = %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/v1/tasks?filter=broken", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad expression: status = %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/v1/tasks?sort_by=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad sort: status = %d", rec.Code)
	}
}

func TestTaskCollections(t *testing.T) {
	h, _ := newTestHandler(t)
	seedTask(t, h, "t-done")
	doRequest(t, h, "POST", "/api/v1/events", taskEventBody("t-running", "task-started", 0))

	rec := doRequest(t, h, "GET", "/api/v1/tasks/active", "")
	var res struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Total != 1 {
		t.Errorf("active = %d", res.Total)
	}

	rec = doRequest(t, h, "GET", "/api/v1/tasks/recent?limit=1", "")
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Total != 1 {
		t.Errorf("recent = %d", res.Total)
	}

	rec = doRequest(t, h, "GET", "/api/v1/tasks/stats", "")
	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.Total != 2 || stats.ByStatus["succeeded"] != 1 || stats.ByStatus["running"] != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestRetryTask(t *testing.T) {
	h, _ := newTestHandler(t)
	doRequest(t, h, "POST", "/api/v1/events", taskEventBody("t-fail", "task-failed", 0))

	rec := doRequest(t, h, "POST", "/api/v1/tasks/t-fail/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["task_id"] != "t-fail" || resp["new_task_id"] == "" {
		t.Errorf("resp: %v", resp)
	}

	if rec := doRequest(t, h, "POST", "/api/v1/tasks/missing/retry", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", rec.Code)
	}
}

func TestRetryTask_Unavailable(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig(), nil, nil, nil, nil)
	t.Cleanup(mon.Close)
	h := NewHandler(mon, nil)

	doRequest(t, h, "POST", "/api/v1/events", taskEventBody("t1", "task-failed", 0))
	if rec := doRequest(t, h, "POST", "/api/v1/tasks/t1/retry", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestWorkers(t *testing.T) {
	h, _ := newTestHandler(t)

	hb := fmt.Sprintf(`{"type": "worker-heartbeat", "timestamp": %q, "hostname": "w1", "active": 2}`, base.Format(time.RFC3339Nano))
	doRequest(t, h, "POST", "/api/v1/events", hb)

	rec := doRequest(t, h, "GET", "/api/v1/workers", "")
	var res struct {
		Total  int `json:"total"`
		Online int `json:"online"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Total != 1 || res.Online != 1 {
		t.Errorf("workers: %+v", res)
	}

	rec = doRequest(t, h, "GET", "/api/v1/workers/w1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get worker: %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/v1/workers/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing worker: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	seedTask(t, h, "t1")

	rec := doRequest(t, h, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kanchi_events_ingested_total") {
		t.Errorf("metrics output missing counters")
	}
}
