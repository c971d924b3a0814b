// Package api 任务查询接口
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/index"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/tracker"
)

// ============================================================================
// Task 接口处理函数
// ============================================================================

// ListTasks 过滤/排序/分页查询任务
//
// 路由: GET /api/v1/tasks
//
// 查询参数:
//   - filter: 过滤条件，可重复，格式 field:op:v1,v2
//     字段: id / name / status / worker / queue
//     算子: is / not / contains / starts-with / in / not-in
//   - sort_by: last_updated（默认）/ first_seen / name / status / runtime
//   - order: asc / desc（默认）
//   - page: 页码，从 1 开始
//   - page_size: 每页条数，默认 50，上限 500
//
// 示例:
//
//	GET /api/v1/tasks?filter=status:in:failed,retry&filter=name:contains:email&sort_by=runtime&order=desc
//
// 响应:
//
//	{"items": [...], "total": 123}
//
// 错误响应:
//   - 400 Bad Request: 过滤条件或排序字段非法
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.mon.Query(opts)
	if err != nil {
		if errors.Is(err, index.ErrBadFilter) || errors.Is(err, index.ErrBadSort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTask 获取任务详情（含事件历史）
//
// 路由: GET /api/v1/tasks/{id}
//
// 错误响应:
//   - 404 Not Found: 任务不存在
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := h.mon.GetTask(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListActiveTasks 列出活动任务（pending / received / running）
//
// 路由: GET /api/v1/tasks/active
func (h *Handler) ListActiveTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.mon.ListActive()
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tasks, "total": len(tasks)})
}

// ListOrphanedTasks 列出孤儿任务
//
// 路由: GET /api/v1/tasks/orphaned
func (h *Handler) ListOrphanedTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.mon.ListOrphaned()
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tasks, "total": len(tasks)})
}

// ListRecentTasks 列出最近更新的任务
//
// 路由: GET /api/v1/tasks/recent
//
// 查询参数:
//   - limit: 返回数量限制，默认 20，最大 500
func (h *Handler) ListRecentTasks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	tasks := h.mon.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tasks, "total": len(tasks)})
}

// GetTaskStats 按状态统计任务数
//
// 路由: GET /api/v1/tasks/stats
//
// 响应:
//
//	{"total": 42, "by_status": {"running": 3, "succeeded": 39}}
func (h *Handler) GetTaskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     h.mon.TaskCount(),
		"by_status": h.mon.CountByStatus(),
	})
}

// RetryTask 请求重投一个任务
//
// 路由: POST /api/v1/tasks/{id}/retry
//
// 响应:
//   - 202 Accepted: {"task_id": "...", "new_task_id": "..."}
//   - 404 Not Found: 任务不存在
//   - 503 Service Unavailable: 未配置重投队列
func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	newID, err := h.mon.Retry(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, monitor.ErrRetryUnavailable):
			writeError(w, http.StatusServiceUnavailable, "retry not available")
		default:
			h.logger.WithTaskID(taskID).WithError(err).Warn("retry failed")
			writeError(w, http.StatusInternalServerError, "retry failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "new_task_id": newID})
}

// ============================================================================
// 查询参数解析
// ============================================================================

// parseQueryOptions 从查询参数构造 QueryOptions
func parseQueryOptions(r *http.Request) (index.QueryOptions, error) {
	q := r.URL.Query()
	opts := index.QueryOptions{
		SortBy: q.Get("sort_by"),
		Order:  index.SortOrder(q.Get("order")),
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	for _, expr := range q["filter"] {
		f, err := parseFilter(expr)
		if err != nil {
			return opts, err
		}
		opts.Filters = append(opts.Filters, f)
	}
	return opts, nil
}

// parseFilter 解析 field:op:v1,v2 形式的过滤表达式
func parseFilter(expr string) (index.Filter, error) {
	parts := strings.SplitN(expr, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return index.Filter{}, errors.New("bad filter expression, want field:op:values")
	}
	return index.Filter{
		Field:  parts[0],
		Op:     index.Op(parts[1]),
		Values: strings.Split(parts[2], ","),
	}, nil
}
