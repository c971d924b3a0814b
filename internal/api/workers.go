// Package api Worker 查询接口
package api

import (
	"errors"
	"net/http"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
)

// ListWorkers 列出全部 Worker
//
// 路由: GET /api/v1/workers
//
// 响应:
//
//	{"items": [...], "total": 3, "online": 2}
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.mon.ListWorkers()
	online := 0
	for _, wk := range workers {
		if wk.IsOnline() {
			online++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  workers,
		"total":  len(workers),
		"online": online,
	})
}

// GetWorker 获取 Worker 详情
//
// 路由: GET /api/v1/workers/{hostname}
//
// 错误响应:
//   - 404 Not Found: Worker 不存在
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.mon.GetWorker(r.PathValue("hostname"))
	if err != nil {
		if errors.Is(err, monitor.ErrWorkerNotFound) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}
