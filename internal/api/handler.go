// Package api 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到对应的处理函数。
package api

import (
	"net/http"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 事件摄入 (Event):
//   - POST /api/v1/events - 摄入原始事件（单条或批量）
//
// 任务查询 (Task):
//   - GET  /api/v1/tasks            - 过滤/排序/分页查询
//   - GET  /api/v1/tasks/active     - 活动任务
//   - GET  /api/v1/tasks/orphaned   - 孤儿任务
//   - GET  /api/v1/tasks/recent     - 最近更新的任务
//   - GET  /api/v1/tasks/stats      - 按状态统计
//   - GET  /api/v1/tasks/{id}       - 任务详情（含事件历史）
//   - POST /api/v1/tasks/{id}/retry - 请求重投
//
// Worker 查询:
//   - GET /api/v1/workers            - 列出 Worker
//   - GET /api/v1/workers/{hostname} - Worker 详情
//
// WebSocket:
//   - GET /ws/events - 实时状态变更推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查与指标
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.mon.Metrics().Handler())

	// Event 接口
	mux.HandleFunc("POST /api/v1/events", h.PostEvents)

	// Task 接口
	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/active", h.ListActiveTasks)
	mux.HandleFunc("GET /api/v1/tasks/orphaned", h.ListOrphanedTasks)
	mux.HandleFunc("GET /api/v1/tasks/recent", h.ListRecentTasks)
	mux.HandleFunc("GET /api/v1/tasks/stats", h.GetTaskStats)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/retry", h.RetryTask)

	// Worker 接口
	mux.HandleFunc("GET /api/v1/workers", h.ListWorkers)
	mux.HandleFunc("GET /api/v1/workers/{hostname}", h.GetWorker)

	corsHandler := corsMiddleware(mux)

	// WebSocket 绕过 CORS 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/events", h.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
