// Package api 提供 HTTP API 处理器
//
// 本包实现任务监控系统的 RESTful API，包括：
//   - 事件摄入（Event）接口
//   - 任务查询（Task）接口
//   - Worker 查询接口
//   - WebSocket 实时推送
//
// 文件组织：
//   - common.go: 通用工具函数和 Handler 定义
//   - handler.go: 路由配置
//   - events.go: 事件摄入接口
//   - tasks.go: 任务查询/重投接口
//   - workers.go: Worker 查询接口
//   - websocket.go: WebSocket 事件网关
package api

import (
	"encoding/json"
	"net/http"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	"github.com/getkanchi/kanchi-sub002/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责把请求路由到监控器门面。
type Handler struct {
	mon    *monitor.Monitor
	logger *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(mon *monitor.Monitor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default("api")
	}
	return &Handler{mon: mon, logger: logger}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
