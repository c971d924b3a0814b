// Package api 事件摄入接口
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getkanchi/kanchi-sub002/internal/monitor/normalizer"
)

// PostEventsResponse 摄入结果
//
// 字段说明：
//   - Accepted: 成功应用的事件数
//   - Duplicates: 被幂等去重吸收的事件数
//   - Rejected: 被拒绝的事件数（malformed 或链成环）
//   - Errors: 每条被拒绝事件的原因
type PostEventsResponse struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// PostEvents 摄入原始事件
//
// 路由: POST /api/v1/events
//
// 请求体: 单个事件对象，或事件对象数组
//
//	{"task_id": "abc", "type": "task-started", "timestamp": "...", ...}
//	[{...}, {...}]
//
// 响应:
//   - 200 OK: 至少一条事件被接受或去重吸收
//   - 400 Bad Request: 请求体不是合法 JSON，或全部事件被拒绝
//
// 使用场景：
//   - 事件代理直推（不经过事件流）
//   - 运维手工补事件
func (h *Handler) PostEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	events, err := splitEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := PostEventsResponse{}
	for _, raw := range events {
		tr, err := h.mon.ApplyEvent(r.Context(), raw)
		switch {
		case errors.Is(err, normalizer.ErrMalformedEvent):
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
		case err != nil:
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
		case tr == nil:
			resp.Duplicates++
		default:
			resp.Accepted++
		}
	}

	status := http.StatusOK
	if resp.Accepted == 0 && resp.Duplicates == 0 && resp.Rejected > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// splitEvents 把请求体拆成单条事件载荷
//
// 接受单个 JSON 对象或对象数组。
func splitEvents(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("not valid JSON")
	}
	return []json.RawMessage{trimmed}, nil
}
