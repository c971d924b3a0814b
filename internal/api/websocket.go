// Package api WebSocket 事件网关
//
// 本文件提供状态变更的 WebSocket 实时推送。每个连接对应广播器里的
// 一个订阅；慢客户端的背压（丢弃、强制退订）由广播器统一处理，
// 网关只负责把订阅通道里的变更写到连接上。
package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getkanchi/kanchi-sub002/internal/monitor/broadcast"
	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

// WSMessage WebSocket 消息
type WSMessage struct {
	Type      string      `json:"type"` // transition, subscribed, dropped
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// HandleWebSocket 处理 WebSocket 连接
//
// 路由: GET /ws/events
//
// 查询参数:
//   - event_types: 逗号分隔的事件类型过滤（空则全部）
//   - task_names: 逗号分隔的任务名 glob 模式（如 tasks.email.*）
//
// 消息格式:
//
//	{"type": "transition", "data": {...StateTransition}, "timestamp": "..."}
//
// 丢弃计数变化时额外发送 {"type": "dropped", "data": {"drops": N}}。
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws.events] upgrade error: %v", err)
		return
	}

	sub := h.mon.Subscribe(filter)
	log.Printf("[ws.events] client connected subscription=%s", sub.ID())

	done := make(chan struct{})
	go h.readPump(conn, sub.ID(), done)
	h.writePump(conn, sub, done)
}

// filterFromQuery 从查询参数构造订阅过滤器
func filterFromQuery(r *http.Request) broadcast.Filter {
	q := r.URL.Query()
	var filter broadcast.Filter
	if raw := q.Get("event_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, model.EventType(t))
			}
		}
	}
	if raw := q.Get("task_names"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				filter.TaskNames = append(filter.TaskNames, p)
			}
		}
	}
	return filter
}

// readPump 读取客户端消息（只为感知断连）
func (h *Handler) readPump(conn *websocket.Conn, subID string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws.events] read error subscription=%s: %v", subID, err)
			}
			return
		}
	}
}

// writePump 把订阅通道里的状态变更写到连接上
//
// 退出条件：订阅通道被关闭（广播器强制退订或整体关闭）、
// 客户端断连、写失败。退出时注销订阅并关闭连接。
func (h *Handler) writePump(conn *websocket.Conn, sub *broadcast.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		h.mon.Unsubscribe(sub.ID())
		conn.Close()
		log.Printf("[ws.events] client disconnected subscription=%s drops=%d", sub.ID(), sub.Drops())
	}()

	if err := writeWS(conn, WSMessage{
		Type:      "subscribed",
		Data:      map[string]string{"subscription": sub.ID()},
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	var reportedDrops int64
	for {
		select {
		case <-done:
			return
		case tr, ok := <-sub.Events():
			if !ok {
				// 被广播器退订（丢弃超限或服务关闭）
				writeWS(conn, WSMessage{
					Type:      "evicted",
					Data:      map[string]int64{"drops": sub.Drops()},
					Timestamp: time.Now(),
				})
				return
			}
			if err := writeWS(conn, WSMessage{Type: "transition", Data: tr, Timestamp: time.Now()}); err != nil {
				return
			}
			if drops := sub.Drops(); drops > reportedDrops {
				reportedDrops = drops
				if err := writeWS(conn, WSMessage{
					Type:      "dropped",
					Data:      map[string]int64{"drops": drops},
					Timestamp: time.Now(),
				}); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg WSMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
