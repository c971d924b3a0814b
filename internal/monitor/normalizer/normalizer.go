// Package normalizer 事件规范化器
//
// 把外部摄入层送来的原始事件载荷（未定型 JSON）校验并规范化为
// 类型化的 model.TaskEvent。只做字段校验和类型转换，不做任何关联；
// 无副作用，可安全并发调用。
//
// 容错策略：
//   - 缺少必填字段（task_id/type/timestamp）或类型不在封闭集合 → ErrMalformedEvent
//   - 未识别的多余字段原样保留在 Extra 中（向前兼容，不解释）
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// ErrMalformedEvent 原始事件载荷不合法
var ErrMalformedEvent = errors.New("malformed event")

// knownFields 规范化器识别并消费的字段名
var knownFields = map[string]bool{
	"task_id": true, "uuid": true, "type": true, "timestamp": true,
	"name": true, "queue": true, "routing_key": true, "hostname": true,
	"args": true, "kwargs": true, "retries": true, "result": true,
	"error": true, "exception": true, "traceback": true,
	"parent_id": true, "root_id": true, "retry_of": true,
}

// Normalize 把原始 JSON 载荷规范化为 TaskEvent
//
// 失败时返回包装了 ErrMalformedEvent 的错误，并说明缺失/非法的字段。
func Normalize(raw json.RawMessage) (*model.TaskEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedEvent, err)
	}
	return NormalizeFields(fields)
}

// NormalizeFields 从已解码的字段映射构造 TaskEvent
func NormalizeFields(fields map[string]json.RawMessage) (*model.TaskEvent, error) {
	ev := &model.TaskEvent{}

	// task_id：必填（兼容上游使用 uuid 字段名）
	ev.TaskID = stringField(fields, "task_id")
	if ev.TaskID == "" {
		ev.TaskID = stringField(fields, "uuid")
	}

	// type：必填且必须在封闭集合内
	kind := model.EventType(stringField(fields, "type"))
	if kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, kind)
	}
	ev.Type = kind

	// Worker 事件以 hostname 为身份，task_id 只对任务事件必填
	if kind.IsTaskEvent() && ev.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", ErrMalformedEvent)
	}

	// timestamp：必填，接受 RFC3339 字符串或 Unix 秒（可带小数）
	ts, err := timestampField(fields, "timestamp")
	if err != nil {
		return nil, err
	}
	ev.Timestamp = ts

	ev.Name = stringField(fields, "name")
	ev.Queue = stringField(fields, "queue")
	if ev.Queue == "" {
		ev.Queue = stringField(fields, "routing_key")
	}
	ev.Hostname = stringField(fields, "hostname")
	if kind.IsWorkerEvent() && ev.Hostname == "" {
		return nil, fmt.Errorf("%w: worker event missing hostname", ErrMalformedEvent)
	}
	ev.Args = stringField(fields, "args")
	ev.Kwargs = stringField(fields, "kwargs")
	ev.Retries = intField(fields, "retries")
	ev.Result = stringField(fields, "result")
	ev.Error = stringField(fields, "error")
	if ev.Error == "" {
		ev.Error = stringField(fields, "exception")
	}
	ev.Traceback = stringField(fields, "traceback")
	ev.ParentID = stringField(fields, "parent_id")
	ev.RootID = stringField(fields, "root_id")
	ev.RetryOf = stringField(fields, "retry_of")

	// 多余字段原样保留
	for k, v := range fields {
		if knownFields[k] {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = make(map[string]json.RawMessage, 4)
		}
		ev.Extra[k] = v
	}

	return ev, nil
}

// stringField 读取字符串字段，非字符串时返回原始文本
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// 数字/对象等按不透明字符串保留
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// intField 读取整数字段，缺失或非法时返回 0
func intField(fields map[string]json.RawMessage, key string) int {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// timestampField 读取时间戳字段
//
// 接受两种格式：RFC3339（含纳秒）字符串，或 Unix 秒数值（可带小数）。
func timestampField(fields map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		if sec, err := strconv.ParseFloat(s, 64); err == nil {
			return unixFloat(sec), nil
		}
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, s)
	}

	var sec float64
	if err := json.Unmarshal(raw, &sec); err == nil {
		return unixFloat(sec), nil
	}

	return time.Time{}, fmt.Errorf("%w: bad timestamp %s", ErrMalformedEvent, string(raw))
}

func unixFloat(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}
