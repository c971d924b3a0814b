// Package tracker 任务状态跟踪器
//
// record.go 包含记录级别的事件应用与状态推导逻辑。
// 状态永远从完整事件历史重新推导，而不是按到达顺序增量修改，
// 这样乱序到达天然被纠正：以任意顺序重放同一组事件得到相同状态。
package tracker

import (
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// applyToRecord 把一条事件并入记录并重新推导派生字段
//
// 返回本次应用对应的状态变更。调用方持有分片锁。
func applyToRecord(rec *model.TaskRecord, event *model.TaskEvent) *model.StateTransition {
	from := rec.Status

	rec.History = append(rec.History, event)
	rec.LastUpdated = time.Now()

	// 描述性字段：事件携带即更新
	if event.Name != "" {
		rec.Name = event.Name
	}
	if event.Queue != "" {
		rec.Queue = event.Queue
	}
	if event.Hostname != "" {
		rec.Hostname = event.Hostname
	}
	if event.Args != "" {
		rec.Args = event.Args
	}
	if event.Kwargs != "" {
		rec.Kwargs = event.Kwargs
	}
	if event.ParentID != "" {
		rec.ParentID = event.ParentID
	}
	if event.RootID != "" {
		rec.RootID = event.RootID
	}
	if event.Retries > rec.Retries {
		rec.Retries = event.Retries
	}

	switch event.Type {
	case model.EventTaskSucceeded:
		rec.Result = event.Result
	case model.EventTaskFailed:
		rec.Error = event.Error
		rec.Traceback = event.Traceback
	case model.EventTaskOrphaned:
		// 孤儿标记是粘性的：置位后即使后到终态事件也不清除
		if !rec.IsOrphan {
			rec.IsOrphan = true
			ts := event.Timestamp
			rec.OrphanedAt = &ts
		}
	}

	refresh(rec)

	return &model.StateTransition{
		TaskID:    rec.ID,
		Name:      rec.Name,
		Event:     event.Type,
		From:      from,
		To:        rec.Status,
		Hostname:  rec.Hostname,
		Timestamp: event.Timestamp,
		IsOrphan:  rec.IsOrphan,
		RetryOf:   rec.RetryOf,
	}
}

// refresh 从事件历史重新推导 Status、Runtime、时间戳缓存
//
// 状态优先级（与到达顺序无关）：
//  1. 终态事件（succeeded/failed/revoked）按时间戳最早者胜出，
//     后到的终态事件只记历史不改状态；failed 且存在重试后继时为 retry。
//  2. 无终态且存在重试后继 → retry。
//  3. 无终态且孤儿标记置位 → orphaned。
//  4. 同身份 retried 晚于 started → retry（任务回到队列待重跑）。
//  5. started → running；received → received；否则 pending。
//
// Runtime 仅在 succeeded 与 started 同时存在时定义为二者时间差，
// 缺 started 不猜测。
func refresh(rec *model.TaskRecord) {
	var sentAt, startedAt, terminalAt, retriedAt *time.Time
	var terminal model.EventType
	received := false

	for _, ev := range rec.History {
		ts := ev.Timestamp
		switch ev.Type {
		case model.EventTaskSent:
			sentAt = earlier(sentAt, ts)
		case model.EventTaskReceived:
			received = true
		case model.EventTaskStarted:
			startedAt = earlier(startedAt, ts)
		case model.EventTaskSucceeded, model.EventTaskFailed, model.EventTaskRevoked:
			if terminalAt == nil || ts.Before(*terminalAt) {
				t := ts
				terminalAt = &t
				terminal = ev.Type
			}
		case model.EventTaskRetried:
			// 跨身份 retried 是后继记录的创建事件，不代表本记录被重试
			if ev.RetryOf == "" || ev.RetryOf == rec.ID {
				retriedAt = later(retriedAt, ts)
			}
		}
	}

	rec.SentAt = sentAt
	rec.StartedAt = startedAt
	rec.FinishedAt = terminalAt

	rec.Runtime = nil
	if terminal == model.EventTaskSucceeded && startedAt != nil && terminalAt != nil {
		rt := terminalAt.Sub(*startedAt).Seconds()
		rec.Runtime = &rt
	}

	switch {
	case terminal == model.EventTaskSucceeded:
		rec.Status = model.StatusSucceeded
	case terminal == model.EventTaskRevoked:
		rec.Status = model.StatusRevoked
	case terminal == model.EventTaskFailed:
		if rec.HasRetries {
			rec.Status = model.StatusRetry
		} else {
			rec.Status = model.StatusFailed
		}
	case rec.HasRetries:
		rec.Status = model.StatusRetry
	case rec.IsOrphan:
		rec.Status = model.StatusOrphaned
	case retriedAt != nil && (startedAt == nil || retriedAt.After(*startedAt)):
		rec.Status = model.StatusRetry
	case startedAt != nil:
		rec.Status = model.StatusRunning
	case received:
		rec.Status = model.StatusReceived
	default:
		rec.Status = model.StatusPending
	}
}

func earlier(cur *time.Time, ts time.Time) *time.Time {
	if cur == nil || ts.Before(*cur) {
		return &ts
	}
	return cur
}

func later(cur *time.Time, ts time.Time) *time.Time {
	if cur == nil || ts.After(*cur) {
		return &ts
	}
	return cur
}
