// Package redis ResubmitQueue 操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
)

// EnqueueResubmit 把任务重投请求写入重投流
//
// 流的消费方是外部执行协作方（真正把任务重新发进执行系统的组件）。
func (s *Store) EnqueueResubmit(ctx context.Context, msg *queue.ResubmitMessage) (string, error) {
	if msg.RequestedAt.IsZero() {
		msg.RequestedAt = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: queue.KeyResubmissions,
		MaxLen: queue.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"new_task_id":  msg.NewTaskID,
			"retry_of":     msg.RetryOf,
			"name":         msg.Name,
			"queue":        msg.Queue,
			"args":         msg.Args,
			"kwargs":       msg.Kwargs,
			"requested_at": msg.RequestedAt.Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}
