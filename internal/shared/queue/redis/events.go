// Package redis EventQueue 操作
package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
)

// PublishRawEvent 把一条原始事件载荷写入事件流
func (s *Store) PublishRawEvent(ctx context.Context, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeyTaskEvents,
		MaxLen: queue.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"payload":     string(payload),
			"received_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateEventConsumerGroup 创建事件流消费者组
func (s *Store) CreateEventConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeyTaskEvents, queue.EventConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ConsumeRawEvents 消费事件流中的原始事件
func (s *Store) ConsumeRawEvents(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RawEventMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.EventConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeyTaskEvents, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.RawEventMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.RawEventMessage{ID: msg.ID}
			if payload, ok := msg.Values["payload"].(string); ok {
				m.Payload = json.RawMessage(payload)
			}
			if receivedAt, ok := msg.Values["received_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
					m.ReceivedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckRawEvent 确认事件已处理
func (s *Store) AckRawEvent(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeyTaskEvents, queue.EventConsumerGroup, messageID).Err()
}

// GetEventQueueLength 获取事件流长度
func (s *Store) GetEventQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeyTaskEvents).Result()
}
