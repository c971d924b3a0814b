// Package ingest 事件流消费者
//
// 从事件流（Redis Streams 消费者组）拉取原始事件载荷，
// 交给监控器摄入，处理完成后确认。
//
// 投递语义：at-least-once。崩溃后未确认的消息会被重新投递，
// 跟踪器的幂等去重吸收由此产生的重复。
// 不合法（malformed）的消息同样确认——重投不会让它变合法。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	"github.com/getkanchi/kanchi-sub002/internal/monitor/normalizer"
	"github.com/getkanchi/kanchi-sub002/internal/shared/queue"
	"github.com/getkanchi/kanchi-sub002/pkg/logging"
)

const (
	// defaultBatchSize 单次拉取的最大消息数
	defaultBatchSize = 64

	// defaultBlockTimeout 拉取阻塞超时
	defaultBlockTimeout = 5 * time.Second

	// errorBackoff 消费出错后的退避时间
	errorBackoff = time.Second
)

// Consumer 事件流消费者
type Consumer struct {
	queue      queue.EventQueue
	mon        *monitor.Monitor
	logger     *logging.Logger
	consumerID string

	batchSize    int64
	blockTimeout time.Duration
}

// New 创建消费者
//
// consumerID 为空时用主机名加进程号生成，保证同一消费者组内唯一。
func New(q queue.EventQueue, mon *monitor.Monitor, logger *logging.Logger, consumerID string) *Consumer {
	if consumerID == "" {
		host, _ := os.Hostname()
		consumerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if logger == nil {
		logger = logging.Default("ingest")
	}
	return &Consumer{
		queue:        q,
		mon:          mon,
		logger:       logger,
		consumerID:   consumerID,
		batchSize:    defaultBatchSize,
		blockTimeout: defaultBlockTimeout,
	}
}

// Run 运行消费循环，ctx 取消后返回
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.queue.CreateEventConsumerGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	c.logger.Info("consumer started", "consumer_id", c.consumerID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		default:
		}

		messages, err := c.queue.ConsumeRawEvents(ctx, c.consumerID, c.batchSize, c.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return ctx.Err()
			}
			c.logger.WithError(err).Warn("consume failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errorBackoff):
			}
			continue
		}

		for _, msg := range messages {
			c.handle(ctx, msg)
		}
	}
}

// handle 处理单条消息并确认
//
// 确认策略：
//   - 处理成功、重复投递、malformed → 确认（重投无意义）
//   - 其余错误（如重试链成环）→ 记日志后仍确认，事件本身不可修复
//   - 确认失败只记日志，消息会被重投，由去重吸收
func (c *Consumer) handle(ctx context.Context, msg *queue.RawEventMessage) {
	if _, err := c.mon.ApplyEvent(ctx, msg.Payload); err != nil {
		if errors.Is(err, normalizer.ErrMalformedEvent) {
			c.logger.WithError(err).Warn("malformed event discarded", "message_id", msg.ID)
		} else {
			c.logger.WithError(err).Warn("event rejected", "message_id", msg.ID)
		}
	}

	if err := c.queue.AckRawEvent(ctx, msg.ID); err != nil {
		c.logger.WithError(err).Warn("ack failed", "message_id", msg.ID)
	}
}
