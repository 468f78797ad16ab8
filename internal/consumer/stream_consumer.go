package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "caretrax-drip/internal/common/redis"
	"caretrax-drip/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

const idleWait = 100 * time.Millisecond

// StreamConsumer 从 Redis Stream 消费称重读数
// 每条消息处理后都会 XACK，解析失败或被拒绝的读数记录日志后丢弃
type StreamConsumer struct {
	redisClient redis.Cmdable
	stream      string
	group       string
	consumer    string
	batchSize   int64
	block       time.Duration
	ingester    Ingester
	logger      *zap.Logger
	now         func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamConsumer consumerName 为空时生成随机名称
func NewStreamConsumer(
	redisClient redis.Cmdable,
	stream, group, consumerName string,
	batchSize int64,
	block time.Duration,
	ingester Ingester,
	logger *zap.Logger,
) *StreamConsumer {
	if consumerName == "" {
		consumerName = "caretrax-drip-" + uuid.New().String()[:8]
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &StreamConsumer{
		redisClient: redisClient,
		stream:      stream,
		group:       group,
		consumer:    consumerName,
		batchSize:   batchSize,
		block:       block,
		ingester:    ingester,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 创建消费者组并在后台启动消费循环
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.group),
		zap.String("consumer_name", c.consumer),
	)
	return nil
}

// Stop 停止消费循环并等待退出
func (c *StreamConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("Stream consumer stopped", zap.String("stream", c.stream))
}

func (c *StreamConsumer) run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := c.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			c.logger.Error("Failed to consume stream",
				zap.String("stream", c.stream),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		// 非阻塞读取时避免空转
		if n == 0 && c.block <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleWait):
			}
		}
	}
}

// PollOnce 读取一批消息并处理，返回处理条数
func (c *StreamConsumer) PollOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.group, c.consumer, c.batchSize, c.block)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.stream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Warn("Dropping weight message",
				zap.String("stream", c.stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.AckStream(ctx, c.redisClient, c.stream, c.group, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("stream", c.stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return len(messages), nil
}

func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	data, ok := msg.Data()
	if !ok {
		return errors.New("message has no data field")
	}

	var p sensorPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("failed to unmarshal weight message: %w", err)
	}
	if p.PatientID == "" {
		return fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	weight, err := parseWeight(p.Weight)
	if err != nil {
		return err
	}

	wm := WeightMessage{PatientID: p.PatientID, Weight: weight, Timestamp: p.Timestamp}
	res, err := c.ingester.IngestWeight(ctx, wm.PatientID, wm.Weight, wm.ObservedAt(c.now()))
	if err != nil {
		return err
	}

	c.logger.Debug("Weight message ingested",
		zap.String("message_id", msg.ID),
		zap.String("patient_id", res.PatientID),
		zap.String("status", string(res.Status)),
	)
	return nil
}
