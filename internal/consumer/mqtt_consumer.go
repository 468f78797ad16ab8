package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "caretrax-drip/internal/common/mqtt"
	rediscommon "caretrax-drip/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subscriber MQTT 订阅（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅传感器称重主题
// 配置了 Redis 时写入 Stream 由 StreamConsumer 处理，否则直接交给 Ingester
type MQTTConsumer struct {
	subscriber  Subscriber
	topic       string
	qos         byte
	redisClient redis.Cmdable
	stream      string
	ingester    Ingester
	logger      *zap.Logger
	now         func() time.Time
}

// NewMQTTConsumer redisClient 为 nil 时直接处理读数
func NewMQTTConsumer(
	subscriber Subscriber,
	topic string,
	qos byte,
	redisClient redis.Cmdable,
	stream string,
	ingester Ingester,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber:  subscriber,
		topic:       topic,
		qos:         qos,
		redisClient: redisClient,
		stream:      stream,
		ingester:    ingester,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 订阅主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to weight topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// patientFromTopic 主题格式: caretrax/{patient_id}/weight
func patientFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] != "weight" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	patientID, err := patientFromTopic(topic)
	if err != nil {
		return err
	}

	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	weight, err := parseWeight(p.Weight)
	if err != nil {
		return err
	}

	msg := WeightMessage{
		PatientID: patientID,
		Weight:    weight,
		Timestamp: p.Timestamp,
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = c.now().UnixMilli()
	}

	ctx := context.Background()
	if c.redisClient != nil {
		if _, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.stream, msg); err != nil {
			return fmt.Errorf("failed to publish to stream %s: %w", c.stream, err)
		}
		return nil
	}

	_, err = c.ingester.IngestWeight(ctx, msg.PatientID, msg.Weight, msg.ObservedAt(c.now()))
	return err
}

var _ Subscriber = (*mqttcommon.Client)(nil)
