package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"caretrax-drip/internal/models"
	"caretrax-drip/internal/store"

	"go.uber.org/zap"
)

// LatestWeightSource 缓存未命中时的数据源
type LatestWeightSource interface {
	GetLatestWeightReading(ctx context.Context, patientID string) (*models.WeightReading, error)
}

// LatestWeightCache 最新称重读数的读穿透缓存
// 键: {prefix}{patient_id}{suffix}，数据最多滞后 ttl
type LatestWeightCache struct {
	kv     store.KV
	source LatestWeightSource
	prefix string
	suffix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewLatestWeightCache(kv store.KV, source LatestWeightSource, prefix, suffix string, ttl time.Duration, logger *zap.Logger) *LatestWeightCache {
	return &LatestWeightCache{
		kv:     kv,
		source: source,
		prefix: prefix,
		suffix: suffix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *LatestWeightCache) key(patientID string) string {
	return c.prefix + patientID + c.suffix
}

// Get 先读缓存，未命中时查库并回填；没有读数返回 models.ErrNotFound
func (c *LatestWeightCache) Get(ctx context.Context, patientID string) (*models.WeightReading, error) {
	raw, err := c.kv.Get(ctx, c.key(patientID))
	switch {
	case err == nil:
		var r models.WeightReading
		jsonErr := json.Unmarshal([]byte(raw), &r)
		if jsonErr == nil {
			return &r, nil
		}
		c.logger.Warn("Discarding unreadable cached weight",
			zap.String("patient_id", patientID),
			zap.Error(jsonErr),
		)
	case !errors.Is(err, store.ErrMiss):
		c.logger.Warn("Latest weight cache read failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}

	reading, err := c.source.GetLatestWeightReading(ctx, patientID)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, *reading)
	return reading, nil
}

// Put 写入缓存，失败只记录日志
func (c *LatestWeightCache) Put(ctx context.Context, reading models.WeightReading) {
	data, err := json.Marshal(reading)
	if err != nil {
		c.logger.Error("Failed to marshal weight reading", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, c.key(reading.PatientID), string(data), c.ttl); err != nil {
		c.logger.Warn("Latest weight cache write failed",
			zap.String("patient_id", reading.PatientID),
			zap.Error(err),
		)
	}
}
