package consumer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"caretrax-drip/internal/models"
)

// Ingester 称重读数处理（由 service.IngestService 实现）
// 定义在此处避免 consumer 与 service 循环依赖
type Ingester interface {
	IngestWeight(ctx context.Context, patientID string, weight float64, observedAt time.Time) (*models.IngestResult, error)
}

// WeightMessage Stream 中的称重读数
type WeightMessage struct {
	PatientID string  `json:"patient_id"`
	Weight    float64 `json:"weight"`
	Timestamp int64   `json:"timestamp,omitempty"` // Unix 毫秒，0 表示接收时间
}

// ObservedAt 读数时间
func (m WeightMessage) ObservedAt(received time.Time) time.Time {
	if m.Timestamp <= 0 {
		return received
	}
	return time.UnixMilli(m.Timestamp)
}

// sensorPayload 传感器上报格式，weight 允许为数字或字符串
type sensorPayload struct {
	PatientID string      `json:"patient_id,omitempty"`
	Weight    interface{} `json:"weight"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func parseWeight(v interface{}) (float64, error) {
	switch w := v.(type) {
	case float64:
		return finiteWeight(w)
	case string:
		f, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return 0, fmt.Errorf("weight %q: %w", w, models.ErrInvalidArgument)
		}
		return finiteWeight(f)
	case nil:
		return 0, fmt.Errorf("weight is required: %w", models.ErrInvalidArgument)
	default:
		return 0, fmt.Errorf("weight has type %T: %w", v, models.ErrInvalidArgument)
	}
}

func finiteWeight(w float64) (float64, error) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, fmt.Errorf("weight %v: %w", w, models.ErrInvalidArgument)
	}
	return w, nil
}
