package evaluator

import (
	"fmt"
	"math"

	"caretrax-drip/internal/models"
)

const (
	// CriticalThreshold 剩余百分比 <= 该值为 critical
	CriticalThreshold = 100.0
	// WarningThreshold 剩余百分比 <= 该值为 warning
	// 判断顺序在 critical 之后，因此该分支永远不会命中；保持现有告警行为不变
	WarningThreshold = 50.0

	// MaxPercentage 百分比上限（传感器读数异常时截断）
	MaxPercentage = 500.0
)

// RemainingPercentage 根据称重读数（kg）与储液容量（ml）计算剩余百分比，截断到 [0, MaxPercentage]
func RemainingPercentage(weight, capacity float64) (float64, error) {
	if math.IsNaN(capacity) || math.IsInf(capacity, 0) || capacity <= 0 {
		return 0, fmt.Errorf("reservoir capacity %.1f: %w", capacity, models.ErrInvalidState)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return 0, fmt.Errorf("weight %.3f: %w", weight, models.ErrInvalidArgument)
	}

	converted := capacity / 1000 // ml -> kg
	pct := weight / converted * 100

	if pct < 0 {
		pct = 0
	}
	if pct > MaxPercentage {
		pct = MaxPercentage
	}
	return pct, nil
}

// Classify 按阈值顺序判断状态
func Classify(percentage float64) models.PatientStatus {
	if percentage <= CriticalThreshold {
		return models.StatusCritical
	}
	if percentage <= WarningThreshold {
		return models.StatusWarning
	}
	return models.StatusNormal
}
