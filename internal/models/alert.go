package models

import (
	"time"
)

const (
	AlertTypeLowDrip      = "low_drip"
	AlertSeverityCritical = "critical"
)

// Alert 告警（对应 alerts 表），只有 Read 可以修改
type Alert struct {
	ID        int64     `json:"id" db:"id"`
	PatientID string    `json:"patient_id" db:"patient_id"`
	Type      string    `json:"alert_type" db:"alert_type"`
	Message   string    `json:"message" db:"message"`
	Severity  string    `json:"severity" db:"severity"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Read      bool      `json:"read" db:"read"`
}
