package models

import (
	"time"
)

// PatientStatus 患者输液状态
type PatientStatus string

const (
	StatusNormal   PatientStatus = "normal"
	StatusWarning  PatientStatus = "warning"
	StatusCritical PatientStatus = "critical"
)

// Valid 是否为合法状态值
func (s PatientStatus) Valid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Patient 患者（对应 patients 表）
type Patient struct {
	ID                  string        `json:"id" db:"id"`
	Name                string        `json:"name" db:"name"`
	Room                string        `json:"room" db:"room"`
	ReservoirCapacity   float64       `json:"reservoir_capacity" db:"reservoir_capacity"` // ml
	RemainingPercentage float64       `json:"remaining_percentage" db:"remaining_percentage"`
	Status              PatientStatus `json:"status" db:"status"`
	LastChecked         *time.Time    `json:"last_checked,omitempty" db:"last_checked"`
}

// WeightReading 称重读数（对应 weight_data 表），写入后不可变
type WeightReading struct {
	PatientID  string    `json:"patient_id" db:"patient_id"`
	Weight     float64   `json:"weight" db:"weight"`
	ObservedAt time.Time `json:"timestamp" db:"timestamp"`
}

// OverrideTypeStatus 手动修改患者状态
const OverrideTypeStatus = "status_override"

// StatusOverride 人工干预审计记录（对应 emergency_overrides 表）
type StatusOverride struct {
	PatientID    string    `json:"patient_id" db:"patient_id"`
	StaffID      string    `json:"staff_id" db:"staff_id"`
	OverrideType string    `json:"override_type" db:"override_type"`
	Reason       string    `json:"reason" db:"reason"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
