package models

import (
	"time"
)

// DripStatus 输液记录状态
type DripStatus string

const (
	DripActive    DripStatus = "active"
	DripCompleted DripStatus = "completed"
	DripReplaced  DripStatus = "replaced"
)

// DripRecord 输液记录（对应 drip_management 表）
// 每个患者同时最多一条 active 记录
type DripRecord struct {
	ID        int64      `json:"id" db:"id"`
	PatientID string     `json:"patient_id" db:"patient_id"`
	Substance string     `json:"substance" db:"substance"`
	FlowRate  float64    `json:"flow_rate" db:"flow_rate"`
	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`
	Status    DripStatus `json:"status" db:"status"`
}

// DripReplacementLog 换液审计记录（对应 drip_replacement_log 表），只追加
type DripReplacementLog struct {
	PatientID       string    `json:"patient_id" db:"patient_id"`
	OldDripID       int64     `json:"old_drip_id" db:"old_drip_id"`
	NewDripID       int64     `json:"new_drip_id" db:"new_drip_id"`
	ReplacementTime time.Time `json:"replacement_time" db:"replacement_time"`
	Reason          string    `json:"reason" db:"reason"`
	StaffID         string    `json:"staff_id" db:"staff_id"`
}

// StartDripRequest 开始输液
type StartDripRequest struct {
	PatientID string
	StartTime time.Time
	FlowRate  float64
	Substance string
}

// ReplaceDripRequest 换液
// NewCapacity > 0 时同时更新患者的储液容量（ml）
type ReplaceDripRequest struct {
	PatientID       string
	OldDripID       int64
	ReplacementTime time.Time
	FlowRate        float64
	Substance       string
	Reason          string
	StaffID         string
	NewCapacity     float64
}
