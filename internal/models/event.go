package models

// StatusChangeEvent 推送给订阅者的状态变化
type StatusChangeEvent struct {
	PatientID string        `json:"patient_id"`
	Status    PatientStatus `json:"status"`
}

// IngestResult 一次称重读数的处理结果
type IngestResult struct {
	PatientID  string        `json:"patient_id"`
	Percentage float64       `json:"remaining_percentage"`
	Status     PatientStatus `json:"status"`
	Alert      *Alert        `json:"alert,omitempty"`
}
