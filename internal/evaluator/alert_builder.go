package evaluator

import (
	"fmt"
	"time"

	"caretrax-drip/internal/models"
)

// MaybeAlert 状态为 critical 时生成低液位告警，否则返回 nil
// 不去重：每次 critical 读数都会生成一条新告警
func MaybeAlert(patientID string, status models.PatientStatus, percentage float64, now time.Time) *models.Alert {
	if status != models.StatusCritical {
		return nil
	}
	return &models.Alert{
		PatientID: patientID,
		Type:      models.AlertTypeLowDrip,
		Message:   fmt.Sprintf("Insulin drip level critically low (%.1f%%)", percentage),
		Severity:  models.AlertSeverityCritical,
		Timestamp: now,
		Read:      false,
	}
}
