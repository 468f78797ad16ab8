package evaluator

import (
	"context"
	"time"

	"caretrax-drip/internal/models"

	"go.uber.org/zap"
)

// PatientStore 评估器需要的持久化操作
type PatientStore interface {
	GetPatient(ctx context.Context, patientID string) (*models.Patient, error)
	UpdatePatientStatus(ctx context.Context, patientID string, percentage float64, status models.PatientStatus, checkedAt time.Time) error
}

// Assessment 一次评估的结果
type Assessment struct {
	PatientID  string
	Percentage float64
	Status     models.PatientStatus
	CheckedAt  time.Time
}

// Evaluator 输液状态评估器
type Evaluator struct {
	store  PatientStore
	logger *zap.Logger
	now    func() time.Time
}

// NewEvaluator 创建评估器
func NewEvaluator(store PatientStore, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Assess 计算剩余百分比与状态，不写库
// 患者不存在返回 models.ErrNotFound，容量非法返回 models.ErrInvalidState
func (e *Evaluator) Assess(ctx context.Context, patientID string, weight float64) (Assessment, error) {
	patient, err := e.store.GetPatient(ctx, patientID)
	if err != nil {
		return Assessment{}, err
	}

	pct, err := RemainingPercentage(weight, patient.ReservoirCapacity)
	if err != nil {
		return Assessment{}, err
	}

	return Assessment{
		PatientID:  patientID,
		Percentage: pct,
		Status:     Classify(pct),
		CheckedAt:  e.now(),
	}, nil
}

// Record 写回患者状态；失败只记录日志
func (e *Evaluator) Record(ctx context.Context, a Assessment) {
	if err := e.store.UpdatePatientStatus(ctx, a.PatientID, a.Percentage, a.Status, a.CheckedAt); err != nil {
		e.logger.Error("Failed to update patient status",
			zap.String("patient_id", a.PatientID),
			zap.Float64("remaining_percentage", a.Percentage),
			zap.String("status", string(a.Status)),
			zap.Error(err),
		)
	}
}

// Evaluate 评估并写回患者状态
func (e *Evaluator) Evaluate(ctx context.Context, patientID string, weight float64) (Assessment, error) {
	a, err := e.Assess(ctx, patientID, weight)
	if err != nil {
		return Assessment{}, err
	}
	e.Record(ctx, a)
	return a, nil
}
