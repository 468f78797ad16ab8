package service

import (
	"context"
	"fmt"
	"time"

	"caretrax-drip/internal/evaluator"
	"caretrax-drip/internal/models"
	"caretrax-drip/internal/repository"

	"go.uber.org/zap"
)

// Publisher 状态变化推送
type Publisher interface {
	Publish(event models.StatusChangeEvent)
}

// PatientLocker 患者级互斥，与输液启停、更换、人工改状态共用
type PatientLocker interface {
	LockPatient(patientID string) (unlock func())
}

// IngestService 称重读数处理：评估 -> 写读数 -> 写患者状态 -> 告警 -> 推送
type IngestService struct {
	store     repository.Store
	evaluator *evaluator.Evaluator
	publisher Publisher
	latest    *LatestWeightCache
	locker    PatientLocker
	logger    *zap.Logger
	now       func() time.Time
}

func NewIngestService(
	store repository.Store,
	eval *evaluator.Evaluator,
	publisher Publisher,
	latest *LatestWeightCache,
	locker PatientLocker,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		evaluator: eval,
		publisher: publisher,
		latest:    latest,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// IngestWeight 处理一条称重读数
// 患者不存在时不写入任何数据；读数写入失败返回 StorageError；
// 患者状态、告警写入失败只记录日志
func (s *IngestService) IngestWeight(ctx context.Context, patientID string, weight float64, observedAt time.Time) (*models.IngestResult, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	// 评估到写回患者状态之间持锁，避免覆盖并发更换输液写入的 100%
	if s.locker != nil {
		unlock := s.locker.LockPatient(patientID)
		defer unlock()
	}

	assessment, err := s.evaluator.Assess(ctx, patientID, weight)
	if err != nil {
		return nil, err
	}

	reading := models.WeightReading{
		PatientID:  patientID,
		Weight:     weight,
		ObservedAt: observedAt,
	}
	if err := s.store.InsertWeightReading(ctx, reading); err != nil {
		return nil, models.WrapStorage("insert weight reading", err)
	}

	s.evaluator.Record(ctx, assessment)

	result := &models.IngestResult{
		PatientID:  patientID,
		Percentage: assessment.Percentage,
		Status:     assessment.Status,
	}

	if alert := evaluator.MaybeAlert(patientID, assessment.Status, assessment.Percentage, assessment.CheckedAt); alert != nil {
		id, err := s.store.InsertAlert(ctx, *alert)
		if err != nil {
			s.logger.Error("Failed to insert alert",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		} else {
			alert.ID = id
			result.Alert = alert
		}
	}

	s.publisher.Publish(models.StatusChangeEvent{PatientID: patientID, Status: assessment.Status})

	if s.latest != nil {
		s.latest.Put(ctx, reading)
	}

	s.logger.Debug("Weight reading ingested",
		zap.String("patient_id", patientID),
		zap.Float64("weight", weight),
		zap.Float64("remaining_percentage", assessment.Percentage),
		zap.String("status", string(assessment.Status)),
	)
	return result, nil
}

// MarkAlertRead 告警确认
func (s *IngestService) MarkAlertRead(ctx context.Context, alertID int64) error {
	if err := s.store.MarkAlertRead(ctx, alertID); err != nil {
		return models.WrapStorage("mark alert read", err)
	}
	return nil
}
