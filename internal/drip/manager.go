package drip

import (
	"context"
	"fmt"
	"time"

	"caretrax-drip/internal/models"
	"caretrax-drip/internal/repository"

	"go.uber.org/zap"
)

// Publisher 状态变化推送（由 broadcast.Hub 实现）
type Publisher interface {
	Publish(event models.StatusChangeEvent)
}

// Manager 输液生命周期管理：开始、停止、换液、人工改状态
// 同一患者的操作串行执行；每个操作在一个事务内完成
type Manager struct {
	gateway   repository.Gateway
	publisher Publisher
	locks     *keyedMutex
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager 创建输液生命周期管理器
func NewManager(gateway repository.Gateway, publisher Publisher, logger *zap.Logger) *Manager {
	return &Manager{
		gateway:   gateway,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Manager) orNow(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t
}

// Start 开始输液，返回新记录 ID
// 患者已有 active 输液时返回 models.ErrInvalidState
func (m *Manager) Start(ctx context.Context, req models.StartDripRequest) (int64, error) {
	if req.PatientID == "" {
		return 0, fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	if req.FlowRate < 0 {
		return 0, fmt.Errorf("flow rate %.2f: %w", req.FlowRate, models.ErrInvalidArgument)
	}
	startTime := m.orNow(req.StartTime)

	unlock := m.locks.Lock(req.PatientID)
	defer unlock()

	var id int64
	err := m.gateway.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.LockPatient(ctx, req.PatientID); err != nil {
			return err
		}
		active, err := tx.GetActiveDrip(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("patient %s already has active drip %d: %w", req.PatientID, active.ID, models.ErrInvalidState)
		}
		id, err = tx.InsertDripRecord(ctx, models.DripRecord{
			PatientID: req.PatientID,
			Substance: req.Substance,
			FlowRate:  req.FlowRate,
			StartTime: startTime,
			Status:    models.DripActive,
		})
		return err
	})
	if err != nil {
		return 0, models.WrapStorage("start drip", err)
	}

	m.logger.Info("Drip started",
		zap.String("patient_id", req.PatientID),
		zap.Int64("drip_id", id),
		zap.String("substance", req.Substance),
		zap.Float64("flow_rate", req.FlowRate),
	)
	return id, nil
}

// Stop 结束输液（active -> completed）
// 记录不存在返回 models.ErrNotFound；不是 active 返回 models.ErrInvalidState，记录不变
func (m *Manager) Stop(ctx context.Context, patientID string, dripID int64, endTime time.Time) error {
	endTime = m.orNow(endTime)

	unlock := m.locks.Lock(patientID)
	defer unlock()

	err := m.gateway.WithTx(ctx, func(tx repository.Store) error {
		return m.endActive(ctx, tx, patientID, dripID, models.DripCompleted, endTime)
	})
	if err != nil {
		return models.WrapStorage("stop drip", err)
	}

	m.logger.Info("Drip stopped",
		zap.String("patient_id", patientID),
		zap.Int64("drip_id", dripID),
	)
	return nil
}

// endActive 将 active 记录改为 to
func (m *Manager) endActive(ctx context.Context, tx repository.Store, patientID string, dripID int64, to models.DripStatus, endTime time.Time) error {
	rec, err := tx.GetDripRecord(ctx, patientID, dripID)
	if err != nil {
		return err
	}
	if rec.Status != models.DripActive {
		return fmt.Errorf("drip %d is %s: %w", dripID, rec.Status, models.ErrInvalidState)
	}
	ok, err := tx.UpdateDripStatus(ctx, patientID, dripID, models.DripActive, to, endTime)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("drip %d is no longer active: %w", dripID, models.ErrInvalidState)
	}
	return nil
}

// Replace 换液，返回新记录 ID
// 在一个事务内：旧记录 -> replaced，新建 active 记录，写换液审计，患者重置为 100% / normal
// （NewCapacity > 0 时同时更新储液容量）；任何一步失败全部回滚
func (m *Manager) Replace(ctx context.Context, req models.ReplaceDripRequest) (int64, error) {
	if req.PatientID == "" {
		return 0, fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	if req.FlowRate < 0 || req.NewCapacity < 0 {
		return 0, fmt.Errorf("flow rate %.2f, capacity %.1f: %w", req.FlowRate, req.NewCapacity, models.ErrInvalidArgument)
	}
	at := m.orNow(req.ReplacementTime)

	unlock := m.locks.Lock(req.PatientID)
	defer unlock()

	var newID int64
	err := m.gateway.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.LockPatient(ctx, req.PatientID); err != nil {
			return err
		}
		if err := m.endActive(ctx, tx, req.PatientID, req.OldDripID, models.DripReplaced, at); err != nil {
			return err
		}

		var err error
		newID, err = tx.InsertDripRecord(ctx, models.DripRecord{
			PatientID: req.PatientID,
			Substance: req.Substance,
			FlowRate:  req.FlowRate,
			StartTime: at,
			Status:    models.DripActive,
		})
		if err != nil {
			return err
		}

		if err := tx.InsertReplacementLog(ctx, models.DripReplacementLog{
			PatientID:       req.PatientID,
			OldDripID:       req.OldDripID,
			NewDripID:       newID,
			ReplacementTime: at,
			Reason:          req.Reason,
			StaffID:         req.StaffID,
		}); err != nil {
			return err
		}

		if req.NewCapacity > 0 {
			if err := tx.UpdatePatientCapacity(ctx, req.PatientID, req.NewCapacity); err != nil {
				return err
			}
		}

		return tx.UpdatePatientStatus(ctx, req.PatientID, 100, models.StatusNormal, at)
	})
	if err != nil {
		return 0, models.WrapStorage("replace drip", err)
	}

	m.logger.Info("Drip replaced",
		zap.String("patient_id", req.PatientID),
		zap.Int64("old_drip_id", req.OldDripID),
		zap.Int64("new_drip_id", newID),
		zap.String("staff_id", req.StaffID),
	)

	m.publisher.Publish(models.StatusChangeEvent{PatientID: req.PatientID, Status: models.StatusNormal})
	return newID, nil
}

// LockPatient 获取患者级互斥锁，返回解锁函数
func (m *Manager) LockPatient(patientID string) func() {
	return m.locks.Lock(patientID)
}

// GetActiveStatus 返回患者当前 active 的输液记录，没有时返回 nil
func (m *Manager) GetActiveStatus(ctx context.Context, patientID string) (*models.DripRecord, error) {
	rec, err := m.gateway.GetActiveDrip(ctx, patientID)
	if err != nil {
		return nil, models.WrapStorage("get active drip", err)
	}
	return rec, nil
}

// OverrideStatus 人工修改患者状态（剩余百分比不变）并写入干预记录，成功后推送
func (m *Manager) OverrideStatus(ctx context.Context, patientID string, status models.PatientStatus, staffID, reason string) error {
	if patientID == "" {
		return fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, models.ErrInvalidArgument)
	}
	if reason == "" {
		reason = fmt.Sprintf("Status changed to %s", status)
	}

	unlock := m.locks.Lock(patientID)
	defer unlock()

	err := m.gateway.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.SetPatientStatus(ctx, patientID, status); err != nil {
			return err
		}
		return tx.InsertStatusOverride(ctx, models.StatusOverride{
			PatientID:    patientID,
			StaffID:      staffID,
			OverrideType: models.OverrideTypeStatus,
			Reason:       reason,
			Timestamp:    m.now(),
		})
	})
	if err != nil {
		return models.WrapStorage("override status", err)
	}

	m.logger.Info("Patient status overridden",
		zap.String("patient_id", patientID),
		zap.String("status", string(status)),
		zap.String("staff_id", staffID),
	)

	m.publisher.Publish(models.StatusChangeEvent{PatientID: patientID, Status: status})
	return nil
}
