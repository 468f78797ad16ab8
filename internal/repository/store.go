package repository

import (
	"context"
	"time"

	"caretrax-drip/internal/models"
)

// Store 持久化网关
// 非领域错误统一以 *models.StorageError 返回
type Store interface {
	// GetPatient 不存在时返回 models.ErrNotFound
	GetPatient(ctx context.Context, patientID string) (*models.Patient, error)
	// LockPatient 与 GetPatient 相同，但在事务内锁定该行（SELECT ... FOR UPDATE）
	LockPatient(ctx context.Context, patientID string) (*models.Patient, error)
	// ListPatients 按姓名排序
	ListPatients(ctx context.Context) ([]models.Patient, error)
	UpdatePatientStatus(ctx context.Context, patientID string, percentage float64, status models.PatientStatus, checkedAt time.Time) error
	// SetPatientStatus 只修改状态，不动剩余百分比
	SetPatientStatus(ctx context.Context, patientID string, status models.PatientStatus) error
	UpdatePatientCapacity(ctx context.Context, patientID string, capacity float64) error

	InsertWeightReading(ctx context.Context, reading models.WeightReading) error
	// GetLatestWeightReading 没有读数时返回 models.ErrNotFound
	GetLatestWeightReading(ctx context.Context, patientID string) (*models.WeightReading, error)

	InsertAlert(ctx context.Context, alert models.Alert) (int64, error)
	MarkAlertRead(ctx context.Context, alertID int64) error
	// ListAlerts 按时间倒序；patientID 为空时返回全部患者
	ListAlerts(ctx context.Context, patientID string, unreadOnly bool, limit int) ([]models.Alert, error)

	InsertDripRecord(ctx context.Context, record models.DripRecord) (int64, error)
	GetDripRecord(ctx context.Context, patientID string, dripID int64) (*models.DripRecord, error)
	// UpdateDripStatus 仅当当前状态为 from 时改为 to 并写入 endTime，返回是否命中
	UpdateDripStatus(ctx context.Context, patientID string, dripID int64, from, to models.DripStatus, endTime time.Time) (bool, error)
	// GetActiveDrip 没有 active 记录时返回 nil, nil
	GetActiveDrip(ctx context.Context, patientID string) (*models.DripRecord, error)
	InsertReplacementLog(ctx context.Context, entry models.DripReplacementLog) error

	InsertStatusOverride(ctx context.Context, override models.StatusOverride) error
}

// Gateway 在 Store 基础上提供事务
type Gateway interface {
	Store
	// WithTx 在一个事务内执行 fn；fn 返回错误时全部回滚
	// fn 内只能使用传入的 Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
