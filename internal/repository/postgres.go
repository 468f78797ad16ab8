package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caretrax-drip/internal/models"

	"go.uber.org/zap"
)

// querier *sql.DB 与 *sql.Tx 的公共部分
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore PostgreSQL 实现
type PostgresStore struct {
	db     *sql.DB
	q      querier
	logger *zap.Logger
}

// NewPostgresStore 创建 PostgreSQL 持久化网关
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, q: db, logger: logger}
}

// WithTx 开启事务执行 fn，成功后提交
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return errors.New("nested transaction is not supported")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapStorage("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{q: tx, logger: s.logger}); err != nil {
		s.logger.Debug("Transaction rolled back", zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		return models.WrapStorage("commit transaction", err)
	}
	return nil
}

const patientColumns = `id, name, room, current_drip_volume, remaining_percentage, status, last_checked`

func (s *PostgresStore) getPatient(ctx context.Context, patientID string, forUpdate bool) (*models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		p           models.Patient
		status      string
		lastChecked sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, query, patientID).Scan(
		&p.ID, &p.Name, &p.Room, &p.ReservoirCapacity, &p.RemainingPercentage, &status, &lastChecked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
		}
		return nil, models.WrapStorage("get patient", err)
	}
	p.Status = models.PatientStatus(status)
	if lastChecked.Valid {
		t := lastChecked.Time
		p.LastChecked = &t
	}
	return &p, nil
}

// GetPatient 查询患者
func (s *PostgresStore) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	return s.getPatient(ctx, patientID, false)
}

// LockPatient 查询并锁定患者行
func (s *PostgresStore) LockPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	return s.getPatient(ctx, patientID, true)
}

// ListPatients 查询全部患者
func (s *PostgresStore) ListPatients(ctx context.Context) ([]models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY name`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, models.WrapStorage("list patients", err)
	}
	defer rows.Close()

	var out []models.Patient
	for rows.Next() {
		var (
			p           models.Patient
			status      string
			lastChecked sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Room, &p.ReservoirCapacity, &p.RemainingPercentage, &status, &lastChecked); err != nil {
			return nil, models.WrapStorage("list patients", err)
		}
		p.Status = models.PatientStatus(status)
		if lastChecked.Valid {
			t := lastChecked.Time
			p.LastChecked = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapStorage("list patients", err)
	}
	return out, nil
}

// execOne 执行 UPDATE，未命中任何行时返回 ErrNotFound
func (s *PostgresStore) execOne(ctx context.Context, op, what string, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return models.WrapStorage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.WrapStorage(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}

// UpdatePatientStatus 写入评估结果
func (s *PostgresStore) UpdatePatientStatus(ctx context.Context, patientID string, percentage float64, status models.PatientStatus, checkedAt time.Time) error {
	query := `
		UPDATE patients
		SET remaining_percentage = $1, status = $2, last_checked = $3
		WHERE id = $4
	`
	return s.execOne(ctx, "update patient status", "patient "+patientID, query, percentage, string(status), checkedAt, patientID)
}

// SetPatientStatus 手动设置状态
func (s *PostgresStore) SetPatientStatus(ctx context.Context, patientID string, status models.PatientStatus) error {
	query := `UPDATE patients SET status = $1 WHERE id = $2`
	return s.execOne(ctx, "set patient status", "patient "+patientID, query, string(status), patientID)
}

// UpdatePatientCapacity 更新储液容量（ml）
func (s *PostgresStore) UpdatePatientCapacity(ctx context.Context, patientID string, capacity float64) error {
	query := `UPDATE patients SET current_drip_volume = $1 WHERE id = $2`
	return s.execOne(ctx, "update patient capacity", "patient "+patientID, query, capacity, patientID)
}

// InsertWeightReading 写入称重读数
func (s *PostgresStore) InsertWeightReading(ctx context.Context, reading models.WeightReading) error {
	query := `INSERT INTO weight_data (weight, timestamp, patient_id) VALUES ($1, $2, $3)`
	if _, err := s.q.ExecContext(ctx, query, reading.Weight, reading.ObservedAt, reading.PatientID); err != nil {
		return models.WrapStorage("insert weight reading", err)
	}
	return nil
}

// GetLatestWeightReading 查询最新读数
func (s *PostgresStore) GetLatestWeightReading(ctx context.Context, patientID string) (*models.WeightReading, error) {
	query := `
		SELECT patient_id, weight, timestamp
		FROM weight_data
		WHERE patient_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var r models.WeightReading
	err := s.q.QueryRowContext(ctx, query, patientID).Scan(&r.PatientID, &r.Weight, &r.ObservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("weight reading for %s: %w", patientID, models.ErrNotFound)
		}
		return nil, models.WrapStorage("get latest weight reading", err)
	}
	return &r, nil
}

// InsertAlert 写入告警，返回告警 ID
func (s *PostgresStore) InsertAlert(ctx context.Context, alert models.Alert) (int64, error) {
	query := `
		INSERT INTO alerts (patient_id, alert_type, message, timestamp, severity, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err := s.q.QueryRowContext(ctx, query,
		alert.PatientID, alert.Type, alert.Message, alert.Timestamp, alert.Severity, alert.Read,
	).Scan(&id)
	if err != nil {
		return 0, models.WrapStorage("insert alert", err)
	}
	return id, nil
}

// MarkAlertRead 标记告警已读
func (s *PostgresStore) MarkAlertRead(ctx context.Context, alertID int64) error {
	query := `UPDATE alerts SET read = TRUE WHERE id = $1`
	return s.execOne(ctx, "mark alert read", fmt.Sprintf("alert %d", alertID), query, alertID)
}

// ListAlerts 查询告警
func (s *PostgresStore) ListAlerts(ctx context.Context, patientID string, unreadOnly bool, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, patient_id, alert_type, message, timestamp, severity, read
		FROM alerts
		WHERE ($1 = '' OR patient_id = $1)
			AND (NOT $2 OR read = FALSE)
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := s.q.QueryContext(ctx, query, patientID, unreadOnly, limit)
	if err != nil {
		return nil, models.WrapStorage("list alerts", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Type, &a.Message, &a.Timestamp, &a.Severity, &a.Read); err != nil {
			return nil, models.WrapStorage("list alerts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapStorage("list alerts", err)
	}
	return out, nil
}

// InsertDripRecord 新建输液记录，返回记录 ID
func (s *PostgresStore) InsertDripRecord(ctx context.Context, record models.DripRecord) (int64, error) {
	query := `
		INSERT INTO drip_management (patient_id, start_time, end_time, flow_rate, substance, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var endTime sql.NullTime
	if record.EndTime != nil {
		endTime = sql.NullTime{Time: *record.EndTime, Valid: true}
	}
	var id int64
	err := s.q.QueryRowContext(ctx, query,
		record.PatientID, record.StartTime, endTime, record.FlowRate, record.Substance, string(record.Status),
	).Scan(&id)
	if err != nil {
		return 0, models.WrapStorage("insert drip record", err)
	}
	return id, nil
}

const dripColumns = `id, patient_id, substance, flow_rate, start_time, end_time, status`

func scanDrip(row *sql.Row) (*models.DripRecord, error) {
	var (
		d       models.DripRecord
		endTime sql.NullTime
		status  string
	)
	if err := row.Scan(&d.ID, &d.PatientID, &d.Substance, &d.FlowRate, &d.StartTime, &endTime, &status); err != nil {
		return nil, err
	}
	d.Status = models.DripStatus(status)
	if endTime.Valid {
		t := endTime.Time
		d.EndTime = &t
	}
	return &d, nil
}

// GetDripRecord 查询患者的某条输液记录
func (s *PostgresStore) GetDripRecord(ctx context.Context, patientID string, dripID int64) (*models.DripRecord, error) {
	query := `SELECT ` + dripColumns + ` FROM drip_management WHERE id = $1 AND patient_id = $2`
	d, err := scanDrip(s.q.QueryRowContext(ctx, query, dripID, patientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("drip %d: %w", dripID, models.ErrNotFound)
		}
		return nil, models.WrapStorage("get drip record", err)
	}
	return d, nil
}

// UpdateDripStatus 条件更新输液记录状态
func (s *PostgresStore) UpdateDripStatus(ctx context.Context, patientID string, dripID int64, from, to models.DripStatus, endTime time.Time) (bool, error) {
	query := `
		UPDATE drip_management
		SET status = $1, end_time = $2
		WHERE id = $3 AND patient_id = $4 AND status = $5
	`
	res, err := s.q.ExecContext(ctx, query, string(to), endTime, dripID, patientID, string(from))
	if err != nil {
		return false, models.WrapStorage("update drip record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, models.WrapStorage("update drip record", err)
	}
	return n == 1, nil
}

// GetActiveDrip 查询患者当前 active 的输液记录
func (s *PostgresStore) GetActiveDrip(ctx context.Context, patientID string) (*models.DripRecord, error) {
	query := `
		SELECT ` + dripColumns + `
		FROM drip_management
		WHERE patient_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`
	d, err := scanDrip(s.q.QueryRowContext(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, models.WrapStorage("get active drip", err)
	}
	return d, nil
}

// InsertReplacementLog 追加换液审计记录
func (s *PostgresStore) InsertReplacementLog(ctx context.Context, entry models.DripReplacementLog) error {
	query := `
		INSERT INTO drip_replacement_log (patient_id, old_drip_id, new_drip_id, replacement_time, reason, staff_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q.ExecContext(ctx, query,
		entry.PatientID, entry.OldDripID, entry.NewDripID, entry.ReplacementTime, entry.Reason, entry.StaffID,
	)
	if err != nil {
		return models.WrapStorage("insert replacement log", err)
	}
	return nil
}

// InsertStatusOverride 追加人工干预记录
func (s *PostgresStore) InsertStatusOverride(ctx context.Context, override models.StatusOverride) error {
	query := `
		INSERT INTO emergency_overrides (patient_id, staff_id, override_type, timestamp, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q.ExecContext(ctx, query,
		override.PatientID, override.StaffID, override.OverrideType, override.Timestamp, override.Reason,
	)
	if err != nil {
		return models.WrapStorage("insert status override", err)
	}
	return nil
}
