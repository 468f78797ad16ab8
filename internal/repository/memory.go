package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caretrax-drip/internal/models"
)

// MemoryStore 内存实现：DB 未启用时使用（联调、测试）
// WithTx 在快照上执行，fn 成功后整体替换，失败则丢弃快照
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

// PutPatient 新增或覆盖患者（仅内存实现提供）
func (m *MemoryStore) PutPatient(p models.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.patients[p.ID] = p
}

// ReplacementLogs 返回患者的换液审计记录
func (m *MemoryStore) ReplacementLogs(patientID string) []models.DripReplacementLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DripReplacementLog
	for _, l := range m.data.replacements {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	return out
}

// Alerts 返回患者的告警
func (m *MemoryStore) Alerts(patientID string) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Alert
	for _, a := range m.data.alerts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out
}

// Overrides 返回患者的人工干预记录
func (m *MemoryStore) Overrides(patientID string) []models.StatusOverride {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StatusOverride
	for _, o := range m.data.overrides {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(snapshot); err != nil {
		return err
	}
	m.data = snapshot
	return nil
}

func (m *MemoryStore) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetPatient(ctx, patientID)
}

func (m *MemoryStore) LockPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.LockPatient(ctx, patientID)
}

func (m *MemoryStore) ListPatients(ctx context.Context) ([]models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListPatients(ctx)
}

func (m *MemoryStore) ListAlerts(ctx context.Context, patientID string, unreadOnly bool, limit int) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListAlerts(ctx, patientID, unreadOnly, limit)
}

func (m *MemoryStore) UpdatePatientStatus(ctx context.Context, patientID string, percentage float64, status models.PatientStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdatePatientStatus(ctx, patientID, percentage, status, checkedAt)
}

func (m *MemoryStore) SetPatientStatus(ctx context.Context, patientID string, status models.PatientStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetPatientStatus(ctx, patientID, status)
}

func (m *MemoryStore) UpdatePatientCapacity(ctx context.Context, patientID string, capacity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdatePatientCapacity(ctx, patientID, capacity)
}

func (m *MemoryStore) InsertWeightReading(ctx context.Context, reading models.WeightReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertWeightReading(ctx, reading)
}

func (m *MemoryStore) GetLatestWeightReading(ctx context.Context, patientID string) (*models.WeightReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetLatestWeightReading(ctx, patientID)
}

func (m *MemoryStore) InsertAlert(ctx context.Context, alert models.Alert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertAlert(ctx, alert)
}

func (m *MemoryStore) MarkAlertRead(ctx context.Context, alertID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.MarkAlertRead(ctx, alertID)
}

func (m *MemoryStore) InsertDripRecord(ctx context.Context, record models.DripRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertDripRecord(ctx, record)
}

func (m *MemoryStore) GetDripRecord(ctx context.Context, patientID string, dripID int64) (*models.DripRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetDripRecord(ctx, patientID, dripID)
}

func (m *MemoryStore) UpdateDripStatus(ctx context.Context, patientID string, dripID int64, from, to models.DripStatus, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateDripStatus(ctx, patientID, dripID, from, to, endTime)
}

func (m *MemoryStore) GetActiveDrip(ctx context.Context, patientID string) (*models.DripRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetActiveDrip(ctx, patientID)
}

func (m *MemoryStore) InsertReplacementLog(ctx context.Context, entry models.DripReplacementLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertReplacementLog(ctx, entry)
}

func (m *MemoryStore) InsertStatusOverride(ctx context.Context, override models.StatusOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertStatusOverride(ctx, override)
}

// ---- memoryData: 不加锁，由 MemoryStore 保证互斥 ----

type memoryData struct {
	patients     map[string]models.Patient
	readings     map[string][]models.WeightReading // patientID -> readings
	alerts       []models.Alert
	drips        map[int64]models.DripRecord
	replacements []models.DripReplacementLog
	overrides    []models.StatusOverride

	nextAlertID int64
	nextDripID  int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		patients: map[string]models.Patient{},
		readings: map[string][]models.WeightReading{},
		drips:    map[int64]models.DripRecord{},
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.patients {
		c.patients[k] = v
	}
	for k, v := range d.readings {
		c.readings[k] = append([]models.WeightReading(nil), v...)
	}
	for k, v := range d.drips {
		c.drips[k] = v
	}
	c.alerts = append([]models.Alert(nil), d.alerts...)
	c.replacements = append([]models.DripReplacementLog(nil), d.replacements...)
	c.overrides = append([]models.StatusOverride(nil), d.overrides...)
	c.nextAlertID = d.nextAlertID
	c.nextDripID = d.nextDripID
	return c
}

func (d *memoryData) GetPatient(_ context.Context, patientID string) (*models.Patient, error) {
	p, ok := d.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
	}
	return &p, nil
}

func (d *memoryData) LockPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	return d.GetPatient(ctx, patientID)
}

func (d *memoryData) ListPatients(_ context.Context) ([]models.Patient, error) {
	out := make([]models.Patient, 0, len(d.patients))
	for _, p := range d.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) UpdatePatientStatus(_ context.Context, patientID string, percentage float64, status models.PatientStatus, checkedAt time.Time) error {
	p, ok := d.patients[patientID]
	if !ok {
		return fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
	}
	p.RemainingPercentage = percentage
	p.Status = status
	t := checkedAt
	p.LastChecked = &t
	d.patients[patientID] = p
	return nil
}

func (d *memoryData) SetPatientStatus(_ context.Context, patientID string, status models.PatientStatus) error {
	p, ok := d.patients[patientID]
	if !ok {
		return fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
	}
	p.Status = status
	d.patients[patientID] = p
	return nil
}

func (d *memoryData) UpdatePatientCapacity(_ context.Context, patientID string, capacity float64) error {
	p, ok := d.patients[patientID]
	if !ok {
		return fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
	}
	p.ReservoirCapacity = capacity
	d.patients[patientID] = p
	return nil
}

func (d *memoryData) InsertWeightReading(_ context.Context, reading models.WeightReading) error {
	d.readings[reading.PatientID] = append(d.readings[reading.PatientID], reading)
	return nil
}

func (d *memoryData) GetLatestWeightReading(_ context.Context, patientID string) (*models.WeightReading, error) {
	rs := d.readings[patientID]
	if len(rs) == 0 {
		return nil, fmt.Errorf("weight reading for %s: %w", patientID, models.ErrNotFound)
	}
	latest := rs[0]
	for _, r := range rs[1:] {
		if !r.ObservedAt.Before(latest.ObservedAt) {
			latest = r
		}
	}
	return &latest, nil
}

func (d *memoryData) InsertAlert(_ context.Context, alert models.Alert) (int64, error) {
	d.nextAlertID++
	alert.ID = d.nextAlertID
	d.alerts = append(d.alerts, alert)
	return alert.ID, nil
}

func (d *memoryData) MarkAlertRead(_ context.Context, alertID int64) error {
	for i := range d.alerts {
		if d.alerts[i].ID == alertID {
			d.alerts[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("alert %d: %w", alertID, models.ErrNotFound)
}

func (d *memoryData) ListAlerts(_ context.Context, patientID string, unreadOnly bool, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.Alert
	for i := len(d.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		a := d.alerts[i]
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if unreadOnly && a.Read {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (d *memoryData) InsertDripRecord(_ context.Context, record models.DripRecord) (int64, error) {
	d.nextDripID++
	record.ID = d.nextDripID
	d.drips[record.ID] = record
	return record.ID, nil
}

func (d *memoryData) GetDripRecord(_ context.Context, patientID string, dripID int64) (*models.DripRecord, error) {
	r, ok := d.drips[dripID]
	if !ok || r.PatientID != patientID {
		return nil, fmt.Errorf("drip %d: %w", dripID, models.ErrNotFound)
	}
	return &r, nil
}

func (d *memoryData) UpdateDripStatus(_ context.Context, patientID string, dripID int64, from, to models.DripStatus, endTime time.Time) (bool, error) {
	r, ok := d.drips[dripID]
	if !ok || r.PatientID != patientID || r.Status != from {
		return false, nil
	}
	r.Status = to
	t := endTime
	r.EndTime = &t
	d.drips[dripID] = r
	return true, nil
}

func (d *memoryData) GetActiveDrip(_ context.Context, patientID string) (*models.DripRecord, error) {
	var active *models.DripRecord
	for _, r := range d.drips {
		if r.PatientID != patientID || r.Status != models.DripActive {
			continue
		}
		if active == nil || r.StartTime.After(active.StartTime) {
			rec := r
			active = &rec
		}
	}
	return active, nil
}

func (d *memoryData) InsertReplacementLog(_ context.Context, entry models.DripReplacementLog) error {
	d.replacements = append(d.replacements, entry)
	return nil
}

func (d *memoryData) InsertStatusOverride(_ context.Context, override models.StatusOverride) error {
	d.overrides = append(d.overrides, override)
	return nil
}

var (
	_ Gateway = (*MemoryStore)(nil)
	_ Gateway = (*PostgresStore)(nil)
	_ Store   = (*memoryData)(nil)
)
