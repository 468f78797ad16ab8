package drip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"caretrax-drip/internal/models"
	"caretrax-drip/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StatusChangeEvent
}

func (p *recordingPublisher) Publish(e models.StatusChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []models.StatusChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatusChangeEvent(nil), p.events...)
}

// faultyGateway 在事务内的指定步骤注入失败
type faultyGateway struct {
	*repository.MemoryStore
	failOn string
}

func (g *faultyGateway) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return g.MemoryStore.WithTx(ctx, func(tx repository.Store) error {
		return fn(&faultyTx{Store: tx, failOn: g.failOn})
	})
}

type faultyTx struct {
	repository.Store
	failOn string
}

var errInjected = errors.New("injected failure")

func (f *faultyTx) InsertDripRecord(ctx context.Context, r models.DripRecord) (int64, error) {
	if f.failOn == "insert_drip" {
		return 0, errInjected
	}
	return f.Store.InsertDripRecord(ctx, r)
}

func (f *faultyTx) InsertReplacementLog(ctx context.Context, l models.DripReplacementLog) error {
	if f.failOn == "insert_log" {
		return errInjected
	}
	return f.Store.InsertReplacementLog(ctx, l)
}

func (f *faultyTx) UpdatePatientStatus(ctx context.Context, id string, pct float64, s models.PatientStatus, at time.Time) error {
	if f.failOn == "reset_patient" {
		return errInjected
	}
	return f.Store.UpdatePatientStatus(ctx, id, pct, s, at)
}

func (f *faultyTx) UpdatePatientCapacity(ctx context.Context, id string, c float64) error {
	if f.failOn == "update_capacity" {
		return errInjected
	}
	return f.Store.UpdatePatientCapacity(ctx, id, c)
}

func (f *faultyTx) InsertStatusOverride(ctx context.Context, o models.StatusOverride) error {
	if f.failOn == "insert_override" {
		return errInjected
	}
	return f.Store.InsertStatusOverride(ctx, o)
}

func seedStore() *repository.MemoryStore {
	store := repository.NewMemoryStore()
	store.PutPatient(models.Patient{
		ID: "P1", Name: "Taha", Room: "301",
		ReservoirCapacity: 2000, RemainingPercentage: 75, Status: models.StatusCritical,
	})
	return store
}

func setupManager(t *testing.T, gw repository.Gateway) (*Manager, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewManager(gw, pub, zap.NewNop()), pub
}

func TestStart_CreatesActiveDrip(t *testing.T) {
	store := seedStore()
	m, _ := setupManager(t, store)
	ctx := context.Background()

	id, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", FlowRate: 5, Substance: "insulin"})
	require.NoError(t, err)

	active, err := m.GetActiveStatus(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)
	assert.Equal(t, models.DripActive, active.Status)
	assert.Equal(t, "insulin", active.Substance)
	assert.False(t, active.StartTime.IsZero())
}

func TestStart_RejectsSecondActiveDrip(t *testing.T) {
	store := seedStore()
	m, _ := setupManager(t, store)
	ctx := context.Background()

	_, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"})
	require.NoError(t, err)

	_, err = m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "saline"})
	assert.True(t, errors.Is(err, models.ErrInvalidState))
	assert.False(t, errors.Is(err, models.ErrStorage))
}

func TestStart_ConcurrentOnlyOneWins(t *testing.T) {
	store := seedStore()
	m, _ := setupManager(t, store)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, m.locks.size())
}

func TestStart_UnknownPatient(t *testing.T) {
	m, _ := setupManager(t, repository.NewMemoryStore())

	_, err := m.Start(context.Background(), models.StartDripRequest{PatientID: "ghost"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStop_IsIdempotentlyRejected(t *testing.T) {
	store := seedStore()
	m, _ := setupManager(t, store)
	ctx := context.Background()

	id, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"})
	require.NoError(t, err)

	end := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.Stop(ctx, "P1", id, end))

	rec, err := store.GetDripRecord(ctx, "P1", id)
	require.NoError(t, err)
	assert.Equal(t, models.DripCompleted, rec.Status)
	require.NotNil(t, rec.EndTime)
	assert.True(t, end.Equal(*rec.EndTime))

	// 第二次停止被拒绝，记录不变
	err = m.Stop(ctx, "P1", id, end.Add(time.Hour))
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	again, err := store.GetDripRecord(ctx, "P1", id)
	require.NoError(t, err)
	assert.Equal(t, rec, again)
}

func TestStop_NotFound(t *testing.T) {
	m, _ := setupManager(t, seedStore())

	err := m.Stop(context.Background(), "P1", 42, time.Now())
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestReplace_Success(t *testing.T) {
	store := seedStore()
	m, pub := setupManager(t, store)
	ctx := context.Background()

	oldID, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", FlowRate: 5, Substance: "insulin"})
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newID, err := m.Replace(ctx, models.ReplaceDripRequest{
		PatientID: "P1", OldDripID: oldID, ReplacementTime: at,
		FlowRate: 6, Substance: "insulin", Reason: "empty", StaffID: "S1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)

	old, err := store.GetDripRecord(ctx, "P1", oldID)
	require.NoError(t, err)
	assert.Equal(t, models.DripReplaced, old.Status)
	require.NotNil(t, old.EndTime)
	assert.True(t, at.Equal(*old.EndTime))

	active, err := m.GetActiveStatus(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, newID, active.ID)
	assert.Equal(t, 6.0, active.FlowRate)

	logs := store.ReplacementLogs("P1")
	require.Len(t, logs, 1)
	assert.Equal(t, oldID, logs[0].OldDripID)
	assert.Equal(t, newID, logs[0].NewDripID)
	assert.Equal(t, "S1", logs[0].StaffID)
	assert.Equal(t, "empty", logs[0].Reason)

	p, err := store.GetPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.RemainingPercentage)
	assert.Equal(t, models.StatusNormal, p.Status)
	assert.Equal(t, 2000.0, p.ReservoirCapacity)

	assert.Equal(t, []models.StatusChangeEvent{{PatientID: "P1", Status: models.StatusNormal}}, pub.Events())
}

func TestReplace_UpdatesCapacity(t *testing.T) {
	store := seedStore()
	m, _ := setupManager(t, store)
	ctx := context.Background()

	oldID, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"})
	require.NoError(t, err)

	_, err = m.Replace(ctx, models.ReplaceDripRequest{PatientID: "P1", OldDripID: oldID, Substance: "insulin", NewCapacity: 500})
	require.NoError(t, err)

	p, err := store.GetPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, p.ReservoirCapacity)
}

func TestReplace_AtomicUnderInjectedFailure(t *testing.T) {
	for _, step := range []string{"insert_drip", "insert_log", "update_capacity", "reset_patient"} {
		t.Run(step, func(t *testing.T) {
			store := seedStore()
			ctx := context.Background()

			// 先用正常网关建立 active 输液
			setup, _ := setupManager(t, store)
			oldID, err := setup.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"})
			require.NoError(t, err)

			m, pub := setupManager(t, &faultyGateway{MemoryStore: store, failOn: step})
			_, err = m.Replace(ctx, models.ReplaceDripRequest{
				PatientID: "P1", OldDripID: oldID, Substance: "insulin",
				Reason: "empty", StaffID: "S1", NewCapacity: 1000,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrStorage))
			assert.True(t, errors.Is(err, errInjected))

			old, err := store.GetDripRecord(ctx, "P1", oldID)
			require.NoError(t, err)
			assert.Equal(t, models.DripActive, old.Status)
			assert.Nil(t, old.EndTime)

			active, err := store.GetActiveDrip(ctx, "P1")
			require.NoError(t, err)
			assert.Equal(t, oldID, active.ID)

			assert.Empty(t, store.ReplacementLogs("P1"))

			p, err := store.GetPatient(ctx, "P1")
			require.NoError(t, err)
			assert.Equal(t, 75.0, p.RemainingPercentage)
			assert.Equal(t, models.StatusCritical, p.Status)
			assert.Equal(t, 2000.0, p.ReservoirCapacity)

			assert.Empty(t, pub.Events())
		})
	}
}

func TestReplace_OldDripNotActive(t *testing.T) {
	store := seedStore()
	m, pub := setupManager(t, store)
	ctx := context.Background()

	id, err := m.Start(ctx, models.StartDripRequest{PatientID: "P1", Substance: "insulin"})
	require.NoError(t, err)
	require.NoError(t, m.Stop(ctx, "P1", id, time.Now()))

	_, err = m.Replace(ctx, models.ReplaceDripRequest{PatientID: "P1", OldDripID: id, Substance: "insulin"})
	assert.True(t, errors.Is(err, models.ErrInvalidState))
	assert.Empty(t, store.ReplacementLogs("P1"))
	assert.Empty(t, pub.Events())

	_, err = m.Replace(ctx, models.ReplaceDripRequest{PatientID: "P1", OldDripID: 999, Substance: "insulin"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestOverrideStatus(t *testing.T) {
	store := seedStore()
	m, pub := setupManager(t, store)
	ctx := context.Background()

	require.NoError(t, m.OverrideStatus(ctx, "P1", models.StatusWarning, "S9", ""))

	p, err := store.GetPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, p.Status)
	assert.Equal(t, 75.0, p.RemainingPercentage)

	overrides := store.Overrides("P1")
	require.Len(t, overrides, 1)
	assert.Equal(t, models.OverrideTypeStatus, overrides[0].OverrideType)
	assert.Equal(t, "Status changed to warning", overrides[0].Reason)
	assert.Equal(t, "S9", overrides[0].StaffID)

	assert.Equal(t, []models.StatusChangeEvent{{PatientID: "P1", Status: models.StatusWarning}}, pub.Events())
}

func TestOverrideStatus_Rejections(t *testing.T) {
	store := seedStore()
	ctx := context.Background()

	m, pub := setupManager(t, store)
	err := m.OverrideStatus(ctx, "P1", models.PatientStatus("panic"), "S9", "")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	err = m.OverrideStatus(ctx, "ghost", models.StatusNormal, "S9", "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	faulty, _ := setupManager(t, &faultyGateway{MemoryStore: store, failOn: "insert_override"})
	err = faulty.OverrideStatus(ctx, "P1", models.StatusNormal, "S9", "")
	assert.True(t, errors.Is(err, models.ErrStorage))

	p, err := store.GetPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCritical, p.Status)
	assert.Empty(t, pub.Events())
}
