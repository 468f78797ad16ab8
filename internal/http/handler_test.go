package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caretrax-drip/internal/drip"
	"caretrax-drip/internal/models"
	"caretrax-drip/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngester struct {
	calls []string
	err   error
}

func (f *fakeIngester) IngestWeight(_ context.Context, patientID string, weight float64, _ time.Time) (*models.IngestResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s:%.2f", patientID, weight))
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResult{PatientID: patientID, Percentage: 50, Status: models.StatusCritical}, nil
}

type fakeLatest struct {
	readings map[string]models.WeightReading
}

func (f *fakeLatest) Get(_ context.Context, patientID string) (*models.WeightReading, error) {
	r, ok := f.readings[patientID]
	if !ok {
		return nil, fmt.Errorf("weight for %s: %w", patientID, models.ErrNotFound)
	}
	return &r, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.StatusChangeEvent) {}

type testEnv struct {
	handler  http.Handler
	ingester *fakeIngester
	store    *repository.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := repository.NewMemoryStore()
	store.PutPatient(models.Patient{ID: "P1", Name: "Taha", Room: "301", ReservoirCapacity: 2000, RemainingPercentage: 100, Status: models.StatusNormal})

	ingester := &fakeIngester{}
	latest := &fakeLatest{readings: map[string]models.WeightReading{
		"P-123456": {PatientID: "P-123456", Weight: 0.7, ObservedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}}
	manager := drip.NewManager(store, nopPublisher{}, logger)

	router := NewRouter(logger)
	router.RegisterWeightRoutes(NewWeightHandler(ingester, latest, "P-123456", 1<<20, logger))
	router.RegisterDripRoutes(NewDripHandler(manager, 1<<20, logger))
	router.RegisterPatientRoutes(NewPatientHandler(store, store, logger))

	return &testEnv{handler: router.Handler(), ingester: ingester, store: store}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

// ============================================
// weight
// ============================================

func TestLegacyPost_UsesDefaultPatient(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/", `{"weight": 0.5}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	assert.Equal(t, []string{"P-123456:0.50"}, env.ingester.calls)
}

func TestLegacyPost_MissingWeight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.ingester.calls)
}

func TestUnknownPath_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/nope", `{"weight": 1}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_RequiresPatientID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/weight", `{"weight": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/weight", `{"patient_id":"P1","weight": 1.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Contains(t, string(res.Result), `"status":"critical"`)
}

func TestIngest_UnknownPatientMapsTo404(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.err = fmt.Errorf("patient X: %w", models.ErrNotFound)

	rec := env.do(http.MethodPost, "/api/weight", `{"patient_id":"X","weight": 1}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ResultError, decodeResult(t, rec).Code)
}

func TestIngest_StorageErrorHidesDetail(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.err = models.WrapStorage("insert weight reading", errors.New("connection refused"))

	rec := env.do(http.MethodPost, "/api/weight", `{"patient_id":"P1","weight": 1}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestIngest_OversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t)
	body := `{"patient_id":"P1","weight": 1` + strings.Repeat(" ", 1<<20) + `}`

	rec := env.do(http.MethodPost, "/api/weight", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, ResultError, decodeResult(t, rec).Code)
	assert.Empty(t, env.ingester.calls)

	rec = env.do(http.MethodPost, "/api/drip/start?patient_id=P1", `{"substance":"`+strings.Repeat("x", 1<<20)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestLatestWeight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/weight", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"weight":0.7`)
	assert.Contains(t, rec.Body.String(), `"timestamp":"2026-01-02T03:04:05Z"`)

	rec = env.do(http.MethodGet, "/weight?patient_id=P1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/weight", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ============================================
// drip
// ============================================

func TestDripRoutes_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/drip/start?patient_id=P1", `{"startTime":"2026-01-01T08:00:00Z","flowRate":2.5,"substance":"insulin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"drip_id":1`)

	// 已有 active 输液
	rec = env.do(http.MethodPost, "/api/drip/start?patient_id=P1", `{"flowRate":2.5,"substance":"insulin"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/api/drip/status?patient_id=P1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = env.do(http.MethodPost, "/api/drip/replace?patient_id=P1", `{"old_drip_id":1,"flowRate":3,"substance":"insulin","reason":"empty","staff_id":"N1","reservoirCapacity":1500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"new_drip_id":2`)

	p, err := env.store.GetPatient(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, p.ReservoirCapacity)
	assert.Len(t, env.store.ReplacementLogs("P1"), 1)

	rec = env.do(http.MethodPost, "/api/drip/stop?patient_id=P1", `{"drip_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// 重复 stop 被拒绝
	rec = env.do(http.MethodPost, "/api/drip/stop?patient_id=P1", `{"drip_id":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/api/drip/status?patient_id=P1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(decodeResult(t, rec).Result))
}

func TestDripRoutes_BadInput(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/drip/start", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/drip/start?patient_id=P1", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/drip/stop?patient_id=P1", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/drip/stop?patient_id=P1", `{"drip_id":42}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/drip/start?patient_id=ghost", `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/drip/start?patient_id=P1", "").Code)
}

func TestOverrideStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/patient/status", `{"patient_id":"P1","status":"critical","staff_id":"N1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := env.store.GetPatient(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCritical, p.Status)
	assert.Len(t, env.store.Overrides("P1"), 1)

	rec = env.do(http.MethodPost, "/api/patient/status", `{"patient_id":"P1","status":"sleepy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// patients / alerts
// ============================================

func TestPatientRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/patients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"P1"`)

	rec = env.do(http.MethodGet, "/api/patient/P1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Taha"`)

	rec = env.do(http.MethodGet, "/api/patient/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.store.InsertAlert(ctx, models.Alert{PatientID: "P1", Type: models.AlertTypeLowDrip, Severity: models.AlertSeverityCritical, Timestamp: time.Now()})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/alerts?patient_id=P1&unread=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alert_type":"low_drip"`)

	rec = env.do(http.MethodPost, fmt.Sprintf("/api/alerts/%d/read", id), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/alerts?patient_id=P1&unread=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(decodeResult(t, rec).Result))

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/alerts/999/read", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/alerts/abc/read", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/alerts/1/unread", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/weight", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Less(t, rec.Code, 300)
}
