package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"caretrax-drip/internal/models"

	"go.uber.org/zap"
)

// PatientReader 患者与告警查询
type PatientReader interface {
	GetPatient(ctx context.Context, patientID string) (*models.Patient, error)
	ListPatients(ctx context.Context) ([]models.Patient, error)
	ListAlerts(ctx context.Context, patientID string, unreadOnly bool, limit int) ([]models.Alert, error)
}

// AlertAcknowledger 告警确认
type AlertAcknowledger interface {
	MarkAlertRead(ctx context.Context, alertID int64) error
}

type PatientHandler struct {
	reader PatientReader
	alerts AlertAcknowledger
	logger *zap.Logger
}

func NewPatientHandler(reader PatientReader, alerts AlertAcknowledger, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{reader: reader, alerts: alerts, logger: logger}
}

// ListPatients GET /api/patients
func (h *PatientHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	patients, err := h.reader.ListPatients(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	writeJSON(w, http.StatusOK, Ok(patients))
}

// GetPatient GET /api/patient/{id}
func (h *PatientHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/patient/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	p, err := h.reader.GetPatient(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

// ListAlerts GET /api/alerts?patient_id=&unread=true&limit=
func (h *PatientHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var q alertsQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	alerts, err := h.reader.ListAlerts(r.Context(), q.PatientID, q.UnreadOnly, q.Limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// MarkAlertRead POST /api/alerts/{id}/read
func (h *PatientHandler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	idPart, ok := strings.CutSuffix(rest, "/read")
	if !ok || idPart == "" || strings.Contains(idPart, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.logger, r, fmt.Errorf("alert id %q: %w", idPart, models.ErrInvalidArgument))
		return
	}
	if err := h.alerts.MarkAlertRead(r.Context(), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"id": id, "read": true}))
}
