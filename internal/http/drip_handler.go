package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"caretrax-drip/internal/models"

	"go.uber.org/zap"
)

// DripLifecycle 输液生命周期操作
type DripLifecycle interface {
	Start(ctx context.Context, req models.StartDripRequest) (int64, error)
	Stop(ctx context.Context, patientID string, dripID int64, endTime time.Time) error
	Replace(ctx context.Context, req models.ReplaceDripRequest) (int64, error)
	GetActiveStatus(ctx context.Context, patientID string) (*models.DripRecord, error)
	OverrideStatus(ctx context.Context, patientID string, status models.PatientStatus, staffID, reason string) error
}

type DripHandler struct {
	drips        DripLifecycle
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewDripHandler(drips DripLifecycle, maxBodyBytes int64, logger *zap.Logger) *DripHandler {
	return &DripHandler{drips: drips, maxBodyBytes: maxBodyBytes, logger: logger}
}

type startDripRequest struct {
	StartTime time.Time `json:"startTime"`
	FlowRate  float64   `json:"flowRate"`
	Substance string    `json:"substance"`
}

type stopDripRequest struct {
	DripID  int64     `json:"drip_id"`
	EndTime time.Time `json:"endTime"`
}

type replaceDripRequest struct {
	OldDripID         int64     `json:"old_drip_id"`
	ReplacementTime   time.Time `json:"replacementTime"`
	FlowRate          float64   `json:"flowRate"`
	Substance         string    `json:"substance"`
	Reason            string    `json:"reason"`
	StaffID           string    `json:"staff_id"`
	ReservoirCapacity float64   `json:"reservoirCapacity"`
}

type overrideStatusRequest struct {
	PatientID string `json:"patient_id"`
	Status    string `json:"status"`
	StaffID   string `json:"staff_id"`
	Reason    string `json:"reason"`
}

// Start POST /api/drip/start?patient_id=
func (h *DripHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	patientID, err := requirePatientID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req startDripRequest
	if err := readBodyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	id, err := h.drips.Start(r.Context(), models.StartDripRequest{
		PatientID: patientID,
		StartTime: req.StartTime,
		FlowRate:  req.FlowRate,
		Substance: req.Substance,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"drip_id": id, "status": models.DripActive}))
}

// Stop POST /api/drip/stop?patient_id=
func (h *DripHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	patientID, err := requirePatientID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req stopDripRequest
	if err := readBodyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.DripID <= 0 {
		writeError(w, h.logger, r, fmt.Errorf("drip_id is required: %w", models.ErrInvalidArgument))
		return
	}

	if err := h.drips.Stop(r.Context(), patientID, req.DripID, req.EndTime); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"drip_id": req.DripID, "status": models.DripCompleted}))
}

// Replace POST /api/drip/replace?patient_id=
func (h *DripHandler) Replace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	patientID, err := requirePatientID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req replaceDripRequest
	if err := readBodyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.OldDripID <= 0 {
		writeError(w, h.logger, r, fmt.Errorf("old_drip_id is required: %w", models.ErrInvalidArgument))
		return
	}

	newID, err := h.drips.Replace(r.Context(), models.ReplaceDripRequest{
		PatientID:       patientID,
		OldDripID:       req.OldDripID,
		ReplacementTime: req.ReplacementTime,
		FlowRate:        req.FlowRate,
		Substance:       req.Substance,
		Reason:          req.Reason,
		StaffID:         req.StaffID,
		NewCapacity:     req.ReservoirCapacity,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"old_drip_id": req.OldDripID,
		"new_drip_id": newID,
		"status":      models.StatusNormal,
	}))
}

// Status GET /api/drip/status?patient_id=
// 没有 active 输液时 result 为 null
func (h *DripHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	patientID, err := requirePatientID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	record, err := h.drips.GetActiveStatus(r.Context(), patientID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(record))
}

// OverrideStatus POST /api/patient/status
func (h *DripHandler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req overrideStatusRequest
	if err := readBodyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.PatientID == "" {
		writeError(w, h.logger, r, fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument))
		return
	}

	status := models.PatientStatus(req.Status)
	if err := h.drips.OverrideStatus(r.Context(), req.PatientID, status, req.StaffID, req.Reason); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(models.StatusChangeEvent{PatientID: req.PatientID, Status: status}))
}
