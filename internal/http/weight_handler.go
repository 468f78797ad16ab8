package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"caretrax-drip/internal/models"

	"go.uber.org/zap"
)

// WeightIngester 称重读数入口
type WeightIngester interface {
	IngestWeight(ctx context.Context, patientID string, weight float64, observedAt time.Time) (*models.IngestResult, error)
}

// LatestWeightReader 最新读数
type LatestWeightReader interface {
	Get(ctx context.Context, patientID string) (*models.WeightReading, error)
}

// WeightHandler 传感器上报与最新读数查询
type WeightHandler struct {
	ingester         WeightIngester
	latest           LatestWeightReader
	defaultPatientID string
	maxBodyBytes     int64
	logger           *zap.Logger
}

func NewWeightHandler(ingester WeightIngester, latest LatestWeightReader, defaultPatientID string, maxBodyBytes int64, logger *zap.Logger) *WeightHandler {
	return &WeightHandler{
		ingester:         ingester,
		latest:           latest,
		defaultPatientID: defaultPatientID,
		maxBodyBytes:     maxBodyBytes,
		logger:           logger,
	}
}

type weightRequest struct {
	PatientID string   `json:"patient_id"`
	Weight    *float64 `json:"weight"`
}

func (h *WeightHandler) decode(w http.ResponseWriter, r *http.Request, fallbackPatient string) (string, float64, error) {
	var req weightRequest
	if err := readBodyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		return "", 0, err
	}
	if req.Weight == nil {
		return "", 0, fmt.Errorf("weight is required: %w", models.ErrInvalidArgument)
	}
	patientID := req.PatientID
	if patientID == "" {
		patientID = fallbackPatient
	}
	if patientID == "" {
		return "", 0, fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	return patientID, *req.Weight, nil
}

// Legacy POST /
// 床旁秤只上报 {"weight": n}，归属默认患者
func (h *WeightHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	patientID, weight, err := h.decode(w, r, h.defaultPatientID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if _, err := h.ingester.IngestWeight(r.Context(), patientID, weight, time.Time{}); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Ingest POST /api/weight
func (h *WeightHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	patientID, weight, err := h.decode(w, r, "")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	result, err := h.ingester.IngestWeight(r.Context(), patientID, weight, time.Time{})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// Latest GET /weight?patient_id=
// 不带 patient_id 时查默认患者
func (h *WeightHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var q patientQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if q.PatientID == "" {
		q.PatientID = h.defaultPatientID
	}
	reading, err := h.latest.Get(r.Context(), q.PatientID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}
