package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"caretrax-drip/internal/models"

	"github.com/gorilla/schema"
	"go.uber.org/zap"
)

// errBodyTooLarge 请求体超过上限
var errBodyTooLarge = errors.New("request body too large")

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// patientQuery ?patient_id=
type patientQuery struct {
	PatientID string `schema:"patient_id"`
}

// alertsQuery ?patient_id=&unread=&limit=
type alertsQuery struct {
	PatientID  string `schema:"patient_id"`
	UnreadOnly bool   `schema:"unread"`
	Limit      int    `schema:"limit"`
}

func decodeQuery(r *http.Request, out any) error {
	if err := queryDecoder.Decode(out, r.URL.Query()); err != nil {
		return fmt.Errorf("invalid query: %v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}

func requirePatientID(r *http.Request) (string, error) {
	var q patientQuery
	if err := decodeQuery(r, &q); err != nil {
		return "", err
	}
	if q.PatientID == "" {
		return "", fmt.Errorf("patient_id is required: %w", models.ErrInvalidArgument)
	}
	return q.PatientID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("limit %d bytes: %w", tooLarge.Limit, errBodyTooLarge)
		}
		return fmt.Errorf("read body: %v: %w", err, models.ErrInvalidArgument)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid json: %v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}

// statusFor 错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, Fail("internal error"))
		return
	}
	writeJSON(w, status, Fail(err.Error()))
}

func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}
