package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caretrax-drip/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSensorClient_PostWeight(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/weight", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":2000,"type":"success","message":"ok","result":{"patient_id":"P1","remaining_percentage":75,"status":"critical"}}`))
	}))
	defer srv.Close()

	c := NewSensorClient(srv.URL, time.Second, zap.NewNop())
	res, err := c.PostWeight(context.Background(), "P1", 1.5)

	require.NoError(t, err)
	assert.Equal(t, "P1", got["patient_id"])
	assert.Equal(t, 1.5, got["weight"])
	assert.Equal(t, 75.0, res.Percentage)
	assert.Equal(t, models.StatusCritical, res.Status)
}

func TestSensorClient_PostWeightRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":-1,"type":"error","message":"patient ghost: not found","result":null}`))
	}))
	defer srv.Close()

	c := NewSensorClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.PostWeight(context.Background(), "ghost", 0.1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestSensorClient_LatestWeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "P1", r.URL.Query().Get("patient_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"patient_id":"P1","weight":0.7,"timestamp":"2026-01-02T03:04:05Z"}`))
	}))
	defer srv.Close()

	c := NewSensorClient(srv.URL, time.Second, zap.NewNop())
	r, err := c.LatestWeight(context.Background(), "P1")

	require.NoError(t, err)
	assert.Equal(t, 0.7, r.Weight)
	assert.Equal(t, 2026, r.ObservedAt.Year())
}
