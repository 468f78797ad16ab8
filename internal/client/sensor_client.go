package client

import (
	"context"
	"fmt"
	"time"

	"caretrax-drip/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SensorClient 模拟床旁秤，向 HTTP 接口上报读数
type SensorClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

type ingestEnvelope struct {
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Result  models.IngestResult `json:"result"`
}

type failEnvelope struct {
	Message string `json:"message"`
}

func NewSensorClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SensorClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SensorClient{httpClient: client, logger: logger}
}

// PostWeight POST /api/weight
func (c *SensorClient) PostWeight(ctx context.Context, patientID string, weight float64) (*models.IngestResult, error) {
	var (
		ok   ingestEnvelope
		fail failEnvelope
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"patient_id": patientID, "weight": weight}).
		SetResult(&ok).
		SetError(&fail).
		Post("/api/weight")
	if err != nil {
		return nil, fmt.Errorf("post weight: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("post weight: status %d: %s", resp.StatusCode(), fail.Message)
	}

	c.logger.Debug("Weight posted",
		zap.String("patient_id", patientID),
		zap.Float64("weight", weight),
		zap.String("status", string(ok.Result.Status)),
	)
	return &ok.Result, nil
}

// LatestWeight GET /weight?patient_id=
func (c *SensorClient) LatestWeight(ctx context.Context, patientID string) (*models.WeightReading, error) {
	var (
		reading models.WeightReading
		fail    failEnvelope
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("patient_id", patientID).
		SetResult(&reading).
		SetError(&fail).
		Get("/weight")
	if err != nil {
		return nil, fmt.Errorf("get latest weight: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get latest weight: status %d: %s", resp.StatusCode(), fail.Message)
	}
	return &reading, nil
}
