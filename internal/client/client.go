// Package client is a Go client for the credit engine HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/ml"
	"credit-engine/internal/scoring"
	"credit-engine/internal/server"
	"credit-engine/internal/training"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("credit api: status %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("credit api: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers test a 409 reply with errors.Is(err, ml.ErrNotTrained).
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusConflict {
		return ml.ErrNotTrained
	}
	return nil
}

type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the API at base, e.g. "http://localhost:8000".
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(2)
	r.SetRetryWaitTime(100 * time.Millisecond)
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Explain scores one applicant and returns the decision with its key factors.
// An empty requestID lets the server assign one.
func (c *Client) Explain(ctx context.Context, values []float64, requestID string) (*server.ExplainResponse, error) {
	out := &server.ExplainResponse{}
	if err := c.post(ctx, "/explain", server.ScoreRequest{Features: values, RequestID: requestID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict returns the fused approval probability for one applicant.
func (c *Client) Predict(ctx context.Context, values []float64, requestID string) (*server.PredictResponse, error) {
	out := &server.PredictResponse{}
	if err := c.post(ctx, "/predict", server.ScoreRequest{Features: values, RequestID: requestID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports whether the server has a model installed. An untrained
// server is a valid answer, not an error.
func (c *Client) Health(ctx context.Context) (*server.HealthStatus, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusServiceUnavailable:
	default:
		return nil, apiError(resp)
	}

	var health server.HealthStatus
	if err := json.Unmarshal(resp.Body(), &health); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &health, nil
}

// ModelInfo describes the installed model.
func (c *Client) ModelInfo(ctx context.Context) (*scoring.Info, error) {
	out := &scoring.Info{}
	if err := c.get(ctx, "/model/info", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Importance returns the installed model's feature importance table.
func (c *Client) Importance(ctx context.Context) (training.ImportanceTable, error) {
	var out training.ImportanceTable
	if err := c.get(ctx, "/importance", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Drift compares recently scored applicants with the training population.
func (c *Client) Drift(ctx context.Context) (*drift.Report, error) {
	out := &drift.Report{}
	if err := c.get(ctx, "/drift", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&server.ErrorResponse{}).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&server.ErrorResponse{}).
		Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	if body, ok := resp.Error().(*server.ErrorResponse); ok && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.RequestID = body.RequestID
		return apiErr
	}

	var body server.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.RequestID = body.RequestID
	}
	return apiErr
}
