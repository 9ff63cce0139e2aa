package server

import (
	"time"

	"credit-engine/internal/explain"
)

// ScoreRequest carries one applicant's feature vector in schema order.
type ScoreRequest struct {
	Features  []float64 `json:"features"`
	RequestID string    `json:"request_id,omitempty"`
}

// ExplainResponse is an explanation result stamped with request metadata.
type ExplainResponse struct {
	explain.Result
	RequestID    string    `json:"request_id"`
	ModelVersion string    `json:"model_version"`
	Latency      float64   `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// PredictResponse carries the fused approval probability.
type PredictResponse struct {
	ApprovalProbability float64   `json:"approval_probability"`
	RequestID           string    `json:"request_id"`
	ModelVersion        string    `json:"model_version"`
	Latency             float64   `json:"latency_ms"`
	Timestamp           time.Time `json:"timestamp"`
}

// HealthStatus reports whether a model is installed.
type HealthStatus struct {
	Status       string    `json:"status"`
	Trained      bool      `json:"trained"`
	ModelVersion string    `json:"model_version,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Health status values.
const (
	StatusOK        = "ok"
	StatusUntrained = "untrained"
)
