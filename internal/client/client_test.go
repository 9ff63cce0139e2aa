package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/features"
	"credit-engine/internal/ml"
	"credit-engine/internal/scoring"
	"credit-engine/internal/server"
	"credit-engine/internal/training"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScorer serves fixed answers and checks the vector width like the real
// model does.
type stubScorer struct {
	probability float64
}

func (s stubScorer) PredictProbability(values []float64) (float64, error) {
	if len(values) != features.Count {
		return 0, &ml.SchemaMismatchError{Got: len(values), Want: features.Count}
	}
	return s.probability, nil
}

func (s stubScorer) Explain(values []float64) (explain.Result, error) {
	p, err := s.PredictProbability(values)
	if err != nil {
		return explain.Result{}, err
	}
	return explain.Explain(p, values, nil), nil
}

func (s stubScorer) Info() scoring.Info {
	return scoring.Info{Trained: true, Version: "stub", Features: features.Names[:]}
}

func (s stubScorer) FeatureImportance() training.ImportanceTable {
	return training.ImportanceTable{{Feature: features.PaymentReliabilityScore, Importance: 1}}
}

func (s stubScorer) Drift() (drift.Report, error) {
	return drift.Report{Samples: 40, Ready: true, Threshold: 0.2, Drifted: []string{}}, nil
}

func newServer(t *testing.T, scorer server.Scorer) *Client {
	t.Helper()
	srv := server.New(scorer, 8000, server.WithLogger(zerolog.Nop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", time.Second)
}

func applicant() []float64 {
	return []float64{680, 4200, 0.3, 0.7, 0.5, 0.4, 0.6, 0.5, 0.5, 0.3}
}

func TestClient_Explain(t *testing.T) {
	c := newServer(t, stubScorer{probability: 0.45})

	resp, err := c.Explain(context.Background(), applicant(), "abc")
	require.NoError(t, err)
	assert.Equal(t, explain.Conditional, resp.Decision)
	assert.Equal(t, explain.Medium, resp.Confidence)
	assert.InDelta(t, 0.55, resp.RiskScore, 1e-12)
	assert.Equal(t, "abc", resp.RequestID)
	assert.Equal(t, "stub", resp.ModelVersion)
	assert.Len(t, resp.KeyFactors, explain.TopFactors)
}

func TestClient_Predict(t *testing.T) {
	c := newServer(t, stubScorer{probability: 0.3})

	resp, err := c.Predict(context.Background(), applicant(), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, resp.ApprovalProbability, 1e-12)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_SchemaMismatch(t *testing.T) {
	c := newServer(t, stubScorer{probability: 0.3})

	_, err := c.Explain(context.Background(), []float64{1, 2}, "short")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "short", apiErr.RequestID)
	assert.Contains(t, apiErr.Message, "2 values")
	assert.False(t, errors.Is(err, ml.ErrNotTrained))
}

func TestClient_UntrainedServer(t *testing.T) {
	c := newServer(t, scoring.New(scoring.WithLogger(zerolog.Nop())))
	ctx := context.Background()

	_, err := c.Explain(ctx, applicant(), "")
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	_, err = c.Predict(ctx, applicant(), "")
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	_, err = c.Importance(ctx)
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	_, err = c.Drift(ctx)
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Trained)
	assert.Equal(t, server.StatusUntrained, health.Status)

	info, err := c.ModelInfo(ctx)
	require.NoError(t, err)
	assert.False(t, info.Trained)
	assert.Len(t, info.Features, features.Count)
}

func TestClient_Queries(t *testing.T) {
	c := newServer(t, stubScorer{})
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Trained)
	assert.Equal(t, server.StatusOK, health.Status)

	info, err := c.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stub", info.Version)

	table, err := c.Importance(ctx)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, features.PaymentReliabilityScore, table[0].Feature)

	report, err := c.Drift(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, report.Samples)
	assert.True(t, report.Ready)
	assert.Empty(t, report.Drifted)
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newServer(t, stubScorer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	assert.Error(t, err)
}
