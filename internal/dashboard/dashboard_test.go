package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/ml"
	"credit-engine/internal/scoring"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	info   scoring.Info
	report drift.Report
}

func (f *fakeSource) Info() scoring.Info { return f.info }

func (f *fakeSource) Drift() (drift.Report, error) {
	if !f.info.Trained {
		return drift.Report{}, fmt.Errorf("drift: %w", ml.ErrNotTrained)
	}
	return f.report, nil
}

func trainedSource() *fakeSource {
	return &fakeSource{
		info: scoring.Info{Trained: true, Version: "v-dash", TrainedAt: time.Unix(1_700_000_000, 0).UTC()},
		report: drift.Report{
			Samples:   64,
			Ready:     true,
			Threshold: 0.2,
			Features:  []drift.FeatureDrift{{Feature: "credit_score", PSI: 0.05, Severity: drift.SeverityNone}},
			Drifted:   []string{},
		},
	}
}

func newTestDashboard(src Source, opts ...Option) *Dashboard {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(src, NewTally(), 8090, opts...)
}

func TestSnapshot_TalliesDecisions(t *testing.T) {
	d := newTestDashboard(trainedSource())

	d.tally.PredictionServed(0.8, explain.Approved, time.Millisecond)
	d.tally.PredictionServed(0.6, explain.Approved, time.Millisecond)
	d.tally.PredictionServed(0.1, explain.Denied, time.Millisecond)
	d.tally.PredictionRejected(scoring.ReasonSchemaMismatch)

	s := d.Snapshot()
	assert.Equal(t, 2, s.Decisions[string(explain.Approved)])
	assert.Equal(t, 1, s.Decisions[string(explain.Denied)])
	assert.Equal(t, 1, s.Rejections[scoring.ReasonSchemaMismatch])
	assert.InDelta(t, 0.5, s.MeanProbability, 1e-12)
	assert.Equal(t, "v-dash", s.Model.Version)
	require.NotNil(t, s.Drift)
	assert.Equal(t, 64, s.Drift.Samples)
}

func TestSnapshot_ResetOnInstall(t *testing.T) {
	d := newTestDashboard(trainedSource())
	d.tally.PredictionServed(0.8, explain.Approved, time.Millisecond)

	d.tally.ModelInstalled(scoring.Info{Trained: true, Version: "v2"})

	s := d.Snapshot()
	assert.Empty(t, s.Decisions)
	assert.Zero(t, s.MeanProbability)
}

func TestSnapshot_Untrained(t *testing.T) {
	s := New(&fakeSource{}, nil, 8090, WithLogger(zerolog.Nop())).Snapshot()
	assert.False(t, s.Model.Trained)
	assert.Nil(t, s.Drift)
	assert.Empty(t, s.Decisions)
}

func TestHandleSnapshot(t *testing.T) {
	d := newTestDashboard(trainedSource())
	d.tally.PredictionServed(0.3, explain.Conditional, time.Millisecond)

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var s Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 1, s.Decisions[string(explain.Conditional)])

	rec = httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshot", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestDashboard(trainedSource()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v-dash")
	assert.Contains(t, rec.Body.String(), "credit_score")

	rec = httptest.NewRecorder()
	newTestDashboard(&fakeSource{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "No model installed")
}

func TestWebSocketStream(t *testing.T) {
	d := newTestDashboard(trainedSource(), WithInterval(10*time.Millisecond))
	ts := httptest.NewServer(d.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.broadcastLoop(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "v-dash", first.Model.Version)
	assert.Empty(t, first.Decisions)

	d.tally.PredictionServed(0.9, explain.Approved, time.Millisecond)

	// Broadcasts keep arriving; wait for one that includes the new decision.
	require.Eventually(t, func() bool {
		var s Snapshot
		if err := conn.ReadJSON(&s); err != nil {
			return false
		}
		return s.Decisions[string(explain.Approved)] == 1
	}, 5*time.Second, time.Millisecond)
}
