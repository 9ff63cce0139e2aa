package scoring

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/features"
	"credit-engine/internal/ml"
	"credit-engine/internal/training"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockObserver records inference and lifecycle events.
type MockObserver struct {
	mu        sync.Mutex
	served    []explain.Decision
	rejected  []string
	installed []Info
}

func (m *MockObserver) PredictionServed(p float64, d explain.Decision, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.served = append(m.served, d)
}

func (m *MockObserver) PredictionRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *MockObserver) ModelInstalled(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed = append(m.installed, info)
}

func testConfig() training.Config {
	cfg := training.DefaultConfig()
	cfg.Forest = ml.ForestConfig{Trees: 50, MaxDepth: 10, MinSamplesLeaf: 1, Seed: 42}
	cfg.Boosting = ml.BoostingConfig{Rounds: 60, MaxDepth: 4, MinSamplesLeaf: 1, LearningRate: 0.1}
	return cfg
}

var (
	sharedOnce  sync.Once
	sharedModel *Model
	sharedErr   error
)

// trainedModel returns a model trained once per test binary.
func trainedModel(t *testing.T) *Model {
	t.Helper()
	sharedOnce.Do(func() {
		records, err := training.GenerateDataset(3000, 42)
		if err != nil {
			sharedErr = err
			return
		}
		sharedModel = New(WithConfig(testConfig()), WithLogger(zerolog.Nop()))
		sharedErr = sharedModel.Train(context.Background(), records)
	})
	require.NoError(t, sharedErr)
	return sharedModel
}

func strongApplicant() []float64 {
	return []float64{750, 6000, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9}
}

func weakApplicant() []float64 {
	return []float64{300, 1000, 0, 0, 0, 0, 0, 0, 0, 0}
}

func TestModel_NotTrained(t *testing.T) {
	observer := &MockObserver{}
	m := New(WithLogger(zerolog.Nop()), WithObserver(observer))

	assert.False(t, m.Trained())

	_, err := m.PredictProbability(strongApplicant())
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	_, err = m.Explain(strongApplicant())
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	_, err = m.MarshalBinary()
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	assert.Equal(t, training.PerformanceReport{}, m.Performance())
	assert.Empty(t, m.FeatureImportance())
	assert.False(t, m.Info().Trained)
	assert.Equal(t, []string{ReasonNotTrained, ReasonNotTrained}, observer.rejected)
}

func TestModel_ApprovesStrongApplicant(t *testing.T) {
	m := trainedModel(t)

	res, err := m.Explain(strongApplicant())
	require.NoError(t, err)

	assert.Equal(t, explain.Approved, res.Decision)
	assert.GreaterOrEqual(t, res.ApprovalProbability, 0.55)
	assert.InDelta(t, 1.0, res.RiskScore+res.ApprovalProbability, 1e-12)
	assert.Len(t, res.KeyFactors, explain.TopFactors)
}

func TestModel_DeniesWeakApplicant(t *testing.T) {
	m := trainedModel(t)

	res, err := m.Explain(weakApplicant())
	require.NoError(t, err)

	assert.Equal(t, explain.Denied, res.Decision)
	assert.Equal(t, explain.High, res.Confidence)
	assert.Less(t, res.ApprovalProbability, 0.25)
}

func TestModel_SchemaMismatch(t *testing.T) {
	m := trainedModel(t)

	for _, values := range [][]float64{nil, {700}, append(strongApplicant(), 1)} {
		_, err := m.PredictProbability(values)
		var mismatch *ml.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, features.Count, mismatch.Want)
		assert.Equal(t, len(values), mismatch.Got)

		_, err = m.Explain(values)
		assert.ErrorAs(t, err, &mismatch)
	}
}

func TestModel_RejectsNonFiniteInput(t *testing.T) {
	observer := &MockObserver{}
	m := New(WithLogger(zerolog.Nop()), WithObserver(observer))
	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))

	values := strongApplicant()
	values[0] = math.Inf(1)
	values[3] = math.NaN()

	_, err := m.Explain(values)
	var invalid *ml.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, invalid.Index)

	values[0] = 750
	_, err = m.PredictProbability(values)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 3, invalid.Index)

	values[3] = math.Inf(-1)
	_, err = m.Explain(values)
	require.ErrorAs(t, err, &invalid)

	assert.Empty(t, observer.served)
	assert.Equal(t, []string{ReasonInvalidInput, ReasonInvalidInput, ReasonInvalidInput}, observer.rejected)

	report, err := m.Drift()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Samples, "rejected input stays out of the drift window")
}

func TestModel_Reports(t *testing.T) {
	m := trainedModel(t)

	perf := m.Performance()
	assert.Equal(t, 2400, perf.TrainingSamples)
	assert.Equal(t, 600, perf.TestSamples)
	assert.Greater(t, perf.ROCAUC, 0.65)

	imp := m.FeatureImportance()
	require.Len(t, imp, features.Count)
	imp[0].Importance = -1
	assert.NotEqual(t, -1.0, m.FeatureImportance()[0].Importance, "importance table is returned by copy")

	info := m.Info()
	assert.True(t, info.Trained)
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, features.Names[:], info.Features)
	assert.Equal(t, m.Bias(), info.Bias)
}

func TestModel_SaveLoadRoundTrip(t *testing.T) {
	m := trainedModel(t)
	path := filepath.Join(t.TempDir(), "models", "credit.model")

	require.NoError(t, m.Save(path))

	restored := New(WithLogger(zerolog.Nop()))
	require.NoError(t, restored.Load(path))

	assert.Equal(t, m.Info(), restored.Info())
	assert.Equal(t, m.FeatureImportance(), restored.FeatureImportance())

	records, err := training.GenerateDataset(50, 99)
	require.NoError(t, err)
	for _, r := range records {
		want, err := m.PredictProbability(r.Features.Slice())
		require.NoError(t, err)
		got, err := restored.PredictProbability(r.Features.Slice())
		require.NoError(t, err)
		assert.Equal(t, want, got)

		wantRes, err := m.Explain(r.Features.Slice())
		require.NoError(t, err)
		gotRes, err := restored.Explain(r.Features.Slice())
		require.NoError(t, err)
		assert.Equal(t, wantRes, gotRes)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestModel_UnmarshalRejectsGarbage(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	assert.Error(t, m.UnmarshalBinary([]byte("not a model")))
	assert.False(t, m.Trained())

	assert.Error(t, m.Load(filepath.Join(t.TempDir(), "missing.model")))
}

func TestModel_UnmarshalRejectsForeignSchema(t *testing.T) {
	m := trainedModel(t)
	snap, err := m.Snapshot()
	require.NoError(t, err)

	snap.Features = []string{"credit_score"}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	restored := New(WithLogger(zerolog.Nop()))
	err = restored.UnmarshalBinary(encoder.EncodeAll(raw, nil))
	var mismatch *ml.SchemaMismatchError
	assert.ErrorAs(t, err, &mismatch)
	assert.False(t, restored.Trained())
}

func TestModel_FailedTrainKeepsPreviousModel(t *testing.T) {
	observer := &MockObserver{}
	m := New(WithConfig(testConfig()), WithLogger(zerolog.Nop()), WithObserver(observer))
	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))
	version := m.Info().Version

	err := m.Train(context.Background(), nil)
	assert.ErrorIs(t, err, training.ErrEmptyDataset)
	assert.True(t, m.Trained())
	assert.Equal(t, version, m.Info().Version)
	assert.Len(t, observer.installed, 1)
}

func TestModel_ObserverSeesDecisions(t *testing.T) {
	observer := &MockObserver{}
	m := New(WithLogger(zerolog.Nop()), WithObserver(observer))
	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))

	_, err := m.Explain(strongApplicant())
	require.NoError(t, err)
	_, err = m.Explain(weakApplicant())
	require.NoError(t, err)
	_, err = m.Explain([]float64{1})
	require.Error(t, err)

	assert.Equal(t, []explain.Decision{explain.Approved, explain.Denied}, observer.served)
	assert.Equal(t, []string{ReasonSchemaMismatch}, observer.rejected)
}

func TestModel_ConcurrentReadsDuringInstall(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	blob := mustMarshal(t, trainedModel(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p, err := m.PredictProbability(strongApplicant())
				if err == nil {
					assert.True(t, p >= 0 && p <= 1)
				} else {
					assert.ErrorIs(t, err, ml.ErrNotTrained)
				}
			}
		}()
	}
	require.NoError(t, m.UnmarshalBinary(blob))
	wg.Wait()
}

// installWatcher records which version was serving when each install was
// announced.
type installWatcher struct {
	MockObserver
	model   *Model
	serving []string
}

func (w *installWatcher) ModelInstalled(info Info) {
	w.serving = append(w.serving, w.model.Info().Version)
	w.MockObserver.ModelInstalled(info)
}

func TestModel_ObserversNotifiedBeforeServing(t *testing.T) {
	watcher := &installWatcher{}
	m := New(WithLogger(zerolog.Nop()), WithObserver(watcher))
	watcher.model = m

	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))

	require.Len(t, watcher.installed, 1)
	assert.Equal(t, []string{""}, watcher.serving, "nothing was serving when the install was announced")
	assert.Equal(t, m.Info().Version, watcher.installed[0].Version)
	assert.True(t, m.Trained())
}

func mustMarshal(t *testing.T, m *Model) []byte {
	t.Helper()
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	return data
}

type driftRecorder struct {
	mu      sync.Mutex
	reports []drift.Report
}

func (d *driftRecorder) DriftMeasured(r drift.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, r)
}

func TestModel_Drift(t *testing.T) {
	untrained := New(WithLogger(zerolog.Nop()))
	_, err := untrained.Drift()
	assert.ErrorIs(t, err, ml.ErrNotTrained)

	recorder := &driftRecorder{}
	m := New(
		WithLogger(zerolog.Nop()),
		WithDriftConfig(drift.Config{WindowSize: 400}),
		WithDriftObserver(recorder),
	)
	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))

	report, err := m.Drift()
	require.NoError(t, err, "snapshots carry the drift baseline")
	assert.Equal(t, 0, report.Samples)
	assert.Len(t, report.Features, features.Count)

	records, err := training.GenerateDataset(400, 7)
	require.NoError(t, err)
	for _, r := range records {
		_, err := m.PredictProbability(r.Features.Slice())
		require.NoError(t, err)
	}

	report, err = m.Drift()
	require.NoError(t, err)
	assert.Equal(t, 400, report.Samples)
	assert.True(t, report.Ready)
	assert.Equal(t, features.CreditScore, report.Features[0].Feature)
	assert.Less(t, report.Features[0].PSI, 0.2)
	assert.NotContains(t, report.Drifted, features.CreditScore)

	for range 400 {
		_, err := m.Explain(strongApplicant())
		require.NoError(t, err)
	}

	report, err = m.Drift()
	require.NoError(t, err)
	assert.Contains(t, report.Drifted, features.CreditScore)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Len(t, recorder.reports, 20, "one check per tenth of the window")
}

func TestModel_DriftIgnoresRejectedRequests(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	require.NoError(t, m.UnmarshalBinary(mustMarshal(t, trainedModel(t))))

	_, err := m.PredictProbability([]float64{1, 2, 3})
	require.Error(t, err)

	report, err := m.Drift()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Samples)
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &MockObserver{}, &MockObserver{}
	m := New(WithLogger(zerolog.Nop()), WithObserver(Observers{a, b}))

	_, err := m.Explain(strongApplicant())
	require.ErrorIs(t, err, ml.ErrNotTrained)

	for _, o := range []*MockObserver{a, b} {
		assert.Equal(t, []string{ReasonNotTrained}, o.rejected)
	}
}
