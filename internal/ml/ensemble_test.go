package ml

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsemble_NotTrained(t *testing.T) {
	e := NewDefaultEnsemble(DefaultForestConfig(), DefaultBoostingConfig())

	_, err := e.PredictProbability([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotTrained)

	_, err = e.FeatureImportances()
	assert.ErrorIs(t, err, ErrNotTrained)

	_, err = json.Marshal(e)
	assert.ErrorIs(t, err, ErrNotTrained)

	var nilEnsemble *Ensemble
	assert.False(t, nilEnsemble.Trained())
}

func TestEnsemble_FusedProbabilityIsMean(t *testing.T) {
	primary := &stubClassifier{
		probFn:      func(x []float64) float64 { return 0.2 + 0.1*x[0] },
		importances: []float64{0.6, 0.4},
	}
	secondary := &stubClassifier{
		probFn:      func(x []float64) float64 { return 0.9 - 0.05*x[1] },
		importances: []float64{0.2, 0.8},
	}
	e := NewEnsemble(primary, secondary)

	X := [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	require.NoError(t, e.Fit(X, []int{0, 0, 1, 1}))
	assert.Equal(t, 1, primary.fitCalls)
	assert.Equal(t, 1, secondary.fitCalls)
	assert.Equal(t, 2, e.Width())

	inputs := [][]float64{{0, 0}, {1.5, 1.5}, {3, 0}, {-4, 10}}
	for _, x := range inputs {
		scaled, err := e.Scaler.Transform(x)
		require.NoError(t, err)
		a := primary.PredictProbability(scaled)
		b := secondary.PredictProbability(scaled)

		got, err := e.PredictProbability(x)
		require.NoError(t, err)
		assert.Equal(t, (a+b)/2, got)
	}

	imp, err := e.FeatureImportances()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, imp, 1e-12)
}

func TestEnsemble_SchemaMismatch(t *testing.T) {
	X, y := thresholdDataset(100, 3, 4)
	e := NewDefaultEnsemble(
		ForestConfig{Trees: 3, MaxDepth: 3, Seed: 1},
		BoostingConfig{Rounds: 3, MaxDepth: 2, LearningRate: 0.1},
	)
	require.NoError(t, e.Fit(X, y))

	for _, x := range [][]float64{{0.5}, {0.5, 0.5, 0.5, 0.5}, nil} {
		_, err := e.PredictProbability(x)
		var mismatch *SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 3, mismatch.Want)
	}
}

func TestEnsemble_RejectsNonFiniteInput(t *testing.T) {
	X, y := thresholdDataset(100, 3, 4)
	e := NewDefaultEnsemble(
		ForestConfig{Trees: 3, MaxDepth: 3, Seed: 1},
		BoostingConfig{Rounds: 3, MaxDepth: 2, LearningRate: 0.1},
	)
	require.NoError(t, e.Fit(X, y))

	for i, x := range [][]float64{{math.NaN(), 0.5, 0.5}, {0.5, math.Inf(1), 0.5}, {0.5, 0.5, math.Inf(-1)}} {
		_, err := e.PredictProbability(x)
		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, i, invalid.Index)
	}

	X[7][1] = math.NaN()
	var invalid *InvalidInputError
	assert.ErrorAs(t, e.Fit(X, y), &invalid)
}

func TestEnsemble_MissingImportances(t *testing.T) {
	primary := &stubClassifier{probFn: func([]float64) float64 { return 0.5 }, importances: []float64{1}}
	secondary := &stubClassifier{probFn: func([]float64) float64 { return 0.5 }}
	e := NewEnsemble(primary, secondary)
	require.NoError(t, e.Fit([][]float64{{0}, {1}}, []int{0, 1}))

	_, err := e.FeatureImportances()
	assert.ErrorIs(t, err, ErrNoImportances)
}

func TestEnsemble_FitFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	primary := &stubClassifier{probFn: func([]float64) float64 { return 0.5 }}
	secondary := &stubClassifier{probFn: func([]float64) float64 { return 0.5 }, fitErr: boom}
	e := NewEnsemble(primary, secondary)

	err := e.Fit([][]float64{{0}, {1}}, []int{0, 1})
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.Trained())
}

func TestEnsemble_RequiresBothMembers(t *testing.T) {
	e := NewEnsemble(NewRandomForest(DefaultForestConfig()), nil)
	assert.Error(t, e.Fit([][]float64{{0}, {1}}, []int{0, 1}))
}

func TestEnsemble_JSONRoundTrip(t *testing.T) {
	X, y := thresholdDataset(300, 3, 8)
	e := NewDefaultEnsemble(
		ForestConfig{Trees: 8, MaxDepth: 4, Seed: 2},
		BoostingConfig{Rounds: 8, MaxDepth: 3, LearningRate: 0.1},
	)
	require.NoError(t, e.Fit(X, y))

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var restored Ensemble
	require.NoError(t, json.Unmarshal(data, &restored))
	require.True(t, restored.Trained())
	assert.Equal(t, KindRandomForest, restored.Primary.Kind())
	assert.Equal(t, KindGradientBoosting, restored.Secondary.Kind())

	for _, row := range X[:25] {
		want, err := e.PredictProbability(row)
		require.NoError(t, err)
		got, err := restored.PredictProbability(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEnsemble_UnmarshalRejectsUnknownKind(t *testing.T) {
	doc := `{"primary":{"kind":"svm","model":{}},"secondary":{"kind":"random_forest","model":{}},"scaler":{"mean":[0],"scale":[1]},"width":1}`
	var e Ensemble
	assert.Error(t, json.Unmarshal([]byte(doc), &e))
	assert.False(t, e.Trained())
}
