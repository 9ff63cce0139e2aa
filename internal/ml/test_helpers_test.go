package ml

import (
	"math/rand/v2"
)

// stubClassifier returns scripted probabilities and importances.
type stubClassifier struct {
	probFn      func(x []float64) float64
	importances []float64
	fitErr      error
	fitCalls    int
}

func (s *stubClassifier) Kind() string { return "stub" }

func (s *stubClassifier) Fit(X [][]float64, y []int) error {
	s.fitCalls++
	return s.fitErr
}

func (s *stubClassifier) PredictProbability(x []float64) float64 {
	return s.probFn(x)
}

func (s *stubClassifier) FeatureImportances() []float64 {
	return s.importances
}

// thresholdDataset returns rows whose label is 1 exactly when the first
// column exceeds 0.5. The remaining columns are noise.
func thresholdDataset(n, width int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, 1))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.Float64()
		}
		X[i] = row
		if row[0] > 0.5 {
			y[i] = 1
		}
	}
	return X, y
}
