package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each column on its training mean and divides by the
// training population standard deviation. Constant columns keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit learns per-column moments from X.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("scaler: empty input")
	}

	width := len(X[0])
	n := float64(len(X))
	s.Mean = make([]float64, width)
	s.Scale = make([]float64, width)

	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			if len(row) != width {
				return &SchemaMismatchError{Got: len(row), Want: width}
			}
			col[i] = row[j]
		}

		mean, variance := stat.MeanVariance(col, nil)
		// MeanVariance is unbiased; the scaler uses the population variance.
		popVar := 0.0
		if len(col) > 1 {
			popVar = variance * (n - 1) / n
		}

		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(popVar)
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			s.Scale[j] = 1
		}
	}
	return nil
}

// Width is the number of columns the scaler was fit on.
func (s *StandardScaler) Width() int {
	return len(s.Mean)
}

// Transform scales a single row.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if s.Width() == 0 {
		return nil, ErrNotTrained
	}
	if len(x) != s.Width() {
		return nil, &SchemaMismatchError{Got: len(x), Want: s.Width()}
	}

	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll scales every row of X.
func (s *StandardScaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
