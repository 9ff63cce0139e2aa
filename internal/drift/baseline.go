// Package drift watches the applicants scored at inference time and compares
// them with the population the model was trained on. Each feature is summarized
// at training time into a Baseline; a Monitor keeps a sliding window of recent
// inputs and reports Population Stability Index and Kolmogorov-Smirnov
// distances against it.
package drift

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// Bins is the number of quantile bins used for the PSI.
	Bins = 10

	// SampleSize caps the number of order statistics kept per feature for the
	// KS distance.
	SampleSize = 500

	// psiFloor replaces empty bin proportions so the log term stays finite.
	psiFloor = 1e-4
)

var errEmptyBaseline = errors.New("drift: baseline needs at least one row")

// FeatureBaseline summarizes one feature of the training population.
type FeatureBaseline struct {
	Name        string    `json:"name"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	Edges       []float64 `json:"edges"`       // Bins-1 interior quantile cut points
	Proportions []float64 `json:"proportions"` // share of training rows per bin
	Sample      []float64 `json:"sample"`      // sorted, evenly spaced order statistics
}

// Baseline is the training-time summary of every model feature, in schema
// order.
type Baseline struct {
	Rows     int               `json:"rows"`
	Features []FeatureBaseline `json:"features"`
}

// NewBaseline summarizes the columns of X. names[i] labels column i.
func NewBaseline(names []string, X [][]float64) (*Baseline, error) {
	if len(X) == 0 {
		return nil, errEmptyBaseline
	}
	for i, row := range X {
		if len(row) != len(names) {
			return nil, fmt.Errorf("drift: row %d has %d values, want %d", i, len(row), len(names))
		}
	}

	b := &Baseline{Rows: len(X), Features: make([]FeatureBaseline, len(names))}
	column := make([]float64, len(X))
	for j, name := range names {
		for i, row := range X {
			column[i] = row[j]
		}
		b.Features[j] = summarize(name, column)
	}
	return b, nil
}

func summarize(name string, column []float64) FeatureBaseline {
	sorted := slices.Clone(column)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}

	edges := make([]float64, Bins-1)
	for i := range edges {
		edges[i] = stat.Quantile(float64(i+1)/Bins, stat.Empirical, sorted, nil)
	}

	return FeatureBaseline{
		Name:        name,
		Mean:        mean,
		StdDev:      std,
		Edges:       edges,
		Proportions: proportions(edges, sorted),
		Sample:      orderStatistics(sorted, SampleSize),
	}
}

// Width is the number of features the baseline covers.
func (b *Baseline) Width() int {
	return len(b.Features)
}

// bin returns the index of the bin holding v: the number of edges below v.
func bin(edges []float64, v float64) int {
	return sort.SearchFloat64s(edges, v)
}

func proportions(edges, values []float64) []float64 {
	out := make([]float64, len(edges)+1)
	if len(values) == 0 {
		return out
	}
	for _, v := range values {
		out[bin(edges, v)]++
	}
	for i := range out {
		out[i] /= float64(len(values))
	}
	return out
}

// orderStatistics picks at most n evenly spaced values from sorted.
func orderStatistics(sorted []float64, n int) []float64 {
	if len(sorted) <= n {
		return slices.Clone(sorted)
	}
	out := make([]float64, n)
	step := float64(len(sorted)-1) / float64(n-1)
	for i := range out {
		out[i] = sorted[int(math.Round(float64(i)*step))]
	}
	return out
}

// PSI is the Population Stability Index of actual against expected bin
// proportions. Empty bins are floored at a small share.
func PSI(expected, actual []float64) float64 {
	var psi float64
	for i := range min(len(expected), len(actual)) {
		e := math.Max(expected[i], psiFloor)
		a := math.Max(actual[i], psiFloor)
		psi += (a - e) * math.Log(a/e)
	}
	return psi
}

// KS is the two-sample Kolmogorov-Smirnov distance. Both inputs must be
// sorted; an empty input yields 0.
func KS(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return stat.KolmogorovSmirnov(a, nil, b, nil)
}
