// Package ml provides the probabilistic classifiers behind the credit engine.
// It includes the classifier capability interface, a standard feature scaler,
// CART-based random forest and gradient boosting implementations, and the
// two-classifier ensemble whose fused probability drives every credit decision.
//
// The ensemble is a fixed pair: the fused probability is always the unweighted
// mean of the primary and secondary classifier outputs.
package ml

import (
	"errors"
	"fmt"
	"math"
)

// Classifier kinds used to tag serialized models.
const (
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
)

var (
	// ErrNotTrained is returned by every inference method called before Fit.
	ErrNotTrained = errors.New("model not trained yet")

	// ErrNoImportances means a classifier cannot report feature importances.
	// Both ensemble members must support them, so this is a configuration error.
	ErrNoImportances = errors.New("classifier exposes no feature importances")
)

// SchemaMismatchError reports a feature vector whose length disagrees with the
// width the model was trained on.
type SchemaMismatchError struct {
	Got  int
	Want int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("feature vector has %d values, model expects %d", e.Got, e.Want)
}

// InvalidInputError reports a feature value that is NaN or infinite.
type InvalidInputError struct {
	Index int
	Value float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("feature %d is not finite: %v", e.Index, e.Value)
}

// CheckFinite returns an *InvalidInputError for the first NaN or infinite
// value in x.
func CheckFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidInputError{Index: i, Value: v}
		}
	}
	return nil
}

// Classifier is a binary probabilistic classifier.
type Classifier interface {
	// Kind identifies the implementation in serialized snapshots.
	Kind() string

	// Fit trains the classifier on rows of X with 0/1 labels y.
	Fit(X [][]float64, y []int) error

	// PredictProbability returns the positive-class probability for x.
	// x must have the width the classifier was trained on.
	PredictProbability(x []float64) float64

	// FeatureImportances returns one non-negative weight per training column,
	// or nil if the classifier has not been fit.
	FeatureImportances() []float64
}

// newClassifier returns an empty classifier for a serialized kind.
func newClassifier(kind string) (Classifier, error) {
	switch kind {
	case KindRandomForest:
		return &RandomForest{}, nil
	case KindGradientBoosting:
		return &GradientBoosting{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", kind)
	}
}

// validateTrainingSet checks the shape and label domain of a training set and
// returns its width.
func validateTrainingSet(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("got %d rows but %d labels", len(X), len(y))
	}

	width := len(X[0])
	if width == 0 {
		return 0, errors.New("training rows have no features")
	}

	var positives int
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("row %d: %w", i, &SchemaMismatchError{Got: len(row), Want: width})
		}
		if err := CheckFinite(row); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		switch y[i] {
		case 0:
		case 1:
			positives++
		default:
			return 0, fmt.Errorf("label %d at row %d is not 0 or 1", y[i], i)
		}
	}

	if positives == 0 || positives == len(y) {
		return 0, errors.New("training labels contain a single class")
	}
	return width, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// normalize scales w in place so it sums to 1. A zero vector is left as is.
func normalize(w []float64) {
	var total float64
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return
	}
	for i := range w {
		w[i] /= total
	}
}
