package ml

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Ensemble fuses two independently trained classifiers. Inputs are scaled
// with the scaler fit at training time, and the fused probability is the
// unweighted mean of the two classifier outputs.
type Ensemble struct {
	Primary   Classifier
	Secondary Classifier
	Scaler    *StandardScaler

	width   int
	trained bool
}

// NewEnsemble pairs two unfitted classifiers.
func NewEnsemble(primary, secondary Classifier) *Ensemble {
	return &Ensemble{
		Primary:   primary,
		Secondary: secondary,
		Scaler:    &StandardScaler{},
	}
}

// NewDefaultEnsemble pairs a bagged forest with a boosted tree model.
func NewDefaultEnsemble(forest ForestConfig, boosting BoostingConfig) *Ensemble {
	return NewEnsemble(NewRandomForest(forest), NewGradientBoosting(boosting))
}

// Fit trains the scaler and both classifiers on the same training split.
func (e *Ensemble) Fit(X [][]float64, y []int) error {
	if e.Primary == nil || e.Secondary == nil {
		return errors.New("ensemble requires both a primary and a secondary classifier")
	}
	width, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("ensemble: %w", err)
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(X); err != nil {
		return fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.TransformAll(X)
	if err != nil {
		return fmt.Errorf("scale training set: %w", err)
	}

	// The classifiers only read the scaled matrix, so they can fit side by side.
	var g errgroup.Group
	g.Go(func() error {
		if err := e.Primary.Fit(scaled, y); err != nil {
			return fmt.Errorf("fit primary %s: %w", e.Primary.Kind(), err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.Secondary.Fit(scaled, y); err != nil {
			return fmt.Errorf("fit secondary %s: %w", e.Secondary.Kind(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.Scaler = scaler
	e.width = width
	e.trained = true
	return nil
}

// Trained reports whether Fit has completed.
func (e *Ensemble) Trained() bool {
	return e != nil && e.trained
}

// Width is the number of features the ensemble was trained on.
func (e *Ensemble) Width() int {
	return e.width
}

// PredictProbability returns the fused approval probability for one vector.
func (e *Ensemble) PredictProbability(x []float64) (float64, error) {
	if !e.Trained() {
		return 0, ErrNotTrained
	}
	if len(x) != e.width {
		return 0, &SchemaMismatchError{Got: len(x), Want: e.width}
	}
	if err := CheckFinite(x); err != nil {
		return 0, err
	}

	scaled, err := e.Scaler.Transform(x)
	if err != nil {
		return 0, err
	}

	a := e.Primary.PredictProbability(scaled)
	b := e.Secondary.PredictProbability(scaled)
	return (a + b) / 2, nil
}

// PredictProbabilities scores every row of X.
func (e *Ensemble) PredictProbabilities(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		p, err := e.PredictProbability(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// FeatureImportances returns the unweighted mean of both classifiers'
// importances, aligned to the training column order.
func (e *Ensemble) FeatureImportances() ([]float64, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}

	a := e.Primary.FeatureImportances()
	b := e.Secondary.FeatureImportances()
	if len(a) != e.width {
		return nil, fmt.Errorf("primary %s: %w", e.Primary.Kind(), ErrNoImportances)
	}
	if len(b) != e.width {
		return nil, fmt.Errorf("secondary %s: %w", e.Secondary.Kind(), ErrNoImportances)
	}

	out := make([]float64, e.width)
	for i := range out {
		out[i] = (a[i] + b[i]) / 2
	}
	return out, nil
}

type taggedClassifier struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

type ensembleJSON struct {
	Primary   taggedClassifier `json:"primary"`
	Secondary taggedClassifier `json:"secondary"`
	Scaler    *StandardScaler  `json:"scaler"`
	Width     int              `json:"width"`
}

func tag(c Classifier) (taggedClassifier, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return taggedClassifier{}, fmt.Errorf("marshal %s: %w", c.Kind(), err)
	}
	return taggedClassifier{Kind: c.Kind(), Model: raw}, nil
}

func untag(t taggedClassifier) (Classifier, error) {
	c, err := newClassifier(t.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(t.Model, c); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", t.Kind, err)
	}
	return c, nil
}

// MarshalJSON encodes a trained ensemble with each member tagged by kind.
func (e *Ensemble) MarshalJSON() ([]byte, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	primary, err := tag(e.Primary)
	if err != nil {
		return nil, err
	}
	secondary, err := tag(e.Secondary)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ensembleJSON{
		Primary:   primary,
		Secondary: secondary,
		Scaler:    e.Scaler,
		Width:     e.width,
	})
}

// UnmarshalJSON restores a trained ensemble.
func (e *Ensemble) UnmarshalJSON(data []byte) error {
	var doc ensembleJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	primary, err := untag(doc.Primary)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	secondary, err := untag(doc.Secondary)
	if err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	if doc.Scaler == nil || doc.Scaler.Width() != doc.Width || doc.Width == 0 {
		return errors.New("ensemble snapshot has no scaler matching its width")
	}

	e.Primary = primary
	e.Secondary = secondary
	e.Scaler = doc.Scaler
	e.width = doc.Width
	e.trained = true
	return nil
}
