// Package training fits the credit ensemble on labelled applicants and
// produces the held-out performance, bias and feature importance reports that
// accompany every trained model.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/fairness"
	"credit-engine/internal/features"
	"credit-engine/internal/ml"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSingleClass is returned when every record carries the same label.
var ErrSingleClass = errors.New("training: labels contain a single class")

// Config controls a training run.
type Config struct {
	TestSize     float64           `yaml:"testSize" json:"test_size"`
	Seed         uint64            `yaml:"seed" json:"seed"`
	Threshold    float64           `yaml:"threshold" json:"threshold"`
	MinGroupSize int               `yaml:"minGroupSize" json:"min_group_size"`
	Forest       ml.ForestConfig   `yaml:"forest" json:"forest"`
	Boosting     ml.BoostingConfig `yaml:"boosting" json:"boosting"`
}

// DefaultConfig returns an 80/20 split seeded with 42 and the default
// classifier settings.
func DefaultConfig() Config {
	return Config{
		TestSize:     0.2,
		Seed:         42,
		Threshold:    fairness.DefaultThreshold,
		MinGroupSize: fairness.DefaultMinGroupSize,
		Forest:       ml.DefaultForestConfig(),
		Boosting:     ml.DefaultBoostingConfig(),
	}
}

// Observer is notified about training outcomes.
type Observer interface {
	TrainingCompleted(duration time.Duration, report PerformanceReport)
	TrainingFailed(err error)
}

// Result is everything a training run produces.
type Result struct {
	Ensemble    *ml.Ensemble
	Performance PerformanceReport
	Bias        fairness.BiasReport
	Importance  ImportanceTable
	// Baseline summarizes the training inputs for drift monitoring.
	Baseline *drift.Baseline
}

// Trainer runs the split, fit, evaluate and audit pipeline.
type Trainer struct {
	cfg           Config
	logger        zerolog.Logger
	observer      Observer
	auditObserver fairness.Observer
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the trainer's logger. The bias auditor shares it.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithObserver registers an observer for training outcomes.
func WithObserver(o Observer) Option {
	return func(t *Trainer) { t.observer = o }
}

// WithAuditObserver registers an observer for bias audit outcomes.
func WithAuditObserver(o fairness.Observer) Option {
	return func(t *Trainer) { t.auditObserver = o }
}

// NewTrainer creates a trainer for cfg.
func NewTrainer(cfg Config, opts ...Option) *Trainer {
	t := &Trainer{cfg: cfg, logger: log.Logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits a fresh ensemble on records. Audit failures never abort a run;
// they degrade to the neutral bias report.
func (t *Trainer) Train(ctx context.Context, records []features.Record) (*Result, error) {
	start := time.Now()
	res, err := t.train(ctx, records)
	if err != nil {
		t.logger.Error().Err(err).Int("records", len(records)).Msg("training failed")
		if t.observer != nil {
			t.observer.TrainingFailed(err)
		}
		return nil, err
	}

	elapsed := time.Since(start)
	t.logger.Info().
		Int("training_samples", res.Performance.TrainingSamples).
		Int("test_samples", res.Performance.TestSamples).
		Float64("accuracy", res.Performance.Accuracy).
		Float64("roc_auc", res.Performance.ROCAUC).
		Float64("disparate_impact", res.Bias.DisparateImpact).
		Dur("duration", elapsed).
		Msg("model training completed")
	if t.observer != nil {
		t.observer.TrainingCompleted(elapsed, res.Performance)
	}
	return res, nil
}

func (t *Trainer) train(ctx context.Context, records []features.Record) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	labels := make([]bool, len(records))
	var positives int
	for i, r := range records {
		labels[i] = r.Approved
		if r.Approved {
			positives++
		}
	}
	if positives == 0 || positives == len(records) {
		return nil, ErrSingleClass
	}

	trainIdx, testIdx, err := StratifiedSplit(labels, t.cfg.TestSize, t.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X, y := matrix(records, trainIdx)
	ensemble := ml.NewDefaultEnsemble(t.cfg.Forest, t.cfg.Boosting)
	if err := ensemble.Fit(X, y); err != nil {
		return nil, fmt.Errorf("fit ensemble: %w", err)
	}
	baseline, err := drift.NewBaseline(features.Names[:], X)
	if err != nil {
		return nil, fmt.Errorf("drift baseline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	testX, _ := matrix(records, testIdx)
	probabilities, err := ensemble.PredictProbabilities(testX)
	if err != nil {
		return nil, fmt.Errorf("score held-out records: %w", err)
	}

	testLabels := make([]bool, len(testIdx))
	testDemographics := make([]features.Demographics, len(testIdx))
	for i, idx := range testIdx {
		testLabels[i] = records[idx].Approved
		testDemographics[i] = records[idx].Demographics
	}

	perf, err := Evaluate(testLabels, probabilities, t.cfg.Threshold)
	if err != nil {
		if !errors.Is(err, errUndefinedAUC) {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		t.logger.Warn().Err(err).Msg("held-out set has one class, reporting chance-level roc auc")
	}
	perf.TrainingSamples = len(trainIdx)

	weights, err := ensemble.FeatureImportances()
	if err != nil {
		return nil, fmt.Errorf("feature importances: %w", err)
	}
	importance, err := NewImportanceTable(features.Names[:], weights)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	auditOpts := []fairness.Option{
		fairness.WithThreshold(t.cfg.Threshold),
		fairness.WithMinGroupSize(t.cfg.MinGroupSize),
		fairness.WithLogger(t.logger),
	}
	if t.auditObserver != nil {
		auditOpts = append(auditOpts, fairness.WithObserver(t.auditObserver))
	}
	bias := fairness.NewAuditor(auditOpts...).AuditOrNeutral(testDemographics, probabilities)

	return &Result{
		Ensemble:    ensemble,
		Performance: perf,
		Bias:        bias,
		Importance:  importance,
		Baseline:    baseline,
	}, nil
}

// matrix extracts the feature rows and 0/1 labels of the given records.
// Demographics never enter the matrix.
func matrix(records []features.Record, idx []int) ([][]float64, []int) {
	X := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		X[i] = records[j].Features.Slice()
		if records[j].Approved {
			y[i] = 1
		}
	}
	return X, y
}
