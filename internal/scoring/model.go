// Package scoring is the credit engine's public face: it owns the trained
// ensemble together with its reports, answers approval and explanation
// queries, and persists the whole trained state as one snapshot.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/fairness"
	"credit-engine/internal/features"
	"credit-engine/internal/ml"
	"credit-engine/internal/training"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rejection reasons reported to the Observer.
const (
	ReasonNotTrained     = "not_trained"
	ReasonSchemaMismatch = "schema_mismatch"
	ReasonInvalidInput   = "invalid_input"
)

// ErrNoBaseline is returned by Drift for models persisted without a drift
// baseline.
var ErrNoBaseline = errors.New("scoring: model has no drift baseline")

// Observer is notified about inference and model lifecycle events.
type Observer interface {
	PredictionServed(probability float64, decision explain.Decision, latency time.Duration)
	PredictionRejected(reason string)
	ModelInstalled(info Info)
}

// Observers fans every event out to each observer in turn.
type Observers []Observer

func (obs Observers) PredictionServed(p float64, decision explain.Decision, latency time.Duration) {
	for _, o := range obs {
		o.PredictionServed(p, decision, latency)
	}
}

func (obs Observers) PredictionRejected(reason string) {
	for _, o := range obs {
		o.PredictionRejected(reason)
	}
}

func (obs Observers) ModelInstalled(info Info) {
	for _, o := range obs {
		o.ModelInstalled(info)
	}
}

// Info describes the installed model.
type Info struct {
	Trained     bool                       `json:"trained"`
	Version     string                     `json:"version,omitempty"`
	TrainedAt   time.Time                  `json:"trained_at"`
	Features    []string                   `json:"features"`
	Performance training.PerformanceReport `json:"performance"`
	Bias        fairness.BiasReport        `json:"bias"`
}

// state is one immutable trained model. A new training run or a load
// replaces it wholesale.
type state struct {
	ensemble    *ml.Ensemble
	performance training.PerformanceReport
	bias        fairness.BiasReport
	importance  training.ImportanceTable
	version     string
	trainedAt   time.Time
	baseline    *drift.Baseline
	monitor     *drift.Monitor
}

// Model is safe for concurrent use. Readers always see either no model or a
// completely trained one.
type Model struct {
	cfg           training.Config
	logger        zerolog.Logger
	observer      Observer
	trainObserver training.Observer
	auditObserver fairness.Observer
	driftCfg      drift.Config
	driftObserver drift.Observer

	current atomic.Pointer[state]
}

// Option configures a Model.
type Option func(*Model)

// WithConfig sets the training configuration.
func WithConfig(cfg training.Config) Option {
	return func(m *Model) { m.cfg = cfg }
}

// WithLogger sets the logger shared by the model, trainer and auditor.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// WithObserver registers an inference observer.
func WithObserver(o Observer) Option {
	return func(m *Model) { m.observer = o }
}

// WithTrainingObserver registers a training outcome observer.
func WithTrainingObserver(o training.Observer) Option {
	return func(m *Model) { m.trainObserver = o }
}

// WithAuditObserver registers a bias audit observer.
func WithAuditObserver(o fairness.Observer) Option {
	return func(m *Model) { m.auditObserver = o }
}

// WithDriftConfig sets the input drift monitor settings.
func WithDriftConfig(cfg drift.Config) Option {
	return func(m *Model) { m.driftCfg = cfg }
}

// WithDriftObserver registers an observer for periodic drift checks.
func WithDriftObserver(o drift.Observer) Option {
	return func(m *Model) { m.driftObserver = o }
}

// New returns an untrained model.
func New(opts ...Option) *Model {
	m := &Model{
		cfg:      training.DefaultConfig(),
		driftCfg: drift.DefaultConfig(),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Train fits a new model on records and installs it, replacing any previous
// one. On error the previously installed model stays in place.
func (m *Model) Train(ctx context.Context, records []features.Record) error {
	opts := []training.Option{training.WithLogger(m.logger)}
	if m.trainObserver != nil {
		opts = append(opts, training.WithObserver(m.trainObserver))
	}
	if m.auditObserver != nil {
		opts = append(opts, training.WithAuditObserver(m.auditObserver))
	}

	res, err := training.NewTrainer(m.cfg, opts...).Train(ctx, records)
	if err != nil {
		return err
	}

	m.install(&state{
		ensemble:    res.Ensemble,
		performance: res.Performance,
		bias:        res.Bias,
		importance:  res.Importance,
		baseline:    res.Baseline,
		version:     uuid.NewString(),
		trainedAt:   time.Now().UTC(),
	})
	return nil
}

// install publishes st with a fresh drift window. Observers are notified
// before st starts serving.
func (m *Model) install(st *state) {
	if st.baseline != nil {
		opts := []drift.Option{drift.WithLogger(m.logger)}
		if m.driftObserver != nil {
			opts = append(opts, drift.WithObserver(m.driftObserver))
		}
		st.monitor = drift.NewMonitor(st.baseline, m.driftCfg, opts...)
	}
	info := st.info()
	if m.observer != nil {
		m.observer.ModelInstalled(info)
	}
	m.current.Store(st)
	m.logger.Info().
		Str("version", info.Version).
		Float64("roc_auc", info.Performance.ROCAUC).
		Msg("credit model installed")
}

// Trained reports whether a model is installed.
func (m *Model) Trained() bool {
	return m.current.Load() != nil
}

// PredictProbability returns the fused approval probability for values, which
// must follow the feature schema order.
func (m *Model) PredictProbability(values []float64) (float64, error) {
	_, p, err := m.predict(values)
	return p, err
}

// Explain returns the decision, confidence and top contributing factors for
// values.
func (m *Model) Explain(values []float64) (explain.Result, error) {
	start := time.Now()
	st, p, err := m.predict(values)
	if err != nil {
		return explain.Result{}, err
	}

	res := explain.Explain(p, values, st.importance)
	if m.observer != nil {
		m.observer.PredictionServed(p, res.Decision, time.Since(start))
	}
	return res, nil
}

func (m *Model) predict(values []float64) (*state, float64, error) {
	st := m.current.Load()
	if st == nil {
		m.reject(ReasonNotTrained)
		return nil, 0, fmt.Errorf("predict: %w", ml.ErrNotTrained)
	}
	if len(values) != features.Count {
		m.reject(ReasonSchemaMismatch)
		return nil, 0, &ml.SchemaMismatchError{Got: len(values), Want: features.Count}
	}
	if err := ml.CheckFinite(values); err != nil {
		m.reject(ReasonInvalidInput)
		return nil, 0, err
	}

	p, err := st.ensemble.PredictProbability(values)
	if err != nil {
		return nil, 0, err
	}
	if st.monitor != nil {
		st.monitor.Observe(values)
	}
	return st, p, nil
}

func (m *Model) reject(reason string) {
	if m.observer != nil {
		m.observer.PredictionRejected(reason)
	}
}

// Performance returns the held-out metrics of the installed model, or the
// zero report before training.
func (m *Model) Performance() training.PerformanceReport {
	if st := m.current.Load(); st != nil {
		return st.performance
	}
	return training.PerformanceReport{}
}

// Bias returns the bias report of the installed model, or the zero report
// before training.
func (m *Model) Bias() fairness.BiasReport {
	if st := m.current.Load(); st != nil {
		return st.bias
	}
	return fairness.BiasReport{}
}

// FeatureImportance returns a copy of the installed model's importance table,
// sorted highest first. It is empty before training.
func (m *Model) FeatureImportance() training.ImportanceTable {
	st := m.current.Load()
	if st == nil {
		return training.ImportanceTable{}
	}
	out := make(training.ImportanceTable, len(st.importance))
	copy(out, st.importance)
	return out
}

// Drift compares the applicants scored since the model was installed with its
// training population.
func (m *Model) Drift() (drift.Report, error) {
	st := m.current.Load()
	if st == nil {
		return drift.Report{}, fmt.Errorf("drift: %w", ml.ErrNotTrained)
	}
	if st.monitor == nil {
		return drift.Report{}, ErrNoBaseline
	}
	return st.monitor.Report(), nil
}

// Info describes the installed model.
func (m *Model) Info() Info {
	if st := m.current.Load(); st != nil {
		return st.info()
	}
	return Info{Features: schema()}
}

func (st *state) info() Info {
	return Info{
		Trained:     true,
		Version:     st.version,
		TrainedAt:   st.trainedAt,
		Features:    schema(),
		Performance: st.performance,
		Bias:        st.bias,
	}
}

// schema returns a copy of the feature names in training order.
func schema() []string {
	return slices.Clone(features.Names[:])
}
