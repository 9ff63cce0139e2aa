// Package fairness audits held-out credit decisions for demographic bias.
//
// The auditor is diagnostic: Audit reports failures as *AuditError, and
// AuditOrNeutral collapses any failure into the neutral report so a fairness
// problem can never block a training run.
package fairness

import (
	"fmt"
	"math"

	"credit-engine/internal/features"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultThreshold binarizes probabilities into approve/deny predictions.
	DefaultThreshold = 0.5

	// DefaultMinGroupSize is the record count a group must exceed to be analyzed.
	DefaultMinGroupSize = 10

	// EqualOpportunityPlaceholder is reported in place of a computed equal
	// opportunity difference. It is not a statistic.
	EqualOpportunityPlaceholder = 0.05
)

// BiasReport holds the fairness metrics of one training run.
type BiasReport struct {
	DisparateImpact             float64 `json:"disparate_impact"`
	StatisticalParityDifference float64 `json:"statistical_parity_difference"`
	EqualOpportunityDifference  float64 `json:"equal_opportunity_difference"`
	// EqualOpportunityComputed is false while EqualOpportunityDifference is a
	// placeholder value.
	EqualOpportunityComputed  bool            `json:"equal_opportunity_computed"`
	DemographicGroupsAnalyzed int             `json:"demographic_groups_analyzed"`
	GroupApprovalRates        map[int]float64 `json:"group_approval_rates,omitempty"`
}

// NeutralReport is the "no finding" report used when auditing fails.
func NeutralReport() BiasReport {
	return BiasReport{
		DisparateImpact:             1.0,
		StatisticalParityDifference: 0.0,
		EqualOpportunityDifference:  0.0,
		DemographicGroupsAnalyzed:   0,
	}
}

// AuditError describes why bias metrics could not be computed.
type AuditError struct {
	Reason string
}

func (e *AuditError) Error() string {
	return "bias audit failed: " + e.Reason
}

// Observer is notified about audit outcomes.
type Observer interface {
	BiasAuditCompleted(report BiasReport)
	BiasAuditFailed(err error)
}

// Auditor computes fairness metrics over held-out predictions.
type Auditor struct {
	threshold    float64
	minGroupSize int
	logger       zerolog.Logger
	observer     Observer
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithThreshold sets the probability above which a prediction is an approval.
func WithThreshold(threshold float64) Option {
	return func(a *Auditor) { a.threshold = threshold }
}

// WithMinGroupSize sets the record count a group must exceed to qualify.
func WithMinGroupSize(n int) Option {
	return func(a *Auditor) { a.minGroupSize = n }
}

// WithLogger sets the logger used for audit warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Auditor) { a.logger = logger }
}

// WithObserver registers an observer for audit outcomes.
func WithObserver(o Observer) Option {
	return func(a *Auditor) { a.observer = o }
}

// NewAuditor creates an auditor with the default threshold and group size.
func NewAuditor(opts ...Option) *Auditor {
	a := &Auditor{
		threshold:    DefaultThreshold,
		minGroupSize: DefaultMinGroupSize,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit computes disparate impact across race groups and statistical parity
// difference across gender groups. demographics[i] must describe the same
// held-out record as probabilities[i].
func (a *Auditor) Audit(demographics []features.Demographics, probabilities []float64) (BiasReport, error) {
	if len(demographics) == 0 || len(probabilities) == 0 {
		return BiasReport{}, &AuditError{Reason: "no held-out records"}
	}
	if len(demographics) != len(probabilities) {
		return BiasReport{}, &AuditError{
			Reason: fmt.Sprintf("%d demographic rows for %d predictions", len(demographics), len(probabilities)),
		}
	}

	approved := make([]bool, len(probabilities))
	var overallApproved int
	for i, p := range probabilities {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return BiasReport{}, &AuditError{Reason: fmt.Sprintf("prediction %d is not finite", i)}
		}
		approved[i] = p > a.threshold
		if approved[i] {
			overallApproved++
		}
	}
	overallRate := float64(overallApproved) / float64(len(approved))

	raceRates := a.groupRates(demographics, approved, func(d features.Demographics) int { return d.Race })
	genderRates := a.groupRates(demographics, approved, func(d features.Demographics) int { return d.Gender })

	disparateImpact := 1.0
	if len(raceRates) >= 2 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range raceRates {
			lo = math.Min(lo, r)
			hi = math.Max(hi, r)
		}
		if hi > 0 {
			disparateImpact = lo / hi
		}
	}

	var parityDiff float64
	for _, r := range genderRates {
		parityDiff = math.Max(parityDiff, math.Abs(r-overallRate))
	}

	return BiasReport{
		DisparateImpact:             disparateImpact,
		StatisticalParityDifference: parityDiff,
		EqualOpportunityDifference:  EqualOpportunityPlaceholder,
		EqualOpportunityComputed:    false,
		DemographicGroupsAnalyzed:   len(raceRates),
		GroupApprovalRates:          raceRates,
	}, nil
}

// AuditOrNeutral runs Audit and falls back to NeutralReport on any failure,
// including a panic inside the computation. Failures are logged as warnings.
func (a *Auditor) AuditOrNeutral(demographics []features.Demographics, probabilities []float64) (report BiasReport) {
	defer func() {
		if r := recover(); r != nil {
			report = a.fail(&AuditError{Reason: fmt.Sprint(r)})
		}
	}()

	report, err := a.Audit(demographics, probabilities)
	if err != nil {
		return a.fail(err)
	}

	a.logger.Info().
		Float64("disparate_impact", report.DisparateImpact).
		Float64("statistical_parity_difference", report.StatisticalParityDifference).
		Int("groups_analyzed", report.DemographicGroupsAnalyzed).
		Msg("bias metrics calculated")
	if a.observer != nil {
		a.observer.BiasAuditCompleted(report)
	}
	return report
}

func (a *Auditor) fail(err error) BiasReport {
	a.logger.Warn().Err(err).Msg("could not calculate bias metrics, reporting neutral values")
	if a.observer != nil {
		a.observer.BiasAuditFailed(err)
	}
	return NeutralReport()
}

// groupRates returns the approval rate of every group with more than
// minGroupSize records.
func (a *Auditor) groupRates(demographics []features.Demographics, approved []bool, key func(features.Demographics) int) map[int]float64 {
	counts := make(map[int]int)
	positives := make(map[int]int)
	for i, d := range demographics {
		k := key(d)
		counts[k]++
		if approved[i] {
			positives[k]++
		}
	}

	rates := make(map[int]float64)
	for k, n := range counts {
		if n > a.minGroupSize {
			rates[k] = float64(positives[k]) / float64(n)
		}
	}
	return rates
}
