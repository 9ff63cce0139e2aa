package metrics

import (
	"strconv"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/fairness"
	"credit-engine/internal/scoring"
	"credit-engine/internal/server"
	"credit-engine/internal/training"
)

var (
	_ scoring.Observer  = (*Metrics)(nil)
	_ training.Observer = (*Metrics)(nil)
	_ fairness.Observer = (*Metrics)(nil)
	_ server.Observer   = (*Metrics)(nil)
	_ drift.Observer    = (*Metrics)(nil)
)

// Training run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func (m *Metrics) PredictionServed(p float64, decision explain.Decision, latency time.Duration) {
	m.Predictions.WithLabelValues(string(decision)).Inc()
	m.ApprovalProbability.Observe(p)
	m.PredictionLatency.Observe(latency.Seconds())
}

func (m *Metrics) PredictionRejected(reason string) {
	m.PredictionRejections.WithLabelValues(reason).Inc()
}

// ModelInstalled publishes the reports of a newly installed model.
func (m *Metrics) ModelInstalled(info scoring.Info) {
	m.ModelInstalls.Inc()
	if !info.TrainedAt.IsZero() {
		m.ModelTrainedAt.Set(float64(info.TrainedAt.Unix()))
	}
	m.ModelROCAUC.Set(info.Performance.ROCAUC)
	m.ModelAccuracy.Set(info.Performance.Accuracy)
	m.setBias(info.Bias)
}

func (m *Metrics) TrainingCompleted(duration time.Duration, _ training.PerformanceReport) {
	m.TrainingRuns.WithLabelValues(OutcomeSuccess).Inc()
	m.TrainingDuration.Observe(duration.Seconds())
}

func (m *Metrics) TrainingFailed(error) {
	m.TrainingRuns.WithLabelValues(OutcomeFailure).Inc()
}

func (m *Metrics) BiasAuditCompleted(report fairness.BiasReport) {
	m.setBias(report)
}

// BiasAuditFailed counts the fallback and publishes the neutral values the
// auditor reports in its place.
func (m *Metrics) BiasAuditFailed(error) {
	m.BiasAuditFallbacks.Inc()
	m.setBias(fairness.NeutralReport())
}

func (m *Metrics) setBias(report fairness.BiasReport) {
	m.DisparateImpact.Set(report.DisparateImpact)
	m.StatisticalParityDifference.Set(report.StatisticalParityDifference)
	m.BiasGroupsAnalyzed.Set(float64(report.DemographicGroupsAnalyzed))
}

func (m *Metrics) RequestServed(handler string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(handler).Observe(latency.Seconds())
}

func (m *Metrics) DriftMeasured(report drift.Report) {
	m.DriftWindowSample.Set(float64(report.Samples))
	m.DriftedFeatures.Set(float64(len(report.Drifted)))
	for _, fd := range report.Features {
		m.DriftPSI.WithLabelValues(fd.Feature).Set(fd.PSI)
	}
}
