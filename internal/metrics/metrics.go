// Package metrics provides Prometheus metrics collection for the credit engine.
// It defines the inference, training and fairness metrics exposed via the
// Prometheus metrics endpoint, and implements the observer interfaces of the
// scoring, training, fairness, drift and server packages so those packages never depend on
// Prometheus directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the credit engine.
type Metrics struct {
	// Inference metrics
	Predictions          *prometheus.CounterVec // Explanations served, by decision
	PredictionRejections *prometheus.CounterVec // Requests rejected, by reason
	PredictionLatency    prometheus.Histogram   // Time to score and explain one applicant
	ApprovalProbability  prometheus.Histogram   // Distribution of fused approval probabilities

	// Training metrics
	TrainingRuns     *prometheus.CounterVec // Training runs, by outcome
	TrainingDuration prometheus.Histogram   // Wall time of successful training runs
	ModelInstalls    prometheus.Counter     // Models installed by training or loading
	ModelTrainedAt   prometheus.Gauge       // Unix time the installed model was trained
	ModelROCAUC      prometheus.Gauge       // Held-out ROC-AUC of the installed model
	ModelAccuracy    prometheus.Gauge       // Held-out accuracy of the installed model

	// Fairness metrics
	DisparateImpact             prometheus.Gauge   // Latest disparate impact ratio
	StatisticalParityDifference prometheus.Gauge   // Latest statistical parity difference
	BiasGroupsAnalyzed          prometheus.Gauge   // Race groups large enough to audit
	BiasAuditFallbacks          prometheus.Counter // Audits that fell back to neutral values

	// Drift metrics
	DriftPSI          *prometheus.GaugeVec // PSI of each feature over the drift window
	DriftedFeatures   prometheus.Gauge     // Features whose PSI exceeds the threshold
	DriftWindowSample prometheus.Gauge     // Applicants in the drift window

	// API metrics
	HTTPRequests        *prometheus.CounterVec   // API requests, by handler and status code
	HTTPRequestDuration *prometheus.HistogramVec // API request latency, by handler
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_predictions_total",
			Help: "Total number of credit decisions served, by decision",
		}, []string{"decision"}),
		PredictionRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_prediction_rejections_total",
			Help: "Total number of scoring requests rejected, by reason",
		}, []string{"reason"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_prediction_latency_seconds",
			Help:    "Latency of scoring and explaining one applicant in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ApprovalProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_approval_probability",
			Help:    "Distribution of fused approval probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_training_runs_total",
			Help: "Total number of training runs, by outcome",
		}, []string{"outcome"}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_training_duration_seconds",
			Help:    "Wall time of successful training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ModelInstalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_model_installs_total",
			Help: "Total number of models installed by training or loading",
		}),
		ModelTrainedAt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_model_trained_timestamp_seconds",
			Help: "Unix time at which the installed model was trained",
		}),
		ModelROCAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_model_roc_auc",
			Help: "Held-out ROC-AUC of the installed model",
		}),
		ModelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_model_accuracy",
			Help: "Held-out accuracy of the installed model",
		}),
		DisparateImpact: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_bias_disparate_impact",
			Help: "Disparate impact ratio across race groups from the latest audit",
		}),
		StatisticalParityDifference: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_bias_statistical_parity_difference",
			Help: "Statistical parity difference across gender groups from the latest audit",
		}),
		BiasGroupsAnalyzed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_bias_groups_analyzed",
			Help: "Number of race groups large enough to be audited",
		}),
		BiasAuditFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_bias_audit_fallbacks_total",
			Help: "Total number of bias audits that fell back to neutral values",
		}),
		DriftPSI: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_drift_psi",
			Help: "Population stability index of each feature over the drift window",
		}, []string{"feature"}),
		DriftedFeatures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_drift_features_drifted",
			Help: "Number of features whose PSI exceeds the drift threshold",
		}),
		DriftWindowSample: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_drift_window_samples",
			Help: "Number of scored applicants in the drift window",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_http_requests_total",
			Help: "Total number of API requests, by handler and status code",
		}, []string{"handler", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_http_request_duration_seconds",
			Help:    "Latency of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}
