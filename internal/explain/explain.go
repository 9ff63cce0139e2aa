// Package explain turns a fused approval probability and the applicant's raw
// feature values into a decision band and a ranked list of the factors that
// contributed most to it.
package explain

import (
	"math"
	"sort"

	"credit-engine/internal/features"
)

// Decision is the credit outcome for an applicant.
type Decision string

const (
	Approved    Decision = "APPROVED"
	Conditional Decision = "CONDITIONAL"
	Denied      Decision = "DENIED"
)

// Confidence is a coarse label attached to a decision.
type Confidence string

const (
	High   Confidence = "High"
	Medium Confidence = "Medium"
	Low    Confidence = "Low"
)

const (
	// DefaultImportance is used for features missing from the importance table.
	DefaultImportance = 0.1

	// TopFactors is the number of contributions surfaced in an explanation.
	TopFactors = 5

	// incomeBase and incomeLogScale normalize monetary values as
	// ln(v/incomeBase)/incomeLogScale.
	incomeBase     = 1000.0
	incomeLogScale = 3.0
)

type band struct {
	min        float64
	decision   Decision
	confidence Confidence
}

// bands are ordered by descending lower bound; the first match wins.
var bands = []band{
	{0.70, Approved, High},
	{0.55, Approved, Medium},
	{0.40, Conditional, Medium},
	{0.25, Conditional, Low},
}

// Band maps an approval probability to its decision and confidence.
func Band(p float64) (Decision, Confidence) {
	for _, b := range bands {
		if p >= b.min {
			return b.decision, b.confidence
		}
	}
	return Denied, High
}

// Factor is one feature's contribution to a decision.
type Factor struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Impact     float64 `json:"impact"`
	Importance float64 `json:"importance"`
}

// Result is the explanation returned for a single credit decision.
type Result struct {
	Decision            Decision   `json:"decision"`
	Confidence          Confidence `json:"confidence"`
	RiskScore           float64    `json:"risk_score"`
	ApprovalProbability float64    `json:"approval_probability"`
	KeyFactors          []Factor   `json:"key_factors"`
}

// ImportanceSource looks up the trained importance of a feature.
type ImportanceSource interface {
	Importance(name string) (float64, bool)
}

// Normalize maps a raw feature value onto a roughly 0-1 scale according to
// the feature's kind. Upper values are clamped to 1 except for bounded
// features, which are scaled linearly against their domain.
func Normalize(name string, value float64) float64 {
	switch features.KindOf(name) {
	case features.Bounded:
		return (value - features.CreditScoreMin) / (features.CreditScoreMax - features.CreditScoreMin)
	case features.Monetary:
		// Non-positive amounts are floored to one unit to keep the log finite.
		if value <= 0 {
			value = 1
		}
		return math.Min(math.Log(value/incomeBase)/incomeLogScale, 1.0)
	default:
		return math.Min(value, 1.0)
	}
}

// Contributions scores every schema feature present in values and returns
// them sorted by impact, highest first. Schema and values are aligned by
// position over the shorter of the two.
func Contributions(values []float64, importances ImportanceSource) []Factor {
	n := min(len(values), len(features.Names))
	factors := make([]Factor, 0, n)

	for i := 0; i < n; i++ {
		name := features.Names[i]
		importance := DefaultImportance
		if importances != nil {
			if w, ok := importances.Importance(name); ok {
				importance = w
			}
		}

		factors = append(factors, Factor{
			Name:       features.Label(name),
			Value:      values[i],
			Impact:     importance * Normalize(name, values[i]),
			Importance: importance,
		})
	}

	sort.SliceStable(factors, func(a, b int) bool {
		return factors[a].Impact > factors[b].Impact
	})
	return factors
}

// Explain builds the explanation for approval probability p.
func Explain(p float64, values []float64, importances ImportanceSource) Result {
	decision, confidence := Band(p)

	factors := Contributions(values, importances)
	if len(factors) > TopFactors {
		factors = factors[:TopFactors]
	}

	return Result{
		Decision:            decision,
		Confidence:          confidence,
		RiskScore:           1 - p,
		ApprovalProbability: p,
		KeyFactors:          factors,
	}
}
