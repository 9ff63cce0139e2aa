// Package features defines the applicant feature schema shared by training and
// inference, the demographic attributes that are kept out of the model, and the
// human-readable labels used in explanations.
package features

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Count is the number of model input features.
const Count = 10

// Model input features, in schema order.
const (
	CreditScore              = "credit_score"
	MonthlyIncome            = "monthly_income"
	TotalAlternativeIncome   = "total_alternative_income"
	PaymentReliabilityScore  = "payment_reliability_score"
	CashFlowConsistency      = "cash_flow_consistency"
	PlatformRatings          = "platform_ratings"
	CommunityTrustScore      = "community_trust_score"
	FinancialEngagementScore = "financial_engagement_score"
	IncomeDiversification    = "income_diversification"
	BusinessHealth           = "business_health"
)

// Names is the fixed training feature order. Position i of every Vector and of
// every inference slice refers to Names[i].
var Names = [Count]string{
	CreditScore,
	MonthlyIncome,
	TotalAlternativeIncome,
	PaymentReliabilityScore,
	CashFlowConsistency,
	PlatformRatings,
	CommunityTrustScore,
	FinancialEngagementScore,
	IncomeDiversification,
	BusinessHealth,
}

// DemographicFields are recorded next to each applicant for bias auditing and
// never enter the model.
var DemographicFields = [3]string{"race", "gender", "age"}

// Vector holds one applicant's model inputs in schema order.
type Vector [Count]float64

// Slice returns a copy of v as a slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Demographics are protected attributes used only by the bias auditor.
type Demographics struct {
	Race   int `json:"race"`
	Gender int `json:"gender"`
	Age    int `json:"age"`
}

// Record is one labelled applicant. Features and Demographics are separate
// fields so the demographic attributes cannot leak into the training matrix.
type Record struct {
	Features     Vector       `json:"features"`
	Approved     bool         `json:"approved"`
	Demographics Demographics `json:"demographics"`
}

// Kind describes how a raw feature value is normalized for explanations.
type Kind int

const (
	// Ratio features are already expressed on a 0-1 scale.
	Ratio Kind = iota
	// Bounded features live inside a known numeric domain.
	Bounded
	// Monetary features are amounts of money, normalized on a log scale.
	Monetary
)

// Domain bounds for bounded features.
const (
	CreditScoreMin = 300.0
	CreditScoreMax = 850.0
)

// KindOf returns the normalization kind for a feature name. Unknown names are
// treated as ratios.
func KindOf(name string) Kind {
	switch name {
	case CreditScore:
		return Bounded
	case MonthlyIncome, TotalAlternativeIncome:
		return Monetary
	default:
		return Ratio
	}
}

// Index returns the schema position of name.
func Index(name string) (int, bool) {
	for i, n := range Names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

var labels = map[string]string{
	CreditScore:              "Traditional Credit Score",
	MonthlyIncome:            "Monthly Income",
	TotalAlternativeIncome:   "Alternative Income Sources",
	PaymentReliabilityScore:  "Payment History",
	CashFlowConsistency:      "Business Cash Flow Stability",
	PlatformRatings:          "Gig Platform Performance",
	CommunityTrustScore:      "Community Trust",
	FinancialEngagementScore: "Financial Education",
	IncomeDiversification:    "Income Diversification",
	BusinessHealth:           "Overall Business Health",
}

var titler = cases.Title(language.English)

// Label returns the human-readable name of a feature. Names missing from the
// translation table get separators replaced by spaces and are title-cased.
func Label(name string) string {
	if l, ok := labels[name]; ok {
		return l
	}
	spaced := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return titler.String(spaced)
}
