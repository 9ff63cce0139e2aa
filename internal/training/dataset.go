package training

import (
	"errors"
	"math"

	"credit-engine/internal/features"
)

// ErrEmptyDataset is returned when there is nothing to train on.
var ErrEmptyDataset = errors.New("training: dataset is empty")

// ApprovalCutoff is the noisy approval score above which a synthetic applicant
// is labelled approved.
const ApprovalCutoff = 0.6

// ApprovalScore is the weighted blend of traditional and alternative signals
// that drives synthetic labels. Weights: credit 30%, income 25%, payment
// history 20%, community trust 10%, financial education 10%, cash flow 5%.
func ApprovalScore(v features.Vector) float64 {
	return (v[0]-features.CreditScoreMin)/(features.CreditScoreMax-features.CreditScoreMin)*0.30 +
		math.Log(v[1]/1000)/3*0.25 +
		v[3]*0.20 +
		v[6]/3*0.10 +
		v[7]*0.10 +
		v[4]*0.05
}

// GenerateDataset builds n synthetic applicants with both traditional and
// alternative credit signals. The same seed always yields the same records.
func GenerateDataset(n int, seed uint64) ([]features.Record, error) {
	if n <= 0 {
		return nil, ErrEmptyDataset
	}

	s := newSampler(seed)
	records := make([]features.Record, n)
	for i := range records {
		records[i] = generateApplicant(s)
	}
	return records, nil
}

func generateApplicant(s *sampler) features.Record {
	creditScore := clip(s.normal(650, 100), features.CreditScoreMin, features.CreditScoreMax)
	monthlyIncome := clip(s.lognormal(8, 0.5), 1000, 15000)

	businessRevenue := clip(s.exponential(800), 0, 5000)
	gigRatio := s.beta(2, 5)
	alternativeIncome := businessRevenue + monthlyIncome*gigRatio

	rentOnTime := s.beta(8, 2)
	utilitiesOnTime := s.beta(9, 1.5)
	paymentReliability := (rentOnTime + utilitiesOnTime) / 2

	cashFlow := s.beta(3, 3)
	platformRatings := clip(s.normal(4.2, 0.6), 1, 5)

	endorsements := s.poisson(2)
	vouches := s.poisson(3)
	communityTrust := math.Log1p(float64(endorsements + vouches))

	education := min(s.poisson(4), 10)
	engagement := float64(education) / 10

	diversification := 1 - gigRatio

	jitter := s.uniform(0.8, 1.2)
	var businessHealth float64
	if businessRevenue > 0 {
		businessHealth = cashFlow * jitter
	}

	v := features.Vector{
		creditScore,
		monthlyIncome,
		alternativeIncome,
		paymentReliability,
		cashFlow,
		platformRatings,
		communityTrust,
		engagement,
		diversification,
		businessHealth,
	}

	score := ApprovalScore(v) + s.normal(0, 0.1)

	return features.Record{
		Features: v,
		Approved: score > ApprovalCutoff,
		Demographics: features.Demographics{
			Race:   s.choice(1, 7),
			Gender: s.choice(1, 3),
			Age:    int(clip(s.normal(35, 12), 18, 75)),
		},
	}
}

// ApprovalRate returns the share of approved records.
func ApprovalRate(records []features.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	var approved int
	for _, r := range records {
		if r.Approved {
			approved++
		}
	}
	return float64(approved) / float64(len(records))
}
