package training

import (
	"math"
	"math/rand/v2"
)

// sampler draws from the distributions used by the synthetic applicant
// generator. All draws come from one seeded PCG stream, so a dataset is fully
// determined by its seed.
type sampler struct {
	r *rand.Rand
}

func newSampler(seed uint64) *sampler {
	return &sampler{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *sampler) normal(mean, sd float64) float64 {
	return mean + sd*s.r.NormFloat64()
}

func (s *sampler) lognormal(mu, sigma float64) float64 {
	return math.Exp(s.normal(mu, sigma))
}

func (s *sampler) exponential(scale float64) float64 {
	return scale * s.r.ExpFloat64()
}

func (s *sampler) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.r.Float64()
}

// choice returns an integer uniformly from [lo, hi].
func (s *sampler) choice(lo, hi int) int {
	return lo + s.r.IntN(hi-lo+1)
}

// gamma uses Marsaglia and Tsang's method. Shapes below one are boosted by
// drawing with shape+1 and scaling by U^(1/shape).
func (s *sampler) gamma(shape float64) float64 {
	if shape < 1 {
		u := s.r.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := s.r.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func (s *sampler) beta(a, b float64) float64 {
	x := s.gamma(a)
	y := s.gamma(b)
	return x / (x + y)
}

// poisson uses Knuth's multiplication method, which is exact and fast for the
// small rates the generator needs.
func (s *sampler) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := s.r.Float64()
	for p > limit {
		k++
		p *= s.r.Float64()
	}
	return k
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
