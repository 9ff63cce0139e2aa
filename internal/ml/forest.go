package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ForestConfig configures a RandomForest.
type ForestConfig struct {
	Trees          int    `json:"trees" yaml:"trees"`
	MaxDepth       int    `json:"max_depth" yaml:"maxDepth"`
	MinSamplesLeaf int    `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures    int    `json:"max_features" yaml:"maxFeatures"` // 0 means sqrt(width)
	Seed           uint64 `json:"seed" yaml:"seed"`
}

// DefaultForestConfig mirrors the variance-reducing member of the ensemble:
// 100 bagged trees of depth 10.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          100,
		MaxDepth:       10,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

// RandomForest is a bagged ensemble of classification trees. Each tree is
// grown on a bootstrap sample with a random feature subset at every split, and
// the forest probability is the mean leaf positive rate.
type RandomForest struct {
	Config      ForestConfig `json:"config"`
	Width       int          `json:"width"`
	Trees       []Tree       `json:"trees"`
	Importances []float64    `json:"importances"`
}

// NewRandomForest returns an unfitted forest.
func NewRandomForest(cfg ForestConfig) *RandomForest {
	return &RandomForest{Config: cfg}
}

func (rf *RandomForest) Kind() string { return KindRandomForest }

func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	width, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("random forest: %w", err)
	}
	if rf.Config.Trees <= 0 {
		return fmt.Errorf("random forest: tree count must be positive, got %d", rf.Config.Trees)
	}
	if rf.Config.MaxDepth <= 0 {
		return fmt.Errorf("random forest: max depth must be positive, got %d", rf.Config.MaxDepth)
	}

	maxFeatures := rf.Config.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}

	target := make([]float64, len(y))
	for i, label := range y {
		target[i] = float64(label)
	}

	rng := rand.New(rand.NewPCG(rf.Config.Seed, 0x5eed))
	bins := newBinner(X, defaultMaxBins)
	builder := newTreeBuilder(treeConfig{
		maxDepth:       rf.Config.MaxDepth,
		minSamplesLeaf: rf.Config.MinSamplesLeaf,
		maxFeatures:    maxFeatures,
	}, bins, target, rng)

	n := len(X)
	trees := make([]Tree, 0, rf.Config.Trees)
	importances := make([]float64, width)
	sample := make([]int, n)

	for t := 0; t < rf.Config.Trees; t++ {
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		tree, imp := builder.fit(sample)
		trees = append(trees, tree)
		for j, v := range imp {
			importances[j] += v
		}
	}

	for j := range importances {
		importances[j] /= float64(len(trees))
	}
	normalize(importances)

	rf.Width = width
	rf.Trees = trees
	rf.Importances = importances
	return nil
}

func (rf *RandomForest) PredictProbability(x []float64) float64 {
	if len(rf.Trees) == 0 {
		return 0
	}
	var total float64
	for i := range rf.Trees {
		total += rf.Trees[i].Predict(x)
	}
	return total / float64(len(rf.Trees))
}

func (rf *RandomForest) FeatureImportances() []float64 {
	if rf.Importances == nil {
		return nil
	}
	out := make([]float64, len(rf.Importances))
	copy(out, rf.Importances)
	return out
}
