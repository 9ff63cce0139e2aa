package ml

import (
	"fmt"
	"math"
)

// BoostingConfig configures a GradientBoosting classifier.
type BoostingConfig struct {
	Rounds         int     `json:"rounds" yaml:"rounds"`
	MaxDepth       int     `json:"max_depth" yaml:"maxDepth"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	LearningRate   float64 `json:"learning_rate" yaml:"learningRate"`
}

// DefaultBoostingConfig mirrors the bias-reducing member of the ensemble:
// 100 rounds of depth-6 trees at learning rate 0.1.
func DefaultBoostingConfig() BoostingConfig {
	return BoostingConfig{
		Rounds:         100,
		MaxDepth:       6,
		MinSamplesLeaf: 1,
		LearningRate:   0.1,
	}
}

// GradientBoosting fits additive regression trees to the log-loss gradient.
// Leaf values take a single Newton step, and the probability is the sigmoid of
// the accumulated log-odds.
type GradientBoosting struct {
	Config      BoostingConfig `json:"config"`
	Width       int            `json:"width"`
	Init        float64        `json:"init"`
	Trees       []Tree         `json:"trees"`
	Importances []float64      `json:"importances"`
}

// NewGradientBoosting returns an unfitted booster.
func NewGradientBoosting(cfg BoostingConfig) *GradientBoosting {
	return &GradientBoosting{Config: cfg}
}

func (gb *GradientBoosting) Kind() string { return KindGradientBoosting }

func (gb *GradientBoosting) Fit(X [][]float64, y []int) error {
	width, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("gradient boosting: %w", err)
	}
	if gb.Config.Rounds <= 0 {
		return fmt.Errorf("gradient boosting: rounds must be positive, got %d", gb.Config.Rounds)
	}
	if gb.Config.MaxDepth <= 0 {
		return fmt.Errorf("gradient boosting: max depth must be positive, got %d", gb.Config.MaxDepth)
	}
	if gb.Config.LearningRate <= 0 || gb.Config.LearningRate > 1 {
		return fmt.Errorf("gradient boosting: learning rate must be in (0, 1], got %f", gb.Config.LearningRate)
	}

	n := len(X)
	var positives float64
	for _, label := range y {
		positives += float64(label)
	}
	prior := positives / float64(n)
	init := math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = init
	}

	bins := newBinner(X, defaultMaxBins)
	residual := make([]float64, n)
	hessian := make([]float64, n)
	builder := newTreeBuilder(treeConfig{
		maxDepth:       gb.Config.MaxDepth,
		minSamplesLeaf: gb.Config.MinSamplesLeaf,
	}, bins, residual, nil)

	trees := make([]Tree, 0, gb.Config.Rounds)
	importances := make([]float64, width)
	idx := make([]int, n)
	leaves := make([]int, n)

	for r := 0; r < gb.Config.Rounds; r++ {
		for i := range raw {
			p := sigmoid(raw[i])
			residual[i] = float64(y[i]) - p
			hessian[i] = p * (1 - p)
			idx[i] = i
		}

		tree, imp := builder.fit(idx)

		num := make([]float64, len(tree.Nodes))
		den := make([]float64, len(tree.Nodes))
		for i, row := range X {
			leaf := tree.leaf(row)
			leaves[i] = leaf
			num[leaf] += residual[i]
			den[leaf] += hessian[i]
		}
		for k := range tree.Nodes {
			if !tree.Nodes[k].Leaf {
				continue
			}
			if den[k] < 1e-12 {
				tree.Nodes[k].Value = 0
			} else {
				tree.Nodes[k].Value = num[k] / den[k]
			}
		}

		for i := range raw {
			raw[i] += gb.Config.LearningRate * tree.Nodes[leaves[i]].Value
		}

		trees = append(trees, tree)
		for j, v := range imp {
			importances[j] += v
		}
	}

	for j := range importances {
		importances[j] /= float64(len(trees))
	}
	normalize(importances)

	gb.Width = width
	gb.Init = init
	gb.Trees = trees
	gb.Importances = importances
	return nil
}

func (gb *GradientBoosting) PredictProbability(x []float64) float64 {
	if len(gb.Trees) == 0 {
		return 0
	}
	raw := gb.Init
	for i := range gb.Trees {
		raw += gb.Config.LearningRate * gb.Trees[i].Predict(x)
	}
	return sigmoid(raw)
}

func (gb *GradientBoosting) FeatureImportances() []float64 {
	if gb.Importances == nil {
		return nil
	}
	out := make([]float64, len(gb.Importances))
	copy(out, gb.Importances)
	return out
}
