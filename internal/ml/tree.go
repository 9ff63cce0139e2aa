package ml

import (
	"math/rand/v2"
	"slices"
	"sort"
)

// defaultMaxBins bounds the number of split candidates per feature.
const defaultMaxBins = 64

// Node is one node of a binary regression tree. Rows with
// x[Feature] <= Threshold go Left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a fitted CART tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// Predict returns the value of the leaf x falls into.
func (t *Tree) Predict(x []float64) float64 {
	return t.Nodes[t.leaf(x)].Value
}

// binner holds per-feature split candidates and the bin code of every
// training row. A row's code for feature f is the index of the first edge
// that is >= its value, so x <= edges[f][b] exactly when code <= b.
type binner struct {
	edges [][]float64
	codes [][]uint16
}

func newBinner(X [][]float64, maxBins int) *binner {
	n := len(X)
	width := len(X[0])
	b := &binner{
		edges: make([][]float64, width),
		codes: make([][]uint16, width),
	}

	col := make([]float64, n)
	for f := 0; f < width; f++ {
		for i, row := range X {
			col[i] = row[f]
		}
		sorted := slices.Clone(col)
		slices.Sort(sorted)
		b.edges[f] = splitCandidates(sorted, maxBins)

		codes := make([]uint16, n)
		for i, v := range col {
			codes[i] = uint16(sort.SearchFloat64s(b.edges[f], v))
		}
		b.codes[f] = codes
	}
	return b
}

// splitCandidates picks up to maxBins thresholds from sorted values. The
// largest value is never a candidate since it would leave the right side empty.
func splitCandidates(sorted []float64, maxBins int) []float64 {
	unique := slices.Compact(slices.Clone(sorted))
	if len(unique) <= 1 {
		return nil
	}
	if len(unique)-1 <= maxBins {
		return unique[:len(unique)-1]
	}

	top := sorted[len(sorted)-1]
	edges := make([]float64, 0, maxBins)
	for k := 1; k <= maxBins; k++ {
		v := sorted[k*len(sorted)/(maxBins+1)]
		if v >= top {
			break
		}
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

type treeConfig struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
}

// treeBuilder grows a variance-reduction tree over integer row indices. With
// 0/1 targets the variance criterion equals half the Gini impurity, so the
// same builder serves classification and gradient trees.
type treeBuilder struct {
	cfg        treeConfig
	bins       *binner
	target     []float64
	rng        *rand.Rand
	nodes      []Node
	importance []float64
	counts     []float64
	sums       []float64
}

func newTreeBuilder(cfg treeConfig, bins *binner, target []float64, rng *rand.Rand) *treeBuilder {
	maxEdges := 0
	for _, e := range bins.edges {
		if len(e) > maxEdges {
			maxEdges = len(e)
		}
	}
	if cfg.minSamplesLeaf < 1 {
		cfg.minSamplesLeaf = 1
	}
	return &treeBuilder{
		cfg:        cfg,
		bins:       bins,
		target:     target,
		rng:        rng,
		importance: make([]float64, len(bins.edges)),
		counts:     make([]float64, maxEdges+1),
		sums:       make([]float64, maxEdges+1),
	}
}

// fit grows a tree over idx. The returned importances are normalized to sum
// to 1 (all zero for a single-leaf tree).
func (b *treeBuilder) fit(idx []int) (Tree, []float64) {
	b.nodes = b.nodes[:0]
	for i := range b.importance {
		b.importance[i] = 0
	}
	b.grow(idx, 0)

	imp := slices.Clone(b.importance)
	normalize(imp)
	return Tree{Nodes: slices.Clone(b.nodes)}, imp
}

func (b *treeBuilder) candidateFeatures() []int {
	width := len(b.bins.edges)
	if b.cfg.maxFeatures <= 0 || b.cfg.maxFeatures >= width || b.rng == nil {
		all := make([]int, width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(width)[:b.cfg.maxFeatures]
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	n := float64(len(idx))
	var sum float64
	for _, i := range idx {
		sum += b.target[i]
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: sum / n})

	minLeaf := float64(b.cfg.minSamplesLeaf)
	if depth >= b.cfg.maxDepth || n < 2*minLeaf {
		return id
	}

	parent := sum * sum / n
	// Gains below this are rounding noise on a pure node.
	bestFeature, bestBin, bestGain := -1, 0, 1e-10*(1+parent)

	for _, f := range b.candidateFeatures() {
		edges := b.bins.edges[f]
		if len(edges) == 0 {
			continue
		}
		bins := len(edges) + 1
		for k := 0; k < bins; k++ {
			b.counts[k], b.sums[k] = 0, 0
		}
		codes := b.bins.codes[f]
		for _, i := range idx {
			c := codes[i]
			b.counts[c]++
			b.sums[c] += b.target[i]
		}

		var lc, ls float64
		for k := 0; k < bins-1; k++ {
			lc += b.counts[k]
			ls += b.sums[k]
			rc := n - lc
			if lc < minLeaf || rc < minLeaf {
				continue
			}
			rs := sum - ls
			gain := ls*ls/lc + rs*rs/rc - parent
			if gain > bestGain {
				bestFeature, bestBin, bestGain = f, k, gain
			}
		}
	}

	if bestFeature < 0 {
		return id
	}
	b.importance[bestFeature] += bestGain

	codes := b.bins.codes[bestFeature]
	cut := uint16(bestBin)
	m := 0
	for j := range idx {
		if codes[idx[j]] <= cut {
			idx[m], idx[j] = idx[j], idx[m]
			m++
		}
	}

	left := b.grow(idx[:m], depth+1)
	right := b.grow(idx[m:], depth+1)

	b.nodes[id] = Node{
		Feature:   bestFeature,
		Threshold: b.bins.edges[bestFeature][bestBin],
		Left:      left,
		Right:     right,
		Value:     sum / n,
	}
	return id
}
