package training

import (
	"fmt"
	"sort"
)

// FeatureWeight is one row of an importance table.
type FeatureWeight struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ImportanceTable lists feature weights sorted by importance, highest first.
// A table is rebuilt from scratch on every training run.
type ImportanceTable []FeatureWeight

// NewImportanceTable pairs names with weights and sorts the result. Ties keep
// schema order.
func NewImportanceTable(names []string, weights []float64) (ImportanceTable, error) {
	if len(names) != len(weights) {
		return nil, fmt.Errorf("training: %d feature names for %d importances", len(names), len(weights))
	}

	table := make(ImportanceTable, len(names))
	for i, name := range names {
		table[i] = FeatureWeight{Feature: name, Importance: weights[i]}
	}
	sort.SliceStable(table, func(a, b int) bool {
		return table[a].Importance > table[b].Importance
	})
	return table, nil
}

// Importance returns the weight recorded for name.
func (t ImportanceTable) Importance(name string) (float64, bool) {
	for _, w := range t {
		if w.Feature == name {
			return w.Importance, true
		}
	}
	return 0, false
}

// Top returns the names of the n most important features.
func (t ImportanceTable) Top(n int) []string {
	n = max(0, min(n, len(t)))
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = t[i].Feature
	}
	return names
}
