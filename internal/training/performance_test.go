package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	labels := []bool{false, false, true, true}
	probs := []float64{0.1, 0.6, 0.35, 0.8}

	report, err := Evaluate(labels, probs, 0.5)
	require.NoError(t, err)

	// predictions: F T F T -> tp=1 fp=1 fn=1 tn=1
	assert.InDelta(t, 0.5, report.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, report.Precision, 1e-12)
	assert.InDelta(t, 0.5, report.Recall, 1e-12)
	assert.InDelta(t, 0.5, report.F1Score, 1e-12)
	assert.InDelta(t, 0.75, report.ROCAUC, 1e-12)
	assert.Equal(t, 4, report.TestSamples)
}

func TestEvaluate_ROCAUCExtremes(t *testing.T) {
	labels := []bool{false, false, false, true, true, true}

	perfect, err := Evaluate(labels, []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, perfect.ROCAUC, 1e-12)
	assert.Equal(t, 1.0, perfect.Accuracy)

	inverted, err := Evaluate(labels, []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, inverted.ROCAUC, 1e-12)

	constant, err := Evaluate(labels, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, constant.ROCAUC, 1e-12)
}

func TestEvaluate_NoPositivePredictions(t *testing.T) {
	report, err := Evaluate([]bool{true, false}, []float64{0.1, 0.2}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Precision)
	assert.Equal(t, 0.0, report.Recall)
	assert.Equal(t, 0.0, report.F1Score)
}

func TestEvaluate_SingleClass(t *testing.T) {
	report, err := Evaluate([]bool{true, true}, []float64{0.9, 0.2}, 0.5)
	assert.ErrorIs(t, err, errUndefinedAUC)
	assert.Equal(t, 0.5, report.ROCAUC)
	assert.Equal(t, 0.5, report.Accuracy)
}

func TestEvaluate_Invalid(t *testing.T) {
	_, err := Evaluate(nil, nil, 0.5)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = Evaluate([]bool{true}, []float64{0.1, 0.2}, 0.5)
	assert.Error(t, err)
}

func TestImportanceTable(t *testing.T) {
	table, err := NewImportanceTable(
		[]string{"a", "b", "c", "d"},
		[]float64{0.1, 0.4, 0.1, 0.4},
	)
	require.NoError(t, err)

	assert.Equal(t, ImportanceTable{
		{Feature: "b", Importance: 0.4},
		{Feature: "d", Importance: 0.4},
		{Feature: "a", Importance: 0.1},
		{Feature: "c", Importance: 0.1},
	}, table)

	w, ok := table.Importance("d")
	assert.True(t, ok)
	assert.Equal(t, 0.4, w)
	_, ok = table.Importance("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "d"}, table.Top(2))
	assert.Len(t, table.Top(10), 4)
	assert.Empty(t, table.Top(-1))

	_, err = NewImportanceTable([]string{"a"}, []float64{0.5, 0.5})
	assert.Error(t, err)
}
