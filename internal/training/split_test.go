package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplit(t *testing.T) {
	labels := make([]bool, 1000)
	for i := range labels {
		labels[i] = i%4 == 0 // 250 positives
	}

	train, test, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 200)
	assert.Len(t, train, 800)

	seen := make(map[int]bool)
	var testPositives int
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 1000)

	for _, i := range test {
		if labels[i] {
			testPositives++
		}
	}
	assert.Equal(t, 50, testPositives)
	assert.IsIncreasing(t, test)
	assert.IsIncreasing(t, train)
}

func TestStratifiedSplit_Deterministic(t *testing.T) {
	labels := make([]bool, 200)
	for i := range labels {
		labels[i] = i%3 == 0
	}

	train1, test1, err := StratifiedSplit(labels, 0.25, 9)
	require.NoError(t, err)
	train2, test2, err := StratifiedSplit(labels, 0.25, 9)
	require.NoError(t, err)
	_, test3, err := StratifiedSplit(labels, 0.25, 10)
	require.NoError(t, err)

	assert.Equal(t, train1, train2)
	assert.Equal(t, test1, test2)
	assert.NotEqual(t, test1, test3)
}

func TestStratifiedSplit_TinyClass(t *testing.T) {
	labels := []bool{true, false, false, false, false, false}
	train, test, err := StratifiedSplit(labels, 0.2, 1)
	require.NoError(t, err)

	assert.Contains(t, train, 0, "a single-record class stays in training")
	assert.Len(t, test, 1)
	assert.Len(t, train, 5)
}

func TestStratifiedSplit_Invalid(t *testing.T) {
	_, _, err := StratifiedSplit(nil, 0.2, 1)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	for _, size := range []float64{0, 1, -0.1, 1.5} {
		_, _, err := StratifiedSplit([]bool{true, false}, size, 1)
		assert.Error(t, err, "test size %v", size)
	}
}
