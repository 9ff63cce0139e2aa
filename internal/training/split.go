package training

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// StratifiedSplit partitions record indices into train and test sets so both
// keep the class balance of labels. Each class contributes round(testSize*n)
// records to the test set, never all of them and, when it has at least two
// records, never none. Returned indices are ascending.
func StratifiedSplit(labels []bool, testSize float64, seed uint64) (train, test []int, err error) {
	if len(labels) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("training: test size %v outside (0, 1)", testSize)
	}

	var pos, neg []int
	for i, l := range labels {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	r := rand.New(rand.NewPCG(seed, 0x5711))
	for _, class := range [][]int{neg, pos} {
		if len(class) == 0 {
			continue
		}
		r.Shuffle(len(class), func(a, b int) { class[a], class[b] = class[b], class[a] })

		n := int(math.Round(testSize * float64(len(class))))
		if len(class) >= 2 {
			n = max(1, min(n, len(class)-1))
		} else {
			n = 0
		}
		test = append(test, class[:n]...)
		train = append(train, class[n:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
