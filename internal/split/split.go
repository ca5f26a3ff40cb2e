// Package split partitions a labelled dataset into train and test subsets.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/tabular"
)

// DefaultTestSize is the fraction of rows assigned to the test partition.
const DefaultTestSize = 0.25

var (
	// ErrShape is returned when the label vector and the feature matrix disagree in length.
	ErrShape = errors.New("split: label count does not match row count")
	// ErrTestSize is returned for a test fraction outside (0, 1).
	ErrTestSize = errors.New("split: test size must be in (0, 1)")
)

// Partition is a named subset of the dataset. Indices holds the row index of every
// sample in the original matrix.
type Partition struct {
	Name    string
	X       tabular.Matrix
	Y       []int
	Indices []int
}

// Len returns the number of samples.
func (p Partition) Len() int { return len(p.Y) }

// TestCount returns the number of test rows for n samples: ceil(testSize*n).
func TestCount(n int, testSize float64) int {
	return int(math.Ceil(testSize * float64(n)))
}

// TrainTestSplit shuffles the rows with a generator seeded by seed and assigns the first
// TestCount rows of the permutation to test and the rest to train. The same input and
// seed always produce the same assignment.
func TrainTestSplit(X tabular.Matrix, y []int, testSize float64, seed int64) (train, test Partition, err error) {
	if X.Len() != len(y) {
		return Partition{}, Partition{}, fmt.Errorf("%w: %d rows, %d labels", ErrShape, X.Len(), len(y))
	}
	if !(testSize > 0 && testSize < 1) {
		return Partition{}, Partition{}, fmt.Errorf("%w: %v", ErrTestSize, testSize)
	}

	n := len(y)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := TestCount(n, testSize)

	test = take("test", X, y, perm[:nTest])
	train = take("train", X, y, perm[nTest:])

	return train, test, nil
}

func take(name string, X tabular.Matrix, y []int, idx []int) Partition {
	p := Partition{
		Name:    name,
		X:       tabular.Matrix{Rows: make([][]float64, len(idx)), Cols: X.Cols},
		Y:       make([]int, len(idx)),
		Indices: append([]int(nil), idx...),
	}
	for i, j := range idx {
		p.X.Rows[i] = X.Rows[j]
		p.Y[i] = y[j]
	}

	return p
}
