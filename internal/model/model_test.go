package model

import (
	"bytes"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/tabular"
)

// blobs returns perClass points around each center with unit spread.
func blobs(seed int64, perClass int, centers [][2]float64, labels []int) (tabular.Matrix, []int) {
	rng := rand.New(rand.NewSource(seed))
	var X tabular.Matrix
	X.Cols = 2
	var y []int
	for c, center := range centers {
		for i := 0; i < perClass; i++ {
			X.Rows = append(X.Rows, []float64{center[0] + rng.NormFloat64(), center[1] + rng.NormFloat64()})
			y = append(y, labels[c])
		}
	}

	return X, y
}

func threeBlobs() (tabular.Matrix, []int) {
	return blobs(1, 60, [][2]float64{{0, 0}, {4, 0}, {0, 4}}, []int{0, 1, 2})
}

func TestFit_BeatsRandomLabels(t *testing.T) {
	X, y := threeBlobs()

	res, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)
	require.True(t, res.Converged, "status %s after %d iterations", res.Status, res.Iterations)
	require.NoError(t, res.Err())
	trained, err := res.Model.Score(X, y)
	require.NoError(t, err)

	control := make([]int, len(y))
	for i, j := range rand.New(rand.NewSource(2)).Perm(len(y)) {
		control[i] = y[j]
	}
	res, err = Fit(X, control, DefaultParams())
	require.NoError(t, err)
	random, err := res.Model.Score(X, control)
	require.NoError(t, err)

	assert.Greater(t, trained, 0.9)
	assert.GreaterOrEqual(t, trained, random)
}

func TestFit_Deterministic(t *testing.T) {
	X, y := threeBlobs()
	first, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)
	second, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("fits differ (-first +second):\n%s", diff)
	}
}

func TestFit_ArbitraryLabels(t *testing.T) {
	X, y := blobs(3, 40, [][2]float64{{-3, -3}, {3, 3}}, []int{7, 3})

	res, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, res.Model.Classes)

	pred, err := res.Model.Predict(X)
	require.NoError(t, err)
	for _, p := range pred {
		assert.Contains(t, []int{3, 7}, p)
	}
}

func TestFit_NotConverged(t *testing.T) {
	X, y := threeBlobs()
	res, err := Fit(X, y, Params{C: 50, MaxIter: 1, Tolerance: 1e-12})
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.False(t, res.Model.Converged)
	assert.ErrorIs(t, res.Err(), ErrNotConverged)
}

func TestHasConverged(t *testing.T) {
	tests := []struct {
		name     string
		status   optimize.Status
		gradNorm float64
		want     bool
	}{
		{name: "gradient threshold", status: optimize.GradientThreshold, gradNorm: 1e-5, want: true},
		{name: "success", status: optimize.Success, gradNorm: 1, want: true},
		{name: "stalled objective, gradient too large", status: optimize.FunctionConvergence, gradNorm: 0.3, want: false},
		{name: "stalled objective, gradient small", status: optimize.FunctionConvergence, gradNorm: 1e-6, want: true},
		{name: "stalled step, gradient too large", status: optimize.StepConvergence, gradNorm: 2, want: false},
		{name: "iteration limit, gradient small", status: optimize.IterationLimit, gradNorm: 5e-5, want: true},
		{name: "iteration limit", status: optimize.IterationLimit, gradNorm: 0.1, want: false},
		{name: "failure", status: optimize.Failure, gradNorm: math.Inf(1), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasConverged(tt.status, tt.gradNorm, 1e-4))
		})
	}
}

func TestFit_ConvergedWithinTolerance(t *testing.T) {
	X, y := threeBlobs()
	p := DefaultParams()
	res, err := Fit(X, y, p)
	require.NoError(t, err)

	require.True(t, res.Converged, res.Status)
	assert.Less(t, res.GradNorm, p.Tolerance)
	assert.NotEmpty(t, res.Status)
}

func TestFit_Errors(t *testing.T) {
	X, y := threeBlobs()

	_, err := Fit(X, y[1:], DefaultParams())
	assert.ErrorIs(t, err, ErrShape)

	one := make([]int, len(y))
	_, err = Fit(X, one, DefaultParams())
	assert.ErrorIs(t, err, ErrClasses)

	_, err = Fit(X, y, Params{C: 0, MaxIter: 10, Tolerance: 1e-4})
	assert.ErrorIs(t, err, ErrParams)

	_, err = Fit(tabular.Matrix{Rows: [][]float64{{1, 2}, {3}}, Cols: 2}, []int{0, 1}, DefaultParams())
	assert.ErrorIs(t, err, ErrShape)
}

func TestPredict(t *testing.T) {
	X, y := threeBlobs()
	res, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)
	m := res.Model

	pred, err := m.Predict(tabular.Matrix{Rows: [][]float64{{0, 0}, {4, 0}, {0, 4}}, Cols: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, pred)

	pred, err = m.Predict(tabular.Matrix{})
	require.NoError(t, err)
	assert.Empty(t, pred)

	_, err = m.Predict(tabular.Matrix{Rows: [][]float64{{1, 2, 3}}, Cols: 3})
	assert.ErrorIs(t, err, ErrShape)

	_, err = m.Score(X, y[:3])
	assert.ErrorIs(t, err, ErrShape)
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]int{1, 2, 3, 4}, []int{1, 2, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, acc, 1e-12)

	_, err = Accuracy([]int{1}, []int{1, 2})
	assert.ErrorIs(t, err, ErrShape)

	_, err = Accuracy(nil, nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestArtifactRoundTrip(t *testing.T) {
	X, y := threeBlobs()
	res, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, res.Model))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("MNISTMDL\x01")))

	got, err := Decode(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(res.Model, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "model")
	require.NoError(t, WriteFile(path, res.Model))
	fromFile, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Model, fromFile)
}

func TestDecode_Invalid(t *testing.T) {
	X, y := threeBlobs()
	res, err := Fit(X, y, DefaultParams())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, res.Model))
	valid := buf.Bytes()

	wrongVersion := bytes.Clone(valid)
	wrongVersion[len(magic)] = 9

	tests := map[string][]byte{
		"empty":         nil,
		"short header":  []byte("MNIST"),
		"foreign bytes": []byte("\x80\x04\x95 pickled sklearn model"),
		"wrong version": wrongVersion,
		"truncated":     valid[:len(valid)/2],
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(in))
			assert.ErrorIs(t, err, ErrArtifact)
		})
	}
}

func TestEncode_RejectsInconsistentModel(t *testing.T) {
	err := Encode(&bytes.Buffer{}, &Model{Classes: []int{0, 1}, Mean: []float64{0}, Scale: []float64{1}})
	assert.ErrorIs(t, err, ErrShape)
}
