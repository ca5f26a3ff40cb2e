// Package model implements multinomial logistic regression with an L2 penalty.
//
// Features are standardized before fitting and the scaler is kept in the model, so
// Predict takes raw feature rows. The objective minimized is
//
//	sum(cross-entropy)/n + ||W||^2/(2*C*n)
//
// with the intercepts left unpenalized, which has the same minimizer as
// C*sum(cross-entropy) + ||W||^2/2. Fitting uses L-BFGS from zero parameters and has no
// randomness.
package model

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/tabular"
)

var (
	// ErrShape is returned when matrix dimensions or label counts disagree.
	ErrShape = errors.New("model: shape mismatch")
	// ErrClasses is returned when the training labels hold fewer than two classes.
	ErrClasses = errors.New("model: at least two classes are required")
	// ErrParams is returned for invalid hyperparameters.
	ErrParams = errors.New("model: invalid parameters")
	// ErrNotConverged is returned by FitResult.Err when the solver stopped early.
	ErrNotConverged = errors.New("model: solver did not converge")
)

// Params are the fitting hyperparameters.
type Params struct {
	// C is the inverse regularization strength.
	C float64
	// MaxIter caps the solver's major iterations.
	MaxIter int
	// Tolerance is the gradient infinity-norm below which the solver stops.
	Tolerance float64
}

// DefaultParams returns C=50, MaxIter=10000 and Tolerance=1e-4.
func DefaultParams() Params {
	return Params{C: 50, MaxIter: 10000, Tolerance: 1e-4}
}

func (p Params) validate() error {
	if !(p.C > 0) || p.MaxIter <= 0 || !(p.Tolerance > 0) {
		return fmt.Errorf("%w: C=%v max_iter=%d tol=%v", ErrParams, p.C, p.MaxIter, p.Tolerance)
	}

	return nil
}

// Model is a fitted classifier.
type Model struct {
	Classes   []int
	Coef      [][]float64 // one row per class, on standardized features
	Intercept []float64
	Mean      []float64
	Scale     []float64
	Params    Params
	// Iterations and Converged describe the fit that produced the model.
	Iterations int
	Converged  bool
}

// Features returns the number of input features the model expects.
func (m *Model) Features() int { return len(m.Mean) }

// FitResult holds a fitted model with the solver's diagnostics.
type FitResult struct {
	Model      *Model
	Converged  bool
	Iterations int
	// Status is the solver's stop reason, followed by its error when it returned one.
	Status string
	Loss   float64
	// GradNorm is the infinity norm of the gradient at the solution.
	GradNorm float64
}

// Err returns nil when the fit converged and an error wrapping ErrNotConverged otherwise.
func (r FitResult) Err() error {
	if r.Converged {
		return nil
	}

	return fmt.Errorf("%w after %d iterations (status %s)", ErrNotConverged, r.Iterations, r.Status)
}

// Fit trains a classifier on X and y. A solver that stops without converging is not an
// error here; callers decide using FitResult.Converged.
func Fit(X tabular.Matrix, y []int, p Params) (FitResult, error) {
	if err := p.validate(); err != nil {
		return FitResult{}, err
	}
	n, d := X.Len(), X.Cols
	if n != len(y) {
		return FitResult{}, fmt.Errorf("%w: %d rows, %d labels", ErrShape, n, len(y))
	}
	if d == 0 {
		return FitResult{}, fmt.Errorf("%w: no features", ErrShape)
	}
	if err := checkRows(X); err != nil {
		return FitResult{}, err
	}
	classes := uniqueSorted(y)
	if len(classes) < 2 {
		return FitResult{}, fmt.Errorf("%w: got %d", ErrClasses, len(classes))
	}
	k := len(classes)

	mean, scale := standardizer(X)
	Z := standardize(X, mean, scale)
	target := make([]int, n)
	for i, label := range y {
		target[i], _ = slices.BinarySearch(classes, label)
	}

	obj := &objective{Z: Z, target: target, n: n, d: d, k: k, alpha: 1 / (p.C * float64(n))}
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return obj.eval(x, nil) },
		Grad: func(grad, x []float64) { obj.eval(x, grad) },
	}
	settings := &optimize.Settings{
		GradientThreshold: p.Tolerance,
		MajorIterations:   p.MaxIter,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 50},
	}
	res, err := optimize.Minimize(problem, make([]float64, k*(d+1)), settings, &optimize.LBFGS{})
	if res == nil {
		return FitResult{}, fmt.Errorf("model: minimizing: %w", err)
	}

	gradNorm := math.Inf(1)
	if g := res.Location.Gradient; g != nil {
		gradNorm = floats.Norm(g, math.Inf(1))
	}
	converged := hasConverged(res.Status, gradNorm, p.Tolerance)
	status := res.Status.String()
	if err != nil {
		status += ": " + err.Error()
	}

	x := res.Location.X
	m := &Model{
		Classes:    classes,
		Coef:       make([][]float64, k),
		Intercept:  append([]float64(nil), x[k*d:]...),
		Mean:       mean,
		Scale:      scale,
		Params:     p,
		Iterations: res.Stats.MajorIterations,
		Converged:  converged,
	}
	for c := range m.Coef {
		m.Coef[c] = append([]float64(nil), x[c*d:(c+1)*d]...)
	}

	return FitResult{
		Model:      m,
		Converged:  converged,
		Iterations: res.Stats.MajorIterations,
		Status:     status,
		Loss:       res.Location.F,
		GradNorm:   gradNorm,
	}, nil
}

// hasConverged trusts the statuses that certify a stationary point. Any other stop,
// stalled progress included, counts only when the gradient is within tol.
func hasConverged(s optimize.Status, gradNorm, tol float64) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.MethodConverge:
		return true
	default:
		return gradNorm < tol
	}
}

// objective is the penalized mean cross-entropy. Parameters are laid out as the k×d
// coefficient matrix in row-major order followed by the k intercepts.
type objective struct {
	Z       *mat.Dense
	target  []int
	n, d, k int
	alpha   float64

	logits mat.Dense
}

// eval returns the objective at x and, when grad is not nil, stores its gradient there.
func (o *objective) eval(x, grad []float64) float64 {
	W := mat.NewDense(o.k, o.d, x[:o.k*o.d])
	b := x[o.k*o.d:]

	o.logits.Reset()
	o.logits.Mul(o.Z, W.T())

	loss := 0.0
	for i := 0; i < o.n; i++ {
		row := o.logits.RawRowView(i)
		floats.Add(row, b)
		lse := floats.LogSumExp(row)
		loss += lse - row[o.target[i]]
		if grad != nil {
			// row becomes the residual softmax - onehot, scaled by 1/n
			for c := range row {
				row[c] = math.Exp(row[c]-lse) / float64(o.n)
			}
			row[o.target[i]] -= 1 / float64(o.n)
		}
	}
	loss /= float64(o.n)
	penalty := floats.Dot(x[:o.k*o.d], x[:o.k*o.d])
	loss += o.alpha * penalty / 2

	if grad != nil {
		gW := mat.NewDense(o.k, o.d, grad[:o.k*o.d])
		gW.Mul(o.logits.T(), o.Z)
		floats.AddScaled(grad[:o.k*o.d], o.alpha, x[:o.k*o.d])

		gb := grad[o.k*o.d:]
		for c := range gb {
			gb[c] = floats.Sum(mat.Col(nil, c, &o.logits))
		}
	}

	return loss
}

func checkRows(X tabular.Matrix) error {
	for i, row := range X.Rows {
		if len(row) != X.Cols {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShape, i, len(row), X.Cols)
		}
	}

	return nil
}

func uniqueSorted(y []int) []int {
	out := slices.Clone(y)
	slices.Sort(out)

	return slices.Compact(out)
}

// standardizer returns per-column mean and population standard deviation. Constant
// columns get a scale of 1.
func standardizer(X tabular.Matrix) (mean, scale []float64) {
	n, d := X.Len(), X.Cols
	mean = make([]float64, d)
	scale = make([]float64, d)
	for _, row := range X.Rows {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(n), mean)
	for _, row := range X.Rows {
		for j, v := range row {
			scale[j] += (v - mean[j]) * (v - mean[j])
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(n))
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	return mean, scale
}

// standardize returns X scaled with mean and scale. X must not be empty.
func standardize(X tabular.Matrix, mean, scale []float64) *mat.Dense {
	Z := mat.NewDense(X.Len(), X.Cols, nil)
	for i, row := range X.Rows {
		z := Z.RawRowView(i)
		for j, v := range row {
			z[j] = (v - mean[j]) / scale[j]
		}
	}

	return Z
}

// Predict returns the predicted class of every row of X.
func (m *Model) Predict(X tabular.Matrix) ([]int, error) {
	if X.Len() == 0 {
		return []int{}, nil
	}
	if X.Cols != m.Features() {
		return nil, fmt.Errorf("%w: model expects %d features, got %d", ErrShape, m.Features(), X.Cols)
	}
	if err := checkRows(X); err != nil {
		return nil, err
	}

	k := len(m.Classes)
	W := mat.NewDense(k, m.Features(), nil)
	for c, row := range m.Coef {
		W.SetRow(c, row)
	}
	var logits mat.Dense
	logits.Mul(standardize(X, m.Mean, m.Scale), W.T())

	out := make([]int, X.Len())
	for i := range out {
		row := logits.RawRowView(i)
		floats.Add(row, m.Intercept)
		out[i] = m.Classes[floats.MaxIdx(row)]
	}

	return out, nil
}

// Score returns the accuracy of the model on X and y.
func (m *Model) Score(X tabular.Matrix, y []int) (float64, error) {
	if X.Len() != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", ErrShape, X.Len(), len(y))
	}
	pred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}

	return Accuracy(y, pred)
}

// Accuracy returns the fraction of positions where want and got agree.
func Accuracy(want, got []int) (float64, error) {
	if len(want) != len(got) {
		return 0, fmt.Errorf("%w: %d labels, %d predictions", ErrShape, len(want), len(got))
	}
	if len(want) == 0 {
		return 0, fmt.Errorf("%w: no samples", ErrShape)
	}
	hits := 0
	for i := range want {
		if want[i] == got[i] {
			hits++
		}
	}

	return float64(hits) / float64(len(want)), nil
}
