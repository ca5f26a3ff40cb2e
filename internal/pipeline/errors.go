package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds returned by the stages. Every stage failure is a *StageError whose Kind is
// one of these.
var (
	// ErrStorage covers an unreachable object store, a missing key and failed transfers.
	ErrStorage = errors.New("storage error")
	// ErrEncoding covers malformed or unwritable tabular data and local file failures.
	ErrEncoding = errors.New("encoding error")
	// ErrShape covers row count and dimension mismatches, and label vectors a model
	// cannot be fitted on.
	ErrShape = errors.New("shape error")
	// ErrConvergence is returned when the solver stops before converging.
	ErrConvergence = errors.New("convergence error")
	// ErrArtifact is returned when the model artifact cannot be decoded.
	ErrArtifact = errors.New("artifact error")
)

// StageError is the failure of one stage.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(stage string, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// CanRetry reports whether a stage failure may succeed when the stage runs again.
// Only storage failures are transient; a cancelled context never is.
func CanRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return errors.Is(err, ErrStorage)
}
