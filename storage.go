package workflow

import (
	"context"
	"errors"
)

type StepStatus string

const (
	FAILED  StepStatus = "FAILED"
	SUCCESS StepStatus = "SUCCESS"
)

// ErrStepNotFound is returned by Storage.Get when there is no status stored for the step.
var ErrStepNotFound = errors.New("workflow: step not found in run history")

// StepRecord is a single entry of the run history.
type StepRecord struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Output string     `json:"output,omitempty"`
}

// Storage describes the functionality for storing step execution result(the run history).
// The correlationID identifies a workflow run; a run executed again with the same correlationID
// skips the steps already stored as SUCCESS.
type Storage interface {
	Save(ctx context.Context, stepName, correlationID string, status StepStatus, output *string) error
	Get(ctx context.Context, stepName, correlationID string) (StepStatus, error)
	List(ctx context.Context, correlationID string) ([]StepRecord, error)
	Clear(ctx context.Context, correlationID string) error
}
