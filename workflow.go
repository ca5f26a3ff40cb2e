package workflow

import (
	"context"
	"time"
)

// Step represents a step of execution(a task of the workflow).
type Step[T any] interface {
	// Name returns the name of the step, it is also the task identifier used by the run history.
	Name() string
	// Execute is the step central processing unit.
	// It accepts a context and a request.
	Execute(ctx context.Context, req T) error
}

// RetryDecider is implemented by the steps that can run more than once.
// The decision is taken per failure, based on the error returned by the last attempt.
type RetryDecider interface {
	CanRetry(err error) bool
}

// Outputter is implemented by the steps that produce a status message worth keeping in the run history.
type Outputter interface {
	Output() string
}

// Logger is the workflow supported logger, *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives the outcome of every executed step.
type Observer interface {
	StepStarted(workflow, step string)
	StepFinished(workflow, step string, elapsed time.Duration, err error)
}

// StepConfig provides configuration for a Step of execution.
type StepConfig[T any] struct {
	Step Step[T]
	// define this only if the Step implements RetryDecider, otherwise it has no effect.
	// When nil, the workflow level RetryConfig is used.
	RetryConfigProvider func() (maxAttempts uint, attemptDelay time.Duration)
}

// RetryConfig is the config for the step retry
type RetryConfig struct {
	MaxRetryAttempts uint
	WaitBeforeRetry  time.Duration
}

type noOpLogger struct{}

// Info is the Info Level log.
func (n noOpLogger) Info(_ string, _ ...any) {}

// Error is the Error Level log.
func (n noOpLogger) Error(_ string, _ ...any) {}

type noOpObserver struct{}

func (noOpObserver) StepStarted(_, _ string) {}

func (noOpObserver) StepFinished(_, _ string, _ time.Duration, _ error) {}
