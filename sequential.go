package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	succeed = "✓"
	failed  = "✗"

	instrumentationName = "github.com/greatdevaks/datahour-mlops-airflow"
)

// Sequential is a workflow that runs its steps in a predefined sequence(the order of the []StepConfig).
// The first failing step stops the workflow, the following steps are not executed.
type Sequential[T any] struct {
	name        string
	stepsConfig []StepConfig[T] // the workflow runs the steps following the slice order
	opts        options
}

// Option configures a Sequential workflow.
type Option func(*options)

type options struct {
	log           Logger // the internal logger is a no op if nil is provided
	observer      Observer
	storage       Storage
	correlationID string
	retry         RetryConfig
	tracer        trace.TracerProvider
}

// WithLogger sets the workflow logger.
func WithLogger(log Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver registers an observer notified around every step execution.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStorage enables the run history. It has effect only together with WithCorrelationID.
func WithStorage(s Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithCorrelationID sets the identity of the run, used as the run history key.
func WithCorrelationID(id string) Option {
	return func(o *options) {
		o.correlationID = id
	}
}

// WithRetryOption sets the default retry configuration, used for the steps without a RetryConfigProvider.
func WithRetryOption(maxAttempts uint, waitBeforeRetry time.Duration) Option {
	return func(o *options) {
		o.retry = RetryConfig{MaxRetryAttempts: maxAttempts, WaitBeforeRetry: waitBeforeRetry}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// NewSequential is the workflow constructor.
func NewSequential[T any](name string, stepsCfg []StepConfig[T], opts ...Option) *Sequential[T] {
	o := options{
		log:      noOpLogger{},
		observer: noOpObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := Sequential[T]{
		name:        name,
		stepsConfig: stepsCfg,
		opts:        o,
	}

	return &s
}

// Name returns the name of the workflow.
func (s *Sequential[T]) Name() string {
	return s.name
}

// Steps returns the step names, in execution order.
func (s *Sequential[T]) Steps() []string {
	names := make([]string, 0, len(s.stepsConfig))
	for _, sc := range s.stepsConfig {
		names = append(names, sc.Step.Name())
	}

	return names
}

// Execute loops through all the steps from the s.stepsConfig collection and passes the ctx and the req to every StepConfig.Step.
// It stops at the first failing step and returns its error wrapped, so it can be checked using errors.Is or errors.As.
// When the run history is enabled, the steps already stored as SUCCESS for the correlation ID are skipped.
func (s *Sequential[T]) Execute(ctx context.Context, req T) (err error) {
	tp := s.opts.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(instrumentationName).Start(ctx, s.name,
		trace.WithAttributes(attribute.String("workflow.correlation_id", s.opts.correlationID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.opts.log.Info("[START] executing workflow", "workflow", s.name, "correlation_id", s.opts.correlationID)
	defer func() {
		s.opts.log.Info("[DONE] executing workflow", "workflow", s.name, "correlation_id", s.opts.correlationID)
	}()

	for _, stepConfig := range s.stepsConfig {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("workflow %s: %w", s.name, err)
		}

		stepName := stepConfig.Step.Name()
		done, err := s.succeededBefore(ctx, stepName)
		if err != nil {
			return fmt.Errorf("workflow %s: reading run history for step %s: %w", s.name, stepName, err)
		}
		if done {
			s.opts.log.Info("skipping step, it already succeeded in this run", "workflow", s.name, "step", stepName)

			continue
		}

		err = s.executeStep(ctx, stepConfig, req)
		if err != nil {
			msg := err.Error()
			saveErr := s.save(ctx, stepName, FAILED, &msg)

			return errors.Join(fmt.Errorf("workflow %s: step %s: %w", s.name, stepName, err), saveErr)
		}

		var out *string
		if o, ok := stepConfig.Step.(Outputter); ok {
			v := o.Output()
			out = &v
		}
		if err := s.save(ctx, stepName, SUCCESS, out); err != nil {
			return fmt.Errorf("workflow %s: step %s: %w", s.name, stepName, err)
		}
	}

	return nil
}

func (s *Sequential[T]) historyEnabled() bool {
	return s.opts.storage != nil && s.opts.correlationID != ""
}

func (s *Sequential[T]) succeededBefore(ctx context.Context, stepName string) (bool, error) {
	if !s.historyEnabled() {
		return false, nil
	}
	status, err := s.opts.storage.Get(ctx, stepName, s.opts.correlationID)
	if errors.Is(err, ErrStepNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return status == SUCCESS, nil
}

func (s *Sequential[T]) save(ctx context.Context, stepName string, status StepStatus, output *string) error {
	if !s.historyEnabled() {
		return nil
	}
	if err := s.opts.storage.Save(ctx, stepName, s.opts.correlationID, status, output); err != nil {
		s.opts.log.Error("saving run history failed", "workflow", s.name, "step", stepName, "error", err)

		return fmt.Errorf("saving run history: %w", err)
	}

	return nil
}

// executeStep processes a single Step by passing it the ctx and the req.
// It retries the Step if it implements the RetryDecider interface and accepts the returned error, using the max attempts
// and the attempt delay provided by the StepConfig.RetryConfigProvider() or, if nil, the workflow RetryConfig.
func (s *Sequential[T]) executeStep(ctx context.Context, stepCfg StepConfig[T], req T) error {
	step := stepCfg.Step
	stepName := step.Name()

	maxAttempts, attemptDelay := s.opts.retry.MaxRetryAttempts, s.opts.retry.WaitBeforeRetry
	if stepCfg.RetryConfigProvider != nil {
		maxAttempts, attemptDelay = stepCfg.RetryConfigProvider()
	}

	tp := s.opts.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(instrumentationName).Start(ctx, stepName)
	defer span.End()

	var attempt uint
	var executions int
	var err error
	for attempt = 0; attempt <= maxAttempts; attempt++ {
		// if the attempt is greater than 0, then it's a retry
		if attempt > 0 {
			s.opts.log.Info("step is configured to retry", "step", stepName, "attempt", attempt, "wait", attemptDelay)
			// allow some waiting time before trying again
			select {
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				span.SetStatus(codes.Error, err.Error())

				return err
			case <-time.After(attemptDelay):
			}
		}

		s.opts.observer.StepStarted(s.name, stepName)
		start := time.Now()
		executions++
		err = step.Execute(ctx, req)
		s.opts.observer.StepFinished(s.name, stepName, time.Since(start), err)
		if err == nil {
			s.opts.log.Info(succeed+" executing step", "step", stepName, "elapsed", time.Since(start))

			break
		}
		s.opts.log.Error(failed+" executing step", "step", stepName, "attempt", attempt, "error", err)
		span.RecordError(err)
		// only the ones implementing the RetryDecider, with CanRetry() returning true, can run more than once
		if stepR, ok := step.(RetryDecider); !ok || !stepR.CanRetry(err) {
			break
		}
	}
	span.SetAttributes(attribute.Int("workflow.step.executions", executions))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}
