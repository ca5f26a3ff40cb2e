// Copyright 2024 Silviu Tanasă. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

/*
Package workflow provides orchestration for a set of steps of execution defined by the user.
It aims to help splitting an application in small pieces(steps) and orchestrate them with a simple API.
It plays the role of the orchestrator for the mnist_workflow stages (see internal/pipeline): it sequences them,
retries the failures the steps declare retryable, and keeps the run history.

1. Declaring the tasks:
The tasks and their dependencies are declared as a plain list and validated into a strictly linear Chain:

	chain, err := workflow.NewChain([]workflow.Task{
		{Name: "extract"},
		{Name: "transform", DependsOn: []string{"extract"}},
		{Name: "load", DependsOn: []string{"transform"}},
	})
	...

2. Sequential workflow:
Every step's failure stops the workflow, the following steps don't run:

	// in real life usage, these must be concrete types implementing the workflow.Step[T] interface.
	var extract, transform, load workflow.Step[*Request]
	...
	sc, err := workflow.Bind(chain, map[string]workflow.StepConfig[*Request]{
		"extract":   {Step: extract},
		"transform": {Step: transform},
		"load":      {Step: load},
	})
	...
	wf := workflow.NewSequential("example", sc, workflow.WithLogger(slog.Default()))
	err = wf.Execute(context.Background(), req)
	...

For retries, the step must implement the RetryDecider interface, and return true for CanRetry(err) in order to be
retried. The number of attempts comes from StepConfig.RetryConfigProvider or from the WithRetryOption default:

	sc := []workflow.StepConfig[*Request]{
		{
			Step: extract,
			// this has effect only if extract is retryable
			RetryConfigProvider: func() (uint, time.Duration) { return 2, time.Millisecond },
		},
		{Step: transform},
	}

3. Run history:
Provide a Storage and a correlation ID; a run executed again with the same correlation ID skips the steps
that already succeeded, so a failed run resumes at the failed step:

	wf := workflow.NewSequential("example", sc,
		workflow.WithStorage(history),
		workflow.WithCorrelationID(runID),
	)
*/
package workflow
