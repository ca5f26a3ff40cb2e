package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidChain = errors.New("invalid task chain")
	ErrNotLinear    = errors.New("task chain is not linear")
)

// ChainError wraps deterministic chain validation failures.
type ChainError struct {
	Kind error
	Msg  string
}

func (e *ChainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ChainError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &ChainError{Kind: ErrInvalidChain, Msg: fmt.Sprintf(format, args...)}
}

func nonLinearf(format string, args ...any) error {
	return &ChainError{Kind: ErrNotLinear, Msg: fmt.Sprintf(format, args...)}
}

// Task declares a task of the workflow and the tasks it depends on.
type Task struct {
	Name      string   `json:"name" yaml:"name"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Chain is a validated, strictly linear task list: one root, every task depends on the previous one.
//
// It is safe for concurrent read access.
type Chain struct {
	tasks []Task
	order []string
}

// NewChain builds and validates a Chain from a declarative task list.
//
// Validation rejects:
//   - an empty list, empty or duplicate task names
//   - dependencies on unknown tasks and self-dependencies
//   - branching: more than one root, a task with more than one dependency
//     or a task with more than one dependent
//   - cycles (tasks unreachable from the root)
func NewChain(tasks []Task) (*Chain, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := byName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		byName[t.Name] = t
	}

	var roots []string
	next := make(map[string]string, len(tasks))
	for _, t := range tasks {
		switch len(t.DependsOn) {
		case 0:
			roots = append(roots, t.Name)

			continue
		case 1:
		default:
			return nil, nonLinearf("task %q depends on %s", t.Name, strings.Join(t.DependsOn, ", "))
		}

		dep := t.DependsOn[0]
		if dep == t.Name {
			return nil, invalidf("self-dependency: %q", t.Name)
		}
		if _, ok := byName[dep]; !ok {
			return nil, invalidf("task %q depends on unknown task %q", t.Name, dep)
		}
		if other, taken := next[dep]; taken {
			return nil, nonLinearf("task %q fans out to %q and %q", dep, other, t.Name)
		}
		next[dep] = t.Name
	}
	if len(roots) != 1 {
		return nil, nonLinearf("expected exactly one root task, found %d", len(roots))
	}

	order := make([]string, 0, len(tasks))
	for cur, ok := roots[0], true; ok; cur, ok = next[cur] {
		order = append(order, cur)
	}
	if len(order) != len(tasks) {
		return nil, invalidf("cycle: %d of %d tasks reachable from %q", len(order), len(tasks), roots[0])
	}

	ordered := make([]Task, 0, len(order))
	for _, name := range order {
		ordered = append(ordered, byName[name])
	}

	return &Chain{tasks: ordered, order: order}, nil
}

// Order returns the task names in execution order.
func (c *Chain) Order() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)

	return out
}

// Tasks returns the declared tasks in execution order.
func (c *Chain) Tasks() []Task {
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)

	return out
}

// Contains reports whether the chain declares the named task.
func (c *Chain) Contains(name string) bool {
	for _, n := range c.order {
		if n == name {
			return true
		}
	}

	return false
}

// Bind maps every task of the chain to its step and returns the step configuration in execution order.
// A task without a step or a step without a task is an error.
func Bind[T any](c *Chain, steps map[string]StepConfig[T]) ([]StepConfig[T], error) {
	if len(steps) != len(c.order) {
		return nil, invalidf("%d steps bound to %d tasks", len(steps), len(c.order))
	}
	out := make([]StepConfig[T], 0, len(c.order))
	for _, name := range c.order {
		sc, ok := steps[name]
		if !ok || sc.Step == nil {
			return nil, invalidf("no step bound to task %q", name)
		}
		if sc.Step.Name() != name {
			return nil, invalidf("step %q bound to task %q", sc.Step.Name(), name)
		}
		out = append(out, sc)
	}

	return out, nil
}
