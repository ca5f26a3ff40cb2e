// Package runstore keeps the run history of workflow executions: the status and output of
// every step, per run ID.
package runstore

import (
	"context"
	"sync"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
)

// MemoryStore keeps the run history in process memory, in the order steps were first saved.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string][]workflow.StepRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]workflow.StepRecord)}
}

func (s *MemoryStore) Save(_ context.Context, stepName, runID string, status workflow.StepStatus, output *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := workflow.StepRecord{Step: stepName, Status: status}
	if output != nil {
		rec.Output = *output
	}
	for i, r := range s.runs[runID] {
		if r.Step == stepName {
			s.runs[runID][i] = rec
			return nil
		}
	}
	s.runs[runID] = append(s.runs[runID], rec)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, stepName, runID string) (workflow.StepStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs[runID] {
		if r.Step == stepName {
			return r.Status, nil
		}
	}

	return "", workflow.ErrStepNotFound
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]workflow.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]workflow.StepRecord(nil), s.runs[runID]...), nil
}

func (s *MemoryStore) Clear(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)

	return nil
}
