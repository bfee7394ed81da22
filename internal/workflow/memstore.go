package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelvision/kestrel/model"
)

// MemoryExecutionStore is an in-memory ExecutionStore for testing and
// single-node runs.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]model.Execution
	steps      map[string][]model.StepExecution // key: execution ID
}

// NewMemoryExecutionStore creates a new in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]model.Execution),
		steps:      make(map[string][]model.StepExecution),
	}
}

// CreateExecution persists a new execution.
func (s *MemoryExecutionStore) CreateExecution(_ context.Context, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("execution %q already exists", exec.ID))
	}
	s.executions[exec.ID] = exec
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *MemoryExecutionStore) GetExecution(_ context.Context, executionID string) (model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, exists := s.executions[executionID]
	if !exists {
		return model.Execution{}, model.NewNotFoundError(fmt.Sprintf("execution %q not found", executionID))
	}
	return exec, nil
}

// UpdateExecution persists an updated execution, refusing writes to terminal
// executions.
func (s *MemoryExecutionStore) UpdateExecution(_ context.Context, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.executions[exec.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("execution %q not found", exec.ID))
	}
	if model.IsTerminalStatus(existing.Status) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("execution %q is %s and cannot be modified", exec.ID, existing.Status),
		)
	}
	s.executions[exec.ID] = exec
	return nil
}

// ListExecutions returns executions matching the filters, newest first.
func (s *MemoryExecutionStore) ListExecutions(_ context.Context, filters ExecutionFilters) ([]model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Execution
	for _, exec := range s.executions {
		if filters.GraphID != "" && exec.GraphID != filters.GraphID {
			continue
		}
		if filters.Status != "" && exec.Status != filters.Status {
			continue
		}
		out = append(out, exec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, nil
}

// CreateStep persists a new step record.
func (s *MemoryExecutionStore) CreateStep(_ context.Context, step model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[step.ExecutionID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("execution %q not found", step.ExecutionID))
	}
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], step)
	return nil
}

// UpdateStep persists an updated step record.
func (s *MemoryExecutionStore) UpdateStep(_ context.Context, step model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps := s.steps[step.ExecutionID]
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = step
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("step %q not found", step.ID))
}

// ListSteps returns all step records for an execution in creation order.
func (s *MemoryExecutionStore) ListSteps(_ context.Context, executionID string) ([]model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.executions[executionID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("execution %q not found", executionID))
	}

	steps := s.steps[executionID]
	out := make([]model.StepExecution, len(steps))
	copy(out, steps)
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryExecutionStore) HealthCheck(_ context.Context) error { return nil }

// Len returns the total number of executions. For testing.
func (s *MemoryExecutionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}
