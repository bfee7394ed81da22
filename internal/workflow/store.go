// Package workflow runs graph executions: the durable execution and step
// records, the per-execution worker, and the runner that owns the worker
// goroutines.
package workflow

import (
	"context"

	"github.com/kestrelvision/kestrel/model"
)

// ExecutionStore persists executions and their step records.
type ExecutionStore interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, exec model.Execution) error

	// GetExecution retrieves an execution by ID. Returns NOT_FOUND if absent.
	GetExecution(ctx context.Context, executionID string) (model.Execution, error)

	// UpdateExecution persists an updated execution. Once an execution is in
	// a terminal status it is immutable; further updates return
	// INVALID_TRANSITION.
	UpdateExecution(ctx context.Context, exec model.Execution) error

	// ListExecutions returns executions matching the filters, newest first.
	ListExecutions(ctx context.Context, filters ExecutionFilters) ([]model.Execution, error)

	// CreateStep persists a new step record.
	CreateStep(ctx context.Context, step model.StepExecution) error

	// UpdateStep persists an updated step record.
	UpdateStep(ctx context.Context, step model.StepExecution) error

	// ListSteps returns all step records for an execution in creation order.
	ListSteps(ctx context.Context, executionID string) ([]model.StepExecution, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// ExecutionFilters are optional filters for listing executions.
type ExecutionFilters struct {
	GraphID string
	Status  string
	Limit   int
}
