package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelvision/kestrel/model"
)

// PgExecutionStore is a PostgreSQL-backed ExecutionStore using pgx/v5.
type PgExecutionStore struct {
	pool *pgxpool.Pool
}

// NewPgExecutionStore creates a new PostgreSQL execution store.
func NewPgExecutionStore(pool *pgxpool.Pool) *PgExecutionStore {
	return &PgExecutionStore{pool: pool}
}

// CreateExecution inserts a new execution.
func (s *PgExecutionStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	triggerJSON, err := json.Marshal(exec.TriggerPayload)
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, graph_id, status, progress, context, trigger_payload, error,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.GraphID, exec.Status, exec.Progress, contextJSON, triggerJSON, exec.Error,
		exec.CreatedAt, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *PgExecutionStore) GetExecution(ctx context.Context, executionID string) (model.Execution, error) {
	var exec model.Execution
	var contextJSON, triggerJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, graph_id, status, progress, context, trigger_payload, error,
		       created_at, started_at, completed_at
		FROM executions
		WHERE id = $1`,
		executionID,
	).Scan(
		&exec.ID, &exec.GraphID, &exec.Status, &exec.Progress, &contextJSON, &triggerJSON, &exec.Error,
		&exec.CreatedAt, &exec.StartedAt, &exec.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Execution{}, model.NewNotFoundError(fmt.Sprintf("execution %q not found", executionID))
	}
	if err != nil {
		return model.Execution{}, fmt.Errorf("query execution: %w", err)
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &exec.Context); err != nil {
			return model.Execution{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if triggerJSON != nil {
		if err := json.Unmarshal(triggerJSON, &exec.TriggerPayload); err != nil {
			return model.Execution{}, fmt.Errorf("unmarshal trigger payload: %w", err)
		}
	}
	return exec, nil
}

// UpdateExecution persists an updated execution. The WHERE clause excludes
// terminal rows so a late writer can never resurrect a finished execution.
func (s *PgExecutionStore) UpdateExecution(ctx context.Context, exec model.Execution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET
			status = $1,
			progress = $2,
			context = $3,
			error = $4,
			started_at = $5,
			completed_at = $6
		WHERE id = $7 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		exec.Status, exec.Progress, contextJSON, exec.Error,
		exec.StartedAt, exec.CompletedAt,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, gerr := s.GetExecution(ctx, exec.ID)
		if gerr != nil {
			return gerr
		}
		return model.NewInvalidTransitionError(
			fmt.Sprintf("execution %q is %s and cannot be modified", exec.ID, existing.Status),
		)
	}
	return nil
}

// ListExecutions returns executions matching the filters, newest first.
func (s *PgExecutionStore) ListExecutions(ctx context.Context, filters ExecutionFilters) ([]model.Execution, error) {
	query := `SELECT id, graph_id, status, progress, context, trigger_payload, error,
	                 created_at, started_at, completed_at
	          FROM executions
	          WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.GraphID != "" {
		query += fmt.Sprintf(" AND graph_id = $%d", argIdx)
		args = append(args, filters.GraphID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		var exec model.Execution
		var contextJSON, triggerJSON []byte
		if err := rows.Scan(
			&exec.ID, &exec.GraphID, &exec.Status, &exec.Progress, &contextJSON, &triggerJSON, &exec.Error,
			&exec.CreatedAt, &exec.StartedAt, &exec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if contextJSON != nil {
			_ = json.Unmarshal(contextJSON, &exec.Context)
		}
		if triggerJSON != nil {
			_ = json.Unmarshal(triggerJSON, &exec.TriggerPayload)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CreateStep inserts a new step record.
func (s *PgExecutionStore) CreateStep(ctx context.Context, step model.StepExecution) error {
	inputJSON, err := json.Marshal(step.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	outputJSON, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO step_executions (
			id, execution_id, node_id, node_type, status,
			input, output, job_id, job_kind, error,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		step.ID, step.ExecutionID, step.NodeID, step.NodeType, step.Status,
		inputJSON, outputJSON, step.JobID, step.JobKind, step.Error,
		step.StartedAt, step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// UpdateStep persists an updated step record.
func (s *PgExecutionStore) UpdateStep(ctx context.Context, step model.StepExecution) error {
	outputJSON, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE step_executions SET
			status = $1,
			output = $2,
			job_id = $3,
			job_kind = $4,
			error = $5,
			completed_at = $6
		WHERE id = $7`,
		step.Status, outputJSON, step.JobID, step.JobKind, step.Error,
		step.CompletedAt,
		step.ID,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", step.ID))
	}
	return nil
}

// ListSteps returns all step records for an execution in creation order.
func (s *PgExecutionStore) ListSteps(ctx context.Context, executionID string) ([]model.StepExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, node_id, node_type, status,
		       input, output, job_id, job_kind, error,
		       started_at, completed_at
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY started_at ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []model.StepExecution
	for rows.Next() {
		var step model.StepExecution
		var inputJSON, outputJSON []byte
		if err := rows.Scan(
			&step.ID, &step.ExecutionID, &step.NodeID, &step.NodeType, &step.Status,
			&inputJSON, &outputJSON, &step.JobID, &step.JobKind, &step.Error,
			&step.StartedAt, &step.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if inputJSON != nil {
			_ = json.Unmarshal(inputJSON, &step.Input)
		}
		if outputJSON != nil {
			_ = json.Unmarshal(outputJSON, &step.Output)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// HealthCheck pings the database.
func (s *PgExecutionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
