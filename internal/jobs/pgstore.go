package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelvision/kestrel/model"
)

// PgJobStore is a PostgreSQL-backed JobStore using pgx/v5.
type PgJobStore struct {
	pool *pgxpool.Pool
}

// NewPgJobStore creates a new PostgreSQL job store.
func NewPgJobStore(pool *pgxpool.Pool) *PgJobStore {
	return &PgJobStore{pool: pool}
}

// CreateJob inserts a new job.
func (s *PgJobStore) CreateJob(ctx context.Context, job model.Job) error {
	configJSON, err := json.Marshal(job.Summary.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	statsJSON, err := json.Marshal(job.Summary.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	metaJSON, err := json.Marshal(job.Summary.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, kind, task_kind, capture_mode, status,
			config, stats, metadata, error,
			created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)`,
		job.ID, job.Kind, job.TaskKind, job.CaptureMode, job.Status,
		configJSON, statsJSON, metaJSON, job.Error,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *PgJobStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	var job model.Job
	var configJSON, statsJSON, metaJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, task_kind, capture_mode, status,
		       config, stats, metadata, error,
		       created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1`,
		jobID,
	).Scan(
		&job.ID, &job.Kind, &job.TaskKind, &job.CaptureMode, &job.Status,
		&configJSON, &statsJSON, &metaJSON, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Job{}, model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("query job: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &job.Summary.Config); err != nil {
			return model.Job{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if statsJSON != nil {
		if err := json.Unmarshal(statsJSON, &job.Summary.Stats); err != nil {
			return model.Job{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &job.Summary.Metadata); err != nil {
			return model.Job{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return job, nil
}

// UpdateStatus moves a job through its lifecycle. The transition check and
// the write happen in one transaction so concurrent writers cannot race a
// job out of a terminal status.
func (s *PgJobStore) UpdateStatus(ctx context.Context, jobID, status, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if err != nil {
		return fmt.Errorf("query job status: %w", err)
	}
	if !validTransition(current, status) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q cannot move from %q to %q", jobID, current, status),
		)
	}

	now := time.Now().UTC()
	switch status {
	case model.JobStatusRunning:
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3`,
			status, now, jobID)
	case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
			status, now, errMsg, jobID)
	default:
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, status, jobID)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return tx.Commit(ctx)
}

// ReplaceStats overwrites the job's stats column as a whole unit. Terminal
// jobs are frozen: the guarded UPDATE refuses them and the follow-up read
// tells a frozen job apart from a missing one.
func (s *PgJobStore) ReplaceStats(ctx context.Context, jobID string, stats model.Stats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET stats = $1
		WHERE id = $2 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		statsJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
		if err == pgx.ErrNoRows {
			return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
		}
		if err != nil {
			return fmt.Errorf("query job status: %w", err)
		}
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q is %s; stats are frozen", jobID, current))
	}
	return nil
}

// MergeMetadata applies a partial metadata update. Read-modify-write inside a
// transaction keeps the field merge atomic.
func (s *PgJobStore) MergeMetadata(ctx context.Context, jobID string, patch model.MetadataPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	var metaJSON []byte
	err = tx.QueryRow(ctx, `SELECT status, metadata FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current, &metaJSON)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if err != nil {
		return fmt.Errorf("query job metadata: %w", err)
	}
	if terminalStatus(current) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q is %s; metadata is frozen", jobID, current))
	}

	var meta model.Metadata
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	meta.Apply(patch)

	merged, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET metadata = $1 WHERE id = $2`, merged, jobID); err != nil {
		return fmt.Errorf("update job metadata: %w", err)
	}
	return tx.Commit(ctx)
}

// AppendResult adds one durable per-frame result.
func (s *PgJobStore) AppendResult(ctx context.Context, result model.JobResult) error {
	resultJSON, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_results (id, job_id, seq, result, image_path, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID, result.JobID, result.Seq, resultJSON, result.ImagePath, result.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job result: %w", err)
	}
	return nil
}

// ListResults returns all results for a job ordered by sequence number.
func (s *PgJobStore) ListResults(ctx context.Context, jobID string) ([]model.JobResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, seq, result, image_path, captured_at
		FROM job_results
		WHERE job_id = $1
		ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query job results: %w", err)
	}
	defer rows.Close()

	var results []model.JobResult
	for rows.Next() {
		var r model.JobResult
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.JobID, &r.Seq, &resultJSON, &r.ImagePath, &r.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan job result: %w", err)
		}
		if resultJSON != nil {
			_ = json.Unmarshal(resultJSON, &r.Result)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListJobs returns jobs matching the filters, newest first.
func (s *PgJobStore) ListJobs(ctx context.Context, filters JobFilters) ([]model.Job, error) {
	query := `SELECT id, kind, task_kind, capture_mode, status,
	                 config, stats, metadata, error,
	                 created_at, started_at, completed_at
	          FROM jobs
	          WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filters.Kind)
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
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobsOut []model.Job
	for rows.Next() {
		var job model.Job
		var configJSON, statsJSON, metaJSON []byte
		if err := rows.Scan(
			&job.ID, &job.Kind, &job.TaskKind, &job.CaptureMode, &job.Status,
			&configJSON, &statsJSON, &metaJSON, &job.Error,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if configJSON != nil {
			_ = json.Unmarshal(configJSON, &job.Summary.Config)
		}
		if statsJSON != nil {
			_ = json.Unmarshal(statsJSON, &job.Summary.Stats)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &job.Summary.Metadata)
		}
		jobsOut = append(jobsOut, job)
	}
	return jobsOut, rows.Err()
}

// HealthCheck pings the database.
func (s *PgJobStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
