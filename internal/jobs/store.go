// Package jobs runs long-lived inference jobs: the durable job records, the
// per-job streaming sessions, and the registry of in-memory handles that
// control them.
package jobs

import (
	"context"

	"github.com/kestrelvision/kestrel/model"
)

// JobStore persists jobs and their per-frame results.
type JobStore interface {
	// CreateJob persists a new job. The job's config is write-once; no
	// later operation may change it.
	CreateJob(ctx context.Context, job model.Job) error

	// GetJob retrieves a job by ID. Returns NOT_FOUND if absent.
	GetJob(ctx context.Context, jobID string) (model.Job, error)

	// UpdateStatus moves a job through its lifecycle. Illegal transitions
	// (out of a terminal status, or any status jump the state machine does
	// not allow) return INVALID_TRANSITION. Terminal transitions carry the
	// completion timestamp and, for failures, the error message.
	UpdateStatus(ctx context.Context, jobID, status, errMsg string) error

	// ReplaceStats overwrites the job's stats as a whole unit. Returns
	// INVALID_TRANSITION once the job is terminal: finalization writes the
	// last stats before the terminal status, and nothing may mutate them
	// afterwards.
	ReplaceStats(ctx context.Context, jobID string, stats model.Stats) error

	// MergeMetadata applies a partial metadata update. Nil patch fields are
	// left untouched. Like ReplaceStats, rejected with INVALID_TRANSITION on
	// a terminal job.
	MergeMetadata(ctx context.Context, jobID string, patch model.MetadataPatch) error

	// AppendResult adds one durable per-frame result.
	AppendResult(ctx context.Context, result model.JobResult) error

	// ListResults returns all results for a job ordered by sequence number.
	ListResults(ctx context.Context, jobID string) ([]model.JobResult, error)

	// ListJobs returns jobs matching the filters, newest first.
	ListJobs(ctx context.Context, filters JobFilters) ([]model.Job, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// JobFilters are optional filters for listing jobs.
type JobFilters struct {
	Kind   model.JobKind
	Status string
	Limit  int
}

// validTransition encodes the job lifecycle. Terminal statuses have no
// outgoing edges.
func validTransition(from, to string) bool {
	switch from {
	case model.JobStatusPending:
		return to == model.JobStatusRunning || to == model.JobStatusFailed || to == model.JobStatusCancelled
	case model.JobStatusRunning:
		return to == model.JobStatusCompleted || to == model.JobStatusFailed || to == model.JobStatusCancelled
	}
	return false
}

// terminalStatus reports whether a job status accepts no further writes.
func terminalStatus(status string) bool {
	switch status {
	case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
		return true
	}
	return false
}
