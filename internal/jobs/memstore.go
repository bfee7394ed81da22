package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelvision/kestrel/model"
)

// MemoryJobStore is an in-memory JobStore for testing and single-node runs.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]model.Job
	results map[string][]model.JobResult // key: job ID
}

// NewMemoryJobStore creates a new in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]model.Job),
		results: make(map[string][]model.JobResult),
	}
}

// CreateJob persists a new job.
func (s *MemoryJobStore) CreateJob(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("job %q already exists", job.ID))
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob retrieves a job by ID.
func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.Job{}, model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	return job, nil
}

// UpdateStatus moves a job through its lifecycle.
func (s *MemoryJobStore) UpdateStatus(_ context.Context, jobID, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if !validTransition(job.Status, status) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q cannot move from %q to %q", jobID, job.Status, status),
		)
	}

	now := time.Now().UTC()
	job.Status = status
	switch status {
	case model.JobStatusRunning:
		job.StartedAt = &now
	case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
		job.CompletedAt = &now
		job.Error = errMsg
	}
	s.jobs[jobID] = job
	return nil
}

// ReplaceStats overwrites the job's stats as a whole unit.
func (s *MemoryJobStore) ReplaceStats(_ context.Context, jobID string, stats model.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if terminalStatus(job.Status) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q is %s; stats are frozen", jobID, job.Status))
	}
	job.Summary.Stats = stats
	s.jobs[jobID] = job
	return nil
}

// MergeMetadata applies a partial metadata update.
func (s *MemoryJobStore) MergeMetadata(_ context.Context, jobID string, patch model.MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}
	if terminalStatus(job.Status) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("job %q is %s; metadata is frozen", jobID, job.Status))
	}
	job.Summary.Metadata.Apply(patch)
	s.jobs[jobID] = job
	return nil
}

// AppendResult adds one durable per-frame result.
func (s *MemoryJobStore) AppendResult(_ context.Context, result model.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[result.JobID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("job %q not found", result.JobID))
	}
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return nil
}

// ListResults returns all results for a job ordered by sequence number.
func (s *MemoryJobStore) ListResults(_ context.Context, jobID string) ([]model.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.jobs[jobID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("job %q not found", jobID))
	}

	results := s.results[jobID]
	out := make([]model.JobResult, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ListJobs returns jobs matching the filters, newest first.
func (s *MemoryJobStore) ListJobs(_ context.Context, filters JobFilters) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Job
	for _, job := range s.jobs {
		if filters.Kind != "" && job.Kind != filters.Kind {
			continue
		}
		if filters.Status != "" && job.Status != filters.Status {
			continue
		}
		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryJobStore) HealthCheck(_ context.Context) error { return nil }

// Len returns the total number of jobs. For testing.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
