package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/executor"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

func writeImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("img-%02d.jpg", i))
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	return dir
}

func newTestStarter(t *testing.T, ctx context.Context) (*Starter, *MemoryJobStore, *Registry) {
	t.Helper()
	store := NewMemoryJobStore()
	metrics := observability.NewTestMetrics()
	registry := NewRegistry(store, zap.NewNop(), metrics)
	starter := NewStarter(ctx, store, registry, &countingEngine{}, StarterConfig{
		StatsUpdateEvery: 10,
		CaptureBaseURL:   "http://capture.local",
	}, zap.NewNop(), metrics)
	return starter, store, registry
}

func TestStarter_launchBatchJobRunsToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	starter, store, _ := newTestStarter(t, ctx)

	jobID, err := starter.Launch(ctx, executor.LaunchSpec{
		Kind:     model.JobKindBatch,
		TaskKind: model.TaskDetection,
		Config:   map[string]any{"model_ref": "yolo-v8", "input_dir": writeImages(t, 3)},
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	starter.Drain()

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	results, _ := store.ListResults(ctx, jobID)
	if len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}
}

func TestStarter_launchTrainingStaysPending(t *testing.T) {
	ctx := context.Background()
	starter, store, registry := newTestStarter(t, ctx)

	jobID, err := starter.Launch(ctx, executor.LaunchSpec{
		Kind:   model.JobKindTraining,
		Config: map[string]any{"dataset_ref": "ds-1"},
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	job, _ := store.GetJob(ctx, jobID)
	if job.Status != model.JobStatusPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if registry.Len() != 0 {
		t.Error("non-streaming job got a registry handle")
	}
}

func TestStarter_launchBatchMissingInputDir(t *testing.T) {
	ctx := context.Background()
	starter, store, _ := newTestStarter(t, ctx)

	_, err := starter.Launch(ctx, executor.LaunchSpec{
		Kind:   model.JobKindBatch,
		Config: map[string]any{"model_ref": "yolo-v8"},
	})
	if err == nil {
		t.Fatal("Launch() without input_dir should fail")
	}

	// The job record exists and is failed, so the error is inspectable.
	jobsOut, _ := store.ListJobs(ctx, JobFilters{Status: model.JobStatusFailed})
	if len(jobsOut) != 1 {
		t.Errorf("failed jobs = %d, want 1", len(jobsOut))
	}
}

func TestStarter_configStrideOverride(t *testing.T) {
	job := newTestJob("job-1")
	job.Summary.Config["stride"] = float64(5)
	if got := strideFor(job, 1); got != 5 {
		t.Errorf("strideFor = %d, want 5", got)
	}

	job.Summary.Config["stride"] = float64(0)
	if got := strideFor(job, 2); got != 2 {
		t.Errorf("strideFor = %d, want fallback 2", got)
	}
}

func TestStarter_stopJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	starter, store, registry := newTestStarter(t, ctx)

	// A large batch so the session is still running when we stop it.
	jobID, err := starter.Launch(ctx, executor.LaunchSpec{
		Kind:     model.JobKindBatch,
		TaskKind: model.TaskDetection,
		Config:   map[string]any{"model_ref": "yolo-v8", "input_dir": writeImages(t, 200)},
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if err := starter.StopJob(jobID); err != nil && registry.Len() > 0 {
		t.Fatalf("StopJob() error = %v", err)
	}
	starter.Drain()

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, _ := store.GetJob(ctx, jobID)
		if job.Status == model.JobStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %q, want completed after stop", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
