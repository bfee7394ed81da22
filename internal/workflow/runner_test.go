package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/executor"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

func newTestRunner(t *testing.T, ctx context.Context, registry *executor.Registry, dedup TriggerDedup, cfg RunnerConfig) (*Runner, *MemoryExecutionStore) {
	t.Helper()
	store := NewMemoryExecutionStore()
	poller := &staticPoller{jobs: []model.Job{{Status: model.JobStatusCompleted}}}
	worker := NewWorker(store, registry, poller, WorkerConfig{}, zap.NewNop(), observability.NewTestMetrics())
	return NewRunner(ctx, worker, store, dedup, cfg, zap.NewNop()), store
}

func waitForStatus(t *testing.T, store *MemoryExecutionStore, executionID, want string) model.Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		exec, err := store.GetExecution(context.Background(), executionID)
		if err == nil && exec.Status == want {
			return exec
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution %q never reached %q (last: %q, %s)", executionID, want, exec.Status, exec.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_startRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger},
		&recordingExecutor{nodeType: model.NodeInference},
		&recordingExecutor{nodeType: model.NodeWebhook},
	)
	r, store := newTestRunner(t, ctx, registry, nil, RunnerConfig{})

	exec, err := r.Start(ctx, linearGraph(), map[string]any{"camera_id": "cam-7"}, "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Drain()

	final := waitForStatus(t, store, exec.ID, model.ExecutionStatusCompleted)
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
}

func TestRunner_duplicateTriggerSuppressed(t *testing.T) {
	ctx := context.Background()
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger},
		&recordingExecutor{nodeType: model.NodeInference},
		&recordingExecutor{nodeType: model.NodeWebhook},
	)
	r, store := newTestRunner(t, ctx, registry, NewMemoryTriggerDedup(), RunnerConfig{})

	first, err := r.Start(ctx, linearGraph(), nil, "fire-abc")
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	second, err := r.Start(ctx, linearGraph(), nil, "fire-abc")
	if err != nil {
		t.Fatalf("duplicate Start() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate fire got execution %q, want %q", second.ID, first.ID)
	}

	r.Drain()
	if store.Len() != 1 {
		t.Errorf("executions = %d, want 1", store.Len())
	}
}

func TestRunner_distinctKeysRunSeparately(t *testing.T) {
	ctx := context.Background()
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger},
		&recordingExecutor{nodeType: model.NodeInference},
		&recordingExecutor{nodeType: model.NodeWebhook},
	)
	r, store := newTestRunner(t, ctx, registry, NewMemoryTriggerDedup(), RunnerConfig{})

	first, _ := r.Start(ctx, linearGraph(), nil, "fire-1")
	second, _ := r.Start(ctx, linearGraph(), nil, "fire-2")
	if first.ID == second.ID {
		t.Error("distinct keys shared an execution")
	}

	r.Drain()
	if store.Len() != 2 {
		t.Errorf("executions = %d, want 2", store.Len())
	}
}

func TestRunner_cancelStopsExecution(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger},
		&recordingExecutor{nodeType: model.NodeInference, fn: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{}, nil
		}},
		&recordingExecutor{nodeType: model.NodeWebhook},
	)
	r, store := newTestRunner(t, ctx, registry, nil, RunnerConfig{})

	exec, err := r.Start(ctx, linearGraph(), nil, "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	<-started
	if err := r.Cancel(exec.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(release)
	r.Drain()

	waitForStatus(t, store, exec.ID, model.ExecutionStatusCancelled)
}

func TestRunner_cancelUnknownExecution(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRunner(t, ctx, executor.NewRegistry(), nil, RunnerConfig{})

	err := r.Cancel("absent")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrExecutionNotActive {
		t.Errorf("error = %v, want EXECUTION_NOT_ACTIVE", err)
	}
}

func TestRunner_concurrencyLimit(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger, fn: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		}},
	)
	r, _ := newTestRunner(t, ctx, registry, nil, RunnerConfig{MaxConcurrentExecutions: 1})

	g := model.Graph{
		ID:    "g-one",
		Nodes: map[string]model.Node{"start": {ID: "start", Type: model.NodeTrigger}},
	}

	if _, err := r.Start(ctx, g, nil, ""); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	_, err := r.Start(ctx, g, nil, "")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT at the concurrency limit", err)
	}

	close(release)
	r.Drain()
}

func TestRunner_concurrencyLimitUnderContention(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	registry := executor.NewRegistry(
		&recordingExecutor{nodeType: model.NodeTrigger, fn: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		}},
	)
	r, _ := newTestRunner(t, ctx, registry, nil, RunnerConfig{MaxConcurrentExecutions: 2})

	g := model.Graph{
		ID:    "g-one",
		Nodes: map[string]model.Node{"start": {ID: "start", Type: model.NodeTrigger}},
	}

	// All fires race the cap check; the slot is reserved under the lock, so
	// exactly the configured number may launch.
	var wg sync.WaitGroup
	var started atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Start(ctx, g, nil, ""); err == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := started.Load(); got != 2 {
		t.Errorf("started = %d executions, want exactly 2", got)
	}
	if r.InFlight() != 2 {
		t.Errorf("InFlight() = %d, want 2", r.InFlight())
	}

	close(release)
	r.Drain()
}
