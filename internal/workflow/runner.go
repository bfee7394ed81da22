package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/model"
)

// RunnerConfig tunes the runner.
type RunnerConfig struct {
	// MaxConcurrentExecutions caps in-flight executions. Zero means no cap.
	MaxConcurrentExecutions int

	// DedupTTL bounds how long a trigger idempotency key suppresses
	// duplicate fires.
	DedupTTL time.Duration
}

// Runner starts and cancels executions. Each execution runs on its own
// goroutine with its own cancellable context.
type Runner struct {
	worker *Worker
	store  ExecutionStore
	dedup  TriggerDedup // nil disables trigger deduplication
	cfg    RunnerConfig
	logger *zap.Logger

	// baseCtx bounds execution goroutines to the daemon lifetime.
	baseCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner. Executions it starts stop when baseCtx is
// cancelled.
func NewRunner(baseCtx context.Context, worker *Worker, store ExecutionStore,
	dedup TriggerDedup, cfg RunnerConfig, logger *zap.Logger) *Runner {

	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &Runner{
		worker:  worker,
		store:   store,
		dedup:   dedup,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start creates an execution for a trigger fire and runs it on a new
// goroutine. A non-empty idempotencyKey suppresses duplicate fires: the
// second caller gets the first execution back instead of a new one.
func (r *Runner) Start(ctx context.Context, g model.Graph, triggerPayload map[string]any, idempotencyKey string) (model.Execution, error) {
	executionID := uuid.NewString()

	if r.dedup != nil && idempotencyKey != "" {
		key := FormatTriggerKey(g.ID, idempotencyKey)
		existingID, claimed, err := r.dedup.Claim(ctx, key, executionID, r.cfg.DedupTTL)
		if err != nil {
			return model.Execution{}, fmt.Errorf("trigger dedup: %w", err)
		}
		if !claimed {
			r.logger.Info("duplicate trigger suppressed",
				zap.String("graph_id", g.ID),
				zap.String("idempotency_key", idempotencyKey),
				zap.String("execution_id", existingID))
			return r.store.GetExecution(ctx, existingID)
		}
	}

	// Reserve the in-flight slot under the same lock as the cap check, so
	// concurrent fires at the limit cannot all pass and overshoot it.
	execCtx, cancel := context.WithCancel(r.baseCtx)
	r.mu.Lock()
	if r.cfg.MaxConcurrentExecutions > 0 && len(r.cancels) >= r.cfg.MaxConcurrentExecutions {
		r.mu.Unlock()
		cancel()
		return model.Execution{}, model.NewConflictError(
			fmt.Sprintf("execution limit reached (%d in flight)", r.cfg.MaxConcurrentExecutions))
	}
	r.cancels[executionID] = cancel
	r.mu.Unlock()

	exec := model.Execution{
		ID:             executionID,
		GraphID:        g.ID,
		Status:         model.ExecutionStatusPending,
		Context:        map[string]any{},
		TriggerPayload: triggerPayload,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		r.mu.Lock()
		delete(r.cancels, executionID)
		r.mu.Unlock()
		cancel()
		return model.Execution{}, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, exec.ID)
			r.mu.Unlock()
			cancel()
		}()
		r.worker.Run(execCtx, g, exec)
	}()

	return exec, nil
}

// Cancel requests cancellation of a running execution. The worker observes
// it at the next step boundary. Returns EXECUTION_NOT_ACTIVE if the
// execution is not in flight.
func (r *Runner) Cancel(executionID string) error {
	r.mu.Lock()
	cancel, exists := r.cancels[executionID]
	r.mu.Unlock()

	if !exists {
		return model.NewExecutionNotActiveError(executionID)
	}
	cancel()
	return nil
}

// InFlight returns the number of executions currently running.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Drain waits for all execution goroutines to finish. Called on shutdown
// after cancelling baseCtx.
func (r *Runner) Drain() {
	r.wg.Wait()
}
