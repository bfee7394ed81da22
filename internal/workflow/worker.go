package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/executor"
	"github.com/kestrelvision/kestrel/internal/graph"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// JobPoller reads job records while a worker waits on an async step.
// Satisfied by the jobs store.
type JobPoller interface {
	GetJob(ctx context.Context, jobID string) (model.Job, error)
}

// WorkerConfig tunes execution runs.
type WorkerConfig struct {
	// ExecutionTimeout is the wall-clock budget of one execution, including
	// time spent waiting on async jobs.
	ExecutionTimeout time.Duration

	// JobPollInterval is the wait between status polls on an async job.
	JobPollInterval time.Duration

	// Policy decides how step failures affect the rest of the run.
	Policy FailurePolicy
}

// Worker runs one workflow execution from start to terminal status. Each
// execution gets its own worker invocation on a dedicated goroutine.
type Worker struct {
	store    ExecutionStore
	registry *executor.Registry
	jobs     JobPoller
	cfg      WorkerConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewWorker creates a worker.
func NewWorker(store ExecutionStore, registry *executor.Registry, jobs JobPoller,
	cfg WorkerConfig, logger *zap.Logger, metrics *observability.Metrics) *Worker {

	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Minute
	}
	if cfg.JobPollInterval <= 0 {
		cfg.JobPollInterval = 2 * time.Second
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = AbortOnFirstFailure
	}
	return &Worker{
		store:    store,
		registry: registry,
		jobs:     jobs,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run drives the execution to a terminal status. Cancellation via ctx is
// observed at step boundaries: the running step finishes, then the execution
// ends cancelled.
func (w *Worker) Run(ctx context.Context, g model.Graph, exec model.Execution) {
	ctx, span := observability.StartSpan(ctx, "workflow.execution",
		observability.AttrGraphID.String(g.ID),
		observability.AttrExecutionID.String(exec.ID),
	)
	log := observability.ExecutionLogger(ctx, w.logger, exec.ID, g.ID)

	engine := graph.New(g)
	if err := engine.Validate(); err != nil {
		w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed, err)
		return
	}
	if err := w.registry.ValidateNodeTypes(g); err != nil {
		w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed, err)
		return
	}

	order, err := engine.Sort()
	if err != nil {
		w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed, err)
		return
	}

	now := time.Now().UTC()
	exec.Status = model.ExecutionStatusRunning
	exec.StartedAt = &now
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	if err := w.store.UpdateExecution(ctx, exec); err != nil {
		w.logger.Error("failed to mark execution running",
			zap.String("execution_id", exec.ID), zap.Error(err))
		span.End()
		return
	}
	w.metrics.ExecutionsStartedTotal.WithLabelValues(g.ID).Inc()
	w.metrics.ExecutionsRunning.Inc()
	defer w.metrics.ExecutionsRunning.Dec()
	log.Info("execution started", zap.Int("nodes", len(order)))

	deadline := now.Add(w.cfg.ExecutionTimeout)
	blocked := make(map[string]bool)
	var firstErr error

	for i, nodeID := range order {
		// Step boundary: cancellation and the wall clock are checked here,
		// never mid-step.
		if ctx.Err() != nil {
			w.skipRemaining(ctx, engine, &exec, order[i:], "execution cancelled")
			w.finish(ctx, span, log, &exec, model.ExecutionStatusCancelled, nil)
			return
		}
		if time.Now().After(deadline) {
			w.skipRemaining(ctx, engine, &exec, order[i:], "execution timed out")
			w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed,
				model.NewExecutionTimeoutError(fmt.Sprintf("execution exceeded %s", w.cfg.ExecutionTimeout)))
			return
		}

		node, _ := engine.Node(nodeID)

		if engine.ShouldSkip(nodeID, blocked) {
			blocked[nodeID] = true
			w.recordSkip(ctx, &exec, node, "upstream dependency did not complete")
			w.metrics.StepsTotal.WithLabelValues(string(node.Type), model.StepStatusSkipped).Inc()
			continue
		}

		output, stepErr := w.runStep(ctx, log, engine, &exec, node, deadline)
		if stepErr != nil {
			blocked[nodeID] = true
			firstErr = model.NewStepFailedError(nodeID, stepErr)
			// A timed-out job wait is the execution's wall clock expiring,
			// not a fault of the node.
			if env, ok := stepErr.(*model.ErrorEnvelope); ok && env.Code == model.ErrExecutionTimeout {
				firstErr = env
			}
			log.Error("step failed", zap.String("node_id", nodeID), zap.Error(stepErr))

			if w.cfg.Policy == AbortOnFirstFailure {
				w.skipRemaining(ctx, engine, &exec, order[i+1:], "aborted after earlier step failure")
				w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed, firstErr)
				return
			}
			continue
		}

		graph.MergeContext(exec.Context, output, nodeID)
		exec.Progress = (i + 1) * 100 / len(order)
		if err := w.store.UpdateExecution(ctx, exec); err != nil {
			w.logger.Warn("failed to persist progress",
				zap.String("execution_id", exec.ID), zap.Error(err))
		}
	}

	if firstErr != nil {
		w.finish(ctx, span, log, &exec, model.ExecutionStatusFailed, firstErr)
		return
	}
	exec.Progress = 100
	w.finish(ctx, span, log, &exec, model.ExecutionStatusCompleted, nil)
}

// runStep executes one node: step record, executor call, and the async job
// wait when the output carries a job reference.
func (w *Worker) runStep(ctx context.Context, log *zap.Logger, engine *graph.Engine,
	exec *model.Execution, node model.Node, deadline time.Time) (map[string]any, error) {

	ctx, span := observability.StartSpan(ctx, "workflow.step",
		observability.AttrNodeID.String(node.ID),
		observability.AttrNodeType.String(string(node.Type)),
	)
	var stepErr error
	defer func() { observability.EndSpanWithError(span, stepErr) }()

	input := engine.NodeInput(node.ID, exec.Context)
	if node.Type == model.NodeTrigger {
		input[executor.KeyTriggerPayload] = exec.TriggerPayload
	}

	now := time.Now().UTC()
	step := model.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      model.StepStatusRunning,
		Input:       input,
		StartedAt:   &now,
	}
	if err := w.store.CreateStep(ctx, step); err != nil {
		stepErr = err
		return nil, err
	}

	exe, err := w.registry.Resolve(node.Type)
	if err != nil {
		stepErr = err
		w.completeStep(ctx, &step, model.StepStatusFailed, nil, err)
		return nil, err
	}

	start := time.Now()
	output, err := exe.Execute(ctx, node.ID, input)
	w.metrics.StepDuration.WithLabelValues(string(node.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		stepErr = err
		w.completeStep(ctx, &step, model.StepStatusFailed, nil, err)
		w.metrics.StepsTotal.WithLabelValues(string(node.Type), model.StepStatusFailed).Inc()
		return nil, err
	}

	// An output carrying a job reference gates the step on that job.
	if jobID, kind, ok := executor.JobRef(output); ok {
		step.JobID = jobID
		step.JobKind = kind
		span.SetAttributes(
			observability.AttrJobID.String(jobID),
			observability.AttrJobKind.String(string(kind)),
		)
		log.Info("step waiting on job",
			zap.String("node_id", node.ID), zap.String("job_id", jobID))

		job, err := w.awaitJob(ctx, jobID, deadline)
		if err != nil {
			stepErr = err
			w.completeStep(ctx, &step, model.StepStatusFailed, output, err)
			w.metrics.StepsTotal.WithLabelValues(string(node.Type), model.StepStatusFailed).Inc()
			return nil, err
		}
		output["job_status"] = job.Status
		output["job_summary"] = job.Summary
	}

	w.completeStep(ctx, &step, model.StepStatusCompleted, output, nil)
	w.metrics.StepsTotal.WithLabelValues(string(node.Type), model.StepStatusCompleted).Inc()
	return output, nil
}

// awaitJob polls the job until it reaches a terminal status, the execution
// deadline passes, or the context is cancelled.
func (w *Worker) awaitJob(ctx context.Context, jobID string, deadline time.Time) (model.Job, error) {
	ticker := time.NewTicker(w.cfg.JobPollInterval)
	defer ticker.Stop()

	for {
		job, err := w.jobs.GetJob(ctx, jobID)
		if err != nil {
			return model.Job{}, err
		}
		w.metrics.JobWaitPollsTotal.Inc()

		switch job.Status {
		case model.JobStatusCompleted:
			return job, nil
		case model.JobStatusFailed:
			return model.Job{}, model.NewJobFailedError(jobID, job.Error)
		case model.JobStatusCancelled:
			return model.Job{}, model.NewJobFailedError(jobID, "job was cancelled")
		}

		if time.Now().After(deadline) {
			return model.Job{}, model.NewExecutionTimeoutError(
				fmt.Sprintf("timed out waiting for job %q", jobID))
		}

		select {
		case <-ctx.Done():
			return model.Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// completeStep writes the step's terminal record.
func (w *Worker) completeStep(ctx context.Context, step *model.StepExecution, status string, output map[string]any, err error) {
	now := time.Now().UTC()
	step.Status = status
	step.Output = output
	step.CompletedAt = &now
	if err != nil {
		step.Error = err.Error()
	}
	if uerr := w.store.UpdateStep(ctx, *step); uerr != nil {
		w.logger.Error("failed to persist step",
			zap.String("step_id", step.ID), zap.Error(uerr))
	}
}

// recordSkip writes a terminal skipped step record for a node that never ran.
func (w *Worker) recordSkip(ctx context.Context, exec *model.Execution, node model.Node, reason string) {
	now := time.Now().UTC()
	step := model.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      model.StepStatusSkipped,
		Error:       reason,
		StartedAt:   &now,
		CompletedAt: &now,
	}
	if err := w.store.CreateStep(ctx, step); err != nil {
		w.logger.Error("failed to record skipped step",
			zap.String("execution_id", exec.ID), zap.String("node_id", node.ID), zap.Error(err))
	}
}

// skipRemaining records skipped steps for every node that will not run.
func (w *Worker) skipRemaining(ctx context.Context, engine *graph.Engine, exec *model.Execution, nodeIDs []string, reason string) {
	for _, nodeID := range nodeIDs {
		node, ok := engine.Node(nodeID)
		if !ok {
			node = model.Node{ID: nodeID}
		}
		w.recordSkip(ctx, exec, node, reason)
		w.metrics.StepsTotal.WithLabelValues(string(node.Type), model.StepStatusSkipped).Inc()
	}
}

// finish writes the execution's terminal record. Runs under a detached
// context so a cancelled execution still persists its final state.
func (w *Worker) finish(ctx context.Context, span trace.Span, log *zap.Logger,
	exec *model.Execution, status string, err error) {

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	exec.Status = status
	exec.CompletedAt = &now
	if err != nil {
		exec.Error = err.Error()
	}
	if uerr := w.store.UpdateExecution(finCtx, *exec); uerr != nil {
		w.logger.Error("failed to finalize execution",
			zap.String("execution_id", exec.ID), zap.Error(uerr))
	}

	w.metrics.ExecutionsCompletedTotal.WithLabelValues(exec.GraphID, status).Inc()
	if exec.StartedAt != nil {
		w.metrics.ExecutionDuration.Observe(now.Sub(*exec.StartedAt).Seconds())
	}

	fields := []zap.Field{
		zap.String("status", status),
		zap.Int("progress", exec.Progress),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		log.Error("execution finished", fields...)
	} else {
		log.Info("execution finished", fields...)
	}
	observability.EndSpanWithError(span, err)
}
