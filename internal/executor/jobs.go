package executor

import (
	"context"
	"fmt"

	"github.com/kestrelvision/kestrel/internal/graph"
	"github.com/kestrelvision/kestrel/model"
)

// LaunchSpec describes a job to start on behalf of a workflow node.
type LaunchSpec struct {
	Kind        model.JobKind
	TaskKind    model.TaskKind
	CaptureMode model.CaptureMode
	Config      map[string]any
}

// JobLauncher starts jobs for the asynchronous node types. Implemented by the
// jobs subsystem; executors only hold the returned job reference.
type JobLauncher interface {
	Launch(ctx context.Context, spec LaunchSpec) (jobID string, err error)
}

// jobExecutor is the shared implementation behind the four async node types.
// Each launches a job and returns a job reference; the worker then polls the
// job to terminal state before marking the step complete.
type jobExecutor struct {
	nodeType model.NodeType
	kind     model.JobKind
	launcher JobLauncher
}

// NewBatchInferenceExecutor creates the executor for batch inference nodes.
// Config: model_ref, input_dir, task, params.
func NewBatchInferenceExecutor(launcher JobLauncher) Executor {
	return &jobExecutor{nodeType: model.NodeBatchInference, kind: model.JobKindBatch, launcher: launcher}
}

// NewVideoInferenceExecutor creates the executor for video inference nodes.
// Config: model_ref, video_path (or source), task, params, stride.
func NewVideoInferenceExecutor(launcher JobLauncher) Executor {
	return &jobExecutor{nodeType: model.NodeVideoInference, kind: model.JobKindVideo, launcher: launcher}
}

// NewTrainingExecutor creates the executor for training nodes.
// Config: dataset_ref, base_model, hyperparameters.
func NewTrainingExecutor(launcher JobLauncher) Executor {
	return &jobExecutor{nodeType: model.NodeTraining, kind: model.JobKindTraining, launcher: launcher}
}

// NewExportExecutor creates the executor for model export nodes.
// Config: model_ref, format.
func NewExportExecutor(launcher JobLauncher) Executor {
	return &jobExecutor{nodeType: model.NodeExport, kind: model.JobKindExport, launcher: launcher}
}

// Type implements Executor.
func (e *jobExecutor) Type() model.NodeType { return e.nodeType }

// Execute launches the job and returns its reference. The output keys job_id
// and job_kind tell the worker to gate step completion on the job itself.
func (e *jobExecutor) Execute(ctx context.Context, nodeID string, input map[string]any) (map[string]any, error) {
	if e.launcher == nil {
		return nil, model.NewInternalError(fmt.Sprintf("node %q: no job launcher configured", nodeID))
	}

	task := model.TaskDetection
	if t, ok := input["task"].(string); ok && t != "" {
		task = model.TaskKind(t)
	}

	// Node configuration becomes the job's write-once config. The reserved
	// orchestration keys are stripped so the config stays self-contained.
	config := make(map[string]any, len(input))
	for k, v := range input {
		if k == graph.KeyContext || k == graph.KeyDependencyOutputs || k == KeyTriggerPayload {
			continue
		}
		config[k] = v
	}

	jobID, err := e.launcher.Launch(ctx, LaunchSpec{
		Kind:        e.kind,
		TaskKind:    task,
		CaptureMode: model.CaptureContinuous,
		Config:      config,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s job for node %q: %w", e.kind, nodeID, err)
	}

	return map[string]any{
		OutputKeyJobID:   jobID,
		OutputKeyJobKind: e.kind,
	}, nil
}
