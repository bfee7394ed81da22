package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kestrelvision/kestrel/internal/inference"
	"github.com/kestrelvision/kestrel/model"
)

// InferenceExecutor runs a single synchronous inference call inside the
// workflow step itself. Config: model_ref, image_path, task, params.
type InferenceExecutor struct {
	engine inference.Engine
}

// NewInferenceExecutor creates a single-image inference executor.
func NewInferenceExecutor(engine inference.Engine) *InferenceExecutor {
	return &InferenceExecutor{engine: engine}
}

// Type implements Executor.
func (e *InferenceExecutor) Type() model.NodeType { return model.NodeInference }

// Execute loads the configured image, runs one inference call, and returns
// the structured result plus summary counts for downstream nodes.
func (e *InferenceExecutor) Execute(ctx context.Context, nodeID string, input map[string]any) (map[string]any, error) {
	modelRef, _ := input["model_ref"].(string)
	if modelRef == "" {
		return nil, model.NewBadRequestError(fmt.Sprintf("inference node %q has no model_ref configured", nodeID))
	}
	imagePath, _ := input["image_path"].(string)
	if imagePath == "" {
		return nil, model.NewBadRequestError(fmt.Sprintf("inference node %q has no image_path configured", nodeID))
	}

	task := model.TaskDetection
	if t, ok := input["task"].(string); ok && t != "" {
		task = model.TaskKind(t)
	}
	params, _ := input["params"].(map[string]any)

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("inference: read image %s: %w", imagePath, err)
	}

	frame := model.Frame{Seq: 0, Data: data, CapturedAt: time.Now().UTC()}
	result, err := e.engine.Detect(ctx, modelRef, frame, task, params)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"result":         result,
		"detections":     len(result.Boxes),
		"masks":          len(result.Masks),
		"top_class":      result.TopClass,
		"top_confidence": result.TopConfidence,
	}, nil
}
