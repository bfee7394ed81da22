// Package inference defines the engine contract the orchestration core
// consumes for model computation, plus the HTTP client that talks to a model
// server. The core never interprets result contents beyond counting and
// aggregating them.
package inference

import (
	"context"

	"github.com/kestrelvision/kestrel/model"
)

// Engine runs one inference call against a referenced model. Implementations
// must be safe for concurrent use: streaming jobs call Detect from their own
// goroutines.
type Engine interface {
	Detect(
		ctx context.Context,
		modelRef string,
		frame model.Frame,
		task model.TaskKind,
		params map[string]any,
	) (model.Result, error)
}
