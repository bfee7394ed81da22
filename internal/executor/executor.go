// Package executor defines the node executor contract and the typed registry
// that resolves a node's type tag to its implementation. Unknown node types
// are rejected when a graph is validated, never discovered mid-run.
package executor

import (
	"context"
	"sort"

	"github.com/kestrelvision/kestrel/model"
)

// Output keys with orchestration meaning. An executor whose output carries
// both keys signals that the step's true completion is gated on an external
// asynchronous job; the workflow worker blocks polling that job.
const (
	OutputKeyJobID   = "job_id"
	OutputKeyJobKind = "job_kind"
)

// Executor runs one node. The input map is the node's static configuration
// merged with the shared-context snapshot and direct-dependency outputs
// assembled by the graph engine.
type Executor interface {
	// Type returns the node type this executor handles.
	Type() model.NodeType

	// Execute runs the node and returns its output map.
	Execute(ctx context.Context, nodeID string, input map[string]any) (map[string]any, error)
}

// JobRef extracts an async job reference from an executor output, if present.
func JobRef(output map[string]any) (jobID string, kind model.JobKind, ok bool) {
	id, haveID := output[OutputKeyJobID].(string)
	if !haveID || id == "" {
		return "", "", false
	}
	switch v := output[OutputKeyJobKind].(type) {
	case model.JobKind:
		return id, v, true
	case string:
		return id, model.JobKind(v), true
	}
	return "", "", false
}

// Registry maps node types to executors.
type Registry struct {
	executors map[model.NodeType]Executor
}

// NewRegistry creates a registry holding the given executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[model.NodeType]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Type()] = e
	}
	return r
}

// Register adds or replaces the executor for a node type.
func (r *Registry) Register(e Executor) {
	r.executors[e.Type()] = e
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(t model.NodeType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, model.NewUnknownNodeTypeError("", string(t))
	}
	return e, nil
}

// ValidateNodeTypes checks that every node in the graph has a registered
// executor. Called during graph validation so an unknown type blocks the
// execution before it starts.
func (r *Registry) ValidateNodeTypes(g model.Graph) error {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.Nodes[id]
		if _, ok := r.executors[n.Type]; !ok {
			return model.NewUnknownNodeTypeError(n.ID, string(n.Type))
		}
	}
	return nil
}
