package graph

import "maps"

// Reserved keys injected into every node's assembled input. Output keys with
// the same underscore prefix are treated as node-local and are not hoisted
// into the shared context.
const (
	KeyContext           = "_context"
	KeyDependencyOutputs = "_dependency_outputs"
	localPrefix          = "_"
)

// NodeKey returns the context key under which a node's raw output is stored.
func NodeKey(nodeID string) string {
	return "node:" + nodeID
}

// NodeInput assembles the input for a node: its static configuration merged
// with a snapshot of the full shared context and the outputs of its direct
// dependencies only. Restricting dependency outputs to direct upstreams is
// the sole channel through which nodes see prior results, so a node cannot
// silently couple to a non-adjacent ancestor.
func (e *Engine) NodeInput(nodeID string, execContext map[string]any) map[string]any {
	input := make(map[string]any)
	if n, ok := e.graph.Nodes[nodeID]; ok {
		maps.Copy(input, n.Config)
	}

	snapshot := make(map[string]any, len(execContext))
	maps.Copy(snapshot, execContext)
	input[KeyContext] = snapshot

	depOutputs := make(map[string]any)
	for _, dep := range e.deps[nodeID] {
		if out, ok := execContext[NodeKey(dep)]; ok {
			depOutputs[dep] = out
		}
	}
	input[KeyDependencyOutputs] = depOutputs

	return input
}

// MergeContext folds a node's output into the shared execution context. The
// raw output is stored under a node-scoped key, and every output key not
// prefixed as node-local is additionally hoisted into the global namespace so
// later nodes can reference "the most recent X" without knowing its producer.
// Name collisions in the global namespace are last-writer-wins. Merging the
// same output twice is a no-op beyond the first merge.
func MergeContext(execContext, output map[string]any, nodeID string) {
	if output == nil {
		output = map[string]any{}
	}
	execContext[NodeKey(nodeID)] = output
	for k, v := range output {
		if len(k) >= len(localPrefix) && k[:len(localPrefix)] == localPrefix {
			continue
		}
		execContext[k] = v
	}
}

// ShouldSkip reports whether a node must be skipped because one of its
// direct dependencies is in the blocked set. The worker places both failed
// and skipped nodes in the set, so skipping propagates through transitive
// dependents. A skip is not itself a failure.
func (e *Engine) ShouldSkip(nodeID string, blocked map[string]bool) bool {
	for _, dep := range e.deps[nodeID] {
		if blocked[dep] {
			return true
		}
	}
	return false
}
