// Package graph validates workflow graphs and computes their execution
// schedule. It owns the structural rules (trigger presence, orphan and
// dangling-edge checks, acyclicity) and the dependency queries the worker
// uses to assemble node input and decide skips.
package graph

import (
	"fmt"
	"sort"

	"github.com/kestrelvision/kestrel/model"
)

// Engine wraps one graph with its adjacency indexes. It is immutable after
// construction and safe for concurrent reads.
type Engine struct {
	graph      model.Graph
	deps       map[string][]string
	dependents map[string][]string
}

// New builds an engine for the given graph. The graph is not validated here;
// call Validate before scheduling an execution.
func New(g model.Graph) *Engine {
	e := &Engine{
		graph:      g,
		deps:       make(map[string][]string, len(g.Nodes)),
		dependents: make(map[string][]string, len(g.Nodes)),
	}
	for _, edge := range g.Edges {
		e.deps[edge.Target] = append(e.deps[edge.Target], edge.Source)
		e.dependents[edge.Source] = append(e.dependents[edge.Source], edge.Target)
	}
	// Sorted adjacency keeps dependency listings stable across runs.
	for _, adj := range []map[string][]string{e.deps, e.dependents} {
		for id := range adj {
			sort.Strings(adj[id])
		}
	}
	return e
}

// Graph returns the underlying graph.
func (e *Engine) Graph() model.Graph {
	return e.graph
}

// Node returns a node by id.
func (e *Engine) Node(id string) (model.Node, bool) {
	n, ok := e.graph.Nodes[id]
	return n, ok
}

// Validate checks the graph's structural invariants, in order: a trigger
// node exists, no non-trigger node is orphaned, every edge references
// existing nodes, every non-trigger node is reachable from a trigger, and
// the graph is acyclic. It returns a GRAPH_INVALID error with a
// human-readable reason on the first violation. Validation runs before an
// execution starts and never mid-run.
func (e *Engine) Validate() error {
	hasTrigger := false
	for _, n := range e.graph.Nodes {
		if n.Type == model.NodeTrigger {
			hasTrigger = true
			break
		}
	}
	if !hasTrigger {
		return model.NewGraphInvalidError("graph has no trigger node")
	}

	for _, id := range e.sortedNodeIDs() {
		n := e.graph.Nodes[id]
		if n.Type == model.NodeTrigger {
			continue
		}
		if len(e.deps[id]) == 0 && len(e.dependents[id]) == 0 {
			return model.NewGraphInvalidError(
				fmt.Sprintf("node %q is not connected to the graph", id))
		}
	}

	for _, edge := range e.graph.Edges {
		if _, ok := e.graph.Nodes[edge.Source]; !ok {
			return model.NewGraphInvalidError(
				fmt.Sprintf("edge references unknown node %q", edge.Source))
		}
		if _, ok := e.graph.Nodes[edge.Target]; !ok {
			return model.NewGraphInvalidError(
				fmt.Sprintf("edge references unknown node %q", edge.Target))
		}
	}

	// A connected island with no path from a trigger would otherwise pass
	// the orphan check and execute without ever being fired.
	reachable := make(map[string]bool, len(e.graph.Nodes))
	var frontier []string
	for _, n := range e.graph.Nodes {
		if n.Type == model.NodeTrigger {
			reachable[n.ID] = true
			frontier = append(frontier, n.ID)
		}
	}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, dep := range e.dependents[id] {
			if !reachable[dep] {
				reachable[dep] = true
				frontier = append(frontier, dep)
			}
		}
	}
	for _, id := range e.sortedNodeIDs() {
		if !reachable[id] {
			return model.NewGraphInvalidError(
				fmt.Sprintf("node %q is not reachable from a trigger", id))
		}
	}

	if _, err := e.Sort(); err != nil {
		return err
	}
	return nil
}

// Sort computes the execution order using Kahn's algorithm: seed with all
// zero-in-degree nodes, pop, append, decrement successors. If the produced
// order is shorter than the node count the graph contains a cycle, which is
// reported as a validation error rather than a truncated order.
//
// Ties among simultaneously ready nodes are broken lexicographically so the
// schedule is deterministic, but executors must not rely on the relative
// order of unrelated nodes.
func (e *Engine) Sort() ([]string, error) {
	inDegree := make(map[string]int, len(e.graph.Nodes))
	for id := range e.graph.Nodes {
		inDegree[id] = len(e.deps[id])
	}

	var ready []string
	for _, id := range e.sortedNodeIDs() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(e.graph.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		unlocked := false
		for _, dep := range e.dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
				unlocked = true
			}
		}
		if unlocked {
			sort.Strings(ready)
		}
	}

	if len(order) < len(e.graph.Nodes) {
		return nil, model.NewGraphInvalidError("graph contains a cycle")
	}
	return order, nil
}

// Dependencies returns the direct upstream node ids of the given node.
func (e *Engine) Dependencies(id string) []string {
	return e.deps[id]
}

// Dependents returns the direct downstream node ids of the given node.
func (e *Engine) Dependents(id string) []string {
	return e.dependents[id]
}

func (e *Engine) sortedNodeIDs() []string {
	ids := make([]string, 0, len(e.graph.Nodes))
	for id := range e.graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
