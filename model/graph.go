package model

// NodeType identifies the executor responsible for a node. Unknown types are
// rejected at graph validation time, never silently ignored at run time.
type NodeType string

// Built-in node types.
const (
	NodeTrigger        NodeType = "trigger"
	NodeInference      NodeType = "inference"
	NodeBatchInference NodeType = "batch_inference"
	NodeVideoInference NodeType = "video_inference"
	NodeTraining       NodeType = "training"
	NodeExport         NodeType = "export"
	NodeCondition      NodeType = "condition"
	NodeWebhook        NodeType = "webhook"
)

// Node is a single vertex of a workflow graph: an id, a type tag selecting
// its executor, and the static configuration authored by the user.
type Node struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge is a directed edge from Source to Target, meaning Target depends on
// Source's output.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the in-memory representation of a user-authored workflow. It is
// pure data; validation and scheduling live in the graph engine.
type Graph struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`
}
