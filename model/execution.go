package model

import "time"

// Execution status constants. An execution never leaves a terminal status.
// StatusPaused is reserved for a future suspend/resume extension and is not
// entered by the current worker.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
	ExecutionStatusPaused    = "paused"
)

// Step status constants. Steps share the execution status shape but are
// tracked independently; a skipped step does not fail its execution.
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// IsTerminalStatus reports whether a status is one of the terminal states
// shared by executions, steps, and jobs.
func IsTerminalStatus(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, StepStatusSkipped:
		return true
	}
	return false
}

// Execution is one run of a Graph. It is mutated only by the worker
// goroutine that owns it; once terminal it is read-only.
type Execution struct {
	ID             string         `json:"id"`
	GraphID        string         `json:"graph_id"`
	Status         string         `json:"status"`
	Progress       int            `json:"progress"`
	Context        map[string]any `json:"context,omitempty"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// StepExecution is one node's run within an execution. A row is created for
// every scheduled node, including nodes that are skipped, and is immutable
// once terminal.
type StepExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	JobKind     JobKind        `json:"job_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
