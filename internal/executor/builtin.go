package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelvision/kestrel/internal/graph"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// KeyTriggerPayload is the input key under which the worker passes the
// execution's trigger payload to the trigger node.
const KeyTriggerPayload = "_trigger_payload"

// --- Trigger ---

// TriggerExecutor starts a workflow run by exposing the trigger payload to
// downstream nodes.
type TriggerExecutor struct{}

// NewTriggerExecutor creates a trigger executor.
func NewTriggerExecutor() *TriggerExecutor { return &TriggerExecutor{} }

// Type implements Executor.
func (e *TriggerExecutor) Type() model.NodeType { return model.NodeTrigger }

// Execute returns the trigger payload as the node output so it is hoisted
// into the shared context.
func (e *TriggerExecutor) Execute(_ context.Context, _ string, input map[string]any) (map[string]any, error) {
	payload, _ := input[KeyTriggerPayload].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{"payload": payload, "fired_at": time.Now().UTC().Format(time.RFC3339)}, nil
}

// --- Condition ---

// ConditionExecutor evaluates a comparison against a shared-context value.
// Config: key, operator (eq, neq, gt, lt, exists), value.
type ConditionExecutor struct{}

// NewConditionExecutor creates a condition executor.
func NewConditionExecutor() *ConditionExecutor { return &ConditionExecutor{} }

// Type implements Executor.
func (e *ConditionExecutor) Type() model.NodeType { return model.NodeCondition }

// Execute evaluates the configured condition against the context snapshot.
func (e *ConditionExecutor) Execute(_ context.Context, nodeID string, input map[string]any) (map[string]any, error) {
	key, _ := input["key"].(string)
	if key == "" {
		return nil, model.NewBadRequestError(fmt.Sprintf("condition node %q has no key configured", nodeID))
	}
	op, _ := input["operator"].(string)
	if op == "" {
		op = "eq"
	}

	snapshot, _ := input[graph.KeyContext].(map[string]any)
	actual, present := snapshot[key]

	matched, err := evaluate(op, actual, present, input["value"])
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("condition node %q: %v", nodeID, err))
	}
	return map[string]any{"matched": matched, "_key": key}, nil
}

func evaluate(op string, actual any, present bool, expected any) (bool, error) {
	switch op {
	case "exists":
		return present, nil
	case "eq":
		return present && fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case "neq":
		return !present || fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case "gt", "lt":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("operator %q requires numeric operands", op)
		}
		if op == "gt" {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// --- Webhook ---

// WebhookExecutor posts a JSON notification to a configured URL.
// Config: url, payload_keys (optional list restricting which context keys
// are included).
type WebhookExecutor struct {
	client *http.Client
}

// NewWebhookExecutor creates a webhook executor with the given timeout.
func NewWebhookExecutor(timeout time.Duration) *WebhookExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookExecutor{client: &http.Client{Timeout: timeout}}
}

// Type implements Executor.
func (e *WebhookExecutor) Type() model.NodeType { return model.NodeWebhook }

// Execute posts the selected context values to the configured URL.
func (e *WebhookExecutor) Execute(ctx context.Context, nodeID string, input map[string]any) (map[string]any, error) {
	url, _ := input["url"].(string)
	if url == "" {
		return nil, model.NewBadRequestError(fmt.Sprintf("webhook node %q has no url configured", nodeID))
	}

	snapshot, _ := input[graph.KeyContext].(map[string]any)
	body := snapshot
	if keys, ok := input["payload_keys"].([]any); ok {
		body = make(map[string]any, len(keys))
		for _, k := range keys {
			name, _ := k.(string)
			if v, ok := snapshot[name]; ok {
				body[name] = v
			}
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: post to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook: %s returned %d", url, resp.StatusCode)
	}
	return map[string]any{"status_code": resp.StatusCode}, nil
}
