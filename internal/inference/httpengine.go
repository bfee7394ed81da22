package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

const defaultDetectTimeout = 30 * time.Second

// HTTPEngine calls a model server's /v1/detect endpoint.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine client for the model server at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = defaultDetectTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPEngine{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// detectRequest is the wire shape sent to the model server.
type detectRequest struct {
	ModelRef string         `json:"model_ref"`
	Task     model.TaskKind `json:"task"`
	Image    string         `json:"image"`
	Params   map[string]any `json:"params,omitempty"`
}

// Detect posts the frame to the model server and decodes the result.
func (e *HTTPEngine) Detect(
	ctx context.Context,
	modelRef string,
	frame model.Frame,
	task model.TaskKind,
	params map[string]any,
) (model.Result, error) {
	payload := detectRequest{
		ModelRef: modelRef,
		Task:     task,
		Image:    base64.StdEncoding.EncodeToString(frame.Data),
		Params:   params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.Result{}, fmt.Errorf("inference: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/detect", bytes.NewReader(body))
	if err != nil {
		return model.Result{}, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return model.Result{}, fmt.Errorf("inference: call model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.Result{}, fmt.Errorf(
			"inference: model server returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result model.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Result{}, fmt.Errorf("inference: decode result: %w", err)
	}
	return result, nil
}
