// Package opencode implements the executor port against an OpenCode
// backend service over HTTP.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/harrier/internal/port/executor"
)

const backendName = "opencode"

// Backend sends execution prompts to an OpenCode worker service.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an OpenCode backend for the given base URL.
func New(baseURL string, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Backend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns "opencode".
func (b *Backend) Name() string { return backendName }

type executeRequest struct {
	Prompt string `json:"prompt"`
}

type executeResponse struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
}

// Execute posts the prompt to the worker and maps its response. Transport
// errors return an error; the worker reporting failure is a non-success
// result, not an error.
func (b *Backend) Execute(ctx context.Context, prompt string) (executor.Result, error) {
	body, err := json.Marshal(executeRequest{Prompt: prompt})
	if err != nil {
		return executor.Result{}, fmt.Errorf("opencode: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return executor.Result{}, fmt.Errorf("opencode: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return executor.Result{}, fmt.Errorf("opencode: execute: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Result{}, fmt.Errorf("opencode: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return executor.Result{}, fmt.Errorf("opencode: backend %d: %s", resp.StatusCode, string(data))
	}

	var out executeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return executor.Result{}, fmt.Errorf("opencode: decode response: %w", err)
	}

	return executor.Result{
		Success:    out.Success,
		Output:     out.Output,
		Error:      out.Error,
		TokensUsed: out.TokensUsed,
	}, nil
}
