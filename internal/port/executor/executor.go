// Package executor defines the port for the external coding-agent backend.
package executor

import "context"

// Result is the outcome of one prompt execution.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
}

// Executor is the execution collaborator. The engine calls it once per
// effort phase (frame, implement, refine); any non-success result
// short-circuits the task as a failure.
type Executor interface {
	// Name returns the backend identifier (e.g. "opencode", "noop").
	Name() string

	// Execute runs one natural-language prompt against the backend.
	// Implementations must bound the call with the context deadline.
	Execute(ctx context.Context, prompt string) (Result, error)
}
