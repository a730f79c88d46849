package executor

import (
	"context"
	"fmt"
)

// Noop is a dry-run executor. It reports success for every prompt without
// touching the workspace, so the governance loop can be exercised end to
// end with no side effects.
type Noop struct {
	// TokensPerCall is charged against the budget for every Execute call.
	TokensPerCall int
}

func (Noop) Name() string { return "noop" }

func (n Noop) Execute(_ context.Context, prompt string) (Result, error) {
	tokens := n.TokensPerCall
	if tokens <= 0 {
		tokens = 100
	}
	head := prompt
	if len(head) > 60 {
		head = head[:60]
	}
	return Result{
		Success:    true,
		Output:     fmt.Sprintf("dry-run: acknowledged %q", head),
		TokensUsed: tokens,
	}, nil
}
