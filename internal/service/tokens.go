package service

import (
	"log/slog"
	"strings"
	"sync"
)

// charsPerToken is the fixed estimation heuristic. The counter is a budget
// signal, not a tokenizer; exact accuracy is not a goal.
const charsPerToken = 4

// TokenCounter tracks an approximate token count for the accumulating
// context buffer against a configured ceiling.
type TokenCounter struct {
	mu        sync.Mutex
	maxTokens int
	current   int
	buffer    strings.Builder
}

// NewTokenCounter creates a counter with the given context window ceiling.
func NewTokenCounter(maxTokens int) *TokenCounter {
	return &TokenCounter{maxTokens: maxTokens}
}

// Add appends text to the context buffer and returns the updated count.
func (c *TokenCounter) Add(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current += estimateTokens(text)
	c.buffer.WriteString(text)
	return c.current
}

// Usage returns the current token count.
func (c *TokenCounter) Usage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Context returns the accumulated context buffer.
func (c *TokenCounter) Context() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

// UsageRatio returns current/max. A zero ceiling reads as zero usage.
func (c *TokenCounter) UsageRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxTokens <= 0 {
		return 0
	}
	return float64(c.current) / float64(c.maxTokens)
}

// Reset clears the buffer and count.
func (c *TokenCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = 0
	c.buffer.Reset()
}

// ResetWithSummary clears the buffer, then seeds it with a distilled summary.
func (c *TokenCounter) ResetWithSummary(summary string) {
	c.Reset()
	count := c.Add(summary)
	slog.Info("context reset with summary", "tokens", count)
}

// ShouldDistill reports whether usage strictly exceeds the threshold ratio.
func (c *TokenCounter) ShouldDistill(threshold float64) bool {
	return c.UsageRatio() > threshold
}

// estimateTokens applies the chars-per-token heuristic, rounding up.
func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
