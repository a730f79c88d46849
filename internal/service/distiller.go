package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Extraction caps. Distillation is lossy compression, not an archive:
// anything beyond these caps is discarded and unrecoverable.
const (
	maxDecisions   = 10
	maxFiles       = 20
	maxErrors      = 5
	maxLineLength  = 200
	sectionDivider = "\n\n---\n\n"
)

var decisionMarkers = []string{"decided to", "we chose", "going with", "solution:"}

var errorMarkers = []string{"error:", "failed:", "❌"}

// filePattern matches filenames that follow a mutation verb, e.g.
// `created foo/bar.go` or `wrote to "cmd/main.go"`.
var filePattern = regexp.MustCompile(`(?i)(?:created|modified|wrote to)\s+[` + "`" + `"]?([^\s` + "`" + `"]+\.[a-z]+)`)

// Distiller compresses the context buffer into a short structured summary
// so the loop can keep running without hitting the hard context ceiling.
type Distiller struct {
	mu         sync.Mutex
	outputPath string
	count      int
	now        func() time.Time
}

// NewDistiller creates a distiller persisting summaries to outputPath.
func NewDistiller(outputPath string) *Distiller {
	return &Distiller{outputPath: outputPath, now: time.Now}
}

// Count returns the number of distillations performed so far.
func (d *Distiller) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Distill extracts the salient facts from contextText, persists the summary
// document, and returns the injection text that reseeds the context buffer:
// the standards document (when present), the summary, and the current task's
// spec (when present), joined by a visible divider.
//
// The summary write failure is returned as an error and must be treated as
// fatal by the caller: a distillation with no audit artifact is incomplete.
func (d *Distiller) Distill(contextText, standardsPath, currentTaskPath string) (string, error) {
	d.mu.Lock()
	d.count++
	n := d.count
	d.mu.Unlock()

	originalTokens := estimateTokens(contextText)

	decisions := extractLines(contextText, decisionMarkers, maxDecisions)
	files := extractFiles(contextText)
	errLines := extractLines(contextText, errorMarkers, maxErrors)

	summary := d.buildSummary(n, decisions, files, errLines)
	if err := d.saveSummary(summary); err != nil {
		return "", err
	}

	slog.Info("context distilled",
		"distillation", n,
		"original_tokens", originalTokens,
		"compressed_tokens", estimateTokens(summary),
	)

	return buildInjection(summary, standardsPath, currentTaskPath), nil
}

// extractLines collects lines containing any of the case-insensitive
// markers, truncated and capped.
func extractLines(text string, markers []string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				out = append(out, truncate(strings.TrimSpace(line), maxLineLength))
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

// extractFiles collects deduplicated filenames mentioned after mutation
// verbs, in first-mention order, capped at maxFiles.
func extractFiles(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, match := range filePattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
		if len(out) == maxFiles {
			break
		}
	}
	return out
}

func (d *Distiller) buildSummary(n int, decisions, files, errLines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# DISTILLED CONTEXT\n> Distillation #%d | %s\n\n", n, d.now().UTC().Format(time.RFC3339))

	b.WriteString("## Decisions\n")
	for _, dec := range decisions {
		fmt.Fprintf(&b, "- %s\n", dec)
	}
	b.WriteString("\n## Files Modified\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\n## Errors\n")
	for _, e := range errLines {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	return b.String()
}

func (d *Distiller) saveSummary(summary string) error {
	if err := os.MkdirAll(filepath.Dir(d.outputPath), 0o755); err != nil {
		return fmt.Errorf("distiller mkdir: %w", err)
	}
	if err := os.WriteFile(d.outputPath, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("distiller write %s: %w", d.outputPath, err)
	}
	return nil
}

// buildInjection assembles standards + summary + current task spec.
// Missing reference documents are simply omitted.
func buildInjection(summary, standardsPath, currentTaskPath string) string {
	parts := []string{summary}

	if standardsPath != "" {
		if data, err := os.ReadFile(standardsPath); err == nil {
			parts = append([]string{string(data)}, parts...)
		}
	}
	if currentTaskPath != "" {
		if data, err := os.ReadFile(currentTaskPath); err == nil {
			parts = append(parts, fmt.Sprintf("# CURRENT TASK\n```yaml\n%s\n```", string(data)))
		}
	}
	return strings.Join(parts, sectionDivider)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
