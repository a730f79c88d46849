// Package ledgerfile implements the ledger port as an append-only text
// file, one pipe-delimited line per entry.
package ledgerfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/harrier/internal/port/ledger"
)

// Writer appends entries to a local file. Each Append opens, writes, and
// syncs so a crash never loses acknowledged entries.
type Writer struct {
	mu   sync.Mutex
	path string
}

// NewWriter creates the ledger file's directory if needed.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger mkdir: %w", err)
	}
	return &Writer{path: path}, nil
}

// Append writes one `[ts] | task | action | tokens | gates | notes` line.
func (w *Writer) Append(_ context.Context, e ledger.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("[%s] | %s | %s | %d | %s | %s\n",
		ts.UTC().Format(time.RFC3339), e.TaskID, e.Action, e.Tokens, e.GateStatus, e.Notes)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("ledger write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}
	return nil
}

// Tail returns up to n most recent raw ledger lines, for the HTTP API.
func (w *Writer) Tail(n int) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger read: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
