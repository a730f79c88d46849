// Package statefile implements the planstore port as a single JSON document
// on disk. This is the default store for local, single-operator runs.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/planstore"
)

// Store persists a plan as pretty-printed JSON at a fixed path.
type Store struct {
	path string
}

// New creates a statefile store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and decodes the plan document.
func (s *Store) Load(_ context.Context) (*task.Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, planstore.ErrNotFound
		}
		return nil, fmt.Errorf("statefile read %s: %w", s.path, err)
	}

	var plan task.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		// Malformed state must fail fast, never yield a partial plan.
		return nil, fmt.Errorf("statefile decode %s: %w", s.path, err)
	}
	return &plan, nil
}

// Save writes the plan document atomically: encode to a temp file in the
// same directory, fsync, then rename over the target. A crash mid-save
// leaves either the old document or the new one, never a torn write.
func (s *Store) Save(_ context.Context, plan *task.Plan) error {
	plan.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statefile mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".task-state-*.json")
	if err != nil {
		return fmt.Errorf("statefile temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("statefile write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("statefile sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statefile close: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("statefile rename: %w", err)
	}
	return nil
}
