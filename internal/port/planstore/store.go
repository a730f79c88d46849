// Package planstore defines the port interface for durable work-plan state.
package planstore

import (
	"context"
	"errors"

	"github.com/Strob0t/harrier/internal/domain/task"
)

// ErrNotFound is returned by Load when no plan has been persisted yet.
var ErrNotFound = errors.New("planstore: plan not found")

// Store is the port interface for the durable task-state document.
//
// The store is write-through: StateManager calls Save after every mutation,
// and a single engine process owns a given plan at a time. Implementations
// must make Save atomic — a crash mid-write must never leave a half-written
// document behind.
type Store interface {
	// Load reads the persisted plan. Returns ErrNotFound when none exists
	// and a non-nil error for malformed or unreadable state.
	Load(ctx context.Context) (*task.Plan, error)

	// Save persists the full plan document.
	Save(ctx context.Context, plan *task.Plan) error
}
