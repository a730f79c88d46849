package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/harrier/internal/adapter/markdownplan"
	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/planstore"
)

// StateManager is the single authoritative store for a work plan's task
// list and each task's progress. Every mutation is written through to the
// durable store before it returns; state survives process restarts.
//
// A single engine process owns a given plan at a time — there is no
// optimistic concurrency control on the underlying document. The mutex
// only covers in-process readers (the resolution API serving /status
// while the loop runs).
type StateManager struct {
	mu    sync.RWMutex
	store planstore.Store
	plan  *task.Plan
	now   func() time.Time

	// staleGrace is how old an in_progress task's start stamp must be
	// before load resets it to pending. An engine that crashed mid-task
	// would otherwise wedge the plan: the task is never re-selected and
	// never terminal.
	staleGrace time.Duration
}

// NewStateManager loads existing plan state from store, or starts empty
// when none has been persisted yet. Malformed persisted state is a hard
// error; the loop must not continue on state it cannot trust.
func NewStateManager(ctx context.Context, store planstore.Store, staleGrace time.Duration) (*StateManager, error) {
	m := &StateManager{store: store, now: time.Now, staleGrace: staleGrace}

	plan, err := store.Load(ctx)
	switch {
	case errors.Is(err, planstore.ErrNotFound):
		m.plan = &task.Plan{Version: "1.0", CreatedAt: m.now().UTC()}
	case err != nil:
		return nil, fmt.Errorf("load plan state: %w", err)
	default:
		m.plan = plan
		if err := m.recoverStale(ctx); err != nil {
			return nil, err
		}
		slog.Info("plan state loaded", "tasks", len(plan.Tasks))
	}
	return m, nil
}

// recoverStale resets in_progress tasks whose start stamp is older than the
// grace period back to pending, so a restart after a crash can re-select
// them. Recent in_progress tasks are left alone.
func (m *StateManager) recoverStale(ctx context.Context) error {
	if m.staleGrace <= 0 {
		return nil
	}

	cutoff := m.now().Add(-m.staleGrace)
	changed := false
	for i := range m.plan.Tasks {
		t := &m.plan.Tasks[i]
		if t.Status != task.StatusInProgress {
			continue
		}
		if t.StartedAt != nil && t.StartedAt.After(cutoff) {
			continue
		}
		slog.Warn("recovering stale in-progress task", "task_id", t.ID, "started_at", t.StartedAt)
		t.Status = task.StatusPending
		t.StartedAt = nil
		changed = true
	}
	if !changed {
		return nil
	}
	return m.persist(ctx)
}

// InitializeFromPlan parses planText into a fresh task list, replacing any
// prior state, and persists immediately. A document with no task headers
// yields an empty plan — callers should check the returned length.
func (m *StateManager) InitializeFromPlan(ctx context.Context, planFile string, planText []byte) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := markdownplan.Parse(planText)

	now := m.now().UTC()
	m.plan = &task.Plan{
		PlanFile:  planFile,
		Version:   "1.0",
		Tasks:     tasks,
		CreatedAt: now,
	}
	if err := m.persist(ctx); err != nil {
		return nil, err
	}

	slog.Info("initialized plan", "plan_file", planFile, "tasks", len(tasks))
	return tasks, nil
}

// NextTask returns the first pending task in plan order, transitioning it
// to in_progress and stamping its start time. Returns nil when no pending
// task remains — which is not the same as the plan being complete.
func (m *StateManager) NextTask(ctx context.Context) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.plan.Tasks {
		t := &m.plan.Tasks[i]
		if t.Status != task.StatusPending {
			continue
		}
		started := m.now().UTC()
		t.Status = task.StatusInProgress
		t.StartedAt = &started
		if err := m.persist(ctx); err != nil {
			return nil, err
		}
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

// Task returns a copy of the task with the given id, or nil.
func (m *StateManager) Task(id string) *task.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t := m.find(id); t != nil {
		cp := *t
		return &cp
	}
	return nil
}

// MarkComplete transitions a task to complete. Unknown ids are a no-op.
func (m *StateManager) MarkComplete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(id)
	if t == nil {
		return nil
	}
	completed := m.now().UTC()
	t.Status = task.StatusComplete
	t.CompletedAt = &completed
	if err := m.persist(ctx); err != nil {
		return err
	}
	slog.Info("task complete", "task_id", id)
	return nil
}

// MarkFailed transitions a task to failed. Unknown ids are a no-op.
func (m *StateManager) MarkFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(id)
	if t == nil {
		return nil
	}
	t.Status = task.StatusFailed
	if err := m.persist(ctx); err != nil {
		return err
	}
	slog.Warn("task failed", "task_id", id, "retries", t.RetryCount)
	return nil
}

// MarkBlocked transitions a task to blocked: a human declined it at a
// checkpoint. Distinct from failed — the system did not fail, it was told no.
func (m *StateManager) MarkBlocked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(id)
	if t == nil {
		return nil
	}
	t.Status = task.StatusBlocked
	if err := m.persist(ctx); err != nil {
		return err
	}
	slog.Info("task blocked by human decision", "task_id", id)
	return nil
}

// LogRetry increments the retry count, records the failure reason, and
// resets the task to pending so NextTask picks it up again.
func (m *StateManager) LogRetry(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(id)
	if t == nil {
		return nil
	}
	t.RetryCount++
	t.LastFailure = reason
	t.Status = task.StatusPending
	if err := m.persist(ctx); err != nil {
		return err
	}
	slog.Info("task retry logged", "task_id", id, "retry", t.RetryCount, "reason", reason)
	return nil
}

// AddTokens accumulates token spend on a task.
func (m *StateManager) AddTokens(ctx context.Context, id string, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(id)
	if t == nil || tokens == 0 {
		return nil
	}
	t.TokensUsed += tokens
	return m.persist(ctx)
}

// IsComplete reports whether every task is complete or failed.
// An empty plan is vacuously complete.
func (m *StateManager) IsComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.plan.Tasks {
		if !m.plan.Tasks[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// ProgressPercentage returns completed/total*100, with an empty plan
// defined as 100.0.
func (m *StateManager) ProgressPercentage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.progressLocked()
}

func (m *StateManager) progressLocked() float64 {
	total := len(m.plan.Tasks)
	if total == 0 {
		return 100.0
	}
	completed := 0
	for i := range m.plan.Tasks {
		if m.plan.Tasks[i].Status == task.StatusComplete {
			completed++
		}
	}
	return float64(completed) / float64(total) * 100
}

// CurrentTaskSpecPath returns the spec path of the in-progress task, if any.
func (m *StateManager) CurrentTaskSpecPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.plan.Tasks {
		if m.plan.Tasks[i].Status == task.StatusInProgress {
			return m.plan.Tasks[i].SpecPath
		}
	}
	return ""
}

// Summary returns per-status counts and progress.
func (m *StateManager) Summary() task.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := task.Summary{Total: len(m.plan.Tasks)}
	for i := range m.plan.Tasks {
		switch m.plan.Tasks[i].Status {
		case task.StatusComplete:
			s.Completed++
		case task.StatusFailed:
			s.Failed++
		case task.StatusPending:
			s.Pending++
		case task.StatusInProgress:
			s.InProgress++
		case task.StatusBlocked:
			s.Blocked++
		}
	}
	s.ProgressPct = m.progressLocked()
	return s
}

// Tasks returns a copy of the current task list in plan order.
func (m *StateManager) Tasks() []task.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]task.Task, len(m.plan.Tasks))
	copy(out, m.plan.Tasks)
	return out
}

func (m *StateManager) find(id string) *task.Task {
	for i := range m.plan.Tasks {
		if m.plan.Tasks[i].ID == id {
			return &m.plan.Tasks[i]
		}
	}
	return nil
}

func (m *StateManager) persist(ctx context.Context) error {
	if err := m.store.Save(ctx, m.plan); err != nil {
		return fmt.Errorf("persist plan state: %w", err)
	}
	return nil
}
