package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/planstore"
	"github.com/Strob0t/harrier/internal/service"
)

// memStore is an in-memory planstore for tests.
type memStore struct {
	mu      sync.Mutex
	plan    *task.Plan
	saves   int
	saveErr error
}

func (s *memStore) Load(ctx context.Context) (*task.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil, planstore.ErrNotFound
	}
	cp := *s.plan
	cp.Tasks = append([]task.Task(nil), s.plan.Tasks...)
	return &cp, nil
}

func (s *memStore) Save(ctx context.Context, p *task.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *p
	cp.Tasks = append([]task.Task(nil), p.Tasks...)
	s.plan = &cp
	s.saves++
	return nil
}

const threeTaskPlan = `# Plan

## Task: setup — Project Setup
Initialize the repository.

## Task: api — Build API
Implement the endpoints.

## Task: docs — Write Docs
Document everything.
`

func newTestState(t *testing.T, store *memStore) *service.StateManager {
	t.Helper()
	m, err := service.NewStateManager(context.Background(), store, 0)
	if err != nil {
		t.Fatalf("NewStateManager() error = %v", err)
	}
	return m
}

func TestStateManager_InitializeAndNextTask(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	m := newTestState(t, store)

	tasks, err := m.InitializeFromPlan(ctx, "plan.md", []byte(threeTaskPlan))
	if err != nil {
		t.Fatalf("InitializeFromPlan() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("parsed %d tasks, want 3", len(tasks))
	}
	if store.saves == 0 {
		t.Error("initialization did not persist")
	}

	next, err := m.NextTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != "setup" {
		t.Fatalf("NextTask() = %+v, want setup", next)
	}
	if next.Status != task.StatusInProgress || next.StartedAt == nil {
		t.Errorf("selected task not stamped in_progress: %+v", next)
	}

	// The same task is not selected twice.
	second, err := m.NextTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil || second.ID != "api" {
		t.Fatalf("second NextTask() = %+v, want api", second)
	}
}

func TestStateManager_EmptyPlanEdges(t *testing.T) {
	ctx := context.Background()
	m := newTestState(t, &memStore{})

	tasks, err := m.InitializeFromPlan(ctx, "plan.md", []byte("no headers here"))
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("parsed %d tasks from header-less plan, want 0", len(tasks))
	}
	if !m.IsComplete() {
		t.Error("empty plan IsComplete() = false, want vacuously true")
	}
	if got := m.ProgressPercentage(); got != 100.0 {
		t.Errorf("empty plan ProgressPercentage() = %v, want 100.0", got)
	}

	next, err := m.NextTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("NextTask() on empty plan = %+v, want nil", next)
	}
}

func TestStateManager_ProgressPercentage(t *testing.T) {
	ctx := context.Background()
	m := newTestState(t, &memStore{})

	plan := `## Task: a — A
## Task: b — B
## Task: c — C
## Task: d — D
`
	if _, err := m.InitializeFromPlan(ctx, "plan.md", []byte(plan)); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkComplete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkComplete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkFailed(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	// 2 complete / 1 failed / 1 pending.
	if got := m.ProgressPercentage(); got != 50.0 {
		t.Errorf("ProgressPercentage() = %v, want 50.0", got)
	}
	if m.IsComplete() {
		t.Error("IsComplete() = true with a pending task remaining")
	}
}

func TestStateManager_LogRetryResetsToPending(t *testing.T) {
	ctx := context.Background()
	m := newTestState(t, &memStore{})

	if _, err := m.InitializeFromPlan(ctx, "plan.md", []byte(threeTaskPlan)); err != nil {
		t.Fatal(err)
	}
	first, err := m.NextTask(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.LogRetry(ctx, first.ID, "gate failure"); err != nil {
		t.Fatal(err)
	}

	got := m.Task(first.ID)
	if got.Status != task.StatusPending {
		t.Errorf("status after retry = %q, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.LastFailure != "gate failure" {
		t.Errorf("last failure = %q", got.LastFailure)
	}

	// It should be selected again.
	again, err := m.NextTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again == nil || again.ID != first.ID {
		t.Errorf("NextTask() after retry = %+v, want %s again", again, first.ID)
	}
}

func TestStateManager_TerminalTransitionsIdempotentOnUnknownID(t *testing.T) {
	ctx := context.Background()
	m := newTestState(t, &memStore{})
	if _, err := m.InitializeFromPlan(ctx, "plan.md", []byte(threeTaskPlan)); err != nil {
		t.Fatal(err)
	}

	if err := m.MarkComplete(ctx, "no-such-task"); err != nil {
		t.Errorf("MarkComplete(unknown) error = %v, want nil no-op", err)
	}
	if err := m.MarkFailed(ctx, "no-such-task"); err != nil {
		t.Errorf("MarkFailed(unknown) error = %v, want nil no-op", err)
	}
}

func TestStateManager_RoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	m := newTestState(t, store)

	if _, err := m.InitializeFromPlan(ctx, "plan.md", []byte(threeTaskPlan)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.NextTask(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkComplete(ctx, "setup"); err != nil {
		t.Fatal(err)
	}
	if err := m.LogRetry(ctx, "api", "flaky"); err != nil {
		t.Fatal(err)
	}
	before := m.Tasks()

	reloaded := newTestState(t, store)
	after := reloaded.Tasks()

	if len(after) != len(before) {
		t.Fatalf("reloaded %d tasks, want %d", len(after), len(before))
	}
	for i := range before {
		if before[i].ID != after[i].ID ||
			before[i].Status != after[i].Status ||
			before[i].RetryCount != after[i].RetryCount {
			t.Errorf("task %d differs after reload:\n before %+v\n after  %+v", i, before[i], after[i])
		}
	}
}

func TestStateManager_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	m := newTestState(t, store)
	if _, err := m.InitializeFromPlan(ctx, "plan.md", []byte(threeTaskPlan)); err != nil {
		t.Fatal(err)
	}

	store.saveErr = errors.New("disk full")
	if _, err := m.NextTask(ctx); err == nil {
		t.Error("NextTask() with failing store returned nil error")
	}
	if err := m.MarkComplete(ctx, "setup"); err == nil {
		t.Error("MarkComplete() with failing store returned nil error")
	}
}

func TestStateManager_RecoversStaleInProgress(t *testing.T) {
	ctx := context.Background()
	stale := time.Now().Add(-2 * time.Hour).UTC()
	fresh := time.Now().Add(-1 * time.Minute).UTC()
	store := &memStore{plan: &task.Plan{
		Version: "1.0",
		Tasks: []task.Task{
			{ID: "old", Title: "Old", Status: task.StatusInProgress, StartedAt: &stale},
			{ID: "new", Title: "New", Status: task.StatusInProgress, StartedAt: &fresh},
		},
	}}

	m, err := service.NewStateManager(ctx, store, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if got := m.Task("old").Status; got != task.StatusPending {
		t.Errorf("stale task status = %q, want pending", got)
	}
	if got := m.Task("new").Status; got != task.StatusInProgress {
		t.Errorf("fresh task status = %q, want in_progress untouched", got)
	}
}
