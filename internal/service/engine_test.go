package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/executor"
	"github.com/Strob0t/harrier/internal/port/ledger"
	"github.com/Strob0t/harrier/internal/port/oracle"
	"github.com/Strob0t/harrier/internal/service"
)

// fakeExecutor scripts per-call results; default is success.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	failAll bool
	tokens  int
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Execute(ctx context.Context, prompt string) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll {
		return executor.Result{Success: false, Error: "scripted failure"}, nil
	}
	return executor.Result{Success: true, Output: "done: " + prompt[:20], TokensUsed: f.tokens}, nil
}

// recordingLedger captures entries in order.
type recordingLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *recordingLedger) Append(ctx context.Context, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingLedger) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

func (r *recordingLedger) count(action string) int {
	n := 0
	for _, a := range r.actions() {
		if a == action {
			n++
		}
	}
	return n
}

type engineFixture struct {
	cfg    config.Config
	state  *service.StateManager
	tokens *service.TokenCounter
	hitl   *service.HITLController
	ledger *recordingLedger
	exec   *fakeExecutor
}

// newEngineFixture builds a loop over the given plan text with all external
// gates stubbed to pass and no git auto-commit.
func newEngineFixture(t *testing.T, planText string) *engineFixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.Execution.GitAutoCommit = false
	cfg.Execution.MaxRetries = 5
	cfg.Gates.Technical.Enabled = false
	cfg.HITL.Timeout = 100 * time.Millisecond
	cfg.Paths.Distilled = filepath.Join(t.TempDir(), "distilled.md")
	cfg.Paths.Standards = ""

	m, err := service.NewStateManager(context.Background(), &memStore{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.InitializeFromPlan(context.Background(), "plan.md", []byte(planText)); err != nil {
		t.Fatal(err)
	}

	return &engineFixture{
		cfg:    cfg,
		state:  m,
		tokens: service.NewTokenCounter(cfg.Context.MaxWindowTokens),
		hitl:   service.NewHITLController(cfg.HITL, "", nil, nil),
		ledger: &recordingLedger{},
		exec:   &fakeExecutor{tokens: 10},
	}
}

func (f *engineFixture) engine(t *testing.T, checkers service.Checkers) *service.Engine {
	t.Helper()
	return service.NewEngine(
		f.cfg,
		f.state,
		f.tokens,
		service.NewDistiller(f.cfg.Paths.Distilled),
		service.NewGatekeeper(f.cfg.Gates, "", checkers),
		f.hitl,
		service.NewLedger(f.ledger, nil),
		f.exec,
		nil,
		nil,
	)
}

func TestEngine_CompletesAllTasks(t *testing.T) {
	f := newEngineFixture(t, threeTaskPlan)
	e := f.engine(t, service.Checkers{})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !f.state.IsComplete() {
		t.Error("plan not complete after run")
	}
	sum := f.state.Summary()
	if sum.Completed != 3 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 3 complete", sum)
	}
	if got := e.Metrics().TasksCompleted; got != 3 {
		t.Errorf("TasksCompleted = %d, want 3", got)
	}

	if f.ledger.count(ledger.ActionBoot) != 1 {
		t.Error("missing boot ledger entry")
	}
	if f.ledger.count(ledger.ActionTaskComplete) != 3 {
		t.Errorf("TASK_COMPLETE entries = %d, want 3", f.ledger.count(ledger.ActionTaskComplete))
	}
	if f.ledger.count(ledger.ActionLoopComplete) != 1 {
		t.Error("missing final summary ledger entry")
	}
}

func TestEngine_FailsTwicePassesThird(t *testing.T) {
	f := newEngineFixture(t, "## Task: t1 — Only Task\nBuild the thing.\n")
	// Scores below the 0.995 threshold twice, then passing.
	align := &scriptedAlignment{scores: []oracle.AlignmentScore{
		{Score: 0.5}, {Score: 0.5}, {Score: 1.0},
	}}
	e := f.engine(t, service.Checkers{Alignment: align})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.state.Task("t1")
	if got.Status != task.StatusComplete {
		t.Fatalf("status = %q, want complete", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
	if f.ledger.count(ledger.ActionGateFailure) != 2 {
		t.Errorf("GATE_FAILURE entries = %d, want 2", f.ledger.count(ledger.ActionGateFailure))
	}
}

func TestEngine_RetryExhaustionMarksFailed(t *testing.T) {
	f := newEngineFixture(t, "## Task: t1 — Only Task\nBuild the thing.\n")
	f.cfg.Execution.MaxRetries = 2
	align := &scriptedAlignment{scores: []oracle.AlignmentScore{{Score: 0.1}}}
	e := f.engine(t, service.Checkers{Alignment: align})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.state.Task("t1")
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed after retry exhaustion", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want max of 2", got.RetryCount)
	}
	if f.ledger.count(ledger.ActionTaskFailed) != 1 {
		t.Error("missing TASK_FAILED ledger entry")
	}
	// The loop still finishes instead of halting.
	if f.ledger.count(ledger.ActionLoopComplete) != 1 {
		t.Error("missing final summary after a failed task")
	}
}

func TestEngine_ExecutionFailureExhaustion(t *testing.T) {
	f := newEngineFixture(t, "## Task: t1 — Only Task\nBuild the thing.\n")
	f.cfg.Execution.MaxRetries = 1
	f.exec.failAll = true
	e := f.engine(t, service.Checkers{})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.state.Task("t1").Status; got != task.StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if f.ledger.count(ledger.ActionExecutionFailure) != 1 {
		t.Errorf("EXECUTION_FAILURE entries = %d, want 1", f.ledger.count(ledger.ActionExecutionFailure))
	}
	if e.Metrics().TasksFailed != 1 {
		t.Errorf("TasksFailed = %d, want 1", e.Metrics().TasksFailed)
	}
}

func TestEngine_RejectionBlocksTaskAndContinues(t *testing.T) {
	plan := "## Task: risky — Deploy to production\nShip it.\n\n## Task: safe — Write Docs\nDocument.\n"
	f := newEngineFixture(t, plan)
	f.cfg.HITL.Timeout = 5 * time.Second
	f.hitl = service.NewHITLController(f.cfg.HITL, "", nil, nil)
	e := f.engine(t, service.Checkers{})

	go func() {
		for len(f.hitl.Pending()) == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		f.hitl.Resolve(f.hitl.Pending()[0], false, "not now", "alice")
	}()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.state.Task("risky").Status; got != task.StatusBlocked {
		t.Errorf("rejected task status = %q, want blocked", got)
	}
	if got := f.state.Task("safe").Status; got != task.StatusComplete {
		t.Errorf("follow-up task status = %q, want complete", got)
	}
	if f.ledger.count(ledger.ActionTaskBlocked) != 1 {
		t.Error("missing TASK_BLOCKED ledger entry")
	}
	// Blocked is not terminal: the plan is not complete.
	if f.state.IsComplete() {
		t.Error("IsComplete() = true with a blocked task")
	}
}

func TestEngine_CheckpointTimeoutPausesLoop(t *testing.T) {
	plan := "## Task: risky — Drop the production database\nCareful.\n\n## Task: later — Next Task\nAfter.\n"
	f := newEngineFixture(t, plan)
	f.cfg.HITL.Timeout = 30 * time.Millisecond
	f.hitl = service.NewHITLController(f.cfg.HITL, "", nil, nil)
	e := f.engine(t, service.Checkers{})

	err := e.Run(context.Background())
	if !errors.Is(err, service.ErrPaused) {
		t.Fatalf("Run() error = %v, want ErrPaused", err)
	}

	// The later task was never started.
	if got := f.state.Task("later").Status; got != task.StatusPending {
		t.Errorf("later task status = %q, want pending", got)
	}
	// The pause still produced a final summary entry.
	if f.ledger.count(ledger.ActionLoopComplete) != 1 {
		t.Error("missing final summary entry on pause")
	}
}

func TestEngine_CostLimitIsCumulativeAndOneShot(t *testing.T) {
	f := newEngineFixture(t, threeTaskPlan)
	// Each task spends 10 tokens, so no single task crosses the limit; the
	// run total does before the third task.
	f.exec.tokens = 10
	f.cfg.Execution.CostTokensLimit = 15
	f.cfg.HITL.Timeout = 5 * time.Second
	f.hitl = service.NewHITLController(f.cfg.HITL, "", nil, nil)
	e := f.engine(t, service.Checkers{})

	go func() {
		for len(f.hitl.Pending()) == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		f.hitl.Resolve(f.hitl.Pending()[0], true, "spend approved", "alice")
	}()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.ledger.count(ledger.ActionCheckpoint); got != 1 {
		t.Fatalf("HITL_CHECKPOINT entries = %d, want exactly 1", got)
	}
	hist := f.hitl.History()
	if len(hist) != 1 || hist[0].Reason != hitl.ReasonCostThreshold {
		t.Errorf("history = %+v, want one cost_threshold checkpoint", hist)
	}
	if sum := f.state.Summary(); sum.Completed != 3 {
		t.Errorf("completed = %d, want 3 after approval", sum.Completed)
	}
}

func TestEngine_DistillsWhenOverThreshold(t *testing.T) {
	f := newEngineFixture(t, threeTaskPlan)
	f.cfg.Context.MaxWindowTokens = 40
	f.tokens = service.NewTokenCounter(40)
	// Pre-fill past the 70% threshold so the first iteration distills.
	f.tokens.Add("decided to keep it simple. " + "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	e := f.engine(t, service.Checkers{})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if e.Metrics().Distillations == 0 {
		t.Error("no distillation despite context over threshold")
	}
	if f.ledger.count(ledger.ActionDistillation) == 0 {
		t.Error("missing DISTILLATION ledger entry")
	}
}
