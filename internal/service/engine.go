package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	govotel "github.com/Strob0t/harrier/internal/adapter/otel"
	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/gate"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/executor"
	"github.com/Strob0t/harrier/internal/port/ledger"
)

// ErrPaused signals that the loop stopped because a blocking checkpoint
// timed out. The plan is left as-is; a later run resumes it.
var ErrPaused = errors.New("loop paused awaiting human input")

// Metrics are the per-run loop counters, reported in the final ledger entry.
type Metrics struct {
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
	TasksBlocked   int `json:"tasks_blocked"`
	Retries        int `json:"retries"`
	Distillations  int `json:"distillations"`
	GatesPassed    int `json:"gates_passed"`
	GatesFailed    int `json:"gates_failed"`
	TotalTokens    int `json:"total_tokens"`
}

// LoopEvents receives loop lifecycle events for live observers. All methods
// must be non-blocking; a nil LoopEvents disables broadcasting.
type LoopEvents interface {
	TaskStarted(t task.Task)
	TaskFinished(t task.Task)
	GateEvaluated(taskID string, result *gate.Result)
	ContextDistilled(count int)
}

// Instruments is the telemetry surface the engine reports into. A nil
// Instruments disables metric recording.
type Instruments interface {
	RecordTaskOutcome(ctx context.Context, status task.Status)
	RecordRetry(ctx context.Context)
	RecordDistillation(ctx context.Context)
	RecordGateFailure(ctx context.Context, name gate.Name)
	RecordLoopDuration(ctx context.Context, d time.Duration)
}

// Engine is the control loop: pick next task, checkpoint on risk, enforce
// the context budget, execute, verify, record the outcome, repeat until the
// plan is exhausted. One engine owns one plan; nothing here is shared
// across runs.
type Engine struct {
	cfg        config.Config
	state      *StateManager
	tokens     *TokenCounter
	distiller  *Distiller
	gatekeeper *Gatekeeper
	hitl       *HITLController
	ledger     *Ledger
	executor   executor.Executor
	events     LoopEvents
	inst       Instruments

	metrics      Metrics
	costNotified bool
	now          func() time.Time
}

// NewEngine wires the loop. events and inst may be nil.
func NewEngine(
	cfg config.Config,
	state *StateManager,
	tokens *TokenCounter,
	distiller *Distiller,
	gatekeeper *Gatekeeper,
	hitlCtl *HITLController,
	auditLog *Ledger,
	backend executor.Executor,
	events LoopEvents,
	inst Instruments,
) *Engine {
	return &Engine{
		cfg:        cfg,
		state:      state,
		tokens:     tokens,
		distiller:  distiller,
		gatekeeper: gatekeeper,
		hitl:       hitlCtl,
		ledger:     auditLog,
		executor:   backend,
		events:     events,
		inst:       inst,
		now:        time.Now,
	}
}

// Metrics returns a snapshot of the loop counters.
func (e *Engine) Metrics() Metrics { return e.metrics }

// Run executes the loop until the plan completes, the context is canceled,
// or a blocking checkpoint times out (ErrPaused). Ledger and state-store
// write failures are fatal and returned immediately.
func (e *Engine) Run(ctx context.Context) error {
	start := e.now()

	if err := e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  start,
		TaskID:     "SYSTEM",
		Action:     ledger.ActionBoot,
		GateStatus: "N/A",
		Notes:      fmt.Sprintf("Harness initialized. Mode: %s", e.cfg.Execution.Mode),
	}); err != nil {
		return err
	}
	slog.Info("effort loop starting",
		"mode", e.cfg.Execution.Mode,
		"tasks", len(e.state.Tasks()),
		"executor", e.executor.Name(),
	)

	var runErr error
	for !e.state.IsComplete() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		t, err := e.state.NextTask(ctx)
		if err != nil {
			return fmt.Errorf("select next task: %w", err)
		}
		if t == nil {
			slog.Warn("no pending tasks but plan not complete")
			break
		}

		slog.Info("task started", "task_id", t.ID, "title", t.Title)
		if e.events != nil {
			e.events.TaskStarted(*t)
		}

		proceed, err := e.preTaskCheckpoints(ctx, t)
		if err != nil {
			runErr = err
			break
		}
		if !proceed {
			continue
		}

		if e.tokens.ShouldDistill(e.cfg.Context.DistillThreshold) {
			if err := e.performDistillation(ctx); err != nil {
				return err
			}
		}

		taskCtx, taskSpan := govotel.StartTaskSpan(ctx, t.ID, t.Title)

		success := e.applyEffort(taskCtx, t)

		if success {
			gateCtx, gateSpan := govotel.StartGateSpan(taskCtx, t.ID)
			result := e.gatekeeper.VerifyAll(gateCtx, t)
			gateSpan.End()
			if e.events != nil {
				e.events.GateEvaluated(t.ID, result)
			}
			if result.Passed {
				if err := e.handleSuccess(ctx, t, result); err != nil {
					taskSpan.End()
					return err
				}
			} else if err := e.handleGateFailure(ctx, t, result); err != nil {
				taskSpan.End()
				return err
			}
		} else if err := e.handleExecutionFailure(ctx, t); err != nil {
			taskSpan.End()
			return err
		}
		taskSpan.End()

		if done := e.state.Task(t.ID); done != nil && e.events != nil {
			e.events.TaskFinished(*done)
		}

		if e.hitl.ShouldCheckpointScheduled() {
			progress := e.state.ProgressPercentage()
			e.hitl.RequestCheckpointAsync(ctx, t.ID, hitl.ReasonScheduled,
				fmt.Sprintf("Scheduled check-in: %.0f%% complete", progress), nil)
		}
	}

	if e.inst != nil {
		e.inst.RecordLoopDuration(ctx, e.now().Sub(start))
	}
	if err := e.finalize(ctx); err != nil {
		return err
	}
	return runErr
}

// preTaskCheckpoints runs the risk and cost checks that can block or skip
// a task before any effort is spent. Returns false when the task should be
// skipped; ErrPaused when a checkpoint timed out.
func (e *Engine) preTaskCheckpoints(ctx context.Context, t *task.Task) (bool, error) {
	risk := t.Title + " " + t.Description

	if reason, ok := ClassifyTask(risk); ok {
		slog.Warn("risky task detected, requesting approval", "task_id", t.ID, "reason", reason)
		cp := e.hitl.RequestApproval(ctx, t.ID, reason,
			fmt.Sprintf("Risky task: %s", t.Title),
			map[string]string{"description": t.Description})
		if proceed, err := e.afterCheckpoint(ctx, t, cp); !proceed || err != nil {
			return false, err
		}
	}

	limit := e.cfg.Execution.CostTokensLimit
	if limit > 0 && e.metrics.TotalTokens > limit && !e.costNotified {
		e.costNotified = true
		cp := e.hitl.RequestApproval(ctx, t.ID, hitl.ReasonCostThreshold,
			fmt.Sprintf("Token spend %d exceeds limit %d", e.metrics.TotalTokens, limit), nil)
		if proceed, err := e.afterCheckpoint(ctx, t, cp); !proceed || err != nil {
			return false, err
		}
	}

	return true, nil
}

// afterCheckpoint maps a resolved checkpoint onto loop control flow:
// rejection blocks the task and moves on, timeout pauses the whole loop.
func (e *Engine) afterCheckpoint(ctx context.Context, t *task.Task, cp hitl.Checkpoint) (bool, error) {
	if err := e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  e.now(),
		TaskID:     t.ID,
		Action:     ledger.ActionCheckpoint,
		GateStatus: "N/A",
		Notes:      fmt.Sprintf("%s: %s (%s)", cp.Reason, cp.Status, cp.ID),
	}); err != nil {
		return false, err
	}

	switch cp.Status {
	case hitl.StatusRejected:
		slog.Info("task rejected by human, skipping", "task_id", t.ID, "checkpoint_id", cp.ID)
		if err := e.state.MarkBlocked(ctx, t.ID); err != nil {
			return false, err
		}
		e.metrics.TasksBlocked++
		if e.inst != nil {
			e.inst.RecordTaskOutcome(ctx, task.StatusBlocked)
		}
		if blockErr := e.ledger.Append(ctx, ledger.Entry{
			Timestamp:  e.now(),
			TaskID:     t.ID,
			Action:     ledger.ActionTaskBlocked,
			GateStatus: "N/A",
			Notes:      "Rejected by " + cp.ResolvedBy,
		}); blockErr != nil {
			return false, blockErr
		}
		return false, nil
	case hitl.StatusTimeout:
		slog.Warn("checkpoint timed out, pausing loop", "task_id", t.ID, "checkpoint_id", cp.ID)
		return false, ErrPaused
	default:
		return true, nil
	}
}

// performDistillation compresses the context buffer and reseeds the counter
// with the injection text. A summary write failure is fatal: the audit
// record would be incomplete.
func (e *Engine) performDistillation(ctx context.Context) error {
	slog.Info("context over threshold, distilling",
		"usage_ratio", e.tokens.UsageRatio(),
		"threshold", e.cfg.Context.DistillThreshold,
	)

	injection, err := e.distiller.Distill(
		e.tokens.Context(),
		e.cfg.Paths.Standards,
		e.state.CurrentTaskSpecPath(),
	)
	if err != nil {
		return fmt.Errorf("distill context: %w", err)
	}

	e.tokens.ResetWithSummary(injection)
	e.metrics.Distillations++
	if e.inst != nil {
		e.inst.RecordDistillation(ctx)
	}
	if e.events != nil {
		e.events.ContextDistilled(e.metrics.Distillations)
	}

	return e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  e.now(),
		TaskID:     "RLM",
		Action:     ledger.ActionDistillation,
		Tokens:     len(strings.Fields(injection)),
		GateStatus: "N/A",
		Notes:      fmt.Sprintf("Context compressed. Distillation #%d", e.metrics.Distillations),
	})
}

// applyEffort runs the three execution phases (frame, implement, refine)
// against the executor. Any non-success phase short-circuits the task as
// an execution failure; refine failing after a successful implement only
// loses the polish.
func (e *Engine) applyEffort(ctx context.Context, t *task.Task) bool {
	frame, err := e.executor.Execute(ctx,
		fmt.Sprintf("Analyze this task and outline the approach: %s\n%s", t.Title, t.Description))
	if err != nil || !frame.Success {
		slog.Warn("frame phase failed", "task_id", t.ID, "error", phaseError(frame, err))
		return false
	}
	e.recordPhase(ctx, t, frame)

	implement, err := e.executor.Execute(ctx,
		fmt.Sprintf("Implement this task: %s\n%s\n\nApproach: %s",
			t.Title, t.Description, truncate(frame.Output, 500)))
	if err != nil || !implement.Success {
		slog.Warn("implement phase failed", "task_id", t.ID, "error", phaseError(implement, err))
		return false
	}
	e.recordPhase(ctx, t, implement)

	refine, err := e.executor.Execute(ctx,
		fmt.Sprintf("Review and refine the implementation for: %s. Fix any issues and optimize.", t.Title))
	if err == nil && refine.Success {
		e.recordPhase(ctx, t, refine)
	} else {
		slog.Warn("refine phase failed, keeping implementation", "task_id", t.ID, "error", phaseError(refine, err))
	}
	return true
}

// recordPhase accounts one phase's output and token spend against the
// context budget and the run totals.
func (e *Engine) recordPhase(ctx context.Context, t *task.Task, res executor.Result) {
	e.tokens.Add(res.Output)
	e.metrics.TotalTokens += res.TokensUsed
	if err := e.state.AddTokens(ctx, t.ID, res.TokensUsed); err != nil {
		slog.Warn("recording task token spend failed", "task_id", t.ID, "error", err)
	}
}

func phaseError(res executor.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Error
}

func (e *Engine) handleSuccess(ctx context.Context, t *task.Task, result *gate.Result) error {
	slog.Info("task passed all gates", "task_id", t.ID, "gate_tokens", result.TokensUsed)

	if err := e.state.MarkComplete(ctx, t.ID); err != nil {
		return err
	}
	e.metrics.TasksCompleted++
	e.metrics.GatesPassed += len(gate.Order)
	if e.inst != nil {
		e.inst.RecordTaskOutcome(ctx, task.StatusComplete)
	}

	if err := e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  e.now(),
		TaskID:     t.ID,
		Action:     ledger.ActionTaskComplete,
		Tokens:     result.TokensUsed,
		GateStatus: fmt.Sprintf("%d/%d PASSED", len(gate.Order), len(gate.Order)),
		Notes:      fmt.Sprintf("All gates verified. Total retries: %d", t.RetryCount),
	}); err != nil {
		return err
	}

	if e.cfg.Execution.GitAutoCommit {
		e.gitCommit(ctx, t)
	}
	return nil
}

func (e *Engine) handleGateFailure(ctx context.Context, t *task.Task, result *gate.Result) error {
	failed := result.FailedGates()
	slog.Warn("gate failure",
		"task_id", t.ID,
		"failed_gates", failed,
		"reason", result.FailureReason,
	)

	e.metrics.GatesFailed += len(failed)
	if e.inst != nil {
		for _, name := range failed {
			e.inst.RecordGateFailure(ctx, name)
		}
	}

	if t.RetryCount < e.cfg.Execution.MaxRetries {
		if err := e.state.LogRetry(ctx, t.ID, result.FailureReason); err != nil {
			return err
		}
		e.metrics.Retries++
		if e.inst != nil {
			e.inst.RecordRetry(ctx)
		}
		return e.ledger.Append(ctx, ledger.Entry{
			Timestamp:  e.now(),
			TaskID:     t.ID,
			Action:     ledger.ActionGateFailure,
			Tokens:     result.TokensUsed,
			GateStatus: fmt.Sprintf("%d/%d", len(gate.Order)-len(failed), len(gate.Order)),
			Notes:      fmt.Sprintf("Failed: %s. Retry #%d", joinGates(failed), t.RetryCount+1),
		})
	}

	return e.failTask(ctx, t, fmt.Sprintf("Exceeded max retries (%d). Last: %s",
		e.cfg.Execution.MaxRetries, result.FailureReason))
}

func (e *Engine) handleExecutionFailure(ctx context.Context, t *task.Task) error {
	slog.Error("execution failure", "task_id", t.ID, "retry_count", t.RetryCount)

	if t.RetryCount < e.cfg.Execution.MaxRetries {
		if err := e.state.LogRetry(ctx, t.ID, "execution failure"); err != nil {
			return err
		}
		e.metrics.Retries++
		if e.inst != nil {
			e.inst.RecordRetry(ctx)
		}
		return e.ledger.Append(ctx, ledger.Entry{
			Timestamp:  e.now(),
			TaskID:     t.ID,
			Action:     ledger.ActionExecutionFailure,
			GateStatus: "N/A",
			Notes:      fmt.Sprintf("Execution failed. Retry #%d", t.RetryCount+1),
		})
	}

	return e.failTask(ctx, t, fmt.Sprintf("Exceeded max retries (%d) on execution failures",
		e.cfg.Execution.MaxRetries))
}

// failTask is the terminal failure path: the task is marked failed and the
// loop proceeds to the next one. A single exhausted task never halts the
// plan.
func (e *Engine) failTask(ctx context.Context, t *task.Task, notes string) error {
	slog.Error("task exceeded max retries, marking failed", "task_id", t.ID)

	if err := e.state.MarkFailed(ctx, t.ID); err != nil {
		return err
	}
	e.metrics.TasksFailed++
	if e.inst != nil {
		e.inst.RecordTaskOutcome(ctx, task.StatusFailed)
	}
	if err := e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  e.now(),
		TaskID:     t.ID,
		Action:     ledger.ActionTaskFailed,
		GateStatus: "N/A",
		Notes:      notes,
	}); err != nil {
		return err
	}

	e.hitl.RequestCheckpointAsync(ctx, t.ID, hitl.ReasonGateFailure,
		fmt.Sprintf("Task %s failed permanently: %s", t.ID, notes), nil)
	return nil
}

// gitCommit commits the workspace after a task clears the battery. Failure
// is logged, never fatal.
func (e *Engine) gitCommit(ctx context.Context, t *task.Task) {
	timeout := e.cfg.Execution.CommitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	message := fmt.Sprintf("Complete %s: %s", t.ID, t.Title)

	for _, args := range [][]string{
		{"git", "add", "-A"},
		{"git", "commit", "-m", message},
	} {
		cmd := exec.CommandContext(cctx, args[0], args[1:]...)
		if e.cfg.Execution.WorkspacePath != "" {
			cmd.Dir = e.cfg.Execution.WorkspacePath
		}
		if out, err := cmd.CombinedOutput(); err != nil {
			slog.Warn("git auto-commit failed",
				"task_id", t.ID,
				"error", err,
				"output", truncate(string(out), 200),
			)
			return
		}
	}
	slog.Info("workspace committed", "task_id", t.ID, "message", message)
}

// finalize writes the run summary to the ledger.
func (e *Engine) finalize(ctx context.Context) error {
	slog.Info("effort loop finished",
		"tasks_completed", e.metrics.TasksCompleted,
		"tasks_failed", e.metrics.TasksFailed,
		"tasks_blocked", e.metrics.TasksBlocked,
		"retries", e.metrics.Retries,
		"distillations", e.metrics.Distillations,
		"gates_passed", e.metrics.GatesPassed,
		"total_tokens", e.metrics.TotalTokens,
	)

	return e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  e.now(),
		TaskID:     "FINAL",
		Action:     ledger.ActionLoopComplete,
		Tokens:     e.metrics.TotalTokens,
		GateStatus: fmt.Sprintf("%d total", e.metrics.GatesPassed),
		Notes: fmt.Sprintf("Completed: %d, Failed: %d, Blocked: %d",
			e.metrics.TasksCompleted, e.metrics.TasksFailed, e.metrics.TasksBlocked),
	})
}

func joinGates(names []gate.Name) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
