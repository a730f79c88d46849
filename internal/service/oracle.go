package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/gate"
	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/oracle"
)

// Checkers bundles the injected capability implementations for the optional
// gates. Leave a field nil to inject the no-op (always-pass) default.
type Checkers struct {
	Alignment oracle.AlignmentScorer
	Charter   oracle.CharterChecker
	Auditor   oracle.SpecAuditor
	Debt      oracle.DebtScanner
	Visual    oracle.VisualChecker
}

// Gatekeeper runs the ordered gate battery against a completed task and
// aggregates a single pass/fail decision with per-gate diagnostics.
//
// A task is done only when all enabled gates pass. The gatekeeper never
// crashes the loop: external process timeouts and checker transport errors
// are reported as gate outcomes, not propagated errors.
type Gatekeeper struct {
	cfg      config.Gates
	checkers Checkers
	workdir  string
}

// NewGatekeeper creates a Gatekeeper. Nil checker fields get no-op
// implementations so fail-open is an explicit wiring decision.
func NewGatekeeper(cfg config.Gates, workdir string, checkers Checkers) *Gatekeeper {
	if checkers.Alignment == nil {
		checkers.Alignment = oracle.NoopAlignmentScorer{}
	}
	if checkers.Charter == nil {
		checkers.Charter = oracle.NoopCharterChecker{}
	}
	if checkers.Auditor == nil {
		checkers.Auditor = oracle.NoopSpecAuditor{}
	}
	if checkers.Debt == nil {
		checkers.Debt = oracle.NoopDebtScanner{}
	}
	if checkers.Visual == nil {
		checkers.Visual = oracle.NoopVisualChecker{}
	}
	return &Gatekeeper{cfg: cfg, checkers: checkers, workdir: workdir}
}

// VerifyAll runs the battery in fixed order: technical, virtue, ethics,
// judge, strategy, perception, effort. Disabled gates are skipped; a
// skipped perception gate is recorded as passed so the aggregate is
// unaffected. The first failure reason in battery order becomes the
// result's headline; later failures remain visible in the details.
func (g *Gatekeeper) VerifyAll(ctx context.Context, t *task.Task) *gate.Result {
	res := &gate.Result{
		Passed:  true,
		Status:  make(map[gate.Name]bool, len(gate.Order)),
		Details: make(map[gate.Name]gate.Report, len(gate.Order)),
	}

	record := func(name gate.Name, rep gate.Report) {
		res.Status[name] = rep.Passed
		res.Details[name] = rep
		res.TokensUsed += rep.Tokens
		if !rep.Passed {
			res.Passed = false
			if res.FailureReason == "" {
				res.FailureReason = rep.Reason
			}
		}
		slog.Info("gate evaluated", "gate", name, "passed", rep.Passed, "reason", rep.Reason)
	}

	if g.cfg.Technical.Enabled {
		record(gate.Technical, g.gateTechnical(ctx))
	}
	if g.cfg.Virtue.Enabled {
		record(gate.Virtue, g.gateVirtue(ctx, t))
	}
	if g.cfg.Ethics.Enabled {
		record(gate.Ethics, g.gateEthics(ctx, t))
	}
	if g.cfg.Judge.Enabled {
		record(gate.Judge, g.gateJudge(ctx, t))
	}
	if g.cfg.Strategy.Enabled {
		record(gate.Strategy, g.gateStrategy(ctx, t))
	}
	if g.cfg.Perception.Enabled {
		record(gate.Perception, g.gatePerception(ctx, t))
	} else {
		// Disabled perception counts as passed so the aggregate holds.
		res.Status[gate.Perception] = true
		res.Details[gate.Perception] = gate.Report{Passed: true, Detail: map[string]any{"skipped": true}}
	}
	if g.cfg.Effort.Enabled {
		record(gate.Effort, g.gateEffort(res.TokensUsed))
	}

	return res
}

// --- gate 1: technical ---

// gateTechnical runs the test suite and linter as external processes with
// bounded timeouts and parses a coverage percentage out of the test output.
// Passes iff tests pass, lint passes, and coverage meets the threshold.
func (g *Gatekeeper) gateTechnical(ctx context.Context) gate.Report {
	testsPassed, coverage := g.runTests(ctx)
	lintPassed := g.runLint(ctx)

	threshold := g.cfg.Technical.Threshold
	coveragePassed := coverage >= threshold

	passed := testsPassed && lintPassed && coveragePassed
	rep := gate.Report{
		Passed: passed,
		Detail: map[string]any{
			"tests":              testsPassed,
			"lint":               lintPassed,
			"coverage":           coverage,
			"coverage_threshold": threshold,
		},
	}
	if !passed {
		rep.Reason = fmt.Sprintf("technical checks failed (tests: %t, lint: %t, coverage: %.0f%%)",
			testsPassed, lintPassed, coverage*100)
	}
	return rep
}

// runTests executes the configured test command and reports pass/fail and
// the parsed coverage ratio. A timeout or missing tool fails the sub-check.
func (g *Gatekeeper) runTests(ctx context.Context) (passed bool, coverage float64) {
	out, err := g.runCommand(ctx, g.cfg.TestCommand, g.cfg.TestTimeout)
	if err != nil {
		return false, 0
	}
	return true, parseCoverage(out)
}

// runLint executes the configured lint command. A missing lint tool passes
// through; a lint run that completes with findings fails.
func (g *Gatekeeper) runLint(ctx context.Context) bool {
	if g.cfg.LintCommand == "" {
		return true
	}
	_, err := g.runCommand(ctx, g.cfg.LintCommand, g.cfg.LintTimeout)
	if err == nil {
		return true
	}
	if errors.Is(err, exec.ErrNotFound) {
		slog.Warn("lint tool unavailable, skipping lint check")
		return true
	}
	return false
}

// runCommand executes a shell-split command line with a bounded timeout.
func (g *Gatekeeper) runCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", errors.New("empty command")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, fields[0], fields[1:]...) //nolint:gosec // command from trusted config
	if g.workdir != "" {
		cmd.Dir = g.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(cmd.Err, exec.ErrNotFound) || errors.Is(err, exec.ErrNotFound) {
			return "", exec.ErrNotFound
		}
		return stdout.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// parseCoverage extracts a coverage ratio from tool output. It accepts both
// `go test -cover` lines ("coverage: 83.1% of statements") and summary
// table lines ("TOTAL ... 83%").
func parseCoverage(out string) float64 {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "%") {
			continue
		}
		if !strings.Contains(line, "coverage:") && !strings.Contains(line, "TOTAL") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if !strings.HasSuffix(field, "%") {
				continue
			}
			if f, err := strconv.ParseFloat(strings.TrimSuffix(field, "%"), 64); err == nil {
				return f / 100
			}
		}
	}
	return 0
}

// --- gates 2-6: injected checkers ---

func (g *Gatekeeper) gateVirtue(ctx context.Context, t *task.Task) gate.Report {
	cctx, cancel := g.checkerCtx(ctx)
	defer cancel()

	score, err := g.checkers.Alignment.ScoreAlignment(cctx, t.OutputPath)
	if err != nil {
		return g.failOpen(gate.Virtue, g.cfg.Virtue, err)
	}

	threshold := g.cfg.Virtue.Threshold
	passed := score.Score >= threshold
	rep := gate.Report{
		Passed: passed,
		Tokens: score.Tokens,
		Detail: map[string]any{"alignment_score": score.Score, "threshold": threshold},
	}
	if !passed {
		rep.Reason = fmt.Sprintf("alignment score %.3f < %.3f", score.Score, threshold)
	}
	return rep
}

func (g *Gatekeeper) gateEthics(ctx context.Context, t *task.Task) gate.Report {
	cctx, cancel := g.checkerCtx(ctx)
	defer cancel()

	verdict, err := g.checkers.Charter.CheckCharter(cctx, t.OutputPath)
	if err != nil {
		return g.failOpen(gate.Ethics, g.cfg.Ethics, err)
	}

	rep := gate.Report{
		Passed: verdict.Safe,
		Detail: map[string]any{"charter_safe": verdict.Safe, "violations": verdict.Violations},
	}
	if !verdict.Safe {
		rep.Reason = "charter violations detected"
	}
	return rep
}

func (g *Gatekeeper) gateJudge(ctx context.Context, t *task.Task) gate.Report {
	cctx, cancel := g.checkerCtx(ctx)
	defer cancel()

	verdict, err := g.checkers.Auditor.Audit(cctx, t.OutputPath, t.SpecPath)
	if err != nil {
		return g.failOpen(gate.Judge, g.cfg.Judge, err)
	}

	rep := gate.Report{
		Passed: verdict.Passed,
		Reason: verdict.Reason,
		Tokens: verdict.Tokens,
		Detail: map[string]any{"match_score": verdict.MatchScore},
	}
	if !verdict.Passed && rep.Reason == "" {
		rep.Reason = fmt.Sprintf("spec audit failed (match %.2f)", verdict.MatchScore)
	}
	return rep
}

func (g *Gatekeeper) gateStrategy(ctx context.Context, t *task.Task) gate.Report {
	cctx, cancel := g.checkerCtx(ctx)
	defer cancel()

	verdict, err := g.checkers.Debt.ScanDebt(cctx, t.OutputPath)
	if err != nil {
		return g.failOpen(gate.Strategy, g.cfg.Strategy, err)
	}

	rep := gate.Report{
		Passed: verdict.Passed,
		Reason: verdict.Reason,
		Detail: map[string]any{"tech_debt_score": verdict.DebtScore},
	}
	if !verdict.Passed && rep.Reason == "" {
		rep.Reason = fmt.Sprintf("tech debt score %.2f too high", verdict.DebtScore)
	}
	return rep
}

func (g *Gatekeeper) gatePerception(ctx context.Context, t *task.Task) gate.Report {
	cctx, cancel := g.checkerCtx(ctx)
	defer cancel()

	verdict, err := g.checkers.Visual.CheckVisual(cctx, t.OutputPath)
	if err != nil {
		return g.failOpen(gate.Perception, g.cfg.Perception, err)
	}

	rep := gate.Report{
		Passed: verdict.Passed,
		Reason: verdict.Reason,
		Tokens: verdict.Tokens,
		Detail: map[string]any{"visual_match": verdict.MatchScore},
	}
	if !verdict.Passed && rep.Reason == "" {
		rep.Reason = fmt.Sprintf("visual match %.2f below expectation", verdict.MatchScore)
	}
	return rep
}

// --- gate 7: effort ---

// gateEffort passes iff the token cost accumulated by the preceding gates
// stays within the per-task ceiling.
func (g *Gatekeeper) gateEffort(tokensUsed int) gate.Report {
	maxTokens := g.cfg.EffortMaxTokens
	passed := tokensUsed <= maxTokens

	ratio := 0.0
	if maxTokens > 0 {
		ratio = float64(tokensUsed) / float64(maxTokens)
	}
	rep := gate.Report{
		Passed: passed,
		Detail: map[string]any{"tokens_used": tokensUsed, "max_tokens": maxTokens, "budget_ratio": ratio},
	}
	if !passed {
		rep.Reason = fmt.Sprintf("token budget exceeded: %d/%d", tokensUsed, maxTokens)
	}
	return rep
}

// checkerCtx bounds a remote checker call with the configured timeout.
func (g *Gatekeeper) checkerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.cfg.CheckerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// failOpen converts a checker transport error into a gate outcome per the
// gate's fail-open setting.
func (g *Gatekeeper) failOpen(name gate.Name, cfg gate.Config, err error) gate.Report {
	if cfg.FailOpen {
		slog.Warn("gate checker unavailable, passing open", "gate", name, "error", err)
		return gate.Report{Passed: true, Detail: map[string]any{"checker_error": err.Error()}}
	}
	return gate.Report{
		Passed: false,
		Reason: fmt.Sprintf("%s checker unavailable: %v", name, err),
		Detail: map[string]any{"checker_error": err.Error()},
	}
}

