package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/port/notifier"
)

// highRiskKeywords mark operations that always require human sign-off.
var highRiskKeywords = []string{
	"delete", "drop", "truncate", "rm -rf",
	"production", "deploy", "migrate", "rollback",
	"credentials", "secret", "payment", "billing",
	"financial", "admin", "sudo",
}

// majorChangeKeywords mark structural changes that warrant a checkpoint.
var majorChangeKeywords = []string{
	"architecture", "schema", "database", "api breaking",
	"refactor", "redesign", "migration", "infrastructure",
}

// EventSink receives checkpoint lifecycle events for live observers
// (WebSocket hub, NATS fan-out). Implementations must not block.
type EventSink interface {
	CheckpointCreated(cp hitl.Checkpoint)
	CheckpointResolved(cp hitl.Checkpoint)
}

// HITLController owns the checkpoint lifecycle: it decides when human input
// is needed, notifies humans over the registered channels, blocks the loop
// until a decision arrives, and resolves stale requests by timeout.
//
// Waiting is channel-based: each pending checkpoint holds a buffered
// channel of size one, so the first resolution wins and later calls are
// rejected. There is no polling.
type HITLController struct {
	cfg       config.HITL
	baseURL   string
	notifiers []notifier.Notifier
	sink      EventSink
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]chan resolution
	history []hitl.Checkpoint
	calls   int
}

type resolution struct {
	approved bool
	notes    string
	by       string
}

// NewHITLController creates a controller. baseURL is the externally
// reachable address used to build approve/reject links; sink may be nil.
func NewHITLController(cfg config.HITL, baseURL string, notifiers []notifier.Notifier, sink EventSink) *HITLController {
	return &HITLController{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		notifiers: notifiers,
		sink:      sink,
		now:       time.Now,
		pending:   make(map[string]chan resolution),
	}
}

// DetectHighRisk reports whether the description mentions a high-risk
// operation. Matching is case-insensitive substring.
func DetectHighRisk(description string) bool {
	return containsAny(description, highRiskKeywords)
}

// DetectMajorChange reports whether the description mentions a structural
// change to the system.
func DetectMajorChange(description string) bool {
	return containsAny(description, majorChangeKeywords)
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyTask returns the checkpoint reason a task description triggers,
// or false when no checkpoint is needed. High-risk takes precedence over
// major-change.
func ClassifyTask(description string) (hitl.Reason, bool) {
	if DetectHighRisk(description) {
		return hitl.ReasonHighRisk, true
	}
	if DetectMajorChange(description) {
		return hitl.ReasonMajorChange, true
	}
	return "", false
}

// ShouldCheckpointScheduled increments the per-loop call counter and
// reports true exactly every Nth call, driving the periodic "still on
// track" checkpoint without blocking every iteration.
func (c *HITLController) ShouldCheckpointScheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	n := c.cfg.CheckInterval
	if n <= 0 {
		n = 5
	}
	return c.calls%n == 0
}

// RequestCheckpointAsync creates a checkpoint without suspending the
// caller. The checkpoint is registered pending and notified; a background
// waiter records the eventual resolution or timeout. Used for the periodic
// scheduled checkpoint, which must not stall the loop.
func (c *HITLController) RequestCheckpointAsync(ctx context.Context, taskID string, reason hitl.Reason, description string, extra map[string]string) hitl.Checkpoint {
	cp := hitl.Checkpoint{
		ID:          newCheckpointID(),
		TaskID:      taskID,
		Reason:      reason,
		Description: description,
		Context:     extra,
		Status:      hitl.StatusPending,
		CreatedAt:   c.now(),
	}

	if reason == hitl.ReasonScheduled && c.cfg.AutoApproveLowRisk {
		cp.Status = hitl.StatusAutoApproved
		cp.ResolvedBy = "auto"
		now := c.now()
		cp.ResolvedAt = &now
		c.record(cp)
		return cp
	}

	ch := make(chan resolution, 1)
	c.mu.Lock()
	c.pending[cp.ID] = ch
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.CheckpointCreated(cp)
	}
	c.notify(ctx, cp)

	go c.awaitResolution(ctx, cp, ch)
	return cp
}

// awaitResolution harvests the outcome of a non-blocking checkpoint so it
// still lands in the history and the pending set stays clean.
func (c *HITLController) awaitResolution(ctx context.Context, cp hitl.Checkpoint, ch chan resolution) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		now := c.now()
		cp.ResolvedAt = &now
		cp.ResolvedBy = res.by
		cp.Notes = res.notes
		if res.approved {
			cp.Status = hitl.StatusApproved
		} else {
			cp.Status = hitl.StatusRejected
		}
	case <-timer.C:
		now := c.now()
		cp.ResolvedAt = &now
		cp.Status = hitl.StatusTimeout
	case <-ctx.Done():
		now := c.now()
		cp.ResolvedAt = &now
		cp.Status = hitl.StatusTimeout
	}

	c.mu.Lock()
	delete(c.pending, cp.ID)
	c.mu.Unlock()

	c.record(cp)
	if c.sink != nil {
		c.sink.CheckpointResolved(cp)
	}
}

// RequestApproval creates a checkpoint and blocks until it is approved,
// rejected, times out, or ctx is canceled. Scheduled checkpoints are
// auto-approved when the controller is configured to do so; every other
// reason always waits for a human.
func (c *HITLController) RequestApproval(ctx context.Context, taskID string, reason hitl.Reason, description string, extra map[string]string) hitl.Checkpoint {
	cp := hitl.Checkpoint{
		ID:          newCheckpointID(),
		TaskID:      taskID,
		Reason:      reason,
		Description: description,
		Context:     extra,
		Status:      hitl.StatusPending,
		CreatedAt:   c.now(),
	}

	if reason == hitl.ReasonScheduled && c.cfg.AutoApproveLowRisk {
		cp.Status = hitl.StatusAutoApproved
		cp.ResolvedBy = "auto"
		now := c.now()
		cp.ResolvedAt = &now
		c.record(cp)
		slog.Info("checkpoint auto-approved", "checkpoint_id", cp.ID, "task_id", taskID)
		if c.sink != nil {
			c.sink.CheckpointResolved(cp)
		}
		return cp
	}

	ch := make(chan resolution, 1)
	c.mu.Lock()
	c.pending[cp.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cp.ID)
		c.mu.Unlock()
	}()

	if c.sink != nil {
		c.sink.CheckpointCreated(cp)
	}
	c.notify(ctx, cp)

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	slog.Info("checkpoint awaiting human decision",
		"checkpoint_id", cp.ID,
		"task_id", taskID,
		"reason", reason,
		"timeout", timeout,
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		now := c.now()
		cp.ResolvedAt = &now
		cp.ResolvedBy = res.by
		cp.Notes = res.notes
		if res.approved {
			cp.Status = hitl.StatusApproved
		} else {
			cp.Status = hitl.StatusRejected
		}
	case <-timer.C:
		now := c.now()
		cp.ResolvedAt = &now
		cp.Status = hitl.StatusTimeout
		slog.Warn("checkpoint timed out", "checkpoint_id", cp.ID, "task_id", taskID)
	case <-ctx.Done():
		now := c.now()
		cp.ResolvedAt = &now
		cp.Status = hitl.StatusTimeout
		cp.Notes = "canceled: " + ctx.Err().Error()
	}

	c.record(cp)
	if c.sink != nil {
		c.sink.CheckpointResolved(cp)
	}
	slog.Info("checkpoint resolved",
		"checkpoint_id", cp.ID,
		"status", cp.Status,
		"resolved_by", cp.ResolvedBy,
	)
	return cp
}

// Resolve delivers a human decision to a pending checkpoint. Returns false
// when the checkpoint is unknown or already resolved; callers map that to
// a 404.
func (c *HITLController) Resolve(checkpointID string, approved bool, notes, resolvedBy string) bool {
	c.mu.Lock()
	ch, ok := c.pending[checkpointID]
	if ok {
		delete(c.pending, checkpointID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resolution{approved: approved, notes: notes, by: resolvedBy}:
		return true
	default:
		return false
	}
}

// Pending returns the IDs of checkpoints still awaiting a decision.
func (c *HITLController) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// History returns a copy of all resolved checkpoints, oldest first.
func (c *HITLController) History() []hitl.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hitl.Checkpoint, len(c.history))
	copy(out, c.history)
	return out
}

func (c *HITLController) record(cp hitl.Checkpoint) {
	c.mu.Lock()
	c.history = append(c.history, cp)
	c.mu.Unlock()
}

// notify fans the checkpoint out to every registered notifier. Failures
// are logged and never block the decision; a checkpoint that nobody hears
// about still resolves by timeout.
func (c *HITLController) notify(ctx context.Context, cp hitl.Checkpoint) {
	if len(c.notifiers) == 0 {
		return
	}
	n := notifier.Notification{
		Title:   "Approval required: " + cp.TaskID,
		Message: cp.Description,
		Level:   "warning",
		Source:  "harrier",
		TaskID:  cp.TaskID,
	}
	if c.baseURL != "" {
		n.ApproveURL = c.baseURL + "/hitl/" + cp.ID + "/approve"
		n.RejectURL = c.baseURL + "/hitl/" + cp.ID + "/reject"
	}

	var g errgroup.Group
	for _, nt := range c.notifiers {
		g.Go(func() error {
			if err := nt.Send(ctx, n); err != nil {
				slog.Warn("checkpoint notification failed", "notifier", nt.Name(), "error", err)
			}
			return nil
		})
	}
	go func() { _ = g.Wait() }()
}

// newCheckpointID builds a short human-readable checkpoint ID, e.g.
// "HITL-9F86D081".
func newCheckpointID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "HITL-" + strings.ToUpper(raw[:8])
}
