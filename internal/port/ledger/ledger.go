// Package ledger defines the append-only audit trail port.
package ledger

import (
	"context"
	"time"
)

// Entry is one audit record. Every significant loop event appends exactly
// one entry; the ledger is the system's sole audit trail and is never
// skipped, even on failure paths.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"task_id"`
	Action     string    `json:"action"`
	Tokens     int       `json:"tokens"`
	GateStatus string    `json:"gate_status"`
	Notes      string    `json:"notes"`
}

// Well-known actions recorded by the engine.
const (
	ActionBoot             = "HARNESS_BOOT"
	ActionDistillation     = "DISTILLATION"
	ActionTaskComplete     = "TASK_COMPLETE"
	ActionGateFailure      = "GATE_FAILURE"
	ActionExecutionFailure = "EXECUTION_FAILURE"
	ActionRetry            = "RETRY"
	ActionTaskBlocked      = "TASK_BLOCKED"
	ActionTaskFailed       = "TASK_FAILED"
	ActionCheckpoint       = "HITL_CHECKPOINT"
	ActionLoopComplete     = "LOOP_COMPLETE"
)

// Writer is the port interface for appending audit entries.
type Writer interface {
	// Append durably records one entry. An append failure is fatal to the
	// caller: an incomplete audit trail cannot be trusted.
	Append(ctx context.Context, e Entry) error
}
