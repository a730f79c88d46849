// Package hitl defines the human-in-the-loop checkpoint domain types.
package hitl

import "time"

// Reason is why human input is needed.
type Reason string

const (
	ReasonHighRisk        Reason = "high_risk"
	ReasonMajorChange     Reason = "major_change"
	ReasonCostThreshold   Reason = "cost_threshold"
	ReasonGateFailure     Reason = "gate_failure"
	ReasonScheduled       Reason = "scheduled"
	ReasonExplicitRequest Reason = "explicit_request"
)

// Status is the state of a checkpoint. A checkpoint starts pending and
// transitions to exactly one terminal status.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusTimeout      Status = "timeout"
	StatusAutoApproved Status = "auto_approved"
)

// Checkpoint is a pending or resolved human-approval request.
type Checkpoint struct {
	ID          string            `json:"checkpoint_id"`
	TaskID      string            `json:"task_id"`
	Reason      Reason            `json:"reason"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}
