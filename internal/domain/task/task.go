// Package task defines the work-plan Task domain entity.
package task

import "time"

// Status represents the current state of a task in the plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	// StatusBlocked marks a task a human declined at a checkpoint.
	// Blocked tasks are skipped by selection but do not satisfy plan completion.
	StatusBlocked Status = "blocked"
)

// Terminal reports whether s counts toward plan completion.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Task is one unit of work in a plan.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastFailure string     `json:"last_failure,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	SpecPath    string     `json:"spec_path,omitempty"`
	TokensUsed  int        `json:"tokens_used"`
}

// Plan is the ordered set of tasks parsed from a plan document.
type Plan struct {
	PlanFile  string    `json:"plan_file"`
	Version   string    `json:"version"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary holds per-status counts for a plan.
type Summary struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	InProgress  int     `json:"in_progress"`
	Blocked     int     `json:"blocked"`
	ProgressPct float64 `json:"progress_pct"`
}
