// Package gate defines the verification gate domain types.
package gate

// Name identifies one gate in the battery. The battery always runs in the
// order listed by Order.
type Name string

const (
	Technical  Name = "technical"
	Virtue     Name = "virtue"
	Ethics     Name = "ethics"
	Judge      Name = "judge"
	Strategy   Name = "strategy"
	Perception Name = "perception"
	Effort     Name = "effort"
)

// Order is the fixed execution order of the gate battery.
var Order = []Name{Technical, Virtue, Ethics, Judge, Strategy, Perception, Effort}

// Config holds the per-gate settings, validated at load time.
type Config struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// FailOpen controls whether a checker transport error passes the gate.
	FailOpen bool `yaml:"fail_open" json:"fail_open"`
}

// Report is the outcome of a single gate.
type Report struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
	// Detail carries gate-specific diagnostics (coverage, scores, violations).
	Detail map[string]any `json:"detail,omitempty"`
}

// Result aggregates a full battery run over one task.
type Result struct {
	Passed bool `json:"passed"`
	// Status maps gate name to pass/fail; a disabled Perception gate is
	// recorded as passed so the aggregate is unaffected.
	Status map[Name]bool `json:"gate_status"`
	// FailureReason is the first failure encountered in battery order.
	FailureReason string          `json:"failure_reason,omitempty"`
	TokensUsed    int             `json:"tokens_used"`
	Details       map[Name]Report `json:"details"`
}

// FailedGates returns the names of gates that failed, in battery order.
func (r *Result) FailedGates() []Name {
	var failed []Name
	for _, name := range Order {
		if passed, ok := r.Status[name]; ok && !passed {
			failed = append(failed, name)
		}
	}
	return failed
}
