// Package oracle defines the capability interfaces for the optional gate
// checkers. Each optional gate receives one of these at construction; the
// no-op implementations make fail-open an explicit wiring decision instead
// of an exception-driven side effect.
package oracle

import "context"

// AlignmentScore is the verdict of an alignment scorer (Virtue gate).
type AlignmentScore struct {
	Score  float64 `json:"alignment_score"`
	Tokens int     `json:"tokens_used"`
}

// CharterVerdict is the verdict of a charter-compliance checker (Ethics gate).
type CharterVerdict struct {
	Safe       bool     `json:"charter_safe"`
	Violations []string `json:"violations,omitempty"`
}

// AuditVerdict is the verdict of a spec auditor (Judge gate).
type AuditVerdict struct {
	Passed     bool    `json:"passed"`
	MatchScore float64 `json:"match_score"`
	Reason     string  `json:"reason,omitempty"`
	Tokens     int     `json:"tokens"`
}

// DebtVerdict is the verdict of a tech-debt scanner (Strategy gate).
type DebtVerdict struct {
	Passed    bool    `json:"passed"`
	DebtScore float64 `json:"tech_debt_score"`
	Reason    string  `json:"reason,omitempty"`
}

// VisualVerdict is the verdict of a visual checker (Perception gate).
type VisualVerdict struct {
	Passed     bool    `json:"passed"`
	MatchScore float64 `json:"visual_match"`
	Reason     string  `json:"reason,omitempty"`
	Tokens     int     `json:"tokens"`
}

// AlignmentScorer scores an artifact's alignment (Virtue gate).
type AlignmentScorer interface {
	ScoreAlignment(ctx context.Context, artifactPath string) (AlignmentScore, error)
}

// CharterChecker checks charter compliance (Ethics gate).
type CharterChecker interface {
	CheckCharter(ctx context.Context, artifactPath string) (CharterVerdict, error)
}

// SpecAuditor compares output against its specification (Judge gate).
type SpecAuditor interface {
	Audit(ctx context.Context, artifactPath, specPath string) (AuditVerdict, error)
}

// DebtScanner scans for long-term tech debt (Strategy gate).
type DebtScanner interface {
	ScanDebt(ctx context.Context, artifactPath string) (DebtVerdict, error)
}

// VisualChecker verifies UI output against a design (Perception gate).
type VisualChecker interface {
	CheckVisual(ctx context.Context, artifactPath string) (VisualVerdict, error)
}
