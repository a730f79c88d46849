package oracle

import "context"

// The Noop checkers are the injected defaults when an external checker
// service is not configured. Each passes unconditionally, preserving the
// upstream behavior of an unavailable optional dependency.

// NoopAlignmentScorer always reports a perfect score at zero token cost.
type NoopAlignmentScorer struct{}

func (NoopAlignmentScorer) ScoreAlignment(_ context.Context, _ string) (AlignmentScore, error) {
	return AlignmentScore{Score: 1.0}, nil
}

// NoopCharterChecker always reports charter-safe.
type NoopCharterChecker struct{}

func (NoopCharterChecker) CheckCharter(_ context.Context, _ string) (CharterVerdict, error) {
	return CharterVerdict{Safe: true}, nil
}

// NoopSpecAuditor always passes. The upstream Judge gate is a documented
// placeholder until a real auditor is wired.
type NoopSpecAuditor struct{}

func (NoopSpecAuditor) Audit(_ context.Context, _, _ string) (AuditVerdict, error) {
	return AuditVerdict{Passed: true, MatchScore: 1.0}, nil
}

// NoopDebtScanner always passes. The upstream Strategy gate is a documented
// placeholder until a real scanner is wired.
type NoopDebtScanner struct{}

func (NoopDebtScanner) ScanDebt(_ context.Context, _ string) (DebtVerdict, error) {
	return DebtVerdict{Passed: true}, nil
}

// NoopVisualChecker always passes.
type NoopVisualChecker struct{}

func (NoopVisualChecker) CheckVisual(_ context.Context, _ string) (VisualVerdict, error) {
	return VisualVerdict{Passed: true, MatchScore: 1.0}, nil
}
