// Package config provides hierarchical configuration loading for Harrier.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/Strob0t/harrier/internal/domain/gate"
)

// Config holds all runtime configuration for the Harrier harness.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Context   Context   `yaml:"context"`
	Execution Execution `yaml:"execution"`
	Gates     Gates     `yaml:"gates"`
	HITL      HITL      `yaml:"hitl"`
	Notify    Notify    `yaml:"notify"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	Paths     Paths     `yaml:"paths"`
}

// Server holds HTTP server configuration for the resolution API.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// BaseURL is used to build approve/reject links in notifications.
	BaseURL string `yaml:"base_url"`
	// APITokenHash is a bcrypt hash guarding the resolve endpoints.
	// Empty means unauthenticated (local runs).
	APITokenHash string `yaml:"api_token_hash"`
}

// Postgres holds the optional PostgreSQL plan-store configuration.
// An empty DSN selects the JSON statefile store instead.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. Empty URL disables the queue.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Context holds the token budget configuration.
type Context struct {
	// MaxWindowTokens is the hard context ceiling the budget is measured
	// against.
	MaxWindowTokens int `yaml:"max_window_tokens"`
	// DistillThreshold is the usage ratio above which distillation is
	// mandatory before the next task begins (the 70% rule).
	DistillThreshold float64 `yaml:"distill_threshold"`
}

// Execution holds effort-loop configuration.
type Execution struct {
	Mode            string        `yaml:"mode"` // "autonomous" | "supervised" | "dry-run"
	MaxRetries      int           `yaml:"max_retries_per_task"`
	GitAutoCommit   bool          `yaml:"git_auto_commit"`
	BackendURL      string        `yaml:"backend_url"`
	BackendTimeout  time.Duration `yaml:"backend_timeout"`
	WorkspacePath   string        `yaml:"workspace_path"`
	CommitTimeout   time.Duration `yaml:"commit_timeout"`
	CostTokensLimit int           `yaml:"cost_tokens_limit"` // cumulative run spend triggering a one-time cost checkpoint; 0 disables
}

// Gates holds the oracle gate battery configuration.
type Gates struct {
	Technical  gate.Config `yaml:"technical"`
	Virtue     gate.Config `yaml:"virtue"`
	Ethics     gate.Config `yaml:"ethics"`
	Judge      gate.Config `yaml:"judge"`
	Strategy   gate.Config `yaml:"strategy"`
	Perception gate.Config `yaml:"perception"`
	Effort     gate.Config `yaml:"effort"`

	TestCommand     string        `yaml:"test_command"`
	LintCommand     string        `yaml:"lint_command"`
	TestTimeout     time.Duration `yaml:"test_timeout"`
	LintTimeout     time.Duration `yaml:"lint_timeout"`
	CheckerTimeout  time.Duration `yaml:"checker_timeout"`
	EffortMaxTokens int           `yaml:"effort_max_tokens"`

	// Checker service endpoints; empty endpoints inject no-op checkers.
	AlignmentURL string `yaml:"alignment_url"`
	CharterURL   string `yaml:"charter_url"`
	JudgeURL     string `yaml:"judge_url"`
}

// HITL holds human-in-the-loop configuration.
type HITL struct {
	Timeout            time.Duration `yaml:"timeout"`
	AutoApproveLowRisk bool          `yaml:"auto_approve_low_risk"`
	// Stationary means a human is at the desk; email notification fires
	// only when this is false.
	Stationary bool `yaml:"stationary"`
	// CheckInterval is N in "scheduled checkpoint every Nth task".
	CheckInterval int `yaml:"check_interval"`
	NotifyEmail   string `yaml:"notify_email"`
}

// Notify holds notification channel configuration.
type Notify struct {
	SMTPHost          string `yaml:"smtp_host"`
	SMTPPort          int    `yaml:"smtp_port"`
	SMTPFrom          string `yaml:"smtp_from"`
	SMTPPassword      string `yaml:"smtp_password"`
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// Breaker holds circuit breaker configuration for checker calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the checker-verdict cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Telemetry holds OTLP exporter configuration. Empty endpoint disables it.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Paths holds the fixed file locations the harness reads and writes.
type Paths struct {
	Plan      string `yaml:"plan"`
	TaskState string `yaml:"task_state"`
	Ledger    string `yaml:"ledger"`
	Distilled string `yaml:"distilled"`
	Standards string `yaml:"standards"`
}

// Defaults returns a Config with sensible default values for local runs.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8095",
			CORSOrigin: "http://localhost:3000",
			BaseURL:    "http://localhost:8095",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "harrier",
		},
		Context: Context{
			MaxWindowTokens:  128000,
			DistillThreshold: 0.70,
		},
		Execution: Execution{
			Mode:           "autonomous",
			MaxRetries:     5,
			GitAutoCommit:  true,
			BackendTimeout: 10 * time.Minute,
			CommitTimeout:  30 * time.Second,
		},
		Gates: Gates{
			Technical:       gate.Config{Enabled: true, Threshold: 0.80},
			Virtue:          gate.Config{Enabled: true, Threshold: 0.995, FailOpen: true},
			Ethics:          gate.Config{Enabled: true, FailOpen: true},
			Judge:           gate.Config{Enabled: true, FailOpen: true},
			Strategy:        gate.Config{Enabled: true},
			Perception:      gate.Config{Enabled: false},
			Effort:          gate.Config{Enabled: true},
			TestCommand:     "go test ./...",
			LintCommand:     "golangci-lint run ./...",
			TestTimeout:     2 * time.Minute,
			LintTimeout:     30 * time.Second,
			CheckerTimeout:  30 * time.Second,
			EffortMaxTokens: 50000,
		},
		HITL: HITL{
			Timeout:            30 * time.Minute,
			AutoApproveLowRisk: true,
			Stationary:         true,
			CheckInterval:      5,
		},
		Notify: Notify{
			SMTPPort: 587,
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 32,
			TTL:       time.Hour,
		},
		Paths: Paths{
			Plan:      "specs/plan.md",
			TaskState: "specs/task-state.json",
			Ledger:    ".harrier/ledger.log",
			Distilled: "docs/distilled-context.md",
			Standards: "standards.md",
		},
	}
}
