package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/harrier/internal/domain/gate"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "harrier.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "HARRIER_PORT")
	setString(&cfg.Server.CORSOrigin, "HARRIER_CORS_ORIGIN")
	setString(&cfg.Server.BaseURL, "HARRIER_BASE_URL")
	setString(&cfg.Server.APITokenHash, "HARRIER_API_TOKEN_HASH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HARRIER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HARRIER_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "HARRIER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HARRIER_LOG_SERVICE")
	setInt(&cfg.Context.MaxWindowTokens, "HARRIER_MAX_WINDOW_TOKENS")
	setFloat64(&cfg.Context.DistillThreshold, "HARRIER_DISTILL_THRESHOLD")
	setString(&cfg.Execution.Mode, "HARRIER_MODE")
	setInt(&cfg.Execution.MaxRetries, "HARRIER_MAX_RETRIES")
	setBool(&cfg.Execution.GitAutoCommit, "HARRIER_GIT_AUTO_COMMIT")
	setString(&cfg.Execution.BackendURL, "HARRIER_BACKEND_URL")
	setDuration(&cfg.Execution.BackendTimeout, "HARRIER_BACKEND_TIMEOUT")
	setString(&cfg.Execution.WorkspacePath, "HARRIER_WORKSPACE")
	setString(&cfg.Gates.TestCommand, "HARRIER_TEST_COMMAND")
	setString(&cfg.Gates.LintCommand, "HARRIER_LINT_COMMAND")
	setDuration(&cfg.Gates.TestTimeout, "HARRIER_TEST_TIMEOUT")
	setDuration(&cfg.Gates.LintTimeout, "HARRIER_LINT_TIMEOUT")
	setInt(&cfg.Gates.EffortMaxTokens, "HARRIER_EFFORT_MAX_TOKENS")
	setString(&cfg.Gates.AlignmentURL, "HARRIER_ALIGNMENT_URL")
	setString(&cfg.Gates.CharterURL, "HARRIER_CHARTER_URL")
	setString(&cfg.Gates.JudgeURL, "HARRIER_JUDGE_URL")
	setDuration(&cfg.HITL.Timeout, "HARRIER_HITL_TIMEOUT")
	setBool(&cfg.HITL.AutoApproveLowRisk, "HARRIER_HITL_AUTO_APPROVE_LOW_RISK")
	setBool(&cfg.HITL.Stationary, "HARRIER_HITL_STATIONARY")
	setInt(&cfg.HITL.CheckInterval, "HARRIER_HITL_CHECK_INTERVAL")
	setString(&cfg.HITL.NotifyEmail, "HARRIER_HITL_NOTIFY_EMAIL")
	setString(&cfg.Notify.SMTPHost, "HARRIER_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "HARRIER_SMTP_PORT")
	setString(&cfg.Notify.SMTPFrom, "HARRIER_SMTP_FROM")
	setString(&cfg.Notify.SMTPPassword, "HARRIER_SMTP_PASSWORD")
	setString(&cfg.Notify.SlackWebhookURL, "HARRIER_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "HARRIER_DISCORD_WEBHOOK_URL")
	setInt(&cfg.Breaker.MaxFailures, "HARRIER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HARRIER_BREAKER_TIMEOUT")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "HARRIER_OTEL_INSECURE")
	setString(&cfg.Paths.Plan, "HARRIER_PLAN")
	setString(&cfg.Paths.TaskState, "HARRIER_TASK_STATE")
	setString(&cfg.Paths.Ledger, "HARRIER_LEDGER")
	setString(&cfg.Paths.Distilled, "HARRIER_DISTILLED")
	setString(&cfg.Paths.Standards, "HARRIER_STANDARDS")
}

// validate catches misconfiguration at load time, before the loop starts.
func validate(cfg *Config) error {
	switch cfg.Execution.Mode {
	case "autonomous", "supervised", "dry-run":
	default:
		return fmt.Errorf("execution.mode %q: must be autonomous, supervised or dry-run", cfg.Execution.Mode)
	}

	if cfg.Context.MaxWindowTokens <= 0 {
		return fmt.Errorf("context.max_window_tokens %d: must be positive", cfg.Context.MaxWindowTokens)
	}
	if cfg.Context.DistillThreshold <= 0 || cfg.Context.DistillThreshold > 1 {
		return fmt.Errorf("context.distill_threshold %.2f: must be in (0, 1]", cfg.Context.DistillThreshold)
	}
	if cfg.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries_per_task %d: must be non-negative", cfg.Execution.MaxRetries)
	}
	if cfg.HITL.Timeout <= 0 {
		return fmt.Errorf("hitl.timeout %s: must be positive", cfg.HITL.Timeout)
	}
	if cfg.HITL.CheckInterval <= 0 {
		return fmt.Errorf("hitl.check_interval %d: must be positive", cfg.HITL.CheckInterval)
	}
	if cfg.Gates.EffortMaxTokens < 0 {
		return fmt.Errorf("gates.effort_max_tokens %d: must be non-negative", cfg.Gates.EffortMaxTokens)
	}

	for _, gc := range []struct {
		name string
		cfg  gate.Config
	}{
		{"technical", cfg.Gates.Technical},
		{"virtue", cfg.Gates.Virtue},
		{"ethics", cfg.Gates.Ethics},
		{"judge", cfg.Gates.Judge},
		{"strategy", cfg.Gates.Strategy},
		{"perception", cfg.Gates.Perception},
		{"effort", cfg.Gates.Effort},
	} {
		if gc.cfg.Threshold < 0 || gc.cfg.Threshold > 1 {
			return fmt.Errorf("gates.%s.threshold %.3f: must be in [0, 1]", gc.name, gc.cfg.Threshold)
		}
	}

	return nil
}

// --- env setters ---

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
