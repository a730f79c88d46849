package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/harrier/internal/adapter/discord"
	"github.com/Strob0t/harrier/internal/adapter/email"
	govhttp "github.com/Strob0t/harrier/internal/adapter/http"
	"github.com/Strob0t/harrier/internal/adapter/ledgerfile"
	govnats "github.com/Strob0t/harrier/internal/adapter/nats"
	"github.com/Strob0t/harrier/internal/adapter/opencode"
	"github.com/Strob0t/harrier/internal/adapter/oraclehttp"
	govotel "github.com/Strob0t/harrier/internal/adapter/otel"
	"github.com/Strob0t/harrier/internal/adapter/postgres"
	"github.com/Strob0t/harrier/internal/adapter/ristretto"
	"github.com/Strob0t/harrier/internal/adapter/slack"
	"github.com/Strob0t/harrier/internal/adapter/statefile"
	"github.com/Strob0t/harrier/internal/adapter/ws"
	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/port/cache"
	"github.com/Strob0t/harrier/internal/port/executor"
	"github.com/Strob0t/harrier/internal/port/messagequeue"
	"github.com/Strob0t/harrier/internal/port/notifier"
	"github.com/Strob0t/harrier/internal/port/planstore"
	"github.com/Strob0t/harrier/internal/resilience"
	"github.com/Strob0t/harrier/internal/service"
)

const version = "0.1.0"

// staleTaskGrace is how old an in_progress stamp must be before a restart
// reclaims the task.
const staleTaskGrace = 30 * time.Minute

// exit codes: 0 plan complete, 1 incomplete (failures, blocks, pause, or
// fatal error), 130 interrupted.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// runExitCode maps a terminal loop error to the process exit code. A pause
// leaves the plan incomplete and shares the failure code; only an interrupt
// gets 130.
func runExitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailure
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		if err := runHashToken(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(exitFailure)
		}
		return
	}

	var (
		configPath = flag.String("config", config.DefaultConfigFile, "path to YAML config")
		planPath   = flag.String("plan", "", "plan markdown file (overrides config)")
		mode       = flag.String("mode", "", "execution mode: autonomous, supervised or dry-run")
		status     = flag.Bool("status", false, "print plan status and exit")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitFailure)
	}
	if *planPath != "" {
		cfg.Paths.Plan = *planPath
	}
	if *mode != "" {
		cfg.Execution.Mode = *mode
	}

	setupLogging(cfg.Logging, *verbose)

	os.Exit(run(cfg, *status))
}

func setupLogging(cfg config.Logging, verbose bool) {
	level := slog.LevelInfo
	if verbose || cfg.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.Service)
	slog.SetDefault(logger)
}

func run(cfg *config.Config, statusOnly bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Plan store ---
	var store planstore.Store
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("postgres", "error", err)
			return exitFailure
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			slog.Error("migrations", "error", err)
			return exitFailure
		}
		store = postgres.NewStore(pool, cfg.Paths.Plan)
		slog.Info("postgres plan store ready")
	} else {
		store = statefile.New(cfg.Paths.TaskState)
	}

	state, err := service.NewStateManager(ctx, store, staleTaskGrace)
	if err != nil {
		slog.Error("state", "error", err)
		return exitFailure
	}

	if statusOnly {
		return printStatus(state)
	}

	// --- Telemetry ---
	provider, err := govotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service, version)
	if err != nil {
		slog.Error("telemetry", "error", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	var inst service.Instruments
	if provider != nil {
		metrics, err := govotel.NewMetrics()
		if err != nil {
			slog.Error("metrics", "error", err)
			return exitFailure
		}
		inst = metrics
	}

	// --- Plan ---
	if len(state.Tasks()) == 0 {
		planText, err := os.ReadFile(cfg.Paths.Plan)
		if err != nil {
			slog.Error("read plan", "path", cfg.Paths.Plan, "error", err)
			return exitFailure
		}
		tasks, err := state.InitializeFromPlan(ctx, cfg.Paths.Plan, planText)
		if err != nil {
			slog.Error("initialize plan", "error", err)
			return exitFailure
		}
		if len(tasks) == 0 {
			slog.Error("plan has no tasks", "path", cfg.Paths.Plan)
			return exitFailure
		}
	}

	// --- Message queue ---
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := govnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			slog.Error("nats", "error", err)
			return exitFailure
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = q
	}

	// --- Services ---
	hub := ws.NewHub()
	tokens := service.NewTokenCounter(cfg.Context.MaxWindowTokens)
	distiller := service.NewDistiller(cfg.Paths.Distilled)
	gatekeeper := service.NewGatekeeper(cfg.Gates, cfg.Execution.WorkspacePath, buildCheckers(cfg))
	sink := &checkpointFanout{hub: hub, queue: queue}
	hitlCtl := service.NewHITLController(cfg.HITL, cfg.Server.BaseURL, buildNotifiers(cfg), sink)

	ledgerWriter, err := ledgerfile.NewWriter(cfg.Paths.Ledger)
	if err != nil {
		slog.Error("ledger", "error", err)
		return exitFailure
	}
	auditLog := service.NewLedger(ledgerWriter, queue)

	if queue != nil {
		cancel, err := queue.Subscribe(ctx, messagequeue.SubjectHITLResolve, func(_ context.Context, _ string, data []byte) error {
			var p messagequeue.ResolvePayload
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode resolve payload: %w", err)
			}
			if !hitlCtl.Resolve(p.CheckpointID, p.Approved, p.Notes, p.ResolvedBy) {
				slog.Warn("resolve for unknown checkpoint", "checkpoint_id", p.CheckpointID)
			}
			return nil
		})
		if err != nil {
			slog.Error("subscribe resolve", "error", err)
			return exitFailure
		}
		defer cancel()
	}

	var backend executor.Executor
	if cfg.Execution.Mode == "dry-run" {
		backend = executor.Noop{}
	} else {
		backend = opencode.New(cfg.Execution.BackendURL, cfg.Execution.BackendTimeout)
	}

	engine := service.NewEngine(*cfg, state, tokens, distiller, gatekeeper, hitlCtl, auditLog, backend, hub, inst)

	// --- Resolution API ---
	apiSrv := govhttp.NewServer(cfg.Server, hitlCtl, state, ledgerWriter, hub)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           otelhttp.NewHandler(apiSrv.Router(), "harrier-api"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("resolution api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
	}()

	// Supervised runs with a terminal get an interactive approver.
	if cfg.Execution.Mode == "supervised" {
		go promptApprovals(ctx, hitlCtl)
	}

	// --- Loop ---
	err = engine.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaused):
			slog.Warn("loop paused awaiting human input")
		case errors.Is(err, context.Canceled):
			slog.Warn("interrupted")
		default:
			slog.Error("loop failed", "error", err)
		}
		return runExitCode(err)
	}

	summary := state.Summary()
	slog.Info("plan finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"blocked", summary.Blocked,
	)
	if summary.Failed > 0 || summary.Blocked > 0 {
		return exitFailure
	}
	return exitOK
}

// buildCheckers constructs HTTP checker clients for the configured oracle
// endpoints. Unset endpoints leave the no-op defaults in place.
func buildCheckers(cfg *config.Config) service.Checkers {
	var verdictCache cache.Cache
	if cfg.Cache.MaxSizeMB > 0 {
		c, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
		if err != nil {
			slog.Warn("verdict cache disabled", "error", err)
		} else {
			verdictCache = c
		}
	}

	client := func(baseURL string) *oraclehttp.Client {
		opts := []oraclehttp.Option{
			oraclehttp.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
			oraclehttp.WithTimeout(cfg.Gates.CheckerTimeout),
		}
		if verdictCache != nil {
			opts = append(opts, oraclehttp.WithCache(verdictCache, cfg.Cache.TTL))
		}
		return oraclehttp.NewClient(baseURL, opts...)
	}

	var checkers service.Checkers
	if cfg.Gates.AlignmentURL != "" {
		checkers.Alignment = client(cfg.Gates.AlignmentURL)
	}
	if cfg.Gates.CharterURL != "" {
		checkers.Charter = client(cfg.Gates.CharterURL)
	}
	if cfg.Gates.JudgeURL != "" {
		checkers.Auditor = client(cfg.Gates.JudgeURL)
	}
	return checkers
}

// buildNotifiers assembles the configured notification channels. Email is
// wired only when the operator is away from the desk.
func buildNotifiers(cfg *config.Config) []notifier.Notifier {
	var notifiers []notifier.Notifier

	add := func(name string, conf map[string]string) {
		n, err := notifier.New(name, conf)
		if err != nil {
			slog.Warn("notifier unavailable", "name", name, "error", err)
			return
		}
		notifiers = append(notifiers, n)
		slog.Info("notifier registered", "name", name)
	}

	if cfg.Notify.SlackWebhookURL != "" {
		add(slack.Name, map[string]string{"webhook_url": cfg.Notify.SlackWebhookURL})
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		add(discord.Name, map[string]string{"webhook_url": cfg.Notify.DiscordWebhookURL})
	}
	if !cfg.HITL.Stationary && cfg.HITL.NotifyEmail != "" && cfg.Notify.SMTPHost != "" {
		add(email.Name, map[string]string{
			"smtp_host":     cfg.Notify.SMTPHost,
			"smtp_port":     fmt.Sprintf("%d", cfg.Notify.SMTPPort),
			"smtp_from":     cfg.Notify.SMTPFrom,
			"smtp_password": cfg.Notify.SMTPPassword,
			"to":            cfg.HITL.NotifyEmail,
		})
	}
	return notifiers
}

// checkpointFanout forwards checkpoint events to the ws hub and announces
// new checkpoints on the queue for remote resolvers.
type checkpointFanout struct {
	hub   *ws.Hub
	queue messagequeue.Queue
}

func (f *checkpointFanout) CheckpointCreated(cp hitl.Checkpoint) {
	f.hub.CheckpointCreated(cp)

	if f.queue == nil || !f.queue.IsConnected() {
		return
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.queue.Publish(ctx, messagequeue.SubjectHITLPending, data); err != nil {
		slog.Warn("checkpoint announce failed", "checkpoint_id", cp.ID, "error", err)
	}
}

func (f *checkpointFanout) CheckpointResolved(cp hitl.Checkpoint) {
	f.hub.CheckpointResolved(cp)
}

func printStatus(state *service.StateManager) int {
	out := struct {
		Summary any `json:"summary"`
		Tasks   any `json:"tasks"`
	}{Summary: state.Summary(), Tasks: state.Tasks()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("encode status", "error", err)
		return exitFailure
	}
	return exitOK
}
