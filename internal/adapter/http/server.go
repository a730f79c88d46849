// Package http serves the resolution API: read-only status endpoints for
// supervisors and the approve/reject endpoints that unblock checkpoints.
package http

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/domain/task"
)

// Resolver resolves human-in-the-loop checkpoints.
type Resolver interface {
	Resolve(checkpointID string, approved bool, notes, resolvedBy string) bool
	Pending() []string
	History() []hitl.Checkpoint
}

// StatusSource exposes a read-only view of loop progress.
type StatusSource interface {
	Summary() task.Summary
	Tasks() []task.Task
}

// LedgerTailer reads the last n audit ledger lines.
type LedgerTailer interface {
	Tail(n int) ([]string, error)
}

// Server is the governance-loop HTTP surface.
type Server struct {
	cfg      config.Server
	resolver Resolver
	status   StatusSource
	ledger   LedgerTailer
	ws       http.Handler
}

// NewServer builds the API server. ws may be nil when the event stream is
// disabled; ledger may be nil when no file ledger is configured.
func NewServer(cfg config.Server, resolver Resolver, status StatusSource, ledger LedgerTailer, ws http.Handler) *Server {
	return &Server{cfg: cfg, resolver: resolver, status: status, ledger: ledger, ws: ws}
}

// Router assembles the chi router with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware(s.cfg.CORSOrigin))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/ledger", s.handleLedger)

		r.Route("/hitl", func(r chi.Router) {
			r.Get("/", s.handlePendingCheckpoints)
			r.Group(func(r chi.Router) {
				r.Use(bearerAuth(s.cfg.APITokenHash))
				r.Post("/{id}/approve", s.handleApprove)
				r.Post("/{id}/reject", s.handleReject)
			})
		})
	})

	// The event stream stays outside the request timeout; connections are
	// long-lived.
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	return r
}

// requestLogger logs each request with its chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware sets CORS headers for the supervisor dashboard origin.
func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker, required for WebSocket upgrades.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := sw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher for streaming responses.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
