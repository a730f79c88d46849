package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/harrier/internal/domain/task"
)

const maxRequestBodySize = 64 << 10 // 64 KB

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// bearerAuth verifies the Authorization bearer token against a bcrypt hash.
// An empty hash disables authentication (local single-operator runs).
func bearerAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Summary            task.Summary `json:"summary"`
	Tasks              []task.Task  `json:"tasks"`
	PendingCheckpoints []string     `json:"pending_checkpoints"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Summary:            s.status.Summary(),
		Tasks:              s.status.Tasks(),
		PendingCheckpoints: s.resolver.Pending(),
	}
	if resp.PendingCheckpoints == nil {
		resp.PendingCheckpoints = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "no ledger configured")
		return
	}
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 1000 {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 1000")
			return
		}
		n = v
	}
	lines, err := s.ledger.Tail(n)
	if err != nil {
		slog.Error("ledger tail failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": lines})
}

func (s *Server) handlePendingCheckpoints(w http.ResponseWriter, _ *http.Request) {
	pending := s.resolver.Pending()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"history": s.resolver.History(),
	})
}

type resolveRequest struct {
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, false)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, approved bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "checkpoint id is required")
		return
	}

	// Body is optional; an empty POST resolves with no notes.
	var req resolveRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "api"
	}

	if !s.resolver.Resolve(id, approved, req.Notes, req.ResolvedBy) {
		writeError(w, http.StatusNotFound, "no pending checkpoint with that id")
		return
	}

	status := "rejected"
	if approved {
		status = "approved"
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkpoint_id": id, "status": status})
}
