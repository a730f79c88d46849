package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	govhttp "github.com/Strob0t/harrier/internal/adapter/http"
	"github.com/Strob0t/harrier/internal/config"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/domain/task"
)

// fakeResolver implements govhttp.Resolver.
type fakeResolver struct {
	pending  []string
	resolved map[string]bool
}

func (f *fakeResolver) Resolve(id string, approved bool, _, _ string) bool {
	for i, p := range f.pending {
		if p == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			if f.resolved == nil {
				f.resolved = map[string]bool{}
			}
			f.resolved[id] = approved
			return true
		}
	}
	return false
}

func (f *fakeResolver) Pending() []string          { return f.pending }
func (f *fakeResolver) History() []hitl.Checkpoint { return nil }

// fakeStatus implements govhttp.StatusSource.
type fakeStatus struct {
	summary task.Summary
	tasks   []task.Task
}

func (f *fakeStatus) Summary() task.Summary { return f.summary }
func (f *fakeStatus) Tasks() []task.Task    { return f.tasks }

type fakeTailer struct {
	lines []string
}

func (f *fakeTailer) Tail(n int) ([]string, error) {
	if n > len(f.lines) {
		n = len(f.lines)
	}
	return f.lines[len(f.lines)-n:], nil
}

func newTestServer(cfg config.Server, res *fakeResolver) *httptest.Server {
	status := &fakeStatus{
		summary: task.Summary{Total: 2, Completed: 1, Pending: 1, ProgressPct: 50.0},
		tasks: []task.Task{
			{ID: "setup", Title: "Setup", Status: task.StatusComplete},
			{ID: "api", Title: "API", Status: task.StatusPending},
		},
	}
	tailer := &fakeTailer{lines: []string{"line-a", "line-b", "line-c"}}
	srv := govhttp.NewServer(cfg, res, status, tailer, nil)
	return httptest.NewServer(srv.Router())
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(config.Server{}, &fakeResolver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status body = %q, want ok", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(config.Server{}, &fakeResolver{pending: []string{"HITL-AAAA1111"}})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Summary            task.Summary `json:"summary"`
		Tasks              []task.Task  `json:"tasks"`
		PendingCheckpoints []string     `json:"pending_checkpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Summary.Total != 2 || body.Summary.ProgressPct != 50.0 {
		t.Errorf("summary = %+v", body.Summary)
	}
	if len(body.Tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(body.Tasks))
	}
	if len(body.PendingCheckpoints) != 1 || body.PendingCheckpoints[0] != "HITL-AAAA1111" {
		t.Errorf("pending = %v", body.PendingCheckpoints)
	}
}

func TestLedgerEndpointTailsLines(t *testing.T) {
	ts := newTestServer(config.Server{}, &fakeResolver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ledger?n=2")
	if err != nil {
		t.Fatalf("GET /ledger: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Entries []string `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 2 || body.Entries[0] != "line-b" || body.Entries[1] != "line-c" {
		t.Errorf("entries = %v", body.Entries)
	}
}

func TestApproveResolvesCheckpoint(t *testing.T) {
	res := &fakeResolver{pending: []string{"HITL-DEADBEEF"}}
	ts := newTestServer(config.Server{}, res)
	defer ts.Close()

	payload := bytes.NewBufferString(`{"notes":"ship it","resolved_by":"alice"}`)
	resp, err := http.Post(ts.URL+"/hitl/HITL-DEADBEEF/approve", "application/json", payload)
	if err != nil {
		t.Fatalf("POST approve: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if approved, ok := res.resolved["HITL-DEADBEEF"]; !ok || !approved {
		t.Errorf("checkpoint not resolved as approved: %v", res.resolved)
	}
}

func TestRejectUnknownCheckpointReturns404(t *testing.T) {
	ts := newTestServer(config.Server{}, &fakeResolver{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/hitl/HITL-00000000/reject", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reject: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResolveRequiresTokenWhenHashConfigured(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	res := &fakeResolver{pending: []string{"HITL-CAFEF00D"}}
	ts := newTestServer(config.Server{APITokenHash: string(hash)}, res)
	defer ts.Close()

	// No token: rejected.
	resp, err := http.Post(ts.URL+"/hitl/HITL-CAFEF00D/approve", "application/json", nil)
	if err != nil {
		t.Fatalf("POST without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	// Wrong token: rejected.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/hitl/HITL-CAFEF00D/approve", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST with wrong token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", resp.StatusCode)
	}

	// Correct token: resolves.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/hitl/HITL-CAFEF00D/approve", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
	if approved := res.resolved["HITL-CAFEF00D"]; !approved {
		t.Errorf("checkpoint not approved")
	}
}

// Read-only endpoints stay open even when a token hash is set.
func TestStatusOpenWithTokenConfigured(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	ts := newTestServer(config.Server{APITokenHash: string(hash)}, &fakeResolver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
