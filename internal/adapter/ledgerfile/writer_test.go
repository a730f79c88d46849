package ledgerfile_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/harrier/internal/adapter/ledgerfile"
	"github.com/Strob0t/harrier/internal/port/ledger"
)

func TestWriter_AppendLineShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".harrier", "ledger.log")
	w, err := ledgerfile.NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	if err := w.Append(context.Background(), ledger.Entry{
		Timestamp:  ts,
		TaskID:     "setup",
		Action:     ledger.ActionTaskComplete,
		Tokens:     1200,
		GateStatus: "7/7 PASSED",
		Notes:      "All gates verified. Total retries: 0",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "[2026-03-09T12:00:00Z] | setup | TASK_COMPLETE | 1200 | 7/7 PASSED | All gates verified. Total retries: 0\n"
	if string(data) != want {
		t.Errorf("ledger line:\n got %q\nwant %q", data, want)
	}
}

func TestWriter_AppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	w, err := ledgerfile.NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := w.Append(context.Background(), ledger.Entry{
			TaskID: "t1", Action: ledger.ActionRetry, GateStatus: "N/A",
		}); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Errorf("ledger has %d lines, want 3", got)
	}
}

func TestWriter_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	w, err := ledgerfile.NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	// Tail of a missing file is empty, not an error.
	lines, err := w.Tail(10)
	if err != nil || lines != nil {
		t.Errorf("Tail(empty) = %v, %v", lines, err)
	}

	for _, action := range []string{"A", "B", "C", "D"} {
		if err := w.Append(context.Background(), ledger.Entry{TaskID: "t", Action: action}); err != nil {
			t.Fatal(err)
		}
	}

	lines, err = w.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || !strings.Contains(lines[0], "| C |") || !strings.Contains(lines[1], "| D |") {
		t.Errorf("Tail(2) = %v, want the last two entries", lines)
	}
}
