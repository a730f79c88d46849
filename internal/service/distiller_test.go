package service_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/harrier/internal/service"
)

const sampleContext = `Working on the login flow.
We decided to use bcrypt for password hashing.
Created auth/handler.go with the endpoints.
Modified auth/middleware.go to check tokens.
error: connection refused on first attempt
Going with chi for routing.
wrote to auth/handler.go again after review.
`

func TestDistiller_ExtractionAndSectionOrder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "distilled.md")
	d := service.NewDistiller(out)

	injection, err := d.Distill(sampleContext, "", "")
	if err != nil {
		t.Fatalf("Distill() error = %v", err)
	}

	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("summary not persisted: %v", err)
	}
	summary := string(saved)

	if !strings.HasPrefix(summary, "# DISTILLED CONTEXT\n> Distillation #1 | ") {
		t.Errorf("summary header = %q", strings.SplitN(summary, "\n\n", 2)[0])
	}

	decIdx := strings.Index(summary, "## Decisions")
	filesIdx := strings.Index(summary, "## Files Modified")
	errIdx := strings.Index(summary, "## Errors")
	if decIdx < 0 || filesIdx < 0 || errIdx < 0 {
		t.Fatalf("missing section in summary:\n%s", summary)
	}
	if !(decIdx < filesIdx && filesIdx < errIdx) {
		t.Errorf("sections out of order: decisions=%d files=%d errors=%d", decIdx, filesIdx, errIdx)
	}

	for _, want := range []string{
		"We decided to use bcrypt",
		"Going with chi",
		"auth/handler.go",
		"auth/middleware.go",
		"error: connection refused",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q", want)
		}
	}

	// Dedup: handler.go is mentioned twice, extracted once.
	if n := strings.Count(summary, "auth/handler.go"); n != 1 {
		t.Errorf("handler.go extracted %d times, want 1", n)
	}

	if !strings.Contains(injection, summary) {
		t.Error("injection does not contain the summary")
	}
}

func TestDistiller_CounterIncrements(t *testing.T) {
	out := filepath.Join(t.TempDir(), "distilled.md")
	d := service.NewDistiller(out)

	if _, err := d.Distill("first pass", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Distill("second pass", "", ""); err != nil {
		t.Fatal(err)
	}

	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(saved), "Distillation #2") {
		t.Errorf("second summary header lacks incremented counter:\n%s", saved)
	}
	if got := d.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestDistiller_InjectionIncludesStandardsAndTask(t *testing.T) {
	dir := t.TempDir()
	standards := filepath.Join(dir, "standards.md")
	taskSpec := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(standards, []byte("# Standards doc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(taskSpec, []byte("id: t1"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := service.NewDistiller(filepath.Join(dir, "distilled.md"))
	injection, err := d.Distill("context", standards, taskSpec)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(injection, "\n\n---\n\n")
	if len(parts) != 3 {
		t.Fatalf("injection has %d parts, want 3:\n%s", len(parts), injection)
	}
	if parts[0] != "# Standards doc" {
		t.Errorf("first part = %q, want standards doc", parts[0])
	}
	if !strings.HasPrefix(parts[1], "# DISTILLED CONTEXT") {
		t.Errorf("second part is not the summary: %q", parts[1])
	}
	if !strings.Contains(parts[2], "# CURRENT TASK") || !strings.Contains(parts[2], "id: t1") {
		t.Errorf("third part is not the task spec: %q", parts[2])
	}
}

func TestDistiller_CapsDecisions(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 15; i++ {
		b.WriteString("we chose option ")
		b.WriteByte(byte('a' + i))
		b.WriteByte('\n')
	}

	out := filepath.Join(t.TempDir(), "out.md")
	d := service.NewDistiller(out)
	if _, err := d.Distill(b.String(), "", ""); err != nil {
		t.Fatal(err)
	}

	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(saved), "we chose option"); n != 10 {
		t.Errorf("extracted %d decisions, want cap of 10", n)
	}
}
