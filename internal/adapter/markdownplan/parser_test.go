package markdownplan_test

import (
	"testing"

	"github.com/Strob0t/harrier/internal/adapter/markdownplan"
	"github.com/Strob0t/harrier/internal/domain/task"
)

func TestParse_TaskHeaders(t *testing.T) {
	content := []byte(`# Project Plan

Some intro text.

## Task: task-001 — Build the parser

Parse plan documents into tasks.
Support both header depths.

### Task: task-002 — Wire the store

## Task: Fix Login Bug
`)

	tasks := markdownplan.Parse(content)
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}

	if tasks[0].ID != "task-001" || tasks[0].Title != "Build the parser" {
		t.Errorf("task 0 parsed as %q / %q", tasks[0].ID, tasks[0].Title)
	}
	if tasks[0].Description != "Parse plan documents into tasks.\nSupport both header depths." {
		t.Errorf("task 0 description %q", tasks[0].Description)
	}
	if tasks[1].ID != "task-002" {
		t.Errorf("task 1 id %q", tasks[1].ID)
	}
	// No separator: whole header text, lowercased and hyphenated, is the id.
	if tasks[2].ID != "fix-login-bug" || tasks[2].Title != "Fix Login Bug" {
		t.Errorf("task 2 parsed as %q / %q", tasks[2].ID, tasks[2].Title)
	}

	for i, tk := range tasks {
		if tk.Status != task.StatusPending {
			t.Errorf("task %d status %q, want pending", i, tk.Status)
		}
		if tk.SpecPath == "" {
			t.Errorf("task %d missing spec path", i)
		}
	}
}

func TestParse_NoHeaders(t *testing.T) {
	tasks := markdownplan.Parse([]byte("# Just a README\n\nNothing resembling a task.\n"))
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestParse_Empty(t *testing.T) {
	if tasks := markdownplan.Parse(nil); len(tasks) != 0 {
		t.Fatalf("expected no tasks from empty content, got %d", len(tasks))
	}
}
