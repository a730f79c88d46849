// Package markdownplan parses work-plan documents into ordered task lists.
//
// A plan document declares tasks with headers of the form:
//
//	## Task: task-001 — Build the parser
//	### Task: task-002 — Wire the store
//
// Lines between two task headers become the description of the preceding
// task. Anything outside task headers is ignored.
package markdownplan

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/Strob0t/harrier/internal/domain/task"
)

const (
	prefixH2 = "## Task:"
	prefixH3 = "### Task:"
)

// Parse extracts tasks from plan document content, in document order.
// Content without any task headers yields an empty (nil) slice; callers
// treat that as "no plan", not an error.
func Parse(content []byte) []task.Task {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	// Plan lines can be long; grow the scanner buffer past the default 64K.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tasks []task.Task
	var descLines []string

	flushDescription := func() {
		if len(tasks) > 0 && len(descLines) > 0 {
			tasks[len(tasks)-1].Description = strings.TrimSpace(strings.Join(descLines, "\n"))
		}
		descLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		header, ok := taskHeader(line)
		if !ok {
			if len(tasks) > 0 && strings.TrimSpace(line) != "" {
				descLines = append(descLines, strings.TrimSpace(line))
			}
			continue
		}

		flushDescription()
		id, title := splitHeader(header)
		tasks = append(tasks, task.Task{
			ID:       id,
			Title:    title,
			Status:   task.StatusPending,
			SpecPath: fmt.Sprintf("specs/%s.yaml", id),
		})
	}
	flushDescription()

	return tasks
}

// taskHeader returns the text after the task header prefix, if line is one.
func taskHeader(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, prefixH2); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(line, prefixH3); ok {
		return rest, true
	}
	return "", false
}

// splitHeader splits "task-001 — Title" into a normalized id and a title.
// A header without the em-dash separator uses the whole text as both.
func splitHeader(rest string) (id, title string) {
	parts := strings.SplitN(rest, "—", 2)
	if len(parts) == 2 {
		id = strings.TrimSpace(parts[0])
		title = strings.TrimSpace(parts[1])
	} else {
		id = strings.TrimSpace(rest)
		title = id
	}
	id = strings.ToLower(strings.ReplaceAll(id, " ", "-"))
	return id, title
}
