// Package taskdoc parses checkbox-style task documents and derives
// per-spec completion progress.
package taskdoc

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	// ErrDocumentNotFound indicates the task document does not exist on disk.
	ErrDocumentNotFound = errors.New("task document not found")
	// ErrNoTasks indicates the Tasks section contains no recognizable task lines.
	ErrNoTasks = errors.New("no tasks found in tasks section")
)

var (
	taskLinePattern    = regexp.MustCompile(`^- \[([ xX-])\] +\S`)
	headingTaskPattern = regexp.MustCompile(`^#{3,} +(?:Task|\d+[.)])`)
	checkboxAnywhere   = regexp.MustCompile(`^\s*- \[[ xX-]\]`)
)

const tasksHeading = "## Tasks"

// Progress is an immutable snapshot of top-level task counts.
type Progress struct {
	Pending    int
	InProgress int
	Completed  int
}

// Total returns the number of counted top-level tasks.
func (p Progress) Total() int {
	return p.Pending + p.InProgress + p.Completed
}

// Percentage returns completion as 0-100, with 0 for an empty document.
func (p Progress) Percentage() float64 {
	total := p.Total()
	if total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(total) * 100
}

// Parse reads and parses the task document at path.
func Parse(path string) (Progress, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a project-local task document.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Progress{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return Progress{}, fmt.Errorf("read task document %s: %w", path, err)
	}
	return ParseDocument(string(data))
}

// ParseDocument derives task counts from document text.
//
// Only top-level checkbox lines between a "## Tasks" heading and the next
// "##" heading are counted. Indented checklist items are sub-content and
// are never counted, even when they look like tasks themselves.
func ParseDocument(text string) (Progress, error) {
	var progress Progress
	inTasks := false
	counted := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if isTasksHeading(trimmed) {
			inTasks = true
			continue
		}
		if inTasks && isSectionHeading(trimmed) {
			break
		}
		if !inTasks {
			continue
		}

		match := taskLinePattern.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}
		counted++
		switch match[1] {
		case " ":
			progress.Pending++
		case "-":
			progress.InProgress++
		case "x", "X":
			progress.Completed++
		}
	}

	if counted == 0 {
		return Progress{}, ErrNoTasks
	}
	return progress, nil
}

// Validate inspects document text for known task-format anti-patterns and
// returns human-readable diagnostics. It never fails: an empty slice means
// the document looks well formed.
func Validate(text string) []string {
	diagnostics := []string{}
	hasTasksSection := false
	inTasks := false
	taskLines := 0
	headingTasks := 0
	strayCheckboxes := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if isTasksHeading(trimmed) {
			hasTasksSection = true
			inTasks = true
			continue
		}
		if isSectionHeading(trimmed) {
			inTasks = false
		}
		if inTasks {
			if taskLinePattern.MatchString(trimmed) {
				taskLines++
			}
			if headingTaskPattern.MatchString(trimmed) {
				headingTasks++
			}
			continue
		}
		if checkboxAnywhere.MatchString(trimmed) {
			strayCheckboxes++
		}
	}

	if !hasTasksSection {
		diagnostics = append(diagnostics, "document has no \"## Tasks\" section")
	}
	if hasTasksSection && taskLines == 0 {
		diagnostics = append(diagnostics, "Tasks section contains no checkbox task lines (- [ ] N. text)")
	}
	if headingTasks > 0 {
		diagnostics = append(diagnostics, fmt.Sprintf("Tasks section uses %d heading-style task entries instead of checkboxes", headingTasks))
	}
	if strayCheckboxes > 0 {
		diagnostics = append(diagnostics, fmt.Sprintf("%d checkbox lines appear outside the Tasks section and are not counted", strayCheckboxes))
	}
	return diagnostics
}

func isTasksHeading(line string) bool {
	return strings.TrimSpace(line) == tasksHeading
}

// isSectionHeading reports whether line is a level-2 heading. Deeper headings
// inside the Tasks section do not end the counting window.
func isSectionHeading(line string) bool {
	return strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "###")
}
