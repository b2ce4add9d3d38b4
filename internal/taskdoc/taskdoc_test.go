package taskdoc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentCounts(t *testing.T) {
	t.Parallel()

	doc := strings.Join([]string{
		"# Spec",
		"",
		"## Tasks",
		"- [ ] 1. A",
		"- [x] 2. B",
		"- [-] 3. C",
		"  - [ ] 2.1 sub",
		"",
	}, "\n")

	progress, err := ParseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 1, progress.InProgress)
	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 3, progress.Total())
}

func TestParseDocumentStopsAtNextHeading(t *testing.T) {
	t.Parallel()

	doc := strings.Join([]string{
		"## Tasks",
		"- [ ] 1. First",
		"- [x] 2. Second",
		"## Task Validation Checklist",
		"- [ ] looks like a task",
		"- [x] also looks like one",
	}, "\n")

	progress, err := ParseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total())
}

func TestParseDocumentUppercaseCompleted(t *testing.T) {
	t.Parallel()

	progress, err := ParseDocument("## Tasks\n- [X] 1. Done\n")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Completed)
}

func TestParseDocumentIgnoresTasksBeforeSection(t *testing.T) {
	t.Parallel()

	doc := strings.Join([]string{
		"- [ ] orphan task",
		"## Tasks",
		"- [ ] 1. Counted",
	}, "\n")

	progress, err := ParseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Total())
}

func TestParseDocumentNoTasks(t *testing.T) {
	t.Parallel()

	_, err := ParseDocument("## Tasks\n\nnothing here\n")
	require.ErrorIs(t, err, ErrNoTasks)

	_, err = ParseDocument("no tasks section at all\n")
	require.ErrorIs(t, err, ErrNoTasks)
}

func TestParseMissingDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse(filepath.Join(t.TempDir(), "tasks.md"))
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestParseReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.md")
	require.NoError(t, os.WriteFile(path, []byte("## Tasks\n- [x] 1. Done\n- [ ] 2. Open\n"), 0o600))

	progress, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total())
	assert.InDelta(t, 50.0, progress.Percentage(), 0.001)
}

func TestProgressPercentage(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Progress{}.Percentage())
	assert.InDelta(t, 100.0, Progress{Completed: 4}.Percentage(), 0.001)
	assert.InDelta(t, 25.0, Progress{Pending: 2, InProgress: 1, Completed: 1}.Percentage(), 0.001)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		doc          string
		wantContains []string
	}{
		{
			name:         "well formed document",
			doc:          "## Tasks\n- [ ] 1. A\n",
			wantContains: nil,
		},
		{
			name:         "missing tasks section",
			doc:          "# Spec\nno section\n",
			wantContains: []string{"no \"## Tasks\" section"},
		},
		{
			name:         "heading style tasks",
			doc:          "## Tasks\n### Task 1\ndo things\n### Task 2\n",
			wantContains: []string{"heading-style", "no checkbox task lines"},
		},
		{
			name:         "checkboxes outside section",
			doc:          "## Plan\n- [ ] stray\n## Tasks\n- [ ] 1. A\n",
			wantContains: []string{"outside the Tasks section"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			diagnostics := Validate(tt.doc)
			if len(tt.wantContains) == 0 {
				assert.Empty(t, diagnostics)
				return
			}
			joined := strings.Join(diagnostics, "\n")
			for _, fragment := range tt.wantContains {
				assert.Contains(t, joined, fragment)
			}
		})
	}
}

func TestParseWrapsUnderlyingError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Parse(dir)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDocumentNotFound))
}
