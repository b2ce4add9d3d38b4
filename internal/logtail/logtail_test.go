package logtail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func appendFile(t *testing.T, path string, content string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
}

func TestPollEmptyDirectory(t *testing.T) {
	t.Parallel()

	follower, err := New(t.TempDir(), "attempt-*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Empty(t, follower.Lines())
	assert.Empty(t, follower.CurrentPath())
}

func TestPollMissingDirectoryIsNoOp(t *testing.T) {
	t.Parallel()

	follower, err := New(filepath.Join(t.TempDir(), "missing"), "*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestPollIncrementalAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "attempt-1.log")
	writeFile(t, path, "first\n")

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, fresh)
	assert.Equal(t, path, follower.CurrentPath())

	appendFile(t, path, "second\nthird\n")
	fresh, err = follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, fresh)

	lines := follower.Lines()
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, []string{"second", "third"}, lines[len(lines)-2:])
}

func TestPollHoldsBackPartialLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "attempt-1.log")
	writeFile(t, path, "complete\npart")

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, fresh)

	appendFile(t, path, "ial\n")
	fresh, err = follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, fresh)
}

func TestPollEvictsOldestBeyondBound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "attempt-1.log")
	writeFile(t, path, "1\n2\n3\n4\n5\n6\n7\n")

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	_, err = follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4", "5", "6", "7"}, follower.Lines())
}

func TestPollSwitchesToNewerFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	older := filepath.Join(dir, "attempt-1.log")
	writeFile(t, older, "old-1\nold-2\n")
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(older, past, past))

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)
	_, err = follower.Poll()
	require.NoError(t, err)
	require.Equal(t, older, follower.CurrentPath())

	newer := filepath.Join(dir, "attempt-2.log")
	writeFile(t, newer, "new-1\n")

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, newer, follower.CurrentPath())
	assert.Equal(t, []string{"new-1"}, fresh)
	assert.Equal(t, []string{"new-1"}, follower.Lines())
}

func TestPollTiebreakPrefersHigherAttemptNumber(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lower := filepath.Join(dir, "attempt-9.log")
	higher := filepath.Join(dir, "attempt-10.log")
	writeFile(t, lower, "ninth\n")
	writeFile(t, higher, "tenth\n")
	// Identical mtimes force the name tiebreak, where a lexicographic
	// compare would pick attempt-9.log.
	instant := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lower, instant, instant))
	require.NoError(t, os.Chtimes(higher, instant, instant))

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Equal(t, higher, follower.CurrentPath())
	assert.Equal(t, []string{"tenth"}, fresh)
}

func TestNewerName(t *testing.T) {
	t.Parallel()

	assert.True(t, newerName("attempt-10.log", "attempt-9.log"))
	assert.False(t, newerName("attempt-9.log", "attempt-10.log"))
	assert.True(t, newerName("attempt-2.log", "attempt-1.log"))
	// Without numeric suffixes the order stays lexicographic.
	assert.True(t, newerName("b.log", "a.log"))
	assert.False(t, newerName("a.log", "b.log"))
	// Mixed: one numeric, one not, falls back to lexicographic.
	assert.True(t, newerName("session.log", "attempt-3.log"))
}

func TestPollNeverRereadsTrackedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "attempt-1.log")
	writeFile(t, path, "one\n")

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	_, err = follower.Poll()
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, []string{"one"}, follower.Lines())
}

func TestPollIgnoresNonMatchingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored\n")

	follower, err := New(dir, "attempt-*.log", 5)
	require.NoError(t, err)

	fresh, err := follower.Poll()
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New("", "*.log", 5)
	require.Error(t, err)
	_, err = New(t.TempDir(), "", 5)
	require.Error(t, err)
	_, err = New(t.TempDir(), "[", 5)
	require.Error(t, err)
	_, err = New(t.TempDir(), "*.log", 0)
	require.Error(t, err)
}
