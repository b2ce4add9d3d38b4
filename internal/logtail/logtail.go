// Package logtail incrementally follows the newest matching log file in a
// directory, exposing newly appended complete lines with a bounded retained
// window.
package logtail

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Follower tracks one directory's newest log file and tails it across polls.
// It is owned by a single session and is not safe for concurrent use.
type Follower struct {
	dir      string
	pattern  string
	maxLines int

	current string
	offset  int64
	partial string
	lines   []string
}

// New constructs a follower for dir entries matching the filename glob pattern.
func New(dir string, pattern string, maxLines int) (*Follower, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if maxLines <= 0 {
		return nil, errors.New("maxLines must be positive")
	}
	return &Follower{
		dir:      dir,
		pattern:  pattern,
		maxLines: maxLines,
		lines:    []string{},
	}, nil
}

// Poll rescans the directory, switches to a newer matching file when one
// appears, and returns the complete lines appended since the previous poll.
// A missing directory or absent match is a no-op with an empty result.
func (f *Follower) Poll() ([]string, error) {
	if f == nil {
		return nil, errors.New("follower is nil")
	}

	latest, err := f.latestMatch()
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}

	if latest != f.current {
		// A newer file replaces the tracked one; retained state reflects
		// only the new file's content.
		f.current = latest
		f.offset = 0
		f.partial = ""
		f.lines = f.lines[:0]
	}

	chunk, err := f.readAppended()
	if err != nil {
		return nil, err
	}
	if chunk == "" {
		return nil, nil
	}

	fresh := f.splitComplete(chunk)
	if len(fresh) == 0 {
		return nil, nil
	}

	f.lines = append(f.lines, fresh...)
	if overflow := len(f.lines) - f.maxLines; overflow > 0 {
		f.lines = append(f.lines[:0], f.lines[overflow:]...)
	}
	return fresh, nil
}

// Lines returns a copy of the retained line window, oldest first.
func (f *Follower) Lines() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// CurrentPath returns the tracked file path, empty until a match is found.
func (f *Follower) CurrentPath() string {
	if f == nil {
		return ""
	}
	return f.current
}

func (f *Follower) latestMatch() (string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("scan log directory %s: %w", f.dir, err)
	}

	var (
		bestPath string
		bestName string
		bestMod  int64
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matched, err := filepath.Match(f.pattern, name)
		if err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime().UnixNano()
		// Newest mtime wins; the larger numeric suffix breaks ties so
		// attempt-10.log beats attempt-9.log written in the same instant.
		if bestPath == "" || mod > bestMod || (mod == bestMod && newerName(name, bestName)) {
			bestPath = filepath.Join(f.dir, name)
			bestName = name
			bestMod = mod
		}
	}
	return bestPath, nil
}

// newerName orders tie-broken file names by the numeric suffix of their stem
// when both carry one, falling back to lexicographic order otherwise.
func newerName(a, b string) bool {
	aNum, aOK := trailingNumber(a)
	bNum, bOK := trailingNumber(b)
	if aOK && bOK && aNum != bNum {
		return aNum > bNum
	}
	return a > b
}

func trailingNumber(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := len(stem)
	for i > 0 && stem[i-1] >= '0' && stem[i-1] <= '9' {
		i--
	}
	if i == len(stem) {
		return 0, false
	}
	n, err := strconv.Atoi(stem[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f *Follower) readAppended() (string, error) {
	file, err := os.Open(f.current) // #nosec G304 -- path comes from the scanned session log directory.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open log file %s: %w", f.current, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if f.offset > 0 {
		if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek log file %s: %w", f.current, err)
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read log file %s: %w", f.current, err)
	}
	f.offset += int64(len(data))
	return string(data), nil
}

// splitComplete folds the carried partial fragment into chunk and returns
// only terminator-completed lines, holding the trailing fragment back.
func (f *Follower) splitComplete(chunk string) []string {
	buffered := f.partial + chunk
	parts := strings.Split(buffered, "\n")
	f.partial = parts[len(parts)-1]

	complete := make([]string, 0, len(parts)-1)
	for _, line := range parts[:len(parts)-1] {
		complete = append(complete, strings.TrimRight(line, "\r"))
	}
	return complete
}
