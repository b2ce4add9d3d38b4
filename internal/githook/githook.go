// Package githook installs and removes the temporary pre-commit hook that
// rejects commits while an automated implementation session is active. Any
// pre-existing hook is preserved in a backup slot and restored on removal.
package githook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	hookFileName   = "pre-commit"
	backupFileName = "pre-commit.backup"
	lockFileName   = ".swrun-blocker.lock"

	// Signature identifies the blocking hook script. Detection is content
	// based so a foreign pre-commit hook is never mistaken for ours.
	Signature = "swrun-commit-blocker"
)

var (
	// ErrHooksDirUnavailable indicates the repository has no hooks directory;
	// commit blocking is unavailable for that root.
	ErrHooksDirUnavailable = errors.New("git hooks directory unavailable")
)

var hookScript = strings.Join([]string{
	"#!/bin/sh",
	"# " + Signature,
	`echo "commits are blocked while an automated implementation session is running" >&2`,
	`echo "stop the session (or wait for it to finish) before committing" >&2`,
	"exit 1",
	"",
}, "\n")

// HooksDir returns the hooks directory for a repository root.
func HooksDir(root string) string {
	return filepath.Join(root, ".git", "hooks")
}

// Install writes the blocking pre-commit hook for the repository at root.
//
// An existing hook is renamed into the backup slot only when no backup exists
// yet; a second install discards the current hook rather than clobbering the
// original backup.
func Install(root string) error {
	hooksDir := HooksDir(root)
	info, err := os.Stat(hooksDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrHooksDirUnavailable, hooksDir)
	}

	hookPath := filepath.Join(hooksDir, hookFileName)
	backupPath := filepath.Join(hooksDir, backupFileName)

	if _, err := os.Stat(hookPath); err == nil {
		if _, backupErr := os.Stat(backupPath); errors.Is(backupErr, os.ErrNotExist) {
			if err := os.Rename(hookPath, backupPath); err != nil {
				return fmt.Errorf("back up existing pre-commit hook: %w", err)
			}
		}
	}

	if err := os.WriteFile(hookPath, []byte(hookScript), 0o755); err != nil { // #nosec G306 -- hooks must be executable.
		return fmt.Errorf("write blocking hook: %w", err)
	}
	return nil
}

// Remove deletes the blocking hook when present and restores any backed-up
// original hook into place.
func Remove(root string) error {
	hooksDir := HooksDir(root)
	hookPath := filepath.Join(hooksDir, hookFileName)
	backupPath := filepath.Join(hooksDir, backupFileName)

	if IsInstalled(root) {
		if err := os.Remove(hookPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove blocking hook: %w", err)
		}
	}

	if _, err := os.Stat(backupPath); err == nil {
		if _, hookErr := os.Stat(hookPath); errors.Is(hookErr, os.ErrNotExist) {
			if err := os.Rename(backupPath, hookPath); err != nil {
				return fmt.Errorf("restore original pre-commit hook: %w", err)
			}
		}
	}
	return nil
}

// IsInstalled reports whether the current pre-commit hook is our blocking
// script, by content signature rather than file presence.
func IsInstalled(root string) bool {
	data, err := os.ReadFile(filepath.Join(HooksDir(root), hookFileName)) // #nosec G304 -- path is derived from the project root.
	if err != nil {
		return false
	}
	return strings.Contains(string(data), Signature)
}
