package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	workflowDirName = ".spec-workflow"
	specsDirName    = "specs"
	logsDirName     = "logs"
	tasksFileName   = "tasks.md"

	// LogFilePattern matches per-attempt session log files.
	LogFilePattern = "attempt-*.log"
)

// SpecsDir returns the directory holding per-spec workflow documents.
func SpecsDir(projectPath string) string {
	return filepath.Join(projectPath, workflowDirName, specsDirName)
}

// TasksPath returns the task document path for one spec.
func TasksPath(projectPath, spec string) string {
	return filepath.Join(SpecsDir(projectPath), spec, tasksFileName)
}

// LogDir returns the session log directory for one spec.
func LogDir(projectPath, spec string) string {
	return filepath.Join(projectPath, workflowDirName, logsDirName, spec)
}

// AttemptLogPath returns the log file path for one numbered attempt.
func AttemptLogPath(projectPath, spec string, attempt int) string {
	return filepath.Join(LogDir(projectPath, spec), fmt.Sprintf("attempt-%d.log", attempt))
}

// ListSpecs discovers spec names with a task document under the project's
// workflow directory, sorted by name.
func ListSpecs(projectPath string) ([]string, error) {
	entries, err := os.ReadDir(SpecsDir(projectPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan specs directory: %w", err)
	}

	specs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(TasksPath(projectPath, entry.Name())); err != nil {
			continue
		}
		specs = append(specs, entry.Name())
	}
	sort.Strings(specs)
	return specs, nil
}
