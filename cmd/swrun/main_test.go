package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/config"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/events"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/runner"
)

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() {
		Version = originalVersion
	}()
	Version = "v0.1.0-test"
	cmd := newRootCommand(&config.Config{}, testLogger())

	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := strings.TrimSpace(stdout.String())
	if output != "v0.1.0-test" {
		t.Fatalf("version output = %q, want %q", output, "v0.1.0-test")
	}
}

func TestRootCommandHelpListsExpectedSubcommands(t *testing.T) {
	cmd := newRootCommand(&config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	for _, name := range []string{"tui", "status"} {
		if !strings.Contains(output, name) {
			t.Fatalf("help output missing %q: %s", name, output)
		}
	}
}

func TestStatusCommandReportsProgress(t *testing.T) {
	project := t.TempDir()
	tasksPath := runner.TasksPath(project, "auth")
	if err := os.MkdirAll(filepath.Dir(tasksPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := "## Tasks\n- [x] 1. Schema\n- [-] 2. Handlers\n- [ ] 3. Tests\n"
	if err := os.WriteFile(tasksPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write tasks: %v", err)
	}

	cmd := newRootCommand(&config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"status", "--project", project})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "auth") {
		t.Fatalf("status output missing spec name: %s", output)
	}
	if !strings.Contains(output, "1/3 done, 1 in progress") {
		t.Fatalf("status output missing progress: %s", output)
	}
}

func TestStatusCommandEmptyProject(t *testing.T) {
	cmd := newRootCommand(&config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"status", "--project", t.TempDir()})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stdout.String(), "no specs found") {
		t.Fatalf("expected empty-project notice, got: %s", stdout.String())
	}
}

func TestStatusCommandPrintsDiagnosticsForMalformedDocument(t *testing.T) {
	project := t.TempDir()
	tasksPath := runner.TasksPath(project, "auth")
	if err := os.MkdirAll(filepath.Dir(tasksPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Checkboxes outside any Tasks section parse to zero tasks.
	doc := "# Overview\n- [ ] 1. Orphaned\n"
	if err := os.WriteFile(tasksPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write tasks: %v", err)
	}

	cmd := newRootCommand(&config.Config{}, testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"status", "--project", project})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "unreadable") {
		t.Fatalf("status output missing parse failure: %s", output)
	}
	if !strings.Contains(output, "no \"## Tasks\" section") {
		t.Fatalf("status output missing diagnostic: %s", output)
	}
	if !strings.Contains(output, "outside the Tasks section") {
		t.Fatalf("status output missing stray-checkbox diagnostic: %s", output)
	}
}

func TestSubscribeEventLogMirrorsEvents(t *testing.T) {
	var sink lockedBuffer
	logger := log.NewWithOptions(&sink, log.Options{})

	bus := events.New()
	subscribeEventLog(bus, logger)
	bus.Publish(events.Event{
		Type:     events.EventTypeSessionTransition,
		Spec:     "auth",
		Payload:  "idle -> starting",
		Severity: events.SeverityInfo,
	})

	// Delivery runs on the subscriber goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		output := sink.String()
		if strings.Contains(output, "SessionTransition") && strings.Contains(output, "auth") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never reached the runtime log: %s", output)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// lockedBuffer makes a bytes.Buffer safe to share between the subscriber
// goroutine and test assertions.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExitCodeError(t *testing.T) {
	err := exitCodeError{code: 1}
	if err.Error() != "exit status 1" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func testLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}
