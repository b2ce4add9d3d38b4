// Package runner supervises concurrent spec work sessions: it spawns
// provider-built agent processes, tails their logs, re-derives task progress,
// enforces timeout budgets, and exposes the live state the view layer renders.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/deadline"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/events"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/githook"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/logtail"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/provider"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/state"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/taskdoc"
)

const (
	// DefaultSessionTimeout bounds one attempt when no config override is provided.
	DefaultSessionTimeout = 30 * time.Minute
	// DefaultGracePeriod is the SIGTERM grace window before SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// DefaultLogMaxLines bounds the per-session visible log window.
	DefaultLogMaxLines = 200

	forcedExitWait = 2 * time.Second
)

// ErrAlreadyRunning indicates a start request against a non-idle session.
var ErrAlreadyRunning = errors.New("session already running")

// ErrUnknownSession indicates an operation against a spec never started.
var ErrUnknownSession = errors.New("unknown session")

// SessionView is the immutable per-session snapshot consumed by the render
// layer. All slices are copies; mutating a view never touches live state.
type SessionView struct {
	Spec          string
	ProjectPath   string
	Provider      string
	State         string
	StartedAt     time.Time
	Attempt       int
	Progress      taskdoc.Progress
	ProgressKnown bool
	Warning       string
	ExitCode      *int
	Lines         []string
	LogPath       string
	Remaining     time.Duration
}

// Active reports whether the session currently owns a live process.
func (v SessionView) Active() bool {
	switch v.State {
	case state.Starting, state.Running, state.Stopping:
		return true
	default:
		return false
	}
}

type waitResult struct {
	exitCode int
	signaled bool
	waitErr  error
}

type startParams struct {
	projectPath string
	provider    string
	overrides   []provider.ConfigOverride
}

// session is one supervised unit of work, owned exclusively by the Supervisor.
type session struct {
	spec      string
	params    startParams
	st        string
	cmd       *exec.Cmd
	startedAt time.Time
	attempt   int
	runID     string

	budget   *deadline.Budget
	follower *logtail.Follower
	guard    *githook.Guard
	waitCh   chan waitResult

	progress      taskdoc.Progress
	progressKnown bool
	warning       string
	exitCode      *int
	lines         []string
	logPath       string
}

// Options configures Supervisor construction. Zero values fall back to
// package defaults.
type Options struct {
	Logger          *log.Logger
	Bus             events.Bus
	Blockers        *githook.Registry
	Clock           func() time.Time
	SessionTimeout  time.Duration
	GracePeriod     time.Duration
	LogMaxLines     int
	ResetOnActivity bool
	ProviderOptions provider.Options

	// ResolveProvider is injectable for tests; defaults to provider.New.
	ResolveProvider func(name string) (provider.Provider, error)
	// Prompt renders the agent prompt for one spec; defaults to a
	// work-the-next-task instruction referencing the spec's task document.
	Prompt func(spec string) string
	// OnCrash is an optional policy hook invoked after a session transitions
	// to Crashed. Rescue commits are the callback's business, never ours.
	OnCrash func(view SessionView)
}

// Supervisor owns all sessions and is the only writer to their lifecycle
// state. The tick loop and the start/stop/restart intents serialize on one
// mutex; readers receive snapshot copies.
type Supervisor struct {
	mu sync.Mutex

	logger          *log.Logger
	bus             events.Bus
	blockers        *githook.Registry
	machine         *state.Machine
	clock           func() time.Time
	sessionTimeout  time.Duration
	gracePeriod     time.Duration
	logMaxLines     int
	resetOnActivity bool
	providerOptions provider.Options
	resolveProvider func(name string) (provider.Provider, error)
	prompt          func(spec string) string
	onCrash         func(view SessionView)

	sessions map[string]*session
}

// NewSupervisor constructs a session supervisor.
func NewSupervisor(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	blockers := opts.Blockers
	if blockers == nil {
		blockers = githook.NewRegistry()
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	maxLines := opts.LogMaxLines
	if maxLines <= 0 {
		maxLines = DefaultLogMaxLines
	}
	resolve := opts.ResolveProvider
	if resolve == nil {
		providerOptions := opts.ProviderOptions
		resolve = func(name string) (provider.Provider, error) {
			return provider.New(name, providerOptions)
		}
	}
	prompt := opts.Prompt
	if prompt == nil {
		prompt = defaultPrompt
	}

	return &Supervisor{
		logger:          logger,
		bus:             opts.Bus,
		blockers:        blockers,
		machine:         state.NewMachine(state.WithBus(opts.Bus), state.WithClock(clock)),
		clock:           clock,
		sessionTimeout:  timeout,
		gracePeriod:     grace,
		logMaxLines:     maxLines,
		resetOnActivity: opts.ResetOnActivity,
		providerOptions: opts.ProviderOptions,
		resolveProvider: resolve,
		prompt:          prompt,
		onCrash:         opts.OnCrash,
		sessions:        map[string]*session{},
	}
}

func defaultPrompt(spec string) string {
	return fmt.Sprintf(
		"Work on the next incomplete task in .spec-workflow/specs/%s/tasks.md. "+
			"Mark the task [-] while implementing and [x] once verified, then stop.",
		spec,
	)
}

// Start launches a new work session for spec. It fails with
// ErrAlreadyRunning when the session is not idle; a terminal display state
// is acknowledged back to idle first.
func (s *Supervisor) Start(spec, projectPath, providerName string, overrides []provider.ConfigOverride) error {
	if s == nil {
		return errors.New("supervisor is nil")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.New("spec is required")
	}
	projectPath = strings.TrimSpace(projectPath)
	if projectPath == "" {
		return errors.New("project path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(spec, startParams{
		projectPath: projectPath,
		provider:    strings.ToLower(strings.TrimSpace(providerName)),
		overrides:   append([]provider.ConfigOverride(nil), overrides...),
	})
}

func (s *Supervisor) startLocked(spec string, params startParams) error {
	sess, ok := s.sessions[spec]
	if !ok {
		sess = &session{spec: spec, st: state.Idle}
		s.sessions[spec] = sess
	}
	if sess.Active() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, spec, sess.st)
	}
	if state.Terminal(sess.st) {
		s.transition(sess, state.Idle, "acknowledged on restart")
	}

	prov, err := s.resolveProvider(params.provider)
	if err != nil {
		return fmt.Errorf("resolve provider for %s: %w", spec, err)
	}

	s.transition(sess, state.Starting, "start requested")
	sess.params = params

	// Same-root exclusion happens before spawning so a busy root never
	// leaves an orphan process behind.
	guard, err := s.blockers.Acquire(params.projectPath, spec)
	switch {
	case err == nil:
		sess.guard = guard
	case errors.Is(err, githook.ErrRootBusy):
		s.transition(sess, state.Idle, "commit blocker held by another session")
		return fmt.Errorf("start %s: %w", spec, err)
	default:
		// Commit blocking is unavailable for this root; the session still runs.
		s.logger.With("spec", spec, "error", err).Warn("commit blocker unavailable")
		sess.guard = nil
	}

	command := prov.BuildCommand(s.prompt(spec), params.projectPath, params.overrides)
	if err := s.spawnLocked(sess, command); err != nil {
		s.releaseGuard(sess)
		s.transition(sess, state.Failed, fmt.Sprintf("spawn failure: %v", err))
		return fmt.Errorf("start %s: %w", spec, err)
	}

	budget, err := deadline.New(s.sessionTimeout, s.clock)
	if err != nil {
		// Unreachable with validated options; classify as spawn failure.
		s.stopProcessLocked(sess)
		s.releaseGuard(sess)
		s.transition(sess, state.Failed, fmt.Sprintf("arm timeout budget: %v", err))
		return fmt.Errorf("start %s: %w", spec, err)
	}
	follower, err := logtail.New(LogDir(params.projectPath, spec), LogFilePattern, s.logMaxLines)
	if err != nil {
		s.stopProcessLocked(sess)
		s.releaseGuard(sess)
		s.transition(sess, state.Failed, fmt.Sprintf("attach log follower: %v", err))
		return fmt.Errorf("start %s: %w", spec, err)
	}

	sess.budget = budget
	sess.follower = follower
	sess.startedAt = s.clock()
	sess.runID = uuid.NewString()
	sess.progressKnown = false
	sess.warning = ""
	sess.exitCode = nil
	sess.lines = nil

	s.transition(sess, state.Running, "process spawned")
	s.logger.With(
		"spec", spec,
		"provider", params.provider,
		"attempt", sess.attempt,
		"run_id", sess.runID,
		"command", command.String(),
	).Info("session started")
	return nil
}

// spawnLocked opens the attempt log and launches the provider command with
// stdout/stderr drained by per-session workers so a stalled child never
// blocks the tick loop.
func (s *Supervisor) spawnLocked(sess *session, command provider.Command) error {
	logDir := LogDir(sess.params.projectPath, sess.spec)
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("create session log directory: %w", err)
	}
	sess.attempt++
	logPath := AttemptLogPath(sess.params.projectPath, sess.spec, sess.attempt)
	// #nosec G304 -- logPath is derived from the project root and spec name.
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open attempt log: %w", err)
	}

	cmd := exec.Command(command.Name, command.Args...) // #nosec G204 -- command comes from the closed provider set.
	cmd.Dir = sess.params.projectPath
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("spawn %s: %w", command.Name, err)
	}

	var fileMu sync.Mutex
	var drains sync.WaitGroup
	for _, pipe := range []io.ReadCloser{stdout, stderr} {
		drains.Add(1)
		go func(r io.ReadCloser) {
			defer drains.Done()
			buf := make([]byte, 32*1024)
			for {
				n, readErr := r.Read(buf)
				if n > 0 {
					fileMu.Lock()
					_, _ = logFile.Write(buf[:n])
					fileMu.Unlock()
				}
				if readErr != nil {
					return
				}
			}
		}(pipe)
	}

	waitCh := make(chan waitResult, 1)
	go func() {
		drains.Wait()
		err := cmd.Wait()
		_ = logFile.Close()

		result := waitResult{exitCode: -1, waitErr: err}
		if ps := cmd.ProcessState; ps != nil {
			result.exitCode = ps.ExitCode()
			if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				result.signaled = true
			}
		}
		waitCh <- result
	}()

	sess.cmd = cmd
	sess.waitCh = waitCh
	sess.logPath = logPath
	return nil
}

// Stop gracefully terminates the session's process, escalating to SIGKILL
// after the grace period. The commit blocker is released on every path.
func (s *Supervisor) Stop(spec string) error {
	if s == nil {
		return errors.New("supervisor is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(spec)
}

func (s *Supervisor) stopLocked(spec string) error {
	sess, ok := s.sessions[spec]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, spec)
	}
	if state.Terminal(sess.st) {
		s.transition(sess, state.Idle, "acknowledged on stop")
		return nil
	}
	if sess.st != state.Running {
		return nil
	}

	s.transition(sess, state.Stopping, "stop requested")
	s.stopProcessLocked(sess)
	s.releaseGuard(sess)
	s.transition(sess, state.Idle, "stopped")
	s.logger.With("spec", spec).Info("session stopped")
	return nil
}

// stopProcessLocked terminates the session process with a bounded graceful
// window and records the exit code when one arrives in time.
func (s *Supervisor) stopProcessLocked(sess *session) {
	if sess.cmd == nil || sess.cmd.Process == nil {
		return
	}
	_ = sess.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case result := <-sess.waitCh:
		sess.recordExit(result)
		return
	case <-time.After(s.gracePeriod):
	}

	_ = sess.cmd.Process.Kill()
	select {
	case result := <-sess.waitCh:
		sess.recordExit(result)
	case <-time.After(forcedExitWait):
		s.logger.With("spec", sess.spec).Warn("process did not report exit after SIGKILL")
	}
}

// Restart stops the session if needed and starts it again with the
// last-used parameters.
func (s *Supervisor) Restart(spec string) error {
	if s == nil {
		return errors.New("supervisor is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[spec]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, spec)
	}
	params := sess.params
	if params.projectPath == "" {
		return fmt.Errorf("restart %s: no previous start parameters", spec)
	}
	if err := s.stopLocked(spec); err != nil {
		return err
	}
	return s.startLocked(spec, params)
}

// Tick advances every running session: exit polling, timeout enforcement,
// log following, and task progress refresh. Nothing in Tick blocks on a
// child process.
func (s *Supervisor) Tick() {
	if s == nil {
		return
	}
	s.mu.Lock()
	var crashed []SessionView
	for _, sess := range s.sortedSessions() {
		if sess.st != state.Running {
			continue
		}
		if view, didCrash := s.tickSession(sess); didCrash {
			crashed = append(crashed, view)
		}
	}
	onCrash := s.onCrash
	s.mu.Unlock()

	if onCrash != nil {
		for _, view := range crashed {
			onCrash(view)
		}
	}
}

func (s *Supervisor) tickSession(sess *session) (SessionView, bool) {
	didCrash := false

	select {
	case result := <-sess.waitCh:
		sess.recordExit(result)
		s.releaseGuard(sess)
		switch {
		case result.signaled:
			s.transition(sess, state.Crashed, fmt.Sprintf("process killed by signal (exit %d)", result.exitCode))
			didCrash = true
		case result.exitCode == 0:
			s.transition(sess, state.Succeeded, "clean exit")
		default:
			// Ambiguous termination reasons classify as Failed, never Succeeded.
			s.transition(sess, state.Failed, fmt.Sprintf("exit code %d", result.exitCode))
		}
	default:
		if sess.budget != nil && sess.budget.Expired() {
			if sess.cmd != nil && sess.cmd.Process != nil {
				_ = sess.cmd.Process.Kill()
			}
			s.releaseGuard(sess)
			s.transition(sess, state.TimedOut, "timeout budget expired")
		}
	}

	s.followLogs(sess)
	s.refreshProgress(sess)

	return s.viewLocked(sess), didCrash
}

func (s *Supervisor) followLogs(sess *session) {
	if sess.follower == nil {
		return
	}
	fresh, err := sess.follower.Poll()
	if err != nil {
		s.logger.With("spec", sess.spec, "error", err).Warn("log poll failed")
		return
	}
	if len(fresh) == 0 {
		return
	}

	sess.lines = append(sess.lines, fresh...)
	if overflow := len(sess.lines) - s.logMaxLines; overflow > 0 {
		sess.lines = append(sess.lines[:0], sess.lines[overflow:]...)
	}
	if s.resetOnActivity && sess.budget != nil && sess.st == state.Running {
		sess.budget.Reset()
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:     events.EventTypeSessionLog,
			Spec:     sess.spec,
			Payload:  fresh,
			Severity: events.SeverityInfo,
		})
	}
}

// refreshProgress re-parses the spec's task document, tolerating a missing
// or malformed document by keeping the previous snapshot and surfacing a
// soft warning.
func (s *Supervisor) refreshProgress(sess *session) {
	progress, err := taskdoc.Parse(TasksPath(sess.params.projectPath, sess.spec))
	if err != nil {
		warning := fmt.Sprintf("task progress unavailable: %v", err)
		if sess.warning != warning {
			sess.warning = warning
			s.logger.With("spec", sess.spec, "error", err).Warn("task document parse failed")
			if s.bus != nil {
				s.bus.Publish(events.Event{
					Type:     events.EventTypeWarning,
					Spec:     sess.spec,
					Payload:  warning,
					Severity: events.SeverityWarn,
				})
			}
		}
		return
	}

	sess.warning = ""
	if sess.progressKnown && progress == sess.progress {
		return
	}
	sess.progress = progress
	sess.progressKnown = true
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:     events.EventTypeProgress,
			Spec:     sess.spec,
			Payload:  progress,
			Severity: events.SeverityInfo,
		})
	}
}

// Snapshot returns deep-copied session views sorted by spec name.
func (s *Supervisor) Snapshot() []SessionView {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]SessionView, 0, len(s.sessions))
	for _, sess := range s.sortedSessions() {
		views = append(views, s.viewLocked(sess))
	}
	return views
}

// ActiveCount returns the number of sessions that own a live process.
func (s *Supervisor) ActiveCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Active() {
			count++
		}
	}
	return count
}

// ExitCode returns the process exit status for the overall tool: 0 on a
// clean shutdown, 1 when any session was left crashed or failed.
func (s *Supervisor) ExitCode() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.st == state.Failed || sess.st == state.Crashed {
			return 1
		}
	}
	return 0
}

// Shutdown stops every active session.
func (s *Supervisor) Shutdown() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sortedSessions() {
		if sess.Active() {
			_ = s.stopLocked(sess.spec)
		}
	}
}

// History exposes recorded lifecycle transitions for diagnostics.
func (s *Supervisor) History() []state.TransitionRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.History()
}

func (s *Supervisor) sortedSessions() []*session {
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].spec < out[j].spec })
	return out
}

func (s *Supervisor) viewLocked(sess *session) SessionView {
	view := SessionView{
		Spec:          sess.spec,
		ProjectPath:   sess.params.projectPath,
		Provider:      sess.params.provider,
		State:         sess.st,
		StartedAt:     sess.startedAt,
		Attempt:       sess.attempt,
		Progress:      sess.progress,
		ProgressKnown: sess.progressKnown,
		Warning:       sess.warning,
		LogPath:       sess.logPath,
		Lines:         append([]string(nil), sess.lines...),
	}
	if sess.exitCode != nil {
		code := *sess.exitCode
		view.ExitCode = &code
	}
	if sess.st == state.Running && sess.budget != nil {
		view.Remaining = sess.budget.Remaining()
	}
	return view
}

func (s *Supervisor) transition(sess *session, toState, reason string) {
	if err := s.machine.Transition(context.Background(), sess.spec, sess.st, toState, reason); err != nil {
		// Transition table violations are programming errors; log and force
		// the state anyway so the supervisor never wedges.
		s.logger.With("spec", sess.spec, "error", err).Error("illegal session transition")
	}
	sess.st = toState
}

func (s *Supervisor) releaseGuard(sess *session) {
	if sess.guard == nil {
		return
	}
	if err := sess.guard.Release(); err != nil {
		s.logger.With("spec", sess.spec, "error", err).Warn("commit blocker release failed")
	}
	sess.guard = nil
}

func (sess *session) Active() bool {
	switch sess.st {
	case state.Starting, state.Running, state.Stopping:
		return true
	default:
		return false
	}
}

func (sess *session) recordExit(result waitResult) {
	code := result.exitCode
	sess.exitCode = &code
}
