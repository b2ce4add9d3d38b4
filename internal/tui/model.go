// Package tui renders the live session dashboard. It is a thin consumer of
// supervisor snapshots: every poll tick advances the supervisor and copies
// its state; no live supervisor internals are referenced between ticks.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/provider"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/runner"
)

const defaultPollInterval = time.Second

// Controller is the supervisor surface the dashboard drives.
type Controller interface {
	Start(spec, projectPath, providerName string, overrides []provider.ConfigOverride) error
	Stop(spec string) error
	Restart(spec string) error
	Tick()
	Snapshot() []runner.SessionView
	ActiveCount() int
	Shutdown()
}

type tickMsg time.Time

// Options configures the dashboard model.
type Options struct {
	Controller   Controller
	ProjectPath  string
	Provider     string
	Overrides    []provider.ConfigOverride
	Specs        []string
	PollInterval time.Duration

	// Reload re-reads configuration and returns the provider name and
	// overrides to use for subsequently started sessions.
	Reload func() (string, []provider.ConfigOverride, error)
}

// Model is the root Bubble Tea model for the session dashboard.
type Model struct {
	controller   Controller
	projectPath  string
	provider     string
	overrides    []provider.ConfigOverride
	specs        []string
	pollInterval time.Duration
	reload       func() (string, []provider.ConfigOverride, error)

	views      []runner.SessionView
	selected   int
	filter     string
	filtering  bool
	autoScroll bool
	showHelp   bool
	confirmQuit bool
	status     string
	quitting   bool

	width    int
	height   int
	logPane  viewport.Model
	keys     keyMap
	helpView help.Model
}

// New constructs the dashboard model.
func New(opts Options) (*Model, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Model{
		controller:   opts.Controller,
		projectPath:  opts.ProjectPath,
		provider:     opts.Provider,
		overrides:    opts.Overrides,
		specs:        append([]string(nil), opts.Specs...),
		pollInterval: interval,
		reload:       opts.Reload,
		autoScroll:   true,
		logPane:      viewport.New(80, 12),
		keys:         newKeyMap(),
		helpView:     help.New(),
	}, nil
}

// Init satisfies tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.scheduleTick()
}

func (m *Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles poll ticks and operator keys.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.logPane.Width = maxInt(20, typed.Width-4)
		m.logPane.Height = maxInt(4, typed.Height-len(m.rows())-10)
		return m, nil
	case tickMsg:
		m.controller.Tick()
		m.refresh()
		return m, m.scheduleTick()
	case tea.KeyMsg:
		return m.handleKey(typed)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmQuit {
		return m.handleConfirmQuitKey(msg)
	}
	if m.filtering {
		return m.handleFilterKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.controller.ActiveCount() > 0 {
			m.confirmQuit = true
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.moveSelection(-1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.moveSelection(1)
		return m, nil
	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		return m, nil
	case key.Matches(msg, m.keys.AutoScroll):
		m.autoScroll = !m.autoScroll
		return m, nil
	case key.Matches(msg, m.keys.Reload):
		m.reloadConfig()
		return m, nil
	case key.Matches(msg, m.keys.Start):
		m.startSelected()
		return m, nil
	case key.Matches(msg, m.keys.Stop):
		m.intent("stop", m.controller.Stop)
		return m, nil
	case key.Matches(msg, m.keys.Restart):
		m.intent("restart", m.controller.Restart)
		return m, nil
	default:
		return m, nil
	}
}

func (m *Model) handleConfirmQuitKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.controller.Shutdown()
		m.quitting = true
		return m, tea.Quit
	case "n", "N", "esc":
		m.confirmQuit = false
		return m, nil
	default:
		return m, nil
	}
}

func (m *Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filter = ""
		m.filtering = false
	case tea.KeyEnter:
		m.filtering = false
	case tea.KeyBackspace:
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	case tea.KeyRunes:
		m.filter += string(msg.Runes)
	default:
	}
	m.clampSelection()
	return m, nil
}

func (m *Model) reloadConfig() {
	if m.reload == nil {
		m.status = "no configuration reloader wired"
		return
	}
	providerName, overrides, err := m.reload()
	if err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return
	}
	m.provider = providerName
	m.overrides = overrides
	m.status = "configuration reloaded"
}

func (m *Model) startSelected() {
	spec, ok := m.selectedSpec()
	if !ok {
		return
	}
	if err := m.controller.Start(spec, m.projectPath, m.provider, m.overrides); err != nil {
		m.status = fmt.Sprintf("start %s: %v", spec, err)
		return
	}
	m.status = fmt.Sprintf("started %s", spec)
	m.refresh()
}

func (m *Model) intent(name string, op func(spec string) error) {
	spec, ok := m.selectedSpec()
	if !ok {
		return
	}
	if err := op(spec); err != nil {
		m.status = fmt.Sprintf("%s %s: %v", name, spec, err)
		return
	}
	m.status = fmt.Sprintf("%s %s: ok", name, spec)
	m.refresh()
}

// refresh folds a fresh supervisor snapshot into the view state.
func (m *Model) refresh() {
	m.views = m.controller.Snapshot()
	m.clampSelection()

	if view, ok := m.selectedView(); ok {
		m.logPane.SetContent(strings.Join(view.Lines, "\n"))
		if m.autoScroll {
			m.logPane.GotoBottom()
		}
	} else {
		m.logPane.SetContent("")
	}
}

// rows merges discovered specs with live session views, filtered.
func (m *Model) rows() []runner.SessionView {
	bySpec := make(map[string]runner.SessionView, len(m.views))
	for _, view := range m.views {
		bySpec[view.Spec] = view
	}
	merged := make([]runner.SessionView, 0, len(m.specs)+len(m.views))
	seen := map[string]struct{}{}
	for _, spec := range m.specs {
		seen[spec] = struct{}{}
		if view, ok := bySpec[spec]; ok {
			merged = append(merged, view)
			continue
		}
		merged = append(merged, runner.SessionView{Spec: spec, State: "idle"})
	}
	for _, view := range m.views {
		if _, ok := seen[view.Spec]; !ok {
			merged = append(merged, view)
		}
	}

	if m.filter == "" {
		return merged
	}
	filtered := make([]runner.SessionView, 0, len(merged))
	for _, view := range merged {
		if strings.Contains(strings.ToLower(view.Spec), strings.ToLower(m.filter)) {
			filtered = append(filtered, view)
		}
	}
	return filtered
}

func (m *Model) selectedSpec() (string, bool) {
	view, ok := m.selectedView()
	if !ok {
		return "", false
	}
	return view.Spec, true
}

func (m *Model) selectedView() (runner.SessionView, bool) {
	rows := m.rows()
	if len(rows) == 0 || m.selected >= len(rows) {
		return runner.SessionView{}, false
	}
	return rows[m.selected], true
}

func (m *Model) moveSelection(delta int) {
	rows := m.rows()
	if len(rows) == 0 {
		m.selected = 0
		return
	}
	m.selected = (m.selected + delta + len(rows)) % len(rows)
	m.refresh()
}

func (m *Model) clampSelection() {
	if count := len(m.rows()); m.selected >= count {
		m.selected = maxInt(0, count-1)
	}
}

// View renders the dashboard.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("spec-workflow runner"))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-10s %-9s %-10s %s", "SPEC", "STATE", "TASKS", "PROVIDER", "ATTEMPT")))
	b.WriteString("\n")

	rows := m.rows()
	for i, view := range rows {
		if i == m.selected {
			line := fmt.Sprintf("%-24s %-10s %-9s %-10s %d",
				view.Spec, view.State, progressCell(view), view.Provider, view.Attempt)
			b.WriteString(selectedStyle.Render(line))
		} else {
			// State is styled separately so its color survives; pad it before
			// styling to keep the columns aligned.
			b.WriteString(fmt.Sprintf("%-24s %s %-9s %-10s %d",
				view.Spec, renderState(fmt.Sprintf("%-10s", view.State)), progressCell(view), view.Provider, view.Attempt))
		}
		b.WriteString("\n")
	}
	if len(rows) == 0 {
		b.WriteString(statusStyle.Render("no sessions match"))
		b.WriteString("\n")
	}

	if view, ok := m.selectedView(); ok && view.Warning != "" {
		b.WriteString(warningStyle.Render("⚠ " + view.Warning))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(logPaneStyle.Render(m.logPane.View()))
	b.WriteString("\n")

	if m.filtering || m.filter != "" {
		b.WriteString(statusStyle.Render("filter: " + m.filter))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}

	if m.confirmQuit {
		b.WriteString(overlayStyle.Render("Sessions are still active. Quit anyway? (y/n)"))
		b.WriteString("\n")
	}
	if m.showHelp {
		m.helpView.ShowAll = true
	} else {
		m.helpView.ShowAll = false
	}
	b.WriteString(m.helpView.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func progressCell(view runner.SessionView) string {
	if !view.ProgressKnown {
		return "-"
	}
	return fmt.Sprintf("%d/%d", view.Progress.Completed, view.Progress.Total())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ tea.Model = (*Model)(nil)
