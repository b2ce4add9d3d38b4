package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/state"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	logPaneStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	overlayStyle  = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("205")).Padding(1, 2)

	stateStyles = map[string]lipgloss.Style{
		state.Idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		state.Starting:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		state.Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		state.Stopping:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		state.Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		state.Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		state.TimedOut:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		state.Crashed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// renderState colors a state cell. The input may carry column padding.
func renderState(sessionState string) string {
	style, ok := stateStyles[strings.TrimSpace(sessionState)]
	if !ok {
		return sessionState
	}
	return style.Render(sessionState)
}
