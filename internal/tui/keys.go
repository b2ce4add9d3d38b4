package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Start      key.Binding
	Stop       key.Binding
	Restart    key.Binding
	AutoScroll key.Binding
	Filter     key.Binding
	Reload     key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous session")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next session")),
		Start:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start session")),
		Stop:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop session")),
		Restart:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart session")),
		AutoScroll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "toggle auto-scroll")),
		Filter:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter sessions")),
		Reload:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "reload configuration")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp satisfies help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Restart, k.Filter, k.Help, k.Quit}
}

// FullHelp satisfies help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Filter},
		{k.Start, k.Stop, k.Restart},
		{k.AutoScroll, k.Reload, k.Help, k.Quit},
	}
}
