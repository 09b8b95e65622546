package tui

import "github.com/charmbracelet/bubbles/key"

// Action verbs sent to the daemon.
const (
	verbRun     = "run"
	verbEnqueue = "enqueue"
	verbCancel  = "cancel"
	verbApprove = "approve"
	verbReject  = "reject"
	verbRework  = "rework"
	verbDelete  = "delete"
	verbArchive = "archive"
)

// KeyMap holds every board binding.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Filter  key.Binding
	Run     key.Binding
	Enqueue key.Binding
	Cancel  key.Binding
	Approve key.Binding
	Reject  key.Binding
	Rework  key.Binding
	Archive key.Binding
	Delete  key.Binding
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
	Yes     key.Binding
	No      key.Binding
}

var keys = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Filter: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "filter status"),
	),
	Run: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "run now"),
	),
	Enqueue: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "enqueue"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "cancel"),
	),
	Approve: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "approve"),
	),
	Reject: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "reject"),
	),
	Rework: key.NewBinding(
		key.WithKeys("w"),
		key.WithHelp("w", "rework"),
	),
	Archive: key.NewBinding(
		key.WithKeys("A"),
		key.WithHelp("A", "archive"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "delete"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "refresh"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Yes: key.NewBinding(
		key.WithKeys("y"),
	),
	No: key.NewBinding(
		key.WithKeys("n", "esc"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Run, k.Cancel, k.Approve, k.Filter, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Filter, k.Refresh},
		{k.Run, k.Enqueue, k.Cancel},
		{k.Approve, k.Reject, k.Rework},
		{k.Archive, k.Delete, k.Help, k.Quit},
	}
}
