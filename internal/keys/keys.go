package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Feed views
	ToggleView key.Binding
	Search     key.Binding

	// Status changes
	MarkRead key.Binding
	Delete   key.Binding
	Purge    key.Binding

	// Local visibility
	Hide        key.Binding
	ClearHidden key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Help toggle
	Help key.Binding

	// Manual refresh
	Refresh key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		ToggleView: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "recent/archive"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("enter", "m"),
			key.WithHelp("enter/m", "mark read"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Purge: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "purge"),
		),
		Hide: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "hide"),
		),
		ClearHidden: key.NewBinding(
			key.WithKeys("H"),
			key.WithHelp("H", "show hidden"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.MarkRead, k.ToggleView,
		k.Quit, k.Help, k.Search,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.ToggleView, k.Search, k.Back},
		{k.MarkRead, k.Delete, k.Purge},
		{k.Hide, k.ClearHidden},
		{k.Refresh, k.Help, k.Quit},
	}
}
