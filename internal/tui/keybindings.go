package tui

import "github.com/charmbracelet/bubbles/key"

// KeyBindings defines the keyboard shortcuts of the status view.
type KeyBindings struct {
	Quit    key.Binding
	Refresh key.Binding
}

// DefaultKeyBindings returns the default key bindings.
func DefaultKeyBindings() KeyBindings {
	return KeyBindings{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
	}
}

// ShortHelp returns bindings for the help bar.
func (k KeyBindings) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}
