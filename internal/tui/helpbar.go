package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/muesli/reflow/wordwrap"
)

// HelpBar displays keyboard shortcuts, or the last error, at the bottom of
// the view.
type HelpBar struct {
	width int
	keys  KeyBindings

	errorMsg string
}

// NewHelpBar creates a new help bar component.
func NewHelpBar(keys KeyBindings) HelpBar {
	return HelpBar{keys: keys}
}

// SetWidth updates the help bar width.
func (h *HelpBar) SetWidth(width int) {
	h.width = width
}

// SetError sets the error message to display.
func (h *HelpBar) SetError(msg string) {
	h.errorMsg = msg
}

// ClearError clears the error message.
func (h *HelpBar) ClearError() {
	h.errorMsg = ""
}

// View renders the help bar.
func (h HelpBar) View() string {
	if h.errorMsg != "" {
		msg := "Error: " + h.errorMsg
		if h.width > 4 {
			msg = wordwrap.String(msg, h.width-2)
		}
		return errorBarStyle.Render(msg)
	}
	return statusStyle.Render(formatHelp(h.keys.ShortHelp()))
}

// formatHelp formats key bindings as "key action • key action".
func formatHelp(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if !b.Enabled() {
			continue
		}
		help := b.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return strings.Join(parts, " • ")
}
