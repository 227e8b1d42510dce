package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tether/internal/daemon"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	errorColor     = lipgloss.Color("#EF4444") // Red
	warningColor   = lipgloss.Color("#F59E0B") // Amber/Yellow

	// Header styles
	headerContainerStyle = lipgloss.NewStyle().
				Background(primaryColor)

	headerBrandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(primaryColor).
				Padding(0, 1)

	headerStatsStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#E0E0E0")).
				Background(primaryColor).
				Padding(0, 1)

	// Status bar style
	statusStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	// Session list styles
	sessionEmptyStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Padding(1, 2)

	sessionHeadingStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Bold(true).
				Padding(0, 1)

	sessionRowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	sessionIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	sessionKindStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	sessionDetailStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#A0A0A0"))

	sessionDurationStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	// Error display styles
	errorBarStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Padding(0, 1)
)

// connStyles colors each relay connection state.
var connStyles = map[daemon.ConnectionState]lipgloss.Style{
	daemon.StateConnected:    lipgloss.NewStyle().Foreground(secondaryColor),
	daemon.StateConnecting:   lipgloss.NewStyle().Foreground(warningColor),
	daemon.StateReconnecting: lipgloss.NewStyle().Foreground(warningColor),
	daemon.StateDisconnected: lipgloss.NewStyle().Foreground(mutedColor),
	daemon.StateError:        lipgloss.NewStyle().Foreground(errorColor),
}

// ConnStyle returns the style used for a connection state.
func ConnStyle(state daemon.ConnectionState) lipgloss.Style {
	if s, ok := connStyles[state]; ok {
		return s
	}
	return lipgloss.NewStyle().Foreground(mutedColor)
}
