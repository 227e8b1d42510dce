package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tether/internal/daemon"
)

// Header displays the brand, the relay connection state and daemon stats.
type Header struct {
	width int

	state   daemon.DaemonState
	spinner string // current spinner frame, shown while a connection is pending
}

// NewHeader creates a new header component.
func NewHeader() Header {
	return Header{}
}

// SetWidth updates the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetState updates the daemon state shown.
func (h *Header) SetState(state daemon.DaemonState) {
	h.state = state
}

// SetSpinner sets the spinner frame shown for pending connection states.
func (h *Header) SetSpinner(frame string) {
	h.spinner = frame
}

// View renders the header.
func (h Header) View() string {
	brand := headerBrandStyle.Render("tether")
	conn := headerStatsStyle.Render(h.connLabel())

	var stats string
	if h.state.Running {
		parts := []string{fmt.Sprintf("pid %d", h.state.PID)}
		if !h.state.StartedAt.IsZero() {
			parts = append(parts, "up "+FormatDuration(time.Since(h.state.StartedAt)))
		}
		parts = append(parts, fmt.Sprintf("%d sessions", h.state.ActiveSessions))
		stats = headerStatsStyle.Render(strings.Join(parts, "  •  "))
	}

	spacerWidth := h.width - lipgloss.Width(brand) - lipgloss.Width(conn) - lipgloss.Width(stats)
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	spacer := headerContainerStyle.Width(spacerWidth).Render("")

	content := lipgloss.JoinHorizontal(lipgloss.Top, brand, conn, spacer, stats)
	return headerContainerStyle.Width(h.width).Render(content)
}

func (h Header) connLabel() string {
	if !h.state.Running {
		return "● not running"
	}
	state := h.state.ConnectionState
	marker := "●"
	if (state == daemon.StateConnecting || state == daemon.StateReconnecting) && h.spinner != "" {
		marker = h.spinner
	}
	return ConnStyle(state).Background(primaryColor).Render(marker + " " + string(state))
}

// FormatDuration renders d compactly, e.g. "3h12m" or "45s".
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
