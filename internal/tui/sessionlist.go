package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tether/internal/daemon"
)

// SessionList renders relay devices and agent sessions, one per row.
type SessionList struct {
	width    int
	sessions []daemon.SessionInfo
	now      func() time.Time
}

// NewSessionList creates an empty session list.
func NewSessionList() SessionList {
	return SessionList{now: time.Now}
}

// SetWidth updates the list width.
func (l *SessionList) SetWidth(width int) {
	l.width = width
}

// SetSessions replaces the sessions shown.
func (l *SessionList) SetSessions(sessions []daemon.SessionInfo) {
	l.sessions = sessions
}

// View renders the list.
func (l SessionList) View() string {
	if len(l.sessions) == 0 {
		return sessionEmptyStyle.Render("No sessions.")
	}

	rows := []string{sessionHeadingStyle.Render("SESSIONS")}
	for _, s := range l.sessions {
		rows = append(rows, l.renderRow(s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (l SessionList) renderRow(s daemon.SessionInfo) string {
	parts := []string{
		sessionKindStyle.Render(fmt.Sprintf("%-6s", s.Kind)),
		sessionIDStyle.Render(shortID(s.ID)),
	}
	if d := Describe(s); d != "" {
		parts = append(parts, sessionDetailStyle.Render(d))
	}
	if !s.StartedAt.IsZero() {
		parts = append(parts, sessionDurationStyle.Render(FormatDuration(l.now().Sub(s.StartedAt))))
	}
	row := strings.Join(parts, "  ")
	if l.width > 0 && lipgloss.Width(row) > l.width-2 {
		row = lipgloss.NewStyle().MaxWidth(l.width - 2).Render(row)
	}
	return sessionRowStyle.Render(row)
}

// Describe summarizes what a session is: the device name and platform, or
// the agent type, state and project.
func Describe(s daemon.SessionInfo) string {
	var parts []string
	switch s.Kind {
	case daemon.SessionDevice:
		if s.Name != "" {
			parts = append(parts, s.Name)
		}
		if s.Platform != "" {
			parts = append(parts, "("+s.Platform+")")
		}
	default:
		if s.AgentType != "" {
			parts = append(parts, s.AgentType)
		}
		if s.State != "" {
			parts = append(parts, "["+s.State+"]")
		}
		if s.ProjectPath != "" {
			parts = append(parts, s.ProjectPath)
		}
	}
	return strings.Join(parts, " ")
}

// shortID truncates uuids for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
