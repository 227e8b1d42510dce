package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"gopkg.in/yaml.v3"

	"github.com/tessro/tether/internal/daemon"
	"github.com/tessro/tether/internal/tui"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// wrapWidth is the column long messages are wrapped at.
const wrapWidth = 80

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	brandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	editStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
)

func validFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

// writeValue encodes v as JSON or YAML.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return validFormat(format)
}

// printState writes a daemon state in the requested format.
func printState(w io.Writer, format string, st daemon.DaemonState) error {
	if format != formatText {
		return writeValue(w, format, st)
	}

	if !st.Running {
		fmt.Fprintf(w, "%s daemon is not running\n", brandStyle.Render("tether"))
		if st.ErrorMessage != "" {
			fmt.Fprintln(w, wrapError(st.ErrorMessage))
		}
		return nil
	}

	fmt.Fprintf(w, "%s daemon running (pid %d", brandStyle.Render("tether"), st.PID)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, ", up %s", tui.FormatDuration(time.Since(st.StartedAt)))
	}
	fmt.Fprintln(w, ")")

	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("relay:   "),
		tui.ConnStyle(st.ConnectionState).Render(string(st.ConnectionState)))
	fmt.Fprintf(w, "  %s %d\n", labelStyle.Render("sessions:"), st.ActiveSessions)
	if !st.LastHeartbeat.IsZero() {
		fmt.Fprintf(w, "  %s %s ago\n", labelStyle.Render("heartbeat:"),
			tui.FormatDuration(time.Since(st.LastHeartbeat)))
	}
	if st.ErrorMessage != "" {
		fmt.Fprintln(w, wrapError(st.ErrorMessage))
	}
	return nil
}

// wrapError styles and wraps an error message for terminal output.
func wrapError(msg string) string {
	wrapped := wordwrap.String("error: "+msg, wrapWidth)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		lines[i] = "  " + errorStyle.Render(line)
	}
	return strings.Join(lines, "\n")
}
