package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/daemon"
	"github.com/tessro/tether/internal/tui"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := NewClient().Ping(cmd.Context())
		if err != nil {
			return notRunningHint(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pong (pid %d)\n", data.PID)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List relay devices and agent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient()
		if !client.IsRunning(cmd.Context()) {
			return notRunningHint(daemon.ErrDaemonNotRunning)
		}
		printSessions(cmd, client.ListSessions(cmd.Context()))
		return nil
	},
}

func printSessions(cmd *cobra.Command, sessions []daemon.SessionInfo) {
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tID\tDETAIL\tAGE")
	for _, s := range sessions {
		age := "-"
		if !s.StartedAt.IsZero() {
			age = tui.FormatDuration(time.Since(s.StartedAt))
		}
		detail := tui.Describe(s)
		if detail == "" {
			detail = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Kind, s.ID, detail, age)
	}
	_ = w.Flush()
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions inside the daemon",
}

var (
	sessionProject string
	sessionPrompt  string
)

var sessionStartCmd = &cobra.Command{
	Use:   "start <agent-type>",
	Short: "Start an agent session",
	Long:  "Start an agent session in the daemon for a project directory (default: the current directory).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectDir(sessionProject)
		if err != nil {
			return err
		}
		data, err := NewClient().StartSession(cmd.Context(), args[0], project, sessionPrompt)
		if err != nil {
			return notRunningHint(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started %s session %s\n", data.AgentType, data.SessionID)
		return nil
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop an agent session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := NewClient().StopSession(cmd.Context(), args[0]); err != nil {
			return notRunningHint(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stopped session %s\n", args[0])
		return nil
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <session-id> <message...>",
	Short: "Send a prompt to an agent session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args[1:], " ")
		if err := NewClient().SendMessage(cmd.Context(), args[0], message); err != nil {
			return notRunningHint(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}

// projectDir resolves --project, defaulting to the working directory.
func projectDir(flag string) (string, error) {
	if flag == "" {
		return os.Getwd()
	}
	return filepath.Abs(flag)
}

// notRunningHint adds a start hint to a not-running error.
func notRunningHint(err error) error {
	if errors.Is(err, daemon.ErrDaemonNotRunning) {
		return fmt.Errorf("%w (start it with: tether daemon start)", err)
	}
	return err
}

func init() {
	sessionStartCmd.Flags().StringVarP(&sessionProject, "project", "p", "", "Project directory (default: current directory)")
	sessionStartCmd.Flags().StringVar(&sessionPrompt, "prompt", "", "Initial prompt")
	sessionCmd.AddCommand(sessionStartCmd, sessionStopCmd, sessionSendCmd)
	rootCmd.AddCommand(pingCmd, sessionsCmd, sessionCmd)
}
