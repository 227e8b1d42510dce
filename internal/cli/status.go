package cli

import (
	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/tui"
)

var (
	statusWatch  bool
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and relay status",
	Long: "Display the daemon's relay connection state, sessions and uptime. " +
		"Falls back to the PID and status files when the daemon does not answer.",
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validFormat(statusFormat); err != nil {
		return err
	}
	src := newDaemonSource()
	if statusWatch {
		return tui.Run(cmd.Context(), src, paths.StatusPath())
	}
	return printState(cmd.OutOrStdout(), statusFormat, src.State(cmd.Context()))
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Keep watching the status")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", formatText, "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
