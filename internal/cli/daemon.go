package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/daemon"
	"github.com/tessro/tether/internal/logging"
	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/version"
)

var daemonFormat string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the tether daemon",
	Long:  "Commands for managing the background daemon lifecycle.",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Long:  "Start the daemon unless one is already running, and wait until it accepts connections.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(daemonFormat); err != nil {
			return err
		}
		st := newSupervisor().Start(cmd.Context())
		if err := printState(cmd.OutOrStdout(), daemonFormat, st); err != nil {
			return err
		}
		if !st.Running {
			return errors.New("daemon failed to start")
		}
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  "Send SIGTERM to the daemon, escalating to SIGKILL if it does not exit in time.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := newSupervisor().Stop(cmd.Context())
		if st.Running {
			return fmt.Errorf("stop daemon: %s", st.ErrorMessage)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "tether daemon stopped")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status from its PID and status files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(daemonFormat); err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), daemonFormat, newSupervisor().Status())
	},
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Long:   "Run the daemon in this process. Used by \"daemon start\"; requires TETHER_DAEMON=1.",
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		layout := paths.Default()
		if !debug {
			cleanup, err := logging.Setup(layout.Log, logging.ParseLevel(cfg.GetLogLevel()))
			if err != nil {
				return fmt.Errorf("set up logging: %w", err)
			}
			defer cleanup()
		}

		p := daemon.NewProcess(daemon.Options{
			Layout:  layout,
			Config:  cfg,
			Version: version.Version,
		})
		return p.Run(cmd.Context())
	},
}

func init() {
	daemonCmd.PersistentFlags().StringVarP(&daemonFormat, "format", "o", formatText, "Output format: text, json or yaml")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}
