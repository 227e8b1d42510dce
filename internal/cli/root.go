// Package cli implements the tether command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/logging"
	"github.com/tessro/tether/internal/paths"
)

// baseDir is the global --dir flag value.
var baseDir string

// debug is the global --debug flag value.
var debug bool

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Keep a machine tethered to the relay",
	Long: "tether runs a background daemon that holds this machine's relay connection " +
		"and hosts coding agent sessions, and controls it from the command line.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set TETHER_DIR so every path helper uses the override.
		if baseDir != "" {
			if err := os.Setenv(paths.EnvDir, baseDir); err != nil {
				return err
			}
		}
		if debug {
			logging.SetupConsole(os.Stderr, slog.LevelDebug)
		} else {
			logging.Discard()
		}
		return nil
	},
}

// BaseDir returns the value of the --dir flag.
func BaseDir() string {
	return baseDir
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "base directory for tether data (overrides ~/.tether)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
