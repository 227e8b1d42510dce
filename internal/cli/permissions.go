package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/permissions"
)

var permissionsProject string

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect agent permission rules",
}

var permissionsCheckCmd = &cobra.Command{
	Use:   "check <tool> [input-json]",
	Short: "Show how the rules answer a tool call",
	Long: "Evaluate the project and global permissions.toml files for one tool call, e.g.\n" +
		"  tether permissions check Bash '{\"command\":\"git status\"}'",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectDir(permissionsProject)
		if err != nil {
			return err
		}
		var input json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("input is not valid JSON: %s", args[1])
			}
			input = json.RawMessage(args[1])
		}

		action, err := permissions.NewEvaluator(paths.PermissionsPath()).Evaluate(cmd.Context(), project, args[0], input)
		if err != nil {
			return err
		}
		if action == permissions.Pass {
			fmt.Fprintln(cmd.OutOrStdout(), "pass (no rule decides; the user is asked)")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), action)
		return nil
	},
}

func init() {
	permissionsCheckCmd.Flags().StringVarP(&permissionsProject, "project", "p", "", "Project directory (default: current directory)")
	permissionsCmd.AddCommand(permissionsCheckCmd)
	rootCmd.AddCommand(permissionsCmd)
}
