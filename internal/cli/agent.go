package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/agent/builtin"
	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/permissions"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run and inspect agent backends",
	Long:  "Commands for driving coding agent backends directly, without the daemon.",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available agent types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry := builtin.Registry(cfg)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tKIND")
		for _, name := range registry.Names() {
			b, err := registry.New(name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\n", name, b.Kind())
			_ = b.Dispose()
		}
		return w.Flush()
	},
}

var (
	agentRunProject string
	agentRunYes     bool
)

var agentRunCmd = &cobra.Command{
	Use:   "run <agent-type> <prompt...>",
	Short: "Run one prompt through an agent in the foreground",
	Long: "Start an agent session in this process, send one prompt and stream the agent's " +
		"messages until the response completes. Permission requests are asked on stdin " +
		"unless a permission rule or --yes answers them.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		project, err := projectDir(agentRunProject)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b, err := builtin.Registry(cfg).New(args[0])
		if err != nil {
			return err
		}
		defer b.Dispose()

		r := &agentRun{
			out:     cmd.OutOrStdout(),
			in:      bufio.NewReader(cmd.InOrStdin()),
			approve: agentRunYes,
			rules:   permissions.NewEvaluator(paths.PermissionsPath()).Decide,
			perms:   make(chan agent.Message, 8),
		}
		return r.run(ctx, b, project, strings.Join(args[1:], " "))
	},
}

// agentRun drives one backend through a single prompt.
type agentRun struct {
	out     io.Writer
	in      *bufio.Reader
	approve bool
	rules   agent.Decider
	perms   chan agent.Message
	tokens  atomic.Int64
}

func (r *agentRun) run(ctx context.Context, b agent.Backend, project, prompt string) error {
	unsubscribe := b.Subscribe(r.print)
	defer unsubscribe()

	id, err := b.StartSession(ctx, agent.StartOptions{ProjectPath: project})
	if err != nil {
		return fmt.Errorf("start %s: %w", b.Name(), err)
	}

	done := make(chan error, 1)
	go func() { done <- b.SendPrompt(ctx, id, prompt) }()

	responder, _ := agent.AsPermissionResponder(b)
	for {
		select {
		case err := <-done:
			if tokens := r.tokens.Load(); tokens > 0 {
				fmt.Fprintln(r.out, labelStyle.Render(fmt.Sprintf("~%d tokens", tokens)))
			}
			return err
		case m := <-r.perms:
			if responder == nil {
				continue
			}
			approved := r.decide(ctx, project, m)
			if err := responder.RespondToPermission(ctx, id, m.RequestID, approved); err != nil {
				fmt.Fprintln(r.out, wrapError(err.Error()))
			}
		case <-ctx.Done():
			_ = b.Cancel(id)
			<-done
			return ctx.Err()
		}
	}
}

// print renders one backend message. It runs on the backend's goroutine, so
// permission requests are handed to the run loop instead of answered here.
func (r *agentRun) print(m agent.Message) {
	switch m.Type {
	case agent.MsgModelOutput:
		fmt.Fprintln(r.out, wordwrap.String(m.Text, wrapWidth+20))
	case agent.MsgFSEdit:
		fmt.Fprintln(r.out, editStyle.Render(fmt.Sprintf("✎ %s %s", m.Action, m.Path)))
	case agent.MsgStatus:
		line := fmt.Sprintf("[%s]", m.State)
		if m.Detail != "" {
			line += " " + m.Detail
		}
		if m.State == agent.StateError {
			fmt.Fprintln(r.out, wrapError(line))
		} else {
			fmt.Fprintln(r.out, labelStyle.Render(line))
		}
	case agent.MsgTokenCount:
		r.tokens.Store(int64(m.Tokens))
	case agent.MsgPermissionRequest:
		select {
		case r.perms <- m:
		default:
			slog.Warn("permission request dropped", "request_id", m.RequestID)
		}
	case agent.MsgPermissionResponse:
		verdict := "denied"
		if m.Approved {
			verdict = "approved"
		}
		fmt.Fprintln(r.out, labelStyle.Render(fmt.Sprintf("%s %s", verdict, m.Tool)))
	}
}

// decide answers a permission request from the rules files, then --yes,
// then by asking the user.
func (r *agentRun) decide(ctx context.Context, project string, m agent.Message) bool {
	if r.rules != nil {
		if approved, decided := r.rules(ctx, project, m); decided {
			return approved
		}
	}
	if r.approve {
		return true
	}
	fmt.Fprintf(r.out, "Allow %s %s? [y/N] ", m.Tool, string(m.Input))
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	agentRunCmd.Flags().StringVarP(&agentRunProject, "project", "p", "", "Project directory (default: current directory)")
	agentRunCmd.Flags().BoolVarP(&agentRunYes, "yes", "y", false, "Approve every permission request")
	agentCmd.AddCommand(agentListCmd, agentRunCmd)
	rootCmd.AddCommand(agentCmd)
}
