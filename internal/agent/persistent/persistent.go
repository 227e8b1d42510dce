// Package persistent implements agent backends that keep one CLI process
// alive for the whole session and talk to it in stream-json, such as claude.
package persistent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/logging"
)

// ClaudeName is the agent type claude is registered under.
const ClaudeName = "claude"

// CancelGrace is how long a cancelled process gets before SIGKILL.
const CancelGrace = 3 * time.Second

// DefaultClaudeArgs run claude in stream-json mode with permission prompts
// routed to stdio.
var DefaultClaudeArgs = []string{
	"--output-format", "stream-json",
	"--input-format", "stream-json",
	"--verbose",
	"--permission-prompt-tool", "stdio",
}

// maxScanTokenSize allows large tool results on one line.
const maxScanTokenSize = 10 * 1024 * 1024

// errProcessExited is reported for a prompt whose process went away.
var errProcessExited = errors.New("agent process exited before responding")

// turn tracks one prompt until its result arrives.
type turn struct {
	done chan struct{}
	err  error
}

// Backend drives one long-lived agent process.
type Backend struct {
	*agent.Base

	command   string
	args      []string
	env       []string
	killGrace time.Duration

	// writeMu serializes writes to stdin.
	writeMu sync.Mutex

	mu sync.Mutex
	// +checklocks:mu
	projectPath string
	// +checklocks:mu
	cmd *exec.Cmd
	// +checklocks:mu
	stdin io.WriteCloser
	// +checklocks:mu
	turn *turn
	// +checklocks:mu
	resumeID string // conversation id reported by the agent, used to respawn
	// +checklocks:mu
	pending map[string]pendingRequest
	// +checklocks:mu
	tokens int
	// +checklocks:mu
	cancelled bool
	// +checklocks:mu
	killTimer *time.Timer
	// +checklocks:mu
	killTimersArmed int
}

type pendingRequest struct {
	tool  string
	input json.RawMessage
}

// Verify Backend implements agent.PermissionResponder.
var _ agent.PermissionResponder = (*Backend)(nil)

// New creates a persistent backend named name.
func New(name string, opts agent.Options, defaultCommand string, defaultArgs []string) *Backend {
	command := defaultCommand
	if opts.Command != "" {
		command = opts.Command
	}
	args := defaultArgs
	if opts.Args != nil {
		args = opts.Args
	}
	return &Backend{
		Base:      agent.NewBase(agent.Persistent, name),
		command:   command,
		args:      slices.Clone(args),
		env:       opts.Env,
		killGrace: CancelGrace,
		pending:   make(map[string]pendingRequest),
	}
}

// NewClaude creates a claude backend.
func NewClaude(opts agent.Options) agent.Backend {
	return New(ClaudeName, opts, "claude", DefaultClaudeArgs)
}

// StartSession implements agent.Backend. It spawns the agent process.
func (b *Backend) StartSession(ctx context.Context, opts agent.StartOptions) (agent.SessionID, error) {
	id, err := b.Mint()
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.projectPath = opts.ProjectPath
	err = b.spawnLocked()
	b.mu.Unlock()
	if err != nil {
		b.SetStatus(agent.StateError, err.Error())
		return "", err
	}

	b.SetStatus(agent.StateIdle, "session started")

	if opts.InitialPrompt != "" {
		promptCtx := context.WithoutCancel(ctx)
		go func() {
			defer logging.LogPanic("persistent-initial-prompt", nil)
			if err := b.SendPrompt(promptCtx, id, opts.InitialPrompt); err != nil {
				slog.Warn("initial prompt failed", "agent", b.Name(), "session", id, "error", err)
			}
		}()
	}
	return id, nil
}

// spawnLocked starts the agent process, resuming the previous conversation
// when the agent reported one.
//
// +checklocks:b.mu
func (b *Backend) spawnLocked() error {
	args := slices.Clone(b.args)
	if b.resumeID != "" {
		args = append(args, "--resume", b.resumeID)
	}
	cmd := exec.Command(b.command, args...)
	cmd.Dir = b.projectPath
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", b.Name(), err)
	}

	log := slog.With("component", "agent", "agent", b.Name(), "pid", cmd.Process.Pid)
	log.Info("agent process started")

	b.cmd = cmd
	b.stdin = stdin
	b.cancelled = false
	b.pending = make(map[string]pendingRequest)

	go func() {
		defer logging.LogPanic(b.Name()+"-stderr", nil)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Warn("agent stderr", "line", scanner.Text())
		}
	}()
	go b.run(cmd, stdout, log)
	return nil
}

// run reads the process output until it exits.
func (b *Backend) run(cmd *exec.Cmd, stdout io.Reader, log *slog.Logger) {
	defer logging.LogPanic(b.Name()+"-read-loop", nil)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		msg, err := parseStreamMessage(scanner.Bytes())
		if err != nil {
			log.Warn("bad stream message", "error", err)
			continue
		}
		if msg != nil {
			b.handle(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug("agent stdout ended", "error", err)
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()

	b.mu.Lock()
	if b.cmd == cmd {
		b.cmd = nil
		b.stdin = nil
	}
	t := b.turn
	b.turn = nil
	if b.killTimer != nil {
		b.killTimer.Stop()
		b.killTimer = nil
	}
	cancelled := b.cancelled
	b.mu.Unlock()

	var exitErr error
	if waitErr != nil {
		ee := &agent.ExitError{Agent: b.Name(), Code: -1}
		var xe *exec.ExitError
		if errors.As(waitErr, &xe) {
			ee.Code = xe.ExitCode()
		}
		exitErr = ee
	}

	log.Info("agent process exited", "error", waitErr, "cancelled", cancelled)
	switch {
	case b.Disposed():
	case exitErr != nil && !cancelled:
		b.SetStatus(agent.StateError, exitErr.Error())
	default:
		b.SetStatus(agent.StateIdle, "agent process exited")
	}

	if t != nil {
		t.err = errProcessExited
		if exitErr != nil {
			t.err = exitErr
		}
		close(t.done)
	}
}

func (b *Backend) handle(msg *streamMessage) {
	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" {
			b.mu.Lock()
			b.resumeID = msg.SessionID
			b.mu.Unlock()
		}

	case "assistant":
		for _, text := range msg.text() {
			b.Emit(agent.Message{Type: agent.MsgModelOutput, Text: text})
		}
		for _, tool := range msg.toolUses() {
			if action, path, ok := fileEdit(tool); ok {
				b.Emit(agent.Message{Type: agent.MsgFSEdit, Action: action, Path: path})
			}
		}
		if msg.Message != nil {
			b.addTokens(msg.Message.Usage.total())
		}

	case "result":
		b.addTokens(msg.Usage.total())

		b.mu.Lock()
		t := b.turn
		b.turn = nil
		b.mu.Unlock()

		if msg.IsError {
			b.SetStatus(agent.StateError, msg.Result)
		} else {
			b.SetStatus(agent.StateIdle, "")
		}
		if t != nil {
			if msg.IsError {
				t.err = fmt.Errorf("%s: %s", b.Name(), msg.Result)
			}
			close(t.done)
		}

	case "control_request":
		if msg.Request == nil || msg.Request.Subtype != "can_use_tool" {
			slog.Debug("ignored control request", "agent", b.Name(), "request_id", msg.RequestID)
			return
		}
		b.mu.Lock()
		b.pending[msg.RequestID] = pendingRequest{tool: msg.Request.ToolName, input: msg.Request.Input}
		b.mu.Unlock()
		b.Emit(agent.Message{
			Type:      agent.MsgPermissionRequest,
			RequestID: msg.RequestID,
			Tool:      msg.Request.ToolName,
			Input:     msg.Request.Input,
		})
	}
}

func (b *Backend) addTokens(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.tokens += n
	total := b.tokens
	b.mu.Unlock()
	b.Emit(agent.Message{Type: agent.MsgTokenCount, Tokens: total})
}

// writeJSON writes v as one line to the process's stdin.
func (b *Backend) writeJSON(v any) error {
	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return errProcessExited
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err = stdin.Write(append(data, '\n'))
	return err
}

// SendPrompt implements agent.Backend. A process that has exited is
// respawned, resuming its conversation.
func (b *Backend) SendPrompt(ctx context.Context, id agent.SessionID, prompt string) error {
	if err := b.Check(id); err != nil {
		return err
	}

	b.mu.Lock()
	if b.turn != nil {
		b.mu.Unlock()
		return agent.ErrBusy
	}
	if b.cmd == nil {
		if err := b.spawnLocked(); err != nil {
			b.mu.Unlock()
			b.SetStatus(agent.StateError, err.Error())
			return err
		}
	}
	t := &turn{done: make(chan struct{})}
	b.turn = t
	b.mu.Unlock()

	b.SetStatus(agent.StateRunning, "")
	if err := b.writeJSON(formatUserInput(prompt)); err != nil {
		b.mu.Lock()
		if b.turn == t {
			b.turn = nil
		}
		b.mu.Unlock()
		err = fmt.Errorf("write prompt: %w", err)
		b.SetStatus(agent.StateError, err.Error())
		return err
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		_ = b.cancel()
		return ctx.Err()
	}
}

// RespondToPermission implements agent.PermissionResponder.
func (b *Backend) RespondToPermission(ctx context.Context, id agent.SessionID, requestID string, approved bool) error {
	if err := b.Check(id); err != nil {
		return err
	}

	b.mu.Lock()
	req, ok := b.pending[requestID]
	delete(b.pending, requestID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", agent.ErrNoPermission, requestID)
	}

	if err := b.writeJSON(formatPermission(requestID, req.input, approved)); err != nil {
		return fmt.Errorf("write permission response: %w", err)
	}
	b.Emit(agent.Message{
		Type:      agent.MsgPermissionResponse,
		RequestID: requestID,
		Tool:      req.tool,
		Approved:  approved,
	})
	return nil
}

// Cancel implements agent.Backend. The process gets SIGTERM and, if it is
// still alive after the grace period, SIGKILL. The next prompt respawns it.
func (b *Backend) Cancel(id agent.SessionID) error {
	if err := b.Check(id); err != nil {
		if errors.Is(err, agent.ErrDisposed) {
			return nil
		}
		return err
	}
	return b.cancel()
}

func (b *Backend) cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil || b.cancelled {
		return nil
	}
	b.cancelled = true

	proc := b.cmd.Process
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("signal agent process failed", "agent", b.Name(), "error", err)
	}
	b.killTimersArmed++
	b.killTimer = time.AfterFunc(b.killGrace, func() {
		_ = proc.Kill()
	})
	return nil
}

// WaitForResponseComplete implements agent.Backend.
func (b *Backend) WaitForResponseComplete(ctx context.Context) error {
	b.mu.Lock()
	t := b.turn
	b.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose implements agent.Backend.
func (b *Backend) Dispose() error {
	if !b.MarkDisposed() {
		return nil
	}

	b.mu.Lock()
	cmd := b.cmd
	stdin := b.stdin
	if b.killTimer != nil {
		b.killTimer.Stop()
		b.killTimer = nil
	}
	b.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s: %w", b.Name(), err)
		}
	}
	return nil
}

// PendingPermissions returns the ids of unanswered permission requests.
func (b *Backend) PendingPermissions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
