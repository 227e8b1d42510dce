// Package ephemeral implements agent backends that run one CLI process per
// prompt, such as aider in non-interactive mode.
package ephemeral

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/logging"
)

// AiderName is the agent type aider is registered under.
const AiderName = "aider"

// CancelGrace is how long a cancelled process gets before SIGKILL.
const CancelGrace = 3 * time.Second

// DefaultAiderArgs make aider answer yes, print plain text and leave git alone.
var DefaultAiderArgs = []string{"--yes-always", "--no-pretty", "--no-stream", "--no-auto-commits"}

// fsEditPattern matches aider's report of a file it changed.
var fsEditPattern = regexp.MustCompile(`^(Wrote|Updated|Created)\s+(\S+)`)

// stderrMarkers flag stderr lines worth surfacing as status messages.
var stderrMarkers = []string{"error", "exception", "traceback", "fatal", "rate limit"}

const maxLineSize = 1024 * 1024

// Backend runs a fresh process for every prompt.
type Backend struct {
	*agent.Base

	command   string
	args      []string
	env       []string
	killGrace time.Duration

	mu sync.Mutex
	// +checklocks:mu
	projectPath string
	// +checklocks:mu
	cmd *exec.Cmd
	// +checklocks:mu
	exited chan struct{}
	// +checklocks:mu
	cancelled bool
	// +checklocks:mu
	killTimer *time.Timer
	// +checklocks:mu
	killTimersArmed int
	// +checklocks:mu
	words int
}

// Verify Backend implements agent.Backend.
var _ agent.Backend = (*Backend)(nil)

// New creates an ephemeral backend named name. opts override the default
// command and arguments.
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
		Base:      agent.NewBase(agent.Ephemeral, name),
		command:   command,
		args:      slices.Clone(args),
		env:       opts.Env,
		killGrace: CancelGrace,
	}
}

// NewAider creates an aider backend.
func NewAider(opts agent.Options) agent.Backend {
	return New(AiderName, opts, "aider", DefaultAiderArgs)
}

// StartSession implements agent.Backend. No process is started until the
// first prompt.
func (b *Backend) StartSession(ctx context.Context, opts agent.StartOptions) (agent.SessionID, error) {
	id, err := b.Mint()
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.projectPath = opts.ProjectPath
	b.mu.Unlock()

	b.SetStatus(agent.StateIdle, "session started")

	if opts.InitialPrompt != "" {
		promptCtx := context.WithoutCancel(ctx)
		go func() {
			defer logging.LogPanic("ephemeral-initial-prompt", nil)
			if err := b.SendPrompt(promptCtx, id, opts.InitialPrompt); err != nil {
				slog.Warn("initial prompt failed", "agent", b.Name(), "session", id, "error", err)
			}
		}()
	}
	return id, nil
}

// SendPrompt implements agent.Backend. It runs one process for prompt and
// returns once that process has exited.
func (b *Backend) SendPrompt(ctx context.Context, id agent.SessionID, prompt string) error {
	if err := b.Check(id); err != nil {
		return err
	}

	b.mu.Lock()
	if b.cmd != nil {
		b.mu.Unlock()
		return agent.ErrBusy
	}

	args := append(slices.Clone(b.args), "--message", prompt)
	cmd := exec.Command(b.command, args...)
	cmd.Dir = b.projectPath
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.mu.Unlock()
		return b.fail(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.mu.Unlock()
		return b.fail(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return b.fail(fmt.Errorf("start %s: %w", b.Name(), err))
	}

	exited := make(chan struct{})
	b.cmd = cmd
	b.exited = exited
	b.cancelled = false
	b.words += agent.CountWords(prompt)
	b.mu.Unlock()

	log := slog.With("component", "agent", "agent", b.Name(), "pid", cmd.Process.Pid)
	log.Debug("agent process started")
	b.SetStatus(agent.StateRunning, "")

	stop := context.AfterFunc(ctx, func() { _ = b.cancel() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer logging.LogPanic("ephemeral-stderr", nil)
		b.readStderr(stderr)
	}()
	b.readStdout(stdout)
	wg.Wait()
	waitErr := cmd.Wait()

	b.mu.Lock()
	b.cmd = nil
	b.exited = nil
	if b.killTimer != nil {
		b.killTimer.Stop()
		b.killTimer = nil
	}
	words := b.words
	b.mu.Unlock()
	defer close(exited)

	b.Emit(agent.Message{Type: agent.MsgTokenCount, Tokens: agent.TokensForWords(words)})

	if waitErr != nil {
		exitErr := &agent.ExitError{Agent: b.Name(), Code: -1}
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			exitErr.Code = ee.ExitCode()
		}
		log.Warn("agent process failed", "error", waitErr)
		b.SetStatus(agent.StateError, exitErr.Error())
		return exitErr
	}

	log.Debug("agent process finished")
	b.SetStatus(agent.StateIdle, "")
	return nil
}

// fail reports err as an error status and returns it.
func (b *Backend) fail(err error) error {
	b.SetStatus(agent.StateError, err.Error())
	return err
}

func (b *Backend) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()

		b.mu.Lock()
		b.words += agent.CountWords(line)
		b.mu.Unlock()

		b.Emit(agent.Message{Type: agent.MsgModelOutput, Text: line})

		if m := fsEditPattern.FindStringSubmatch(line); m != nil {
			b.Emit(agent.Message{
				Type:   agent.MsgFSEdit,
				Action: strings.ToLower(m[1]),
				Path:   m[2],
			})
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("agent stdout ended", "agent", b.Name(), "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (b *Backend) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if isErrorLine(line) {
			b.Notify(line)
			continue
		}
		slog.Debug("agent stderr", "agent", b.Name(), "line", line)
	}
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}

func isErrorLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range stderrMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Cancel implements agent.Backend. The process gets SIGTERM and, if it is
// still alive after the grace period, SIGKILL.
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
	exited := b.exited
	b.mu.Unlock()
	if exited == nil {
		return nil
	}
	select {
	case <-exited:
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
	if b.killTimer != nil {
		b.killTimer.Stop()
		b.killTimer = nil
	}
	b.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s: %w", b.Name(), err)
		}
	}
	return nil
}
