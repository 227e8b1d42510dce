package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/tessro/tether/internal/paths"
)

// Supervisor timeouts.
const (
	DefaultReadyTimeout        = 10 * time.Second
	DefaultGracefulStopTimeout = 5 * time.Second
	DefaultForceStopTimeout    = 2 * time.Second
)

// startLockRetry is how often a concurrent start polls the start lock.
const startLockRetry = 50 * time.Millisecond

// Supervisor starts, stops and inspects the background daemon from a
// foreground process. It never talks to the daemon over the socket; it
// relies on the PID and status files alone.
type Supervisor struct {
	Layout paths.Layout

	// Executable is the binary to fork. Empty means os.Executable().
	Executable string
	// Args are passed to Executable. Nil means "daemon run".
	Args []string
	// Env is appended to the inherited environment of the daemon.
	Env []string

	ReadyTimeout        time.Duration
	GracefulStopTimeout time.Duration
	ForceStopTimeout    time.Duration

	mu sync.Mutex
	// +checklocks:mu
	children map[int]<-chan struct{} // exit signals of daemons this process forked
}

// NewSupervisor creates a supervisor for the daemon described by layout.
func NewSupervisor(layout paths.Layout) *Supervisor {
	return &Supervisor{
		Layout:              layout,
		ReadyTimeout:        DefaultReadyTimeout,
		GracefulStopTimeout: DefaultGracefulStopTimeout,
		ForceStopTimeout:    DefaultForceStopTimeout,
	}
}

// Status reports whether the daemon is running, from the PID and status
// files. A PID file naming a dead process reports not running with an
// explanatory error message.
func (s *Supervisor) Status() DaemonState {
	pid, err := ReadPID(s.Layout.PID)
	if err != nil {
		if os.IsNotExist(err) {
			return DaemonState{Running: false}
		}
		return DaemonState{Running: false, ErrorMessage: err.Error()}
	}

	var running bool
	if _, ours := s.child(pid); ours {
		running = s.alive(pid)
	} else {
		running, _ = IsDaemonRunning(s.Layout.PID, s.Layout.Lock)
	}
	if !running {
		return DaemonState{
			Running:      false,
			ErrorMessage: fmt.Sprintf("stale pid file: process %d is not running", pid),
		}
	}

	sf, err := ReadStatusFile(s.Layout.Status)
	if err == nil && sf.PID == pid {
		return sf.State(time.Now())
	}
	return DaemonState{Running: true, PID: pid, ConnectionState: StateConnecting}
}

// Start forks the daemon unless one is already running, and waits for it
// to report readiness. Concurrent starts are serialized by a file lock so
// at most one daemon is spawned.
func (s *Supervisor) Start(ctx context.Context) DaemonState {
	if st := s.Status(); st.Running {
		return st
	}

	if err := os.MkdirAll(s.Layout.Dir, 0700); err != nil {
		return DaemonState{ErrorMessage: fmt.Sprintf("create state directory: %v", err)}
	}

	lock := flock.New(s.Layout.StartLock)
	lockCtx, cancel := context.WithTimeout(ctx, s.readyTimeout()+s.forceStopTimeout())
	locked, err := lock.TryLockContext(lockCtx, startLockRetry)
	cancel()
	if err != nil || !locked {
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return DaemonState{ErrorMessage: fmt.Sprintf("another start is in progress: %v", err)}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("release start lock failed", "error", err)
		}
	}()

	// Another caller may have finished a start while we waited for the lock.
	if st := s.Status(); st.Running {
		return st
	}
	if CleanStalePID(s.Layout.PID, s.Layout.Lock) {
		slog.Debug("removed stale pid file", "path", s.Layout.PID)
	}
	removeFiles(s.Layout.Socket, s.Layout.Status)

	return s.spawn(ctx)
}

func (s *Supervisor) spawn(ctx context.Context) DaemonState {
	exe := s.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return DaemonState{ErrorMessage: fmt.Sprintf("locate executable: %v", err)}
		}
	}
	args := s.Args
	if args == nil {
		args = []string{"daemon", "run"}
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return DaemonState{ErrorMessage: fmt.Sprintf("create readiness pipe: %v", err)}
	}
	defer readyR.Close()

	logFile, err := os.OpenFile(s.Layout.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		readyW.Close()
		return DaemonState{ErrorMessage: fmt.Sprintf("open daemon log: %v", err)}
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{readyW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(),
		EnvDaemon+"=1",
		EnvReadyFD+"="+strconv.Itoa(readyFD),
		paths.EnvDir+"="+s.Layout.Dir,
		paths.EnvSocketPath+"="+s.Layout.Socket,
		paths.EnvPIDPath+"="+s.Layout.PID,
	)
	cmd.Env = append(cmd.Env, s.Env...)

	err = cmd.Start()
	// The child holds its own copies now.
	readyW.Close()
	logFile.Close()
	if err != nil {
		return DaemonState{ErrorMessage: fmt.Sprintf("spawn daemon: %v", err)}
	}

	pid := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	s.track(pid, exited)

	slog.Debug("daemon spawned", "pid", pid, "executable", exe)

	readyCtx, cancel := context.WithTimeout(ctx, s.readyTimeout())
	defer cancel()
	if err := waitReady(readyCtx, readyR, exited); err != nil {
		_ = cmd.Process.Kill()
		select {
		case <-exited:
		case <-time.After(s.forceStopTimeout()):
		}
		removeFiles(s.Layout.DaemonFiles()...)
		return DaemonState{ErrorMessage: err.Error()}
	}

	if err := WritePID(s.Layout.PID, pid); err != nil {
		slog.Warn("write pid file failed", "error", err)
	}
	return DaemonState{
		Running:         true,
		PID:             pid,
		StartedAt:       time.Now(),
		ConnectionState: StateConnecting,
	}
}

// Stop terminates the daemon: SIGTERM, then SIGKILL if it outlives the
// graceful timeout. The PID, status and socket files are removed whatever
// the outcome. Stopping a daemon that is not running is a no-op, and a PID
// file naming a process that does not hold the daemon lock is never
// signalled.
func (s *Supervisor) Stop(ctx context.Context) DaemonState {
	defer removeFiles(s.Layout.DaemonFiles()...)

	pid, err := ReadPID(s.Layout.PID)
	if err != nil || !s.alive(pid) {
		return DaemonState{Running: false}
	}

	slog.Debug("stopping daemon", "pid", pid)
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return DaemonState{Running: false}
		}
		return DaemonState{Running: true, PID: pid, ErrorMessage: fmt.Sprintf("signal daemon: %v", err)}
	}
	if s.waitExit(ctx, pid, s.gracefulStopTimeout()) {
		return DaemonState{Running: false}
	}

	slog.Warn("daemon ignored SIGTERM, killing", "pid", pid)
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return DaemonState{Running: true, PID: pid, ErrorMessage: fmt.Sprintf("kill daemon: %v", err)}
	}
	if s.waitExit(ctx, pid, s.forceStopTimeout()) {
		return DaemonState{Running: false}
	}
	return DaemonState{
		Running:      true,
		PID:          pid,
		ErrorMessage: fmt.Sprintf("daemon (pid %d) did not exit", pid),
	}
}

func (s *Supervisor) track(pid int, exited <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.children == nil {
		s.children = make(map[int]<-chan struct{})
	}
	s.children[pid] = exited
}

func (s *Supervisor) child(pid int) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.children[pid]
	return ch, ok
}

// alive reports whether pid is running. A daemon forked by this process is
// judged by its reaped exit status, since an unreaped child still answers
// signal 0. Any other process must also hold the daemon lock.
func (s *Supervisor) alive(pid int) bool {
	if exited, ok := s.child(pid); ok {
		select {
		case <-exited:
			return false
		default:
			return true
		}
	}
	return IsProcessRunning(pid) && lockHeld(s.Layout.Lock)
}

func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if exited, ok := s.child(pid); ok {
		select {
		case <-exited:
			return true
		case <-ctx.Done():
			return false
		}
	}
	return waitForExit(ctx, pid)
}

func (s *Supervisor) readyTimeout() time.Duration {
	if s.ReadyTimeout > 0 {
		return s.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (s *Supervisor) gracefulStopTimeout() time.Duration {
	if s.GracefulStopTimeout > 0 {
		return s.GracefulStopTimeout
	}
	return DefaultGracefulStopTimeout
}

func (s *Supervisor) forceStopTimeout() time.Duration {
	if s.ForceStopTimeout > 0 {
		return s.ForceStopTimeout
	}
	return DefaultForceStopTimeout
}
