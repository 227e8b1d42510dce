package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/agent/builtin"
	"github.com/tessro/tether/internal/config"
	"github.com/tessro/tether/internal/logging"
	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/permissions"
	"github.com/tessro/tether/internal/relay"
)

// disconnectTimeout bounds how long shutdown waits for the relay to close.
const disconnectTimeout = 5 * time.Second

// Options configures a daemon Process.
type Options struct {
	Layout  paths.Layout
	Config  *config.Config
	Version string

	// Agents builds agent backends. Nil uses the built-in registry.
	Agents *agent.Registry

	// Permissions answers agent permission requests. Nil uses the rules in
	// the layout's permissions.toml and the project's own rules file.
	Permissions agent.Decider

	// Relay replaces the connection built from the credentials file.
	Relay relay.Conn

	// SkipModeCheck runs without TETHER_DAEMON=1 in the environment.
	SkipModeCheck bool

	// StatusInterval overrides the configured status file interval.
	StatusInterval time.Duration

	// Ready receives the readiness line. Nil uses the TETHER_READY_FD
	// descriptor, if any.
	Ready io.Writer
}

// Process is the running daemon: it owns the control socket, the relay
// connection, the agent sessions and the PID and status files.
type Process struct {
	opts     Options
	layout   paths.Layout
	sessions *agent.Sessions
	server   *Server
	lock     *flock.Flock

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	mu sync.Mutex
	// +checklocks:mu
	pid int
	// +checklocks:mu
	startedAt time.Time
	// +checklocks:mu
	conn ConnState
	// +checklocks:mu
	relay relay.Conn
	// +checklocks:mu
	shuttingDown bool
	// +checklocks:mu
	panicMsg string
}

// NewProcess creates a daemon process. Run starts it.
func NewProcess(opts Options) *Process {
	if opts.Layout.Dir == "" {
		opts.Layout = paths.Default()
	}
	registry := opts.Agents
	if registry == nil {
		registry = builtin.Registry(opts.Config)
	}
	sessions := agent.NewSessions(registry)
	decider := opts.Permissions
	if decider == nil && opts.Layout.Permissions != "" {
		decider = permissions.NewEvaluator(opts.Layout.Permissions).Decide
	}
	sessions.SetDecider(decider)

	p := &Process{
		opts:     opts,
		layout:   opts.Layout,
		sessions: sessions,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		conn:     ConnState{State: StateDisconnected},
	}
	sessions.SetPanicHandler(p.recordPanic)
	return p
}

// Run starts the daemon and blocks until it is told to stop by a signal,
// an IPC stop request, or ctx. Everything it created is torn down before
// it returns.
func (p *Process) Run(ctx context.Context) error {
	defer close(p.done)

	if !p.opts.SkipModeCheck && os.Getenv(EnvDaemon) != "1" {
		return ErrNotDaemonMode
	}

	l := p.layout
	if err := os.MkdirAll(l.Dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	p.lock = flock.New(l.Lock)
	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := p.lock.Unlock(); err != nil {
			slog.Warn("release daemon lock failed", "error", err)
		}
	}()

	pid := os.Getpid()
	p.mu.Lock()
	p.pid = pid
	p.startedAt = time.Now()
	p.mu.Unlock()

	if err := WritePID(l.PID, pid); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	p.server = NewServer(l.Socket, p)
	if err := p.server.Start(); err != nil {
		removeFiles(l.DaemonFiles()...)
		return err
	}

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	p.connectRelay(relayCtx)

	p.writeStatus()
	p.wg.Add(1)
	go p.statusLoop()

	p.signalReady()
	slog.Info("daemon started", "pid", pid, "socket", l.Socket, "version", p.opts.Version)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-p.stopCh:
		slog.Info("stop requested, shutting down")
	}

	p.teardown(cancelRelay)
	slog.Info("daemon stopped")
	return nil
}

// Shutdown asks Run to stop. It is safe to call more than once and from
// any goroutine.
func (p *Process) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Done is closed when Run has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) teardown(cancelRelay context.CancelFunc) {
	p.mu.Lock()
	p.shuttingDown = true
	conn := p.relay
	p.mu.Unlock()

	p.Shutdown()

	p.sessions.DisposeAll()

	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		if err := conn.Disconnect(ctx); err != nil {
			slog.Warn("relay disconnect failed", "error", err)
		}
		cancel()
	}
	cancelRelay()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(disconnectTimeout):
		slog.Warn("background workers did not stop in time")
	}

	if err := p.server.Stop(); err != nil {
		slog.Warn("stop control server failed", "error", err)
	}
	removeFiles(p.layout.DaemonFiles()...)
}

// connectRelay starts the relay connection and the goroutine that folds
// its events into the connection state. Missing credentials leave the
// daemon running in the error state.
func (p *Process) connectRelay(ctx context.Context) {
	conn := p.opts.Relay
	if conn == nil {
		creds, err := relay.LoadCredentials(p.layout.Credentials, p.opts.Config.GetRelayURL())
		if err != nil {
			slog.Warn("relay unavailable", "error", err)
			p.setConn(ConnState{State: StateError, ErrorMessage: err.Error()})
			return
		}
		conn = relay.NewClient(creds, p.opts.Version)
	}

	p.mu.Lock()
	p.relay = conn
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchRelay(conn)

	if err := conn.Connect(ctx); err != nil {
		slog.Warn("relay connect failed", "error", err)
		p.setConn(ConnState{State: StateError, ErrorMessage: err.Error()})
	}
}

func (p *Process) watchRelay(conn relay.Conn) {
	defer p.wg.Done()
	defer logging.LogPanic("relay-events", p.recordPanic)

	for ev := range conn.Events() {
		p.mu.Lock()
		next := Reduce(p.conn, ev, p.shuttingDown)
		changed := next != p.conn
		p.conn = next
		p.mu.Unlock()

		if changed {
			slog.Info("relay state changed", "state", next.State, "error", next.ErrorMessage)
			p.writeStatus()
		}
	}
}

func (p *Process) setConn(cs ConnState) {
	p.mu.Lock()
	p.conn = cs
	p.mu.Unlock()
}

// recordPanic keeps the last recovered panic for the status report.
func (p *Process) recordPanic(r any) {
	p.mu.Lock()
	p.panicMsg = fmt.Sprintf("internal error: %v", r)
	p.mu.Unlock()
}

func (p *Process) statusLoop() {
	defer p.wg.Done()

	interval := p.opts.StatusInterval
	if interval <= 0 {
		interval = p.opts.Config.GetStatusInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.writeStatus()
		}
	}
}

// writeStatus persists the current snapshot unless shutdown has begun.
// A panic is recorded and does not stop later writes.
func (p *Process) writeStatus() {
	defer logging.LogPanic("status-writer", p.recordPanic)

	p.mu.Lock()
	stopping := p.shuttingDown
	p.mu.Unlock()
	if stopping {
		return
	}

	st := p.Snapshot()
	sf := &StatusFile{
		PID:             st.PID,
		StartedAt:       st.StartedAt,
		ConnectionState: st.ConnectionState,
		ActiveSessions:  st.ActiveSessions,
		LastHeartbeat:   st.LastHeartbeat,
		ErrorMessage:    st.ErrorMessage,
	}
	if err := WriteStatusFile(p.layout.Status, sf); err != nil {
		slog.Warn("write status file failed", "error", err)
	}
}

// signalReady tells the supervisor the socket is accepting connections.
func (p *Process) signalReady() {
	if p.opts.Ready != nil {
		if err := writeReady(p.opts.Ready); err != nil {
			slog.Warn("signal readiness failed", "error", err)
		}
		return
	}

	w, err := readyWriterFromEnv()
	if err != nil {
		slog.Warn("readiness descriptor unusable", "error", err)
		return
	}
	if w == nil {
		return
	}
	defer w.Close()
	if err := writeReady(w); err != nil {
		slog.Warn("signal readiness failed", "error", err)
	}
}

// Snapshot returns the daemon state as reported by the status command.
func (p *Process) Snapshot() DaemonState {
	p.mu.Lock()
	st := DaemonState{
		Running:         true,
		PID:             p.pid,
		StartedAt:       p.startedAt,
		ConnectionState: p.conn.State,
		ErrorMessage:    p.conn.ErrorMessage,
	}
	conn := p.relay
	panicMsg := p.panicMsg
	p.mu.Unlock()

	if st.ErrorMessage == "" {
		st.ErrorMessage = panicMsg
	}
	if !st.StartedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(st.StartedAt).Seconds())
	}
	st.ActiveSessions = p.sessions.Count()
	if conn != nil {
		st.ActiveSessions += len(conn.Devices())
		st.LastHeartbeat = conn.LastHeartbeat()
	}
	return st
}
