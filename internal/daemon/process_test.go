package daemon

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/logging"
	"github.com/tessro/tether/internal/paths"
	"github.com/tessro/tether/internal/relay"
)

// fakeConn is a relay connection driven by the test.
type fakeConn struct {
	events chan relay.Event

	// brokenHeartbeat makes LastHeartbeat panic.
	brokenHeartbeat atomic.Bool

	mu           sync.Mutex
	devices      []relay.Device
	disconnected bool
}

func newFakeConn(devices ...relay.Device) *fakeConn {
	return &fakeConn{events: make(chan relay.Event, 16), devices: devices}
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.events <- relay.Event{Kind: relay.EventConnecting, At: time.Now()}
	f.events <- relay.Event{Kind: relay.EventSubscribed, At: time.Now()}
	return nil
}

func (f *fakeConn) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return nil
	}
	f.disconnected = true
	f.events <- relay.Event{Kind: relay.EventClosed, At: time.Now()}
	close(f.events)
	return nil
}

func (f *fakeConn) Events() <-chan relay.Event { return f.events }

func (f *fakeConn) Devices() []relay.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relay.Device(nil), f.devices...)
}

func (f *fakeConn) LastHeartbeat() time.Time {
	if f.brokenHeartbeat.Load() {
		panic("heartbeat clock broken")
	}
	return time.Time{}
}

// stubBackend is an agent that answers instantly.
type stubBackend struct {
	*agent.Base
}

func (s *stubBackend) StartSession(ctx context.Context, opts agent.StartOptions) (agent.SessionID, error) {
	id, err := s.Mint()
	if err != nil {
		return "", err
	}
	s.SetStatus(agent.StateIdle, "")
	return id, nil
}

func (s *stubBackend) SendPrompt(ctx context.Context, id agent.SessionID, prompt string) error {
	return s.Check(id)
}

func (s *stubBackend) Cancel(id agent.SessionID) error               { return s.Check(id) }
func (s *stubBackend) WaitForResponseComplete(context.Context) error { return nil }

func (s *stubBackend) Dispose() error {
	s.MarkDisposed()
	return nil
}

// crashingBackend panics when a session starts.
type crashingBackend struct {
	stubBackend
}

func (c *crashingBackend) StartSession(context.Context, agent.StartOptions) (agent.SessionID, error) {
	panic("agent exploded")
}

func stubRegistry() *agent.Registry {
	r := agent.NewRegistry()
	r.Register("stub", func(agent.Options) agent.Backend {
		return &stubBackend{Base: agent.NewBase(agent.Persistent, "stub")}
	})
	r.Register("crashing", func(agent.Options) agent.Backend {
		return &crashingBackend{stubBackend{Base: agent.NewBase(agent.Ephemeral, "crashing")}}
	})
	return r
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type runningProcess struct {
	p      *Process
	layout paths.Layout
	client *Client
	ready  *syncBuffer
	errc   chan error
}

func startProcess(t *testing.T, conn relay.Conn) *runningProcess {
	t.Helper()
	logging.Discard()

	layout := paths.In(shortDir(t))
	ready := &syncBuffer{}
	p := NewProcess(Options{
		Layout:         layout,
		Version:        "test",
		Agents:         stubRegistry(),
		Relay:          conn,
		SkipModeCheck:  true,
		StatusInterval: 20 * time.Millisecond,
		Ready:          ready,
	})

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()

	rp := &runningProcess{p: p, layout: layout, client: NewClient(layout.Socket), ready: ready, errc: errc}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(ready.String(), `"ready"`) {
		select {
		case err := <-errc:
			t.Fatalf("Run returned early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon did not signal readiness")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() {
		p.Shutdown()
		<-p.Done()
	})
	return rp
}

func (rp *runningProcess) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-rp.errc:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcess_RequiresDaemonMode(t *testing.T) {
	t.Setenv(EnvDaemon, "")
	p := NewProcess(Options{Layout: paths.In(shortDir(t)), Agents: stubRegistry()})
	if err := p.Run(context.Background()); !errors.Is(err, ErrNotDaemonMode) {
		t.Errorf("Run() = %v, want ErrNotDaemonMode", err)
	}
}

func TestProcess_PingStatusAndStop(t *testing.T) {
	rp := startProcess(t, newFakeConn())
	ctx := context.Background()

	ping, err := rp.client.Ping(ctx)
	if err != nil || !ping.Pong || ping.PID != os.Getpid() {
		t.Fatalf("Ping() = %+v, %v", ping, err)
	}

	waitFor(t, "connected state", func() bool {
		st, err := rp.client.Status(ctx)
		return err == nil && st.ConnectionState == StateConnected
	})

	pid, err := ReadPID(rp.layout.PID)
	if err != nil || pid != os.Getpid() {
		t.Errorf("pid file = %d, %v", pid, err)
	}
	waitFor(t, "status file", func() bool {
		sf, err := ReadStatusFile(rp.layout.Status)
		return err == nil && sf.ConnectionState == StateConnected
	})

	if !rp.client.RequestStop(ctx) {
		t.Fatal("stop request was not acknowledged")
	}
	rp.wait(t)

	for _, f := range rp.layout.DaemonFiles() {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s still exists after stop", f)
		}
	}
	if rp.client.IsRunning(ctx) {
		t.Error("daemon still answers after stop")
	}
}

func TestProcess_MissingCredentialsIsErrorState(t *testing.T) {
	logging.Discard()
	layout := paths.In(shortDir(t))
	p := NewProcess(Options{
		Layout:        layout,
		Agents:        stubRegistry(),
		SkipModeCheck: true,
		Ready:         &syncBuffer{},
	})
	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()

	client := NewClient(layout.Socket)
	waitFor(t, "daemon", func() bool { return client.IsRunning(context.Background()) })

	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !st.Running || st.ConnectionState != StateError || st.ErrorMessage == "" {
		t.Errorf("status = %+v, want error state with a message", st)
	}

	p.Shutdown()
	if err := <-errc; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestProcess_SecondInstanceRefused(t *testing.T) {
	rp := startProcess(t, newFakeConn())

	second := NewProcess(Options{Layout: rp.layout, Agents: stubRegistry(), SkipModeCheck: true})
	if err := second.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	if !rp.client.IsRunning(context.Background()) {
		t.Error("first daemon stopped answering")
	}
}

func TestProcess_Sessions(t *testing.T) {
	connected := time.Now().Add(-time.Minute)
	rp := startProcess(t, newFakeConn(relay.Device{ID: "phone-1", Name: "Phone", Platform: "ios", ConnectedAt: connected}))
	ctx := context.Background()

	if _, err := rp.client.StartSession(ctx, "stub", "", ""); err == nil {
		t.Error("start-session without a project path should fail")
	}
	if _, err := rp.client.StartSession(ctx, "nope", "/src", ""); err == nil {
		t.Error("start-session with an unknown agent should fail")
	}

	started, err := rp.client.StartSession(ctx, "stub", "/src", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	sessions := rp.client.ListSessions(ctx)
	if len(sessions) != 2 {
		t.Fatalf("ListSessions() = %+v, want device and agent", sessions)
	}
	if sessions[0].Kind != SessionDevice || sessions[0].ID != "phone-1" {
		t.Errorf("first session = %+v", sessions[0])
	}
	if sessions[1].Kind != SessionAgent || sessions[1].ID != started.SessionID || sessions[1].ProjectPath != "/src" {
		t.Errorf("second session = %+v", sessions[1])
	}

	st, err := rp.client.Status(ctx)
	if err != nil || st.ActiveSessions != 2 {
		t.Errorf("Status() = %+v, %v, want 2 active sessions", st, err)
	}

	if err := rp.client.SendMessage(ctx, started.SessionID, "hello"); err != nil {
		t.Errorf("SendMessage: %v", err)
	}
	if err := rp.client.StopSession(ctx, started.SessionID); err != nil {
		t.Errorf("StopSession: %v", err)
	}
	if err := rp.client.StopSession(ctx, started.SessionID); err == nil {
		t.Error("stopping a stopped session should fail")
	}
}

func TestProcess_UnknownCommand(t *testing.T) {
	rp := startProcess(t, newFakeConn())

	resp, err := rp.client.Send(context.Background(), &Request{Type: "reboot"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || !strings.Contains(resp.Error, "reboot") {
		t.Errorf("response = %+v", resp)
	}
}

func TestProcess_ShutdownIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	rp := startProcess(t, conn)

	rp.p.Shutdown()
	rp.p.Shutdown()
	rp.wait(t)

	conn.mu.Lock()
	disconnected := conn.disconnected
	conn.mu.Unlock()
	if !disconnected {
		t.Error("relay was not disconnected")
	}
}

func TestProcess_HandlerPanicIsReported(t *testing.T) {
	rp := startProcess(t, newFakeConn())
	ctx := context.Background()

	resp, err := rp.client.Send(ctx, &Request{Type: CmdStartSession, AgentType: "crashing", ProjectPath: "/src"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "agent exploded") {
		t.Errorf("response = %+v, want failure naming the panic", resp)
	}

	st, err := rp.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(st.ErrorMessage, "agent exploded") {
		t.Errorf("ErrorMessage = %q, want the recorded panic", st.ErrorMessage)
	}
	if !rp.client.IsRunning(ctx) {
		t.Error("daemon stopped answering after a handler panic")
	}
}

func TestProcess_ListenerPanicIsReported(t *testing.T) {
	rp := startProcess(t, newFakeConn())
	ctx := context.Background()

	started, err := rp.client.StartSession(ctx, "stub", "/src", "")
	if err != nil {
		t.Fatal(err)
	}
	sess, ok := rp.p.sessions.Get(agent.SessionID(started.SessionID))
	if !ok {
		t.Fatal("session not in table")
	}
	sess.Backend.Subscribe(func(agent.Message) { panic("listener broke") })
	sess.Backend.(*stubBackend).Notify("ping")

	waitFor(t, "recorded listener panic", func() bool {
		st, err := rp.client.Status(ctx)
		return err == nil && strings.Contains(st.ErrorMessage, "listener broke")
	})
}

func TestProcess_StatusWriterSurvivesPanic(t *testing.T) {
	conn := newFakeConn()
	rp := startProcess(t, conn)

	conn.brokenHeartbeat.Store(true)
	waitFor(t, "recorded status panic", func() bool {
		rp.p.mu.Lock()
		defer rp.p.mu.Unlock()
		return rp.p.panicMsg != ""
	})
	conn.brokenHeartbeat.Store(false)

	// The loop keeps ticking and reports the panic through the status file.
	waitFor(t, "status file with panic", func() bool {
		sf, err := ReadStatusFile(rp.layout.Status)
		return err == nil && strings.Contains(sf.ErrorMessage, "heartbeat clock broken")
	})
}
