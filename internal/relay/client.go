package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/tessro/tether/internal/logging"
)

const (
	// DefaultHeartbeatInterval is how often a heartbeat is sent while subscribed.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultReconnectInterval bounds how often connection attempts are made.
	DefaultReconnectInterval = 2 * time.Second

	writeTimeout = 10 * time.Second
	readLimit    = 512 * 1024
	eventBuffer  = 64
)

// Message types of the relay protocol.
const (
	TypeMachineSubscribe = "machine.subscribe"
	TypeMachineHeartbeat = "machine.heartbeat"
	TypeSubscribed       = "subscribed"
	TypeDevices          = "devices"
	TypeError            = "error"
)

// envelope wraps every relay message with a type field for routing.
type envelope struct {
	Type string `json:"type"`
}

type subscribeMsg struct {
	Type      string `json:"type"`
	MachineID string `json:"machine_id"`
	Version   string `json:"version,omitempty"`
}

type heartbeatMsg struct {
	Type      string `json:"type"`
	MachineID string `json:"machine_id"`
}

type devicesMsg struct {
	Type    string   `json:"type"`
	Devices []Device `json:"devices"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client is the WebSocket implementation of Conn.
type Client struct {
	URL       string
	Token     string
	MachineID string
	Version   string

	// HeartbeatInterval overrides DefaultHeartbeatInterval when non-zero.
	HeartbeatInterval time.Duration
	// ReconnectInterval overrides DefaultReconnectInterval when non-zero.
	ReconnectInterval time.Duration

	events  chan Event
	closing atomic.Bool

	mu sync.Mutex
	// +checklocks:mu
	conn *websocket.Conn
	// +checklocks:mu
	devices []Device
	// +checklocks:mu
	lastHeartbeat time.Time
	// +checklocks:mu
	cancel context.CancelFunc
	// +checklocks:mu
	done chan struct{}
}

// Verify Client implements Conn.
var _ Conn = (*Client)(nil)

// NewClient creates a relay client from persisted credentials.
func NewClient(creds *Credentials, version string) *Client {
	return &Client{
		URL:       creds.RelayURL,
		Token:     creds.Token,
		MachineID: creds.MachineID,
		Version:   version,
		events:    make(chan Event, eventBuffer),
	}
}

// Events implements Conn.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Devices implements Conn.
func (c *Client) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// LastHeartbeat implements Conn.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Connect implements Conn. The connection loop runs until Disconnect is
// called or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("relay: already connecting")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	return nil
}

// Disconnect implements Conn.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	c.closing.Store(true)
	var closeErr error
	if conn != nil {
		closeErr = conn.Close(websocket.StatusNormalClosure, "daemon shutting down")
		if websocket.CloseStatus(closeErr) == websocket.StatusNormalClosure {
			closeErr = nil
		}
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("relay: disconnect: %w", ctx.Err())
	}
	return closeErr
}

func (c *Client) reconnectInterval() time.Duration {
	if c.ReconnectInterval > 0 {
		return c.ReconnectInterval
	}
	return DefaultReconnectInterval
}

func (c *Client) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// run is the connection loop. Every attempt raises EventConnecting; attempts
// that fail before subscribing raise EventError, established connections that
// drop raise EventClosed.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer close(c.events)
	defer logging.LogPanic("relay-client", func(r any) {
		c.emitFinal(Event{Kind: EventError, Err: fmt.Errorf("relay: panic: %v", r), At: time.Now()})
	})

	limiter := rate.NewLimiter(rate.Every(c.reconnectInterval()), 1)
	log := slog.With("component", "relay", "url", c.URL)

	for {
		if err := limiter.Wait(ctx); err != nil {
			c.emitFinal(Event{Kind: EventClosed, At: time.Now()})
			return
		}

		c.emit(ctx, Event{Kind: EventConnecting, At: time.Now()})
		subscribed, err := c.connectAndServe(ctx)
		if ctx.Err() != nil || c.closing.Load() {
			c.emitFinal(Event{Kind: EventClosed, At: time.Now()})
			return
		}

		if subscribed {
			log.Warn("relay connection lost", "error", err)
			c.emit(ctx, Event{Kind: EventClosed, Err: err, At: time.Now()})
		} else {
			log.Warn("relay connection failed", "error", err)
			c.emit(ctx, Event{Kind: EventError, Err: err, At: time.Now()})
		}
	}
}

// emit delivers ev unless the loop is being torn down.
func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// emitFinal delivers the last event without blocking on a reader that is gone.
func (c *Client) emitFinal(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("relay event dropped", "kind", ev.Kind)
	}
}

func (c *Client) connectAndServe(ctx context.Context) (subscribed bool, err error) {
	opts := &websocket.DialOptions{
		HTTPHeader: make(http.Header),
	}
	opts.HTTPHeader.Set("Authorization", "Bearer "+c.Token)

	conn, _, err := websocket.Dial(ctx, c.URL, opts)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		conn.CloseNow()
		c.mu.Lock()
		c.conn = nil
		c.devices = nil
		c.mu.Unlock()
	}()

	sub := subscribeMsg{Type: TypeMachineSubscribe, MachineID: c.MachineID, Version: c.Version}
	if err := c.writeJSON(ctx, conn, sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("bad relay message", "error", err)
			continue
		}

		switch env.Type {
		case TypeSubscribed:
			if !subscribed {
				subscribed = true
				c.emit(ctx, Event{Kind: EventSubscribed, At: time.Now()})
				go c.heartbeatLoop(hbCtx, conn)
			}

		case TypeDevices:
			var msg devicesMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("bad devices message", "error", err)
				continue
			}
			c.mu.Lock()
			c.devices = msg.Devices
			c.mu.Unlock()

		case TypeError:
			var msg errorMsg
			_ = json.Unmarshal(data, &msg)
			if !subscribed {
				return false, fmt.Errorf("relay rejected subscription: %s", msg.Message)
			}
			slog.Warn("relay error", "message", msg.Message)

		default:
			slog.Debug("unknown relay message type", "type", env.Type)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	defer logging.LogPanic("relay-heartbeat", nil)

	ticker := time.NewTicker(c.heartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := heartbeatMsg{Type: TypeMachineHeartbeat, MachineID: c.MachineID}
			if err := c.writeJSON(ctx, conn, hb); err != nil {
				return
			}
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
		}
	}
}

func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
