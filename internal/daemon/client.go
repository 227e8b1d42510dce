package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// RequestTimeout bounds a full request/response round trip.
const RequestTimeout = 3 * time.Second

// Client sends one-shot requests to the daemon over its Unix socket.
// Each request opens its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new daemon client.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	return &Client{
		socketPath: socketPath,
		timeout:    RequestTimeout,
	}
}

// WithTimeout returns a copy of c using timeout for each round trip.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// SocketPath returns the socket path this client connects to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Send delivers req and returns the daemon's response.
//
// A missing socket or refused connection yields a failed response saying the
// daemon is not running, not an error. A connection closed before a full
// response line yields a failed response as well. Timeouts return
// ErrRequestTimeout and unparseable responses return ErrProtocol.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if isNotRunning(err) {
			return Fail(msgNotRunning), nil
		}
		if isTimeout(ctx, err) {
			return nil, ErrRequestTimeout
		}
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock I/O if the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := writeLine(conn, req); err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrRequestTimeout
		}
		if isClosed(err) {
			return Fail(msgClosedBeforeReply), nil
		}
		return nil, fmt.Errorf("write request: %w", err)
	}

	line, err := NewLineReader(conn).ReadLine()
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrRequestTimeout
		}
		if isClosed(err) {
			return Fail(msgClosedBeforeReply), nil
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &resp, nil
}

func isNotRunning(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, os.ErrNotExist)
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsNotRunning reports whether resp is the soft failure for a missing daemon.
func IsNotRunning(resp *Response) bool {
	return resp != nil && !resp.Success && resp.Error == msgNotRunning
}

// call sends req and decodes a successful payload into out.
func (c *Client) call(ctx context.Context, req *Request, out any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if IsNotRunning(resp) {
		return ErrDaemonNotRunning
	}
	if !resp.Success {
		return NewServerError(string(req.Type), resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", ErrProtocol, req.Type, err)
	}
	return nil
}

// Ping checks that the daemon answers and returns its PID.
func (c *Client) Ping(ctx context.Context) (*PingData, error) {
	var data PingData
	if err := c.call(ctx, &Request{Type: CmdPing}, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// IsRunning reports whether a daemon answers ping.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}

// Status returns the daemon's full state.
func (c *Client) Status(ctx context.Context) (*DaemonState, error) {
	var state DaemonState
	if err := c.call(ctx, &Request{Type: CmdStatus}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// StatusOrDefault returns the daemon's state, or {running:false} if it
// cannot be reached.
func (c *Client) StatusOrDefault(ctx context.Context) DaemonState {
	state, err := c.Status(ctx)
	if err != nil {
		return DaemonState{Running: false}
	}
	return *state
}

// RequestStop asks the daemon to shut down and reports whether it accepted.
func (c *Client) RequestStop(ctx context.Context) bool {
	return c.call(ctx, &Request{Type: CmdStop}, nil) == nil
}

// ListSessions returns the daemon's sessions. It returns an empty list if the
// daemon cannot be reached.
func (c *Client) ListSessions(ctx context.Context) []SessionInfo {
	var sessions []SessionInfo
	if err := c.call(ctx, &Request{Type: CmdListSessions}, &sessions); err != nil || sessions == nil {
		return []SessionInfo{}
	}
	return sessions
}

// StartSession starts an agent session inside the daemon.
func (c *Client) StartSession(ctx context.Context, agentType, projectPath, prompt string) (*StartSessionData, error) {
	req := &Request{
		Type:        CmdStartSession,
		AgentType:   agentType,
		ProjectPath: projectPath,
		Prompt:      prompt,
	}
	var data StartSessionData
	if err := c.call(ctx, req, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// StopSession disposes an agent session inside the daemon.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, &Request{Type: CmdStopSession, SessionID: sessionID}, nil)
}

// SendMessage dispatches a prompt to an agent session inside the daemon.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) error {
	return c.call(ctx, &Request{Type: CmdSendMessage, SessionID: sessionID, Message: message}, nil)
}
