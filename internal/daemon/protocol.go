// Package daemon provides the tether daemon, its supervisor and the
// newline-delimited JSON protocol spoken over the control socket.
package daemon

import (
	"encoding/json"
	"time"
)

// CommandType identifies the type of IPC request.
type CommandType string

const (
	// Server management
	CmdPing     CommandType = "ping"
	CmdStatus   CommandType = "status"
	CmdStop     CommandType = "stop"
	CmdShutdown CommandType = "shutdown" // same as stop

	// Sessions
	CmdListSessions CommandType = "list-sessions"
	CmdStartSession CommandType = "start-session"
	CmdStopSession  CommandType = "stop-session"
	CmdSendMessage  CommandType = "send-message"
)

// Request is one IPC request. Requests are flat objects discriminated by Type;
// fields that do not apply to a command are omitted.
type Request struct {
	Type        CommandType `json:"type"`
	AgentType   string      `json:"agentType,omitempty"`
	ProjectPath string      `json:"projectPath,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Response is the envelope for all IPC responses.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	// afterSend runs once the response has been written to the peer.
	afterSend func()
}

// OK builds a successful response carrying data.
func OK(data any) *Response {
	resp := &Response{Success: true}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail("encode response: " + err.Error())
	}
	resp.Data = raw
	return resp
}

// Fail builds a failed response.
func Fail(msg string) *Response {
	return &Response{Success: false, Error: msg}
}

// Then schedules fn to run after the response is written.
func (r *Response) Then(fn func()) *Response {
	r.afterSend = fn
	return r
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ConnectionState is the state of the daemon's relay connection.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateConnecting   ConnectionState = "connecting"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// DaemonState describes the daemon as seen from outside. The session count
// and error message are always present on the wire.
type DaemonState struct {
	Running         bool            `json:"running"`
	PID             int             `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt       time.Time       `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	ConnectionState ConnectionState `json:"connectionState,omitempty" yaml:"connectionState,omitempty"`
	ActiveSessions  int             `json:"activeSessions" yaml:"activeSessions"`
	UptimeSeconds   int64           `json:"uptimeSeconds,omitempty" yaml:"uptimeSeconds,omitempty"`
	LastHeartbeat   time.Time       `json:"lastHeartbeat,omitzero" yaml:"lastHeartbeat,omitempty"`
	ErrorMessage    string          `json:"errorMessage" yaml:"errorMessage"`
}

// PingData is the payload of a ping response.
type PingData struct {
	Pong bool `json:"pong"`
	PID  int  `json:"pid"`
}

// SessionKind distinguishes relay devices from local agent sessions.
type SessionKind string

const (
	SessionDevice SessionKind = "device"
	SessionAgent  SessionKind = "agent"
)

// SessionInfo is one entry of a list-sessions response.
type SessionInfo struct {
	ID          string      `json:"id"`
	Kind        SessionKind `json:"kind"`
	Name        string      `json:"name,omitempty"`
	Platform    string      `json:"platform,omitempty"`
	AgentType   string      `json:"agentType,omitempty"`
	ProjectPath string      `json:"projectPath,omitempty"`
	State       string      `json:"state,omitempty"`
	StartedAt   time.Time   `json:"startedAt,omitzero"`
}

// StartSessionData is the payload of a start-session response.
type StartSessionData struct {
	SessionID string `json:"sessionId"`
	AgentType string `json:"agentType"`
}
