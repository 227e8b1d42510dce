package agent

import (
	"encoding/json"
	"time"
)

// MessageType discriminates agent messages.
type MessageType string

const (
	MsgStatus             MessageType = "status"
	MsgModelOutput        MessageType = "model-output"
	MsgFSEdit             MessageType = "fs-edit"
	MsgTokenCount         MessageType = "token-count"
	MsgPermissionRequest  MessageType = "permission-request"
	MsgPermissionResponse MessageType = "permission-response"
)

// Message is one event emitted by a backend. Which fields are set depends
// on Type.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID SessionID   `json:"sessionId"`
	Time      time.Time   `json:"time"`

	// status
	State  SessionState `json:"state,omitempty"`
	Detail string       `json:"detail,omitempty"`

	// model-output
	Text string `json:"text,omitempty"`

	// fs-edit
	Action string `json:"action,omitempty"`
	Path   string `json:"path,omitempty"`

	// token-count
	Tokens int `json:"tokens,omitempty"`

	// permission-request and permission-response
	RequestID string          `json:"requestId,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Approved  bool            `json:"approved,omitempty"`
}

// Listener receives agent messages.
type Listener func(Message)
