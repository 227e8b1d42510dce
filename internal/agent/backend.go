// Package agent defines the uniform interface tether uses to drive external
// AI coding-agent CLIs, plus the registry of agent types and the session table
// the daemon keeps.
//
// Backends come in two closed variants. A Persistent backend keeps one
// long-lived process per session and can answer permission prompts. An
// Ephemeral backend spawns one process per prompt. Only types that embed Base
// satisfy Backend.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags the capability variant of a backend.
type Kind string

const (
	// Persistent backends keep a process alive for the whole session.
	Persistent Kind = "persistent"
	// Ephemeral backends run one process per prompt.
	Ephemeral Kind = "ephemeral"
)

// SessionID identifies a session. It is minted by StartSession.
type SessionID string

// StartOptions configures a new session.
type StartOptions struct {
	// ProjectPath is the working directory of the agent process.
	ProjectPath string

	// InitialPrompt, if set, is dispatched right after the session starts.
	InitialPrompt string
}

// Backend drives one agent CLI for at most one session.
type Backend interface {
	// Kind reports the capability variant.
	Kind() Kind

	// Name returns the agent type, e.g. "aider".
	Name() string

	// StartSession allocates the session id and prepares the backend.
	StartSession(ctx context.Context, opts StartOptions) (SessionID, error)

	// SendPrompt delivers a prompt and returns when the agent has finished
	// responding to it.
	SendPrompt(ctx context.Context, id SessionID, prompt string) error

	// Cancel interrupts whatever the agent is doing. Repeated calls are safe.
	Cancel(id SessionID) error

	// WaitForResponseComplete blocks until no response is in flight.
	WaitForResponseComplete(ctx context.Context) error

	// Dispose kills any running process and drops all listeners.
	Dispose() error

	// Subscribe registers a listener for agent messages.
	Subscribe(l Listener) (unsubscribe func())

	// State returns the session state.
	State() SessionState

	// SessionID returns the active session id, or "" before StartSession.
	SessionID() SessionID

	sealed()
}

// PermissionResponder is implemented by persistent backends only.
type PermissionResponder interface {
	Backend

	// RespondToPermission answers a permission-request message.
	RespondToPermission(ctx context.Context, id SessionID, requestID string, approved bool) error
}

// AsPermissionResponder returns b as a PermissionResponder when b is a
// persistent backend that supports permission answers.
func AsPermissionResponder(b Backend) (PermissionResponder, bool) {
	if b.Kind() != Persistent {
		return nil, false
	}
	pr, ok := b.(PermissionResponder)
	return pr, ok
}

// Errors returned by backends.
var (
	ErrSessionMismatch = errors.New("agent: session id does not match active session")
	ErrNoSession       = errors.New("agent: no active session")
	ErrSessionStarted  = errors.New("agent: session already started")
	ErrBusy            = errors.New("agent: a response is already in flight")
	ErrDisposed        = errors.New("agent: backend disposed")
	ErrUnknownAgent    = errors.New("agent: unknown agent type")
	ErrNoPermission    = errors.New("agent: no pending permission request")
)

// ExitError reports an agent process that exited unsuccessfully.
type ExitError struct {
	Agent string
	Code  int
}

func (e *ExitError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("%s was terminated by a signal", e.Agent)
	}
	return fmt.Sprintf("%s exited with code %d", e.Agent, e.Code)
}
