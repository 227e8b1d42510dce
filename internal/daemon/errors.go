package daemon

import (
	"errors"
	"fmt"
)

// Sentinel errors for daemon operations.
// These can be checked using errors.Is().
var (
	// ErrDaemonNotRunning is returned by typed client helpers when no daemon
	// answers on the control socket.
	ErrDaemonNotRunning = errors.New("daemon: not running")

	// ErrRequestTimeout is returned when a request gets no response in time.
	ErrRequestTimeout = errors.New("daemon: request timeout")

	// ErrProtocol is returned when the daemon answers with something that is
	// not a response object.
	ErrProtocol = errors.New("daemon: protocol error")

	// ErrNotDaemonMode is returned by Process.Run outside a forked daemon.
	ErrNotDaemonMode = errors.New("daemon: not started in daemon mode")

	// ErrAlreadyRunning is returned when another daemon holds the lock.
	ErrAlreadyRunning = errors.New("daemon: already running")

	// ErrLineTooLong is returned when a peer sends a line over MaxLineSize.
	ErrLineTooLong = errors.New("daemon: line too long")
)

// Messages carried in soft-failure responses.
const (
	msgNotRunning        = "daemon is not running"
	msgClosedBeforeReply = "connection closed before response"
)

// ServerError represents an error returned by the daemon server.
// This wraps server-side errors with operation context.
type ServerError struct {
	Operation string
	Message   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// NewServerError creates a new ServerError for the given operation.
func NewServerError(operation, message string) *ServerError {
	return &ServerError{
		Operation: operation,
		Message:   message,
	}
}
