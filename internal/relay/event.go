// Package relay implements the daemon's outbound connection to the relay
// service. The relay announces the devices currently connected to this
// machine and keeps the machine reachable while the daemon runs.
package relay

import (
	"context"
	"time"
)

// EventKind discriminates relay connection events.
type EventKind string

const (
	// EventConnecting is raised before every connection attempt.
	EventConnecting EventKind = "connecting"
	// EventSubscribed is raised when the relay acknowledges the subscription.
	EventSubscribed EventKind = "subscribed"
	// EventError is raised when an attempt fails before subscribing.
	EventError EventKind = "error"
	// EventClosed is raised when an established connection goes away.
	// Err is nil when the close was requested through Disconnect.
	EventClosed EventKind = "closed"
)

// Event is one relay connection event.
type Event struct {
	Kind EventKind
	Err  error
	At   time.Time
}

// Device is a client (browser, phone) currently attached to this machine via the relay.
type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Conn is the outbound connection as seen by the daemon.
type Conn interface {
	// Connect starts connecting in the background and returns immediately.
	// Progress is reported on Events.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and stops reconnecting.
	// The Events channel is closed once the connection loop has exited.
	Disconnect(ctx context.Context) error

	// Events delivers connection events in order.
	Events() <-chan Event

	// Devices returns the devices currently connected through the relay.
	Devices() []Device

	// LastHeartbeat returns when the last heartbeat was sent, or the zero time.
	LastHeartbeat() time.Time
}
