package daemon

import "github.com/tessro/tether/internal/relay"

// ConnState is the relay connection state tracked by the daemon.
type ConnState struct {
	State        ConnectionState
	ErrorMessage string
}

// Reduce returns the connection state after ev. shuttingDown reports whether
// the daemon has begun shutting down, which turns a close into a clean
// disconnect instead of a reconnect.
//
// An error stays in place across new attempts until one of them subscribes.
func Reduce(cur ConnState, ev relay.Event, shuttingDown bool) ConnState {
	switch ev.Kind {
	case relay.EventConnecting:
		switch cur.State {
		case StateError, StateReconnecting:
			return cur
		default:
			return ConnState{State: StateConnecting}
		}

	case relay.EventSubscribed:
		return ConnState{State: StateConnected}

	case relay.EventError:
		msg := "relay connection failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return ConnState{State: StateError, ErrorMessage: msg}

	case relay.EventClosed:
		if shuttingDown {
			return ConnState{State: StateDisconnected}
		}
		switch cur.State {
		case StateError:
			return cur
		default:
			return ConnState{State: StateReconnecting}
		}
	}
	return cur
}
