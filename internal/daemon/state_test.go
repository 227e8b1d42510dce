package daemon

import (
	"errors"
	"testing"

	"github.com/tessro/tether/internal/relay"
)

func TestReduce(t *testing.T) {
	boom := errors.New("boom")
	errState := ConnState{State: StateError, ErrorMessage: "boom"}

	tests := []struct {
		name     string
		cur      ConnState
		ev       relay.Event
		stopping bool
		want     ConnState
	}{
		{"first attempt", ConnState{State: StateDisconnected}, relay.Event{Kind: relay.EventConnecting}, false, ConnState{State: StateConnecting}},
		{"subscribed", ConnState{State: StateConnecting}, relay.Event{Kind: relay.EventSubscribed}, false, ConnState{State: StateConnected}},
		{"subscribed clears error", errState, relay.Event{Kind: relay.EventSubscribed}, false, ConnState{State: StateConnected}},
		{"error", ConnState{State: StateConnecting}, relay.Event{Kind: relay.EventError, Err: boom}, false, errState},
		{"error without cause", ConnState{State: StateConnecting}, relay.Event{Kind: relay.EventError}, false, ConnState{State: StateError, ErrorMessage: "relay connection failed"}},
		{"drop while connected", ConnState{State: StateConnected}, relay.Event{Kind: relay.EventClosed, Err: boom}, false, ConnState{State: StateReconnecting}},
		{"retry keeps reconnecting", ConnState{State: StateReconnecting}, relay.Event{Kind: relay.EventConnecting}, false, ConnState{State: StateReconnecting}},
		{"retry keeps error", errState, relay.Event{Kind: relay.EventConnecting}, false, errState},
		{"close after error", errState, relay.Event{Kind: relay.EventClosed}, false, errState},
		{"close during shutdown", ConnState{State: StateConnected}, relay.Event{Kind: relay.EventClosed}, true, ConnState{State: StateDisconnected}},
		{"error close during shutdown", errState, relay.Event{Kind: relay.EventClosed}, true, ConnState{State: StateDisconnected}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reduce(tt.cur, tt.ev, tt.stopping); got != tt.want {
				t.Errorf("Reduce() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
