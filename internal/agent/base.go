package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessro/tether/internal/event"
)

// Base carries what every backend shares: identity, session id, state and
// listener fan-out. Backends embed *Base, which also seals the Backend
// interface to this module.
type Base struct {
	kind    Kind
	name    string
	emitter event.Emitter[Message]

	mu sync.Mutex
	// +checklocks:mu
	state SessionState
	// +checklocks:mu
	id SessionID
	// +checklocks:mu
	disposed bool
}

// NewBase creates the shared part of a backend.
func NewBase(kind Kind, name string) *Base {
	return &Base{kind: kind, name: name, state: StateStarting}
}

// Kind implements Backend.
func (b *Base) Kind() Kind { return b.kind }

// Name implements Backend.
func (b *Base) Name() string { return b.name }

func (b *Base) sealed() {}

// Subscribe implements Backend.
func (b *Base) Subscribe(l Listener) (unsubscribe func()) {
	return b.emitter.OnEvent(l)
}

// OnListenerPanic installs fn to be told when a listener panics.
func (b *Base) OnListenerPanic(fn func(any)) {
	b.emitter.OnPanic(fn)
}

// State implements Backend.
func (b *Base) State() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SessionID implements Backend.
func (b *Base) SessionID() SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// Mint allocates the session id. A backend owns exactly one session.
func (b *Base) Mint() (SessionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return "", ErrDisposed
	}
	if b.id != "" {
		return "", ErrSessionStarted
	}
	b.id = SessionID(uuid.NewString())
	b.state = StateStarting
	return b.id, nil
}

// Check verifies that id names the active session.
func (b *Base) Check(id SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.disposed:
		return ErrDisposed
	case b.id == "":
		return ErrNoSession
	case id != b.id:
		return ErrSessionMismatch
	}
	return nil
}

// Disposed reports whether Dispose has run.
func (b *Base) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Emit stamps msg with the session id and time and delivers it.
func (b *Base) Emit(msg Message) {
	b.mu.Lock()
	msg.SessionID = b.id
	b.mu.Unlock()
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	b.emitter.Emit(msg)
}

// SetStatus moves the session to state and emits a status message.
// Transitions out of disposed are ignored.
func (b *Base) SetStatus(state SessionState, detail string) {
	b.mu.Lock()
	from := b.state
	ok := CanTransition(from, state)
	if ok {
		b.state = state
	}
	b.mu.Unlock()

	if !ok {
		slog.Debug("ignored agent state change", "agent", b.name, "from", from, "to", state)
		return
	}
	b.Emit(Message{Type: MsgStatus, State: state, Detail: detail})
}

// Notify emits a status message without changing state.
func (b *Base) Notify(detail string) {
	b.Emit(Message{Type: MsgStatus, State: b.State(), Detail: detail})
}

// MarkDisposed moves to the terminal state, emits a final status message and
// drops every listener. It reports false if the backend was already disposed.
func (b *Base) MarkDisposed() bool {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return false
	}
	b.disposed = true
	b.state = StateDisposed
	b.mu.Unlock()

	b.Emit(Message{Type: MsgStatus, State: StateDisposed})
	b.emitter.Clear()
	return true
}
