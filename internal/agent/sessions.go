package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tessro/tether/internal/logging"
)

// Session is one backend tracked by Sessions.
type Session struct {
	ID          SessionID
	AgentType   string
	ProjectPath string
	StartedAt   time.Time
	Backend     Backend
}

// Decider answers a permission request without asking a human. decided is
// false when the request should stay pending.
type Decider func(ctx context.Context, projectPath string, m Message) (approved, decided bool)

// Sessions is the table of agent sessions owned by the daemon.
type Sessions struct {
	registry *Registry
	ctx      context.Context
	cancel   context.CancelFunc

	mu sync.Mutex
	// +checklocks:mu
	sessions map[SessionID]*Session
	// +checklocks:mu
	decider Decider
	// +checklocks:mu
	onPanic func(any)
}

// NewSessions creates an empty session table backed by registry.
func NewSessions(registry *Registry) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[SessionID]*Session),
	}
}

// SetDecider installs d to answer permission requests of persistent
// sessions. A nil d leaves every request pending.
func (s *Sessions) SetDecider(d Decider) {
	s.mu.Lock()
	s.decider = d
	s.mu.Unlock()
}

// SetPanicHandler installs fn to be told about panics recovered in session
// goroutines and listeners.
func (s *Sessions) SetPanicHandler(fn func(any)) {
	s.mu.Lock()
	s.onPanic = fn
	s.mu.Unlock()
}

func (s *Sessions) panicHandler() func(any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onPanic
}

// Start creates a backend of agentType and starts its session.
func (s *Sessions) Start(ctx context.Context, agentType, projectPath, prompt string) (*Session, error) {
	if s.ctx.Err() != nil {
		return nil, ErrDisposed
	}

	b, err := s.registry.New(agentType)
	if err != nil {
		return nil, err
	}

	if l, ok := b.(interface{ OnListenerPanic(func(any)) }); ok {
		l.OnListenerPanic(s.panicHandler())
	}

	log := slog.With("component", "agent", "agent", agentType)
	b.Subscribe(func(m Message) {
		switch m.Type {
		case MsgStatus:
			log.Info("agent status", "session", m.SessionID, "state", m.State, "detail", m.Detail)
		case MsgFSEdit:
			log.Debug("agent edited file", "session", m.SessionID, "action", m.Action, "path", m.Path)
		case MsgPermissionRequest:
			log.Info("agent requests permission", "session", m.SessionID, "tool", m.Tool)
			s.decide(b, projectPath, m)
		}
	})

	id, err := b.StartSession(ctx, StartOptions{ProjectPath: projectPath, InitialPrompt: prompt})
	if err != nil {
		_ = b.Dispose()
		return nil, fmt.Errorf("start %s session: %w", agentType, err)
	}

	sess := &Session{
		ID:          id,
		AgentType:   agentType,
		ProjectPath: projectPath,
		StartedAt:   time.Now(),
		Backend:     b,
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, nil
}

// decide hands a permission request to the decider off the backend's
// delivery goroutine.
func (s *Sessions) decide(b Backend, projectPath string, m Message) {
	s.mu.Lock()
	d := s.decider
	onPanic := s.onPanic
	s.mu.Unlock()
	responder, ok := AsPermissionResponder(b)
	if d == nil || !ok {
		return
	}

	go func() {
		defer logging.LogPanic("agent-permission", onPanic)
		approved, decided := d(s.ctx, projectPath, m)
		if !decided {
			return
		}
		slog.Info("permission decided by rule", "session", m.SessionID, "tool", m.Tool, "approved", approved)
		if err := responder.RespondToPermission(s.ctx, m.SessionID, m.RequestID, approved); err != nil {
			slog.Warn("answer permission request failed", "session", m.SessionID, "error", err)
		}
	}()
}

// Get returns the session with id.
func (s *Sessions) Get(id SessionID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Send dispatches a prompt without waiting for the response.
func (s *Sessions) Send(id SessionID, message string) error {
	sess, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	b := sess.Backend
	switch state := b.State(); {
	case state == StateDisposed:
		return ErrDisposed
	case b.Kind() == Ephemeral && state == StateRunning:
		return ErrBusy
	}

	onPanic := s.panicHandler()
	go func() {
		defer logging.LogPanic("agent-prompt", onPanic)
		if err := b.SendPrompt(s.ctx, id, message); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("agent prompt failed", "session", id, "agent", sess.AgentType, "error", err)
		}
	}()
	return nil
}

// Stop disposes the session with id.
func (s *Sessions) Stop(id SessionID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return sess.Backend.Dispose()
}

// List returns the sessions ordered by start time.
func (s *Sessions) List() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DisposeAll disposes every session and refuses new ones.
func (s *Sessions) DisposeAll() {
	s.cancel()

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[SessionID]*Session)
	s.mu.Unlock()

	for id, sess := range all {
		if err := sess.Backend.Dispose(); err != nil {
			slog.Warn("dispose agent session failed", "session", id, "error", err)
		}
	}
}
