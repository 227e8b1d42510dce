package agent

// SessionState is the lifecycle state of a backend's session.
type SessionState string

const (
	StateStarting SessionState = "starting"
	StateRunning  SessionState = "running"
	StateIdle     SessionState = "idle"
	StateError    SessionState = "error"
	StateDisposed SessionState = "disposed"
)

// Valid state transitions. Error is reachable from any live state and the
// session survives it; disposed is terminal.
var validTransitions = map[SessionState][]SessionState{
	StateStarting: {StateRunning, StateIdle, StateError, StateDisposed},
	StateRunning:  {StateIdle, StateError, StateDisposed},
	StateIdle:     {StateRunning, StateError, StateDisposed},
	StateError:    {StateRunning, StateIdle, StateDisposed},
	StateDisposed: nil,
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to SessionState) bool {
	if from == to {
		return from != StateDisposed
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
