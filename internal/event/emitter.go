// Package event provides generic event emission utilities.
package event

import (
	"log/slog"
	"sync"

	"github.com/tessro/tether/internal/logging"
)

// Emitter provides thread-safe event emission with handler registration.
// A handler that panics is logged and skipped; the remaining handlers
// still receive the event.
type Emitter[E any] struct {
	// +checklocks:mu
	handlers []handlerEntry[E]
	// +checklocks:mu
	nextID uint64
	// +checklocks:mu
	onPanic func(any)
	mu      sync.RWMutex
}

type handlerEntry[E any] struct {
	id uint64
	fn func(E)
}

// OnEvent registers an event handler and returns a function that removes it.
// Handlers are called synchronously when events are emitted.
// Calling the returned function more than once is harmless.
func (e *Emitter[E]) OnEvent(handler func(E)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, handlerEntry[E]{id: id, fn: handler})
	e.mu.Unlock()

	return func() { e.remove(id) }
}

func (e *Emitter[E]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// OnPanic installs fn to be told about every recovered handler panic.
func (e *Emitter[E]) OnPanic(fn func(any)) {
	e.mu.Lock()
	e.onPanic = fn
	e.mu.Unlock()
}

// Clear removes every registered handler.
func (e *Emitter[E]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}

// Len returns the number of registered handlers.
func (e *Emitter[E]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Emit sends an event to all registered handlers.
// Handlers are called with a copy of the handler slice to allow
// safe iteration even if handlers are added or removed during emission.
// Must not be called with lock held.
func (e *Emitter[E]) Emit(event E) {
	e.mu.RLock()
	handlers := make([]handlerEntry[E], len(e.handlers))
	copy(handlers, e.handlers)
	onPanic := e.onPanic
	e.mu.RUnlock()

	for _, h := range handlers {
		call(h, event, onPanic)
	}
}

func call[E any](h handlerEntry[E], event E, onPanic func(any)) {
	defer logging.LogPanic("event-handler", func(r any) {
		slog.Warn("event handler failed", "handler", h.id, "panic", r)
		if onPanic != nil {
			onPanic(r)
		}
	})
	h.fn(event)
}
