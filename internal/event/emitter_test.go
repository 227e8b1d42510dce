package event

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tessro/tether/internal/logging"
)

type testEvent struct {
	Value int
}

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	var e Emitter[testEvent]

	var order []int
	e.OnEvent(func(ev testEvent) { order = append(order, ev.Value*10+1) })
	e.OnEvent(func(ev testEvent) { order = append(order, ev.Value*10+2) })

	e.Emit(testEvent{Value: 4})

	if len(order) != 2 || order[0] != 41 || order[1] != 42 {
		t.Fatalf("order = %v, want [41 42]", order)
	}
}

func TestEmitter_EmitToNoHandlers(t *testing.T) {
	var e Emitter[testEvent]
	e.Emit(testEvent{Value: 42})
}

func TestEmitter_Unsubscribe(t *testing.T) {
	var e Emitter[testEvent]

	var a, b int
	unsubA := e.OnEvent(func(testEvent) { a++ })
	e.OnEvent(func(testEvent) { b++ })

	e.Emit(testEvent{})
	unsubA()
	unsubA() // second call is a no-op
	e.Emit(testEvent{})

	if a != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", a)
	}
	if b != 2 {
		t.Errorf("remaining handler called %d times, want 2", b)
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

func TestEmitter_Clear(t *testing.T) {
	var e Emitter[testEvent]

	var calls int
	e.OnEvent(func(testEvent) { calls++ })
	e.OnEvent(func(testEvent) { calls++ })
	e.Clear()
	e.Emit(testEvent{})

	if calls != 0 {
		t.Errorf("handlers called %d times after Clear, want 0", calls)
	}
}

func TestEmitter_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupTest(&buf)

	var e Emitter[testEvent]

	var before, after int
	e.OnEvent(func(testEvent) { before++ })
	e.OnEvent(func(testEvent) { panic("listener exploded") })
	e.OnEvent(func(testEvent) { after++ })

	e.Emit(testEvent{Value: 1})
	e.Emit(testEvent{Value: 2})

	if before != 2 || after != 2 {
		t.Errorf("before=%d after=%d, want 2 and 2", before, after)
	}
	if !bytes.Contains(buf.Bytes(), []byte("listener exploded")) {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestEmitter_OnPanicReportsRecoveredPanics(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupTest(&buf)

	var e Emitter[testEvent]
	var reported []any
	e.OnPanic(func(r any) { reported = append(reported, r) })

	delivered := 0
	e.OnEvent(func(testEvent) { panic("bad handler") })
	e.OnEvent(func(testEvent) { delivered++ })

	e.Emit(testEvent{Value: 1})

	if len(reported) != 1 || reported[0] != "bad handler" {
		t.Errorf("reported = %v, want [bad handler]", reported)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestEmitter_HandlerAddedDuringEmission(t *testing.T) {
	var e Emitter[testEvent]

	var calls []string
	e.OnEvent(func(testEvent) {
		calls = append(calls, "first")
		if len(calls) == 1 {
			e.OnEvent(func(testEvent) { calls = append(calls, "late") })
		}
	})

	e.Emit(testEvent{})
	if len(calls) != 1 {
		t.Fatalf("late handler ran during the emission that added it: %v", calls)
	}

	calls = nil
	e.Emit(testEvent{})
	if len(calls) != 2 {
		t.Errorf("expected late handler on next emission, got %v", calls)
	}
}

func TestEmitter_ConcurrentRegistrationAndEmission(t *testing.T) {
	var e Emitter[testEvent]

	var wg sync.WaitGroup
	var delivered atomic.Int32

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := e.OnEvent(func(testEvent) { delivered.Add(1) })
			if i%2 == 0 {
				unsub()
			}
		}()
		go func(v int) {
			defer wg.Done()
			e.Emit(testEvent{Value: v})
		}(i)
	}

	wg.Wait()
	if e.Len() != 25 {
		t.Errorf("Len() = %d, want 25", e.Len())
	}
}
