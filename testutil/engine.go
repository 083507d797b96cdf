package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360/litesync/socket"
)

// EngineEventKind names a call made on a socket.Engine.
type EngineEventKind string

const (
	EventOpened         EngineEventKind = "opened"
	EventReceived       EngineEventKind = "received"
	EventCompletedWrite EngineEventKind = "completedWrite"
	EventCloseRequested EngineEventKind = "closeRequested"
	EventClosed         EngineEventKind = "closed"
)

// EngineEvent is one recorded engine call.
type EngineEvent struct {
	Kind   EngineEventKind
	Meta   socket.ResponseMetadata
	Data   []byte
	N      int
	Code   int
	Reason string
	Status socket.CloseStatus
}

func (e EngineEvent) String() string {
	switch e.Kind {
	case EventReceived:
		return fmt.Sprintf("%s(%d bytes)", e.Kind, len(e.Data))
	case EventCompletedWrite:
		return fmt.Sprintf("%s(%d)", e.Kind, e.N)
	case EventCloseRequested:
		return fmt.Sprintf("%s(%d, %q)", e.Kind, e.Code, e.Reason)
	case EventClosed:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Status)
	default:
		return string(e.Kind)
	}
}

// RecordingEngine records every call it receives.
type RecordingEngine struct {
	mu     sync.Mutex
	events []EngineEvent

	// OnCloseRequested, if set, runs after a closeRequested is recorded.
	// Tests use it to answer the request the way a real engine does.
	OnCloseRequested func(code int, reason string)
}

// NewRecordingEngine creates an empty recorder.
func NewRecordingEngine() *RecordingEngine {
	return &RecordingEngine{}
}

func (e *RecordingEngine) record(ev EngineEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

// Opened implements socket.Engine.
func (e *RecordingEngine) Opened(meta socket.ResponseMetadata) {
	e.record(EngineEvent{Kind: EventOpened, Meta: meta})
}

// Received implements socket.Engine.
func (e *RecordingEngine) Received(data []byte) {
	cp := append([]byte(nil), data...)
	e.record(EngineEvent{Kind: EventReceived, Data: cp})
}

// CompletedWrite implements socket.Engine.
func (e *RecordingEngine) CompletedWrite(n int) {
	e.record(EngineEvent{Kind: EventCompletedWrite, N: n})
}

// CloseRequested implements socket.Engine.
func (e *RecordingEngine) CloseRequested(code int, reason string) {
	e.record(EngineEvent{Kind: EventCloseRequested, Code: code, Reason: reason})
	if e.OnCloseRequested != nil {
		e.OnCloseRequested(code, reason)
	}
}

// Closed implements socket.Engine.
func (e *RecordingEngine) Closed(status socket.CloseStatus) {
	e.record(EngineEvent{Kind: EventClosed, Status: status})
}

// Events returns a copy of the recorded calls.
func (e *RecordingEngine) Events() []EngineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EngineEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Kinds returns the kinds of the recorded calls in order.
func (e *RecordingEngine) Kinds() []EngineEventKind {
	events := e.Events()
	out := make([]EngineEventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// Count returns how many calls of kind were recorded.
func (e *RecordingEngine) Count(kind EngineEventKind) int {
	n := 0
	for _, ev := range e.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent call of kind.
func (e *RecordingEngine) Last(kind EngineEventKind) (EngineEvent, bool) {
	events := e.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return EngineEvent{}, false
}

// WaitFor fails the test unless at least n calls of kind arrive in time.
func (e *RecordingEngine) WaitFor(t testing.TB, kind EngineEventKind, n int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.Count(kind) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d %s events, have %v", n, kind, e.Events())
}
