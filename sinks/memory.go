package sinks

import (
	"sync"

	anchorclient "github.com/stellar-connect/anchor-client-go"
)

// Memory is an EventSink that records events in order, protected by a mutex
// for concurrent flows. Useful for tests and for UIs that render a log view.
type Memory struct {
	mu     sync.Mutex
	events []anchorclient.Event
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit appends the event.
func (m *Memory) Emit(event anchorclient.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []anchorclient.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]anchorclient.Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByKind returns the recorded events of one kind, in order.
func (m *Memory) ByKind(kind anchorclient.EventKind) []anchorclient.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []anchorclient.Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Verify that Memory implements anchorclient.EventSink
var _ anchorclient.EventSink = (*Memory)(nil)
