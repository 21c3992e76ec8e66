package sdk

import (
	"sync"

	anchorclient "github.com/stellar-connect/anchor-client-go"
)

// HookEvent represents a named lifecycle event that callers can subscribe to.
type HookEvent string

// Hook event constants represent the lifecycle events flows emit.
const (
	HookFlowInitiated    HookEvent = "flow:initiated"
	HookKYCSubmitted     HookEvent = "flow:kyc_submitted"
	HookTrustEstablished HookEvent = "flow:trust_established"
	HookPaymentSent      HookEvent = "flow:payment_sent"
	HookBalanceClaimed   HookEvent = "flow:balance_claimed"
	HookStateChanged     HookEvent = "flow:state_changed"
	HookStatusChanged    HookEvent = "flow:status_changed"
)

// HookRegistry manages lifecycle event handlers for transfer flows. It
// implements the observer pattern, allowing callers to register callbacks
// that execute sequentially when flow lifecycle events occur.
//
// Handlers are stored per event and execute in registration order.
// The registry is thread-safe for concurrent registration and triggering.
type HookRegistry struct {
	handlers map[HookEvent][]func(*anchorclient.FlowRecord)
	mu       sync.RWMutex
}

// NewHookRegistry creates a new lifecycle hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		handlers: make(map[HookEvent][]func(*anchorclient.FlowRecord)),
	}
}

// On registers a handler function for a specific lifecycle event.
// Multiple handlers can be registered for the same event and will execute
// sequentially in registration order when the event is triggered.
//
// The handler receives a pointer to the FlowRecord that triggered the event.
// Handlers should be quick, non-blocking operations. If a handler panics,
// the panic will propagate and prevent subsequent handlers from executing.
func (r *HookRegistry) On(event HookEvent, handler func(*anchorclient.FlowRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = append(r.handlers[event], handler)
}

// Trigger executes all registered handlers for a specific lifecycle event,
// passing the flow record that triggered the event. Handlers execute
// sequentially in registration order.
func (r *HookRegistry) Trigger(event HookEvent, record *anchorclient.FlowRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers, ok := r.handlers[event]
	if !ok {
		return
	}

	for _, handler := range handlers {
		handler(record)
	}
}
