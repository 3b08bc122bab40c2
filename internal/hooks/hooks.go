// Package hooks provides an event-driven hook system for delegation and
// workflow lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/conductor/internal/logging"
)

// Event names for the hook system.
const (
	EventDelegationStart    = "delegation.start"
	EventDelegationComplete = "delegation.complete"
	EventDelegationCacheHit = "delegation.cache_hit"
	EventStreamStart        = "stream.start"
	EventStreamChunk        = "stream.chunk"
	EventStreamComplete     = "stream.complete"
	EventStepStart          = "step.start"
	EventStepComplete       = "step.complete"
	EventStepSkipped        = "step.skipped"
	EventWorkflowStart      = "workflow.start"
	EventWorkflowComplete   = "workflow.complete"
	EventAgentsReloaded     = "agents.reloaded"
	EventServerStart        = "server.start"
	EventServerStop         = "server.stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventDelegationStart,
	EventDelegationComplete,
	EventDelegationCacheHit,
	EventStreamStart,
	EventStreamChunk,
	EventStreamComplete,
	EventStepStart,
	EventStepComplete,
	EventStepSkipped,
	EventWorkflowStart,
	EventWorkflowComplete,
	EventAgentsReloaded,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Str returns a string field from the payload data, or "".
func (p Payload) Str(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// Bool returns a boolean field from the payload data, or false.
func (p Payload) Bool(key string) bool {
	b, _ := p.Data[key].(bool)
	return b
}

// Float returns a numeric field from the payload data as float64.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	return handlers
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order. Errors and panics are logged
// but never reach the emitter and do not prevent subsequent handlers from
// running.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		m.call(ctx, h, payload, "hook handler error")
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently.
// Returns immediately; handler errors are logged.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		go m.call(ctx, h, payload, "async hook handler error")
	}
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload, msg string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Err(fmt.Errorf("panic: %v", r)).
				Str("event", p.Event).
				Str("handler", h.name).
				Msg(msg)
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg(msg)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the list of events that have at least one handler registered.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}
