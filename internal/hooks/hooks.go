// Package hooks lets components observe dispatcher and supervisor events
// without the emitter knowing who listens.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/cmdbot/internal/logging"
)

// Event names.
const (
	EventDispatcherStart = "dispatcher_start"
	EventDispatcherStop  = "dispatcher_stop"
	EventCommandReceived = "command_received"
	EventCommandRejected = "command_rejected"
	EventCommandUnknown  = "command_unknown"
	EventCommandHandled  = "command_handled"
	EventCommandFailed   = "command_failed"
	EventProcessExit     = "process_exit"
)

// AllEvents lists every event emitted by the dispatcher or the supervisor.
var AllEvents = []string{
	EventDispatcherStart,
	EventDispatcherStop,
	EventCommandReceived,
	EventCommandRejected,
	EventCommandUnknown,
	EventCommandHandled,
	EventCommandFailed,
	EventProcessExit,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler observes one event. Errors and panics are logged and reported by
// Emit; they never stop the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	name string
	fn   Handler
}

// Manager holds the subscriptions. A nil *Manager is valid and drops every
// event, so emitters need no nil checks.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	log  *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscription),
		log:  log.Sub("hooks"),
	}
}

// On subscribes fn to event under name. Handlers run in subscription order.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscription{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every subscription to event made under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = slices.DeleteFunc(slices.Clone(m.subs[event]), func(s subscription) bool {
		return s.name == name
	})
}

// Emit runs the handlers for event synchronously on the caller's goroutine.
// The returned error joins every handler failure; it is nil when all
// handlers succeed or none are subscribed.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	subs := m.subs[event]
	m.mu.RUnlock()

	p := Payload{Event: event, Data: data}
	var errs []error
	for _, s := range subs {
		if err := call(ctx, s.fn, p); err != nil {
			m.log.Warn().Err(err).Str("event", event).Str("handler", s.name).Msg("hook handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func call(ctx context.Context, fn Handler, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, p)
}

// Count returns the number of handlers subscribed to event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []string
	for event, subs := range m.subs {
		if len(subs) > 0 {
			events = append(events, event)
		}
	}
	slices.Sort(events)
	return events
}
