package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds hook registrations as one flat list; dispatch filters by
// event key, so a registration's key can be either a bare event type or
// "type:action".
type Registry struct {
	mu     sync.RWMutex
	regs   []*Registration
	logger *slog.Logger
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "hooks")}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource sets the handler source (plugin name, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds a handler for an event key and returns the registration
// ID for later unregistration.
func (r *Registry) Register(eventKey string, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: eventKey,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	r.regs = append(r.regs, reg)
	r.mu.Unlock()

	r.logger.Debug("registered hook",
		"id", reg.ID, "event_key", eventKey, "name", reg.Name, "priority", reg.Priority)
	return reg.ID
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.ID == id {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			r.logger.Debug("unregistered hook", "id", id, "event_key", reg.EventKey)
			return true
		}
	}
	return false
}

// Clear removes all registered handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.regs = nil
	r.mu.Unlock()
	r.logger.Debug("cleared all hooks")
}

// matchesFor returns the registrations listening on the event, in
// priority order. A registration matches on the bare event type or on
// the exact "type:action" key.
func (r *Registry) matchesFor(event *Event) []*Registration {
	typeKey := string(event.Type)
	actionKey := ""
	if event.Action != "" {
		actionKey = fmt.Sprintf("%s:%s", event.Type, event.Action)
	}

	r.mu.RLock()
	var matched []*Registration
	for _, reg := range r.regs {
		if reg.EventKey == typeKey || (actionKey != "" && reg.EventKey == actionKey) {
			matched = append(matched, reg)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

// Trigger dispatches an event to all matching handlers in priority
// order. A handler error (or panic) is logged and does not stop later
// handlers; the first error is returned.
func (r *Registry) Trigger(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	var firstErr error
	for _, reg := range r.matchesFor(event) {
		if err := r.callHandler(ctx, reg, event); err != nil {
			r.logger.Warn("hook handler error",
				"event_type", event.Type,
				"event_action", event.Action,
				"handler_id", reg.ID,
				"handler_name", reg.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// TriggerAsync dispatches an event in a goroutine and returns
// immediately.
func (r *Registry) TriggerAsync(ctx context.Context, event *Event) {
	go func() {
		if err := r.Trigger(ctx, event); err != nil {
			r.logger.Warn("async hook trigger error",
				"event_type", event.Type, "error", err)
		}
	}()
}

// RegisteredEvents returns the distinct event keys with handlers.
func (r *Registry) RegisteredEvents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.regs))
	var keys []string
	for _, reg := range r.regs {
		if !seen[reg.EventKey] {
			seen[reg.EventKey] = true
			keys = append(keys, reg.EventKey)
		}
	}
	return keys
}

// HandlerCount returns the number of handlers for an event key.
func (r *Registry) HandlerCount(eventKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, reg := range r.regs {
		if reg.EventKey == eventKey {
			n++
		}
	}
	return n
}

// GetRegistration returns a registration by ID.
func (r *Registry) GetRegistration(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.regs {
		if reg.ID == id {
			return reg, true
		}
	}
	return nil, false
}

// ListRegistrations returns the registrations for an event key in
// registration order.
func (r *Registry) ListRegistrations(eventKey string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Registration
	for _, reg := range r.regs {
		if reg.EventKey == eventKey {
			out = append(out, reg)
		}
	}
	return out
}
