package workflow

import (
	"context"
	"fmt"
	"sync"

	"limscore/pkg/domain"
)

// Event describes a transition that has just been applied. Object holds the
// committed post-transition state. Events raised for object creation carry
// no Transition.
type Event struct {
	Request       *Request
	Object        domain.Object
	Workflow      string
	Transition    string
	StateVariable domain.StateVariable
	OldState      string
	NewState      string
}

// Handler reacts to a transition on one portal type.
type Handler func(ctx context.Context, ev Event) error

type hookKey struct {
	portalType string
	transition string
}

// HookRegistry maps (portal type, transition) to the handler run after the
// transition fires.
type HookRegistry struct {
	mu       sync.RWMutex
	handlers map[hookKey]Handler
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[hookKey]Handler)}
}

// Register binds handler to transition on portalType, replacing any earlier
// binding.
func (r *HookRegistry) Register(portalType, transition string, handler Handler) error {
	if portalType == "" || transition == "" {
		return fmt.Errorf("hook requires portal type and transition")
	}
	if handler == nil {
		return fmt.Errorf("hook %s/%s: handler required", portalType, transition)
	}
	r.mu.Lock()
	r.handlers[hookKey{portalType, transition}] = handler
	r.mu.Unlock()
	return nil
}

// Lookup returns the handler bound to (portalType, transition).
func (r *HookRegistry) Lookup(portalType, transition string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[hookKey{portalType, transition}]
	return h, ok
}

// Dispatch runs the handler registered for the event. Events without a
// transition and events with no registered handler are ignored.
func (r *HookRegistry) Dispatch(ctx context.Context, ev Event) error {
	if ev.Transition == "" {
		return nil
	}
	h, ok := r.Lookup(ev.Object.PortalType, ev.Transition)
	if !ok {
		return nil
	}
	if err := h(ctx, ev); err != nil {
		return &HookError{
			PortalType: ev.Object.PortalType,
			Transition: ev.Transition,
			UID:        ev.Object.UID,
			Err:        err,
		}
	}
	return nil
}
