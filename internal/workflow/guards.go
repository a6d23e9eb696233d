package workflow

import (
	"context"
	"fmt"
	"sync"

	"limscore/pkg/domain"
)

// GuardContext is the input of a guard expression.
type GuardContext struct {
	Request    *Request
	View       domain.TransactionView
	Object     domain.Object
	Workflow   domain.Workflow
	Transition domain.Transition
}

// GuardFunc evaluates a named guard expression.
type GuardFunc func(ctx context.Context, gc GuardContext) bool

// GuardRegistry maps guard expression names to their implementation.
type GuardRegistry struct {
	mu     sync.RWMutex
	guards map[string]GuardFunc
}

// NewGuardRegistry returns an empty registry.
func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{guards: make(map[string]GuardFunc)}
}

// Register binds an expression name. Registering a name twice replaces the
// earlier function.
func (r *GuardRegistry) Register(expression string, fn GuardFunc) error {
	if expression == "" {
		return fmt.Errorf("guard expression name required")
	}
	if fn == nil {
		return fmt.Errorf("guard %s: function required", expression)
	}
	r.mu.Lock()
	r.guards[expression] = fn
	r.mu.Unlock()
	return nil
}

// Lookup returns the function bound to expression.
func (r *GuardRegistry) Lookup(expression string) (GuardFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.guards[expression]
	return fn, ok
}

// Check evaluates the transition guard. It returns the rejection reason when
// the guard fails.
func (r *GuardRegistry) Check(ctx context.Context, gc GuardContext) (bool, string) {
	guard := gc.Transition.Guard
	if guard == nil || guard.IsZero() {
		return true, ""
	}
	req := gc.Request
	system := req != nil && req.System
	if !system && len(guard.Permissions) > 0 {
		roles := effectiveRoles(req, gc.Object)
		granted := false
		for _, perm := range guard.Permissions {
			if rolesIntersect(roles, permissionRoles(gc.Object, gc.Workflow, perm)) {
				granted = true
				break
			}
		}
		if !granted {
			return false, "missing permission"
		}
	}
	if !system && len(guard.Roles) > 0 && !rolesIntersect(effectiveRoles(req, gc.Object), guard.Roles) {
		return false, "missing role"
	}
	if guard.Expression != "" {
		fn, ok := r.Lookup(guard.Expression)
		if !ok {
			return false, fmt.Sprintf("unknown guard expression %q", guard.Expression)
		}
		if !fn(ctx, gc) {
			return false, fmt.Sprintf("guard expression %q failed", guard.Expression)
		}
	}
	return true, ""
}

// effectiveRoles merges the caller's global roles with the local roles
// granted to the caller on obj.
func effectiveRoles(req *Request, obj domain.Object) []string {
	if req == nil {
		return nil
	}
	roles := append([]string(nil), req.Roles...)
	if req.Actor != "" {
		roles = append(roles, obj.LocalRoles[req.Actor]...)
	}
	return roles
}

// permissionRoles resolves the roles holding perm on obj. Mappings acquired
// on the object win; otherwise the settings of the object's current state
// in wf apply.
func permissionRoles(obj domain.Object, wf domain.Workflow, perm string) []string {
	if roles, ok := obj.RoleMappings[perm]; ok {
		return roles
	}
	if state, ok := wf.States[obj.State(wf.StateVariable)]; ok {
		return state.Permissions[perm]
	}
	return nil
}

func rolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
