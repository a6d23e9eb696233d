package workflow

import "fmt"

// UnavailableError reports that a transition cannot fire: no workflow in the
// object's chain offers it from the current state, or its guard failed.
// It is the only error the invoker turns into a result.
type UnavailableError struct {
	UID     string
	Action  string
	Message string
}

func (e *UnavailableError) Error() string {
	return e.Message
}

func noWorkflowFor(uid, action string) *UnavailableError {
	return &UnavailableError{
		UID:     uid,
		Action:  action,
		Message: fmt.Sprintf("No workflow provides the '%s' action.", action),
	}
}

func guardRejected(uid, action, reason string) *UnavailableError {
	return &UnavailableError{
		UID:     uid,
		Action:  action,
		Message: fmt.Sprintf("Transition '%s' is not allowed: %s", action, reason),
	}
}

// HookError wraps a failure raised by a post-transition handler.
type HookError struct {
	PortalType string
	Transition string
	UID        string
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("after %s on %s %s: %v", e.Transition, e.PortalType, e.UID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
