package domain

import (
	"fmt"
	"sort"
)

// Guard restricts when a transition may fire. A guard passes when the caller
// holds any listed permission (or none are listed), any listed role (or none
// are listed), and the named expression evaluates true (or is empty).
type Guard struct {
	Permissions []string `json:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Expression  string   `json:"expression,omitempty"`
}

// IsZero reports whether the guard imposes no restriction.
func (g Guard) IsZero() bool {
	return len(g.Permissions) == 0 && len(g.Roles) == 0 && g.Expression == ""
}

// Transition is an edge of a workflow graph.
type Transition struct {
	ID              string `json:"id" validate:"required"`
	Title           string `json:"title,omitempty"`
	NewStateID      string `json:"new_state_id" validate:"required"`
	AfterScriptName string `json:"after_script_name,omitempty"`
	ActboxName      string `json:"actbox_name,omitempty"`
	Guard           *Guard `json:"guard,omitempty"`
}

// TransitionProperties is the mutable property set of a transition.
type TransitionProperties struct {
	Title           string
	NewStateID      string
	AfterScriptName string
	ActboxName      string
}

// SetProperties overwrites the transition's properties.
func (t *Transition) SetProperties(props TransitionProperties) {
	t.Title = props.Title
	t.NewStateID = props.NewStateID
	t.AfterScriptName = props.AfterScriptName
	t.ActboxName = props.ActboxName
}

// State is a node of a workflow graph.
type State struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title,omitempty"`
	// Transitions lists the ids of transitions leaving this state, in order.
	Transitions []string `json:"transitions,omitempty"`
	// Permissions maps a permission to the roles granted it while an object
	// sits in this state.
	Permissions map[string][]string `json:"permissions,omitempty"`
}

// HasTransition reports whether the transition leaves this state.
func (s State) HasTransition(id string) bool {
	for _, t := range s.Transitions {
		if t == id {
			return true
		}
	}
	return false
}

// Workflow is a named directed graph of states and transitions.
type Workflow struct {
	ID            string                 `json:"id" validate:"required"`
	Title         string                 `json:"title,omitempty"`
	StateVariable StateVariable          `json:"state_variable" validate:"required"`
	InitialState  string                 `json:"initial_state" validate:"required"`
	States        map[string]*State      `json:"states" validate:"required,dive"`
	Transitions   map[string]*Transition `json:"transitions" validate:"dive"`
}

// HasTransition reports whether the workflow defines the transition.
func (w Workflow) HasTransition(id string) bool {
	_, ok := w.Transitions[id]
	return ok
}

// AddTransition creates an empty transition with the given id and returns
// it. It fails when the transition already exists.
func (w *Workflow) AddTransition(id string) (*Transition, error) {
	if id == "" {
		return nil, fmt.Errorf("transition id required")
	}
	if w.Transitions == nil {
		w.Transitions = make(map[string]*Transition)
	}
	if _, exists := w.Transitions[id]; exists {
		return nil, fmt.Errorf("transition %s already exists in workflow %s", id, w.ID)
	}
	t := &Transition{ID: id}
	w.Transitions[id] = t
	return t, nil
}

// DeleteTransitions removes the given transitions. Unknown ids are ignored.
// States still referencing a deleted transition keep the dangling id; callers
// rewire states first.
func (w *Workflow) DeleteTransitions(ids ...string) {
	for _, id := range ids {
		delete(w.Transitions, id)
	}
}

// ReplaceStateTransition swaps oldID for newID in every state listing
// oldID, keeping newID unique within each state. It returns the ids of the
// states that changed.
func (w *Workflow) ReplaceStateTransition(oldID, newID string) []string {
	var changed []string
	for _, stateID := range SortedKeys(w.States) {
		state := w.States[stateID]
		if !state.HasTransition(oldID) {
			continue
		}
		kept := make([]string, 0, len(state.Transitions))
		for _, t := range state.Transitions {
			if t != oldID && t != newID {
				kept = append(kept, t)
			}
		}
		state.Transitions = append(kept, newID)
		changed = append(changed, stateID)
	}
	return changed
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	cp := w
	if w.States != nil {
		cp.States = make(map[string]*State, len(w.States))
		for id, s := range w.States {
			sc := *s
			sc.Transitions = append([]string(nil), s.Transitions...)
			sc.Permissions = cloneRoleMap(s.Permissions)
			cp.States[id] = &sc
		}
	}
	if w.Transitions != nil {
		cp.Transitions = make(map[string]*Transition, len(w.Transitions))
		for id, t := range w.Transitions {
			tc := *t
			if t.Guard != nil {
				g := Guard{
					Permissions: append([]string(nil), t.Guard.Permissions...),
					Roles:       append([]string(nil), t.Guard.Roles...),
					Expression:  t.Guard.Expression,
				}
				tc.Guard = &g
			}
			cp.Transitions[id] = &tc
		}
	}
	return cp
}

// TransitionIDs returns the defined transition ids in lexical order.
func (w Workflow) TransitionIDs() []string {
	ids := make([]string, 0, len(w.Transitions))
	for id := range w.Transitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Outcome tags the result of a transition request.
type Outcome string

// Transition outcomes. Applied is the only successful one.
const (
	OutcomeApplied       Outcome = "applied"
	OutcomeGuardRejected Outcome = "guard_rejected"
	OutcomeSkipped       Outcome = "skipped"
)

// TransitionResult is the value returned by the transition invoker.
// Failures that are not guard rejections are returned as errors instead.
type TransitionResult struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

// Success reports whether the workflow engine applied the state change.
func (r TransitionResult) Success() bool { return r.Outcome == OutcomeApplied }

// Applied builds a successful result.
func Applied() TransitionResult { return TransitionResult{Outcome: OutcomeApplied} }

// GuardRejected builds a recoverable failure carrying the engine message.
func GuardRejected(message string) TransitionResult {
	return TransitionResult{Outcome: OutcomeGuardRejected, Message: message}
}

// Skipped builds the result returned when the skip ledger suppressed the call.
func Skipped() TransitionResult { return TransitionResult{Outcome: OutcomeSkipped} }
