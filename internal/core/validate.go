package core

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"limscore/pkg/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateWorkflow checks the definition's required fields and that its
// graph is closed: the initial state exists, every state lists only defined
// transitions, and every transition targets a defined state.
func ValidateWorkflow(wf domain.Workflow) error {
	if err := structValidator().Struct(wf); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	if !wf.StateVariable.Valid() {
		return fmt.Errorf("workflow %s: unknown state variable %q", wf.ID, wf.StateVariable)
	}
	if _, ok := wf.States[wf.InitialState]; !ok {
		return fmt.Errorf("workflow %s: initial state %s is not defined", wf.ID, wf.InitialState)
	}
	for _, id := range domain.SortedKeys(wf.States) {
		for _, tr := range wf.States[id].Transitions {
			if !wf.HasTransition(tr) {
				return fmt.Errorf("workflow %s: state %s lists undefined transition %s", wf.ID, id, tr)
			}
		}
	}
	for _, id := range wf.TransitionIDs() {
		if target := wf.Transitions[id].NewStateID; target != "" {
			if _, ok := wf.States[target]; !ok {
				return fmt.Errorf("workflow %s: transition %s targets undefined state %s", wf.ID, id, target)
			}
		}
	}
	return nil
}
