package core

import (
	"context"
	"fmt"

	"limscore/pkg/domain"
)

const stateIntegrityRuleName = "workflow_state_integrity"

// StateIntegrityRule blocks object writes that put a state variable into a
// state its workflow does not define, or that move an object out of a
// terminal state.
func StateIntegrityRule() domain.Rule {
	return stateIntegrityRule{}
}

type stateIntegrityRule struct{}

func (stateIntegrityRule) Name() string { return stateIntegrityRuleName }

func (stateIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityObject {
			continue
		}
		after, ok := change.After.(domain.Object)
		if !ok {
			continue
		}
		before, hadBefore := change.Before.(domain.Object)
		for _, wfID := range view.Chain(after.PortalType) {
			wf, ok := view.FindWorkflow(wfID)
			if !ok {
				continue
			}
			state := after.State(wf.StateVariable)
			if state == "" {
				continue
			}
			if _, valid := wf.States[state]; !valid {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     stateIntegrityRuleName,
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("%s %s is set to unknown %s state %s", after.PortalType, after.UID, wf.ID, state),
					Entity:   domain.EntityObject,
					EntityID: after.UID,
				})
				continue
			}
			if !hadBefore {
				continue
			}
			prev := before.State(wf.StateVariable)
			if prev == "" || prev == state {
				continue
			}
			if s, ok := wf.States[prev]; ok && len(s.Transitions) == 0 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     stateIntegrityRuleName,
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cannot move %s %s from terminal state %s to %s", after.PortalType, after.UID, prev, state),
					Entity:   domain.EntityObject,
					EntityID: after.UID,
				})
			}
		}
	}
	return res, nil
}
