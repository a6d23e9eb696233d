package workflow

import (
	"context"
	"testing"
	"time"

	"limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"

	"github.com/stretchr/testify/require"
)

const (
	reviewWorkflowID = "test_review_workflow"
	cancelWorkflowID = "test_cancellation_workflow"
	permEditResults  = "BIKA: Edit Results"
)

func reviewWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:            reviewWorkflowID,
		StateVariable: domain.StateFlowReview,
		InitialState:  "sample_due",
		States: map[string]*domain.State{
			"sample_due": {
				ID:          "sample_due",
				Transitions: []string{"receive", "reject"},
				Permissions: map[string][]string{
					domain.PermissionView: {"Analyst", "Manager"},
					permEditResults:       {"Manager"},
				},
			},
			"sample_received": {
				ID:          "sample_received",
				Transitions: []string{"submit"},
				Permissions: map[string][]string{
					domain.PermissionView: {"Analyst", "Manager"},
					permEditResults:       {"Analyst", "Manager"},
				},
			},
			"to_be_verified": {
				ID:          "to_be_verified",
				Transitions: []string{"verify"},
				Permissions: map[string][]string{
					domain.PermissionView: {"Analyst", "Manager", "Verifier"},
				},
			},
			"verified": {ID: "verified"},
			"rejected": {ID: "rejected"},
		},
		Transitions: map[string]*domain.Transition{
			"receive": {ID: "receive", Title: "Receive", NewStateID: "sample_received"},
			"reject": {ID: "reject", Title: "Reject", NewStateID: "rejected",
				Guard: &domain.Guard{Roles: []string{"Manager"}}},
			"submit": {ID: "submit", Title: "Submit", NewStateID: "to_be_verified",
				Guard: &domain.Guard{Permissions: []string{permEditResults}, Expression: "guard_cancelled_object"}},
			"verify": {ID: "verify", Title: "Verify", NewStateID: "verified",
				Guard: &domain.Guard{Roles: []string{"Verifier"}}},
		},
	}
}

func cancellationWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:            cancelWorkflowID,
		StateVariable: domain.StateFlowCancellation,
		InitialState:  "active",
		States: map[string]*domain.State{
			"active":    {ID: "active", Transitions: []string{"cancel"}},
			"cancelled": {ID: "cancelled", Transitions: []string{"reinstate"}},
		},
		Transitions: map[string]*domain.Transition{
			"cancel":    {ID: "cancel", NewStateID: "cancelled"},
			"reinstate": {ID: "reinstate", NewStateID: "active"},
		},
	}
}

func notCancelled(_ context.Context, gc GuardContext) bool {
	return gc.Object.State(domain.StateFlowCancellation) != "cancelled"
}

type fixture struct {
	store  *memory.Store
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.PutWorkflow(reviewWorkflow()); err != nil {
			return err
		}
		if err := tx.PutWorkflow(cancellationWorkflow()); err != nil {
			return err
		}
		return tx.SetChain("Analysis", []string{reviewWorkflowID, cancelWorkflowID})
	})
	require.NoError(t, err)

	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	engine := NewEngine(store, opts...)
	require.NoError(t, engine.Guards().Register("guard_cancelled_object", notCancelled))
	return fixture{store: store, engine: engine}
}

func (f fixture) create(t *testing.T, uid string) domain.Object {
	t.Helper()
	obj, err := f.engine.CreateObject(context.Background(), SystemRequest(), domain.Object{UID: uid, PortalType: "Analysis"})
	require.NoError(t, err)
	return obj
}

func (f fixture) object(t *testing.T, uid string) domain.Object {
	t.Helper()
	var obj domain.Object
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		var ok bool
		obj, ok = v.FindObject(uid)
		require.True(t, ok)
		return nil
	}))
	return obj
}
