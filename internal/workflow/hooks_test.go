package workflow

import (
	"context"
	"errors"
	"testing"

	"limscore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRegistryRegisterValidates(t *testing.T) {
	r := NewHookRegistry()
	noop := func(context.Context, Event) error { return nil }
	assert.Error(t, r.Register("", "submit", noop))
	assert.Error(t, r.Register("Analysis", "", noop))
	assert.Error(t, r.Register("Analysis", "submit", nil))
	require.NoError(t, r.Register("Analysis", "submit", noop))

	_, ok := r.Lookup("Analysis", "submit")
	assert.True(t, ok)
	_, ok = r.Lookup("AnalysisRequest", "submit")
	assert.False(t, ok)
}

func TestHookRegistryDispatch(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()
	obj := domain.Object{UID: "ar-1", PortalType: "AnalysisRequest"}
	called := 0
	require.NoError(t, r.Register("AnalysisRequest", "receive", func(context.Context, Event) error {
		called++
		return nil
	}))

	require.NoError(t, r.Dispatch(ctx, Event{Object: obj}))
	require.NoError(t, r.Dispatch(ctx, Event{Object: obj, Transition: "submit"}))
	assert.Zero(t, called)

	require.NoError(t, r.Dispatch(ctx, Event{Object: obj, Transition: "receive"}))
	assert.Equal(t, 1, called)
}

func TestHookRegistryDispatchWrapsFailure(t *testing.T) {
	r := NewHookRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register("AnalysisRequest", "receive", func(context.Context, Event) error { return boom }))

	err := r.Dispatch(context.Background(), Event{
		Object:     domain.Object{UID: "ar-1", PortalType: "AnalysisRequest"},
		Transition: "receive",
	})
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ar-1", hookErr.UID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "after receive on AnalysisRequest ar-1: boom", err.Error())
}

func TestGuardRegistry(t *testing.T) {
	r := NewGuardRegistry()
	assert.Error(t, r.Register("", notCancelled))
	assert.Error(t, r.Register("guard_cancelled_object", nil))
	require.NoError(t, r.Register("guard_cancelled_object", notCancelled))

	open := GuardContext{Transition: domain.Transition{ID: "submit"}}
	ok, reason := r.Check(context.Background(), open)
	assert.True(t, ok)
	assert.Empty(t, reason)

	cancelled := domain.Object{States: map[domain.StateVariable]string{domain.StateFlowCancellation: "cancelled"}}
	gc := GuardContext{
		Request:    NewRequest("u"),
		Object:     cancelled,
		Transition: domain.Transition{ID: "submit", Guard: &domain.Guard{Expression: "guard_cancelled_object"}},
	}
	ok, reason = r.Check(context.Background(), gc)
	assert.False(t, ok)
	assert.Equal(t, `guard expression "guard_cancelled_object" failed`, reason)
}

func TestGuardPermissionFallsBackToStateSettings(t *testing.T) {
	r := NewGuardRegistry()
	wf := reviewWorkflow()
	obj := domain.Object{States: map[domain.StateVariable]string{domain.StateFlowReview: "sample_received"}}
	gc := GuardContext{
		Request:    NewRequest("jdoe", "Analyst"),
		Object:     obj,
		Workflow:   wf,
		Transition: domain.Transition{ID: "x", Guard: &domain.Guard{Permissions: []string{permEditResults}}},
	}
	ok, _ := r.Check(context.Background(), gc)
	assert.True(t, ok)

	gc.Object.RoleMappings = map[string][]string{permEditResults: {"Manager"}}
	ok, reason := r.Check(context.Background(), gc)
	assert.False(t, ok)
	assert.Equal(t, "missing permission", reason)
}
