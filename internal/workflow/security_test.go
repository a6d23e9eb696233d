package workflow

import (
	"context"
	"testing"

	"limscore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagedPermissions(t *testing.T) {
	assert.Equal(t, []string{permEditResults, domain.PermissionView}, managedPermissions(reviewWorkflow()))
	assert.Empty(t, managedPermissions(cancellationWorkflow()))
}

func TestRoleMappingsForClearsUnlistedPermissions(t *testing.T) {
	obj := domain.Object{States: map[domain.StateVariable]string{domain.StateFlowReview: "to_be_verified"}}
	got := roleMappingsFor(reviewWorkflow(), obj)
	assert.Equal(t, []string{"Analyst", "Manager", "Verifier"}, got[domain.PermissionView])
	v, ok := got[permEditResults]
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestApplyRoleMappingsReportsChange(t *testing.T) {
	wf := reviewWorkflow()
	obj := domain.Object{States: map[domain.StateVariable]string{domain.StateFlowReview: "sample_due"}}
	assert.True(t, applyRoleMappings(wf, &obj))
	assert.False(t, applyRoleMappings(wf, &obj))

	obj.SetState(domain.StateFlowReview, "sample_received")
	assert.True(t, applyRoleMappings(wf, &obj))
	assert.Equal(t, []string{"Analyst", "Manager"}, obj.RoleMappings[permEditResults])

	assert.False(t, applyRoleMappings(cancellationWorkflow(), &obj))
}

func TestUpdateRoleMappingsForLeavesUnchangedObjects(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, "a1")

	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		wf, _ := tx.FindWorkflow(reviewWorkflowID)
		changed, err := UpdateRoleMappingsFor(tx, wf, "a1")
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = UpdateRoleMappingsFor(tx, wf, "missing")
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, f.object(t, "a1").UpdatedAt)
}
