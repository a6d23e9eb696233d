package workflow

import (
	"slices"

	"limscore/pkg/domain"
)

// managedPermissions lists every permission any state of wf configures.
func managedPermissions(wf domain.Workflow) []string {
	seen := make(map[string]struct{})
	for _, state := range wf.States {
		for perm := range state.Permissions {
			seen[perm] = struct{}{}
		}
	}
	return domain.SortedKeys(seen)
}

// roleMappingsFor computes the permission->roles map wf grants obj in its
// current state. Managed permissions absent from the state map to no roles.
func roleMappingsFor(wf domain.Workflow, obj domain.Object) map[string][]string {
	out := make(map[string][]string)
	state, ok := wf.States[obj.State(wf.StateVariable)]
	for _, perm := range managedPermissions(wf) {
		var roles []string
		if ok {
			roles = append([]string(nil), state.Permissions[perm]...)
		}
		slices.Sort(roles)
		out[perm] = roles
	}
	return out
}

// applyRoleMappings writes wf's mappings onto obj and reports whether any
// permission changed.
func applyRoleMappings(wf domain.Workflow, obj *domain.Object) bool {
	mappings := roleMappingsFor(wf, *obj)
	if len(mappings) == 0 {
		return false
	}
	if obj.RoleMappings == nil {
		obj.RoleMappings = make(map[string][]string, len(mappings))
	}
	changed := false
	for perm, roles := range mappings {
		current, ok := obj.RoleMappings[perm]
		if ok && slices.Equal(current, roles) {
			continue
		}
		obj.RoleMappings[perm] = roles
		changed = true
	}
	return changed
}

// UpdateRoleMappingsFor recomputes the role mappings wf manages on the object
// within tx. It reports whether the object changed; unchanged objects are
// not rewritten.
func UpdateRoleMappingsFor(tx domain.Transaction, wf domain.Workflow, uid string) (bool, error) {
	obj, ok := tx.FindObject(uid)
	if !ok {
		return false, domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
	}
	if !applyRoleMappings(wf, &obj) {
		return false, nil
	}
	_, err := tx.UpdateObject(uid, func(o *domain.Object) error {
		o.RoleMappings = obj.RoleMappings
		return nil
	})
	return err == nil, err
}
