package hook

import (
	"context"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/schema"
)

// Builtin priorities. Spread out so future internal hooks can slot in
// between without renumbering.
const (
	PriorityACLSetup      = -30
	PriorityCascadeDelete = -20
	PriorityVirtualFields = -10
)

// RegisterBuiltins installs the engine-owned hooks that do not need a
// controller handle: ACL population on create and virtual-field
// materialization after read. The cascade-delete hook is registered by
// the controller itself, which owns the recursive delete.
func RegisterBuiltins(r *Registry) {
	r.RegisterInternal("", BeforeCreate, PriorityACLSetup, populateACL)
	r.RegisterInternal("", AfterRead, PriorityVirtualFields, materializeVirtuals)
}

// populateACL derives an acl document when the payload does not carry
// one: from the class's DefaultACL callback when set, otherwise from
// the class-level authorized user/role lists. A payload with an
// explicit acl (including nil) is authoritative and left alone.
func populateACL(_ context.Context, obj *Object) error {
	if obj.Data == nil {
		return nil
	}
	if _, set := obj.Data[access.ACLField]; set {
		return nil
	}

	if cb := obj.Class.DefaultACL; cb != nil {
		if acl := cb(obj.Caller, obj.Data); acl != nil {
			obj.Data[access.ACLField] = acl
		}
		return nil
	}

	users := mergeGrants(obj.Class.AuthorizedUsers, access.ACLUserIDKey)
	roles := mergeGrants(obj.Class.AuthorizedRoles, access.ACLRoleIDKey)
	if len(users) == 0 && len(roles) == 0 {
		return nil
	}

	acl := map[string]any{}
	if len(users) > 0 {
		acl["users"] = users
	}
	if len(roles) > 0 {
		acl["roles"] = roles
	}
	obj.Data[access.ACLField] = acl
	return nil
}

// mergeGrants folds the read and write id lists of one Access into
// per-id entries, so an id on both lists yields a single entry with
// both grants.
func mergeGrants(a schema.Access, idKey string) []any {
	type grant struct{ read, write bool }
	byID := map[string]*grant{}
	order := []string{}

	get := func(id string) *grant {
		g, ok := byID[id]
		if !ok {
			g = &grant{}
			byID[id] = g
			order = append(order, id)
		}
		return g
	}
	for _, id := range a.Read {
		get(id).read = true
	}
	for _, id := range a.Write {
		get(id).write = true
	}

	out := make([]any, 0, len(order))
	for _, id := range order {
		g := byID[id]
		out = append(out, map[string]any{
			idKey:             id,
			access.ACLReadKey: g.read, access.ACLWriteKey: g.write,
		})
	}
	return out
}

// materializeVirtuals computes every selected virtual field whose
// declared dependencies were fetched. The controller over-fetches the
// dependencies (and strips unselected ones again at projection), so a
// virtual field is computable whenever it was requested.
func materializeVirtuals(_ context.Context, obj *Object) error {
	if obj.Data == nil {
		return nil
	}
	for _, f := range obj.Class.VirtualFields() {
		if !obj.Select.Has(f.Name) || f.Compute == nil {
			continue
		}
		if !dependenciesPresent(obj.Data, f.DependsOn) {
			continue
		}
		obj.Data[f.Name] = f.Compute(obj.Data)
	}
	return nil
}

func dependenciesPresent(data map[string]any, deps []string) bool {
	for _, dep := range deps {
		if _, ok := data[dep]; !ok {
			return false
		}
	}
	return true
}
