// Package compile turns an abstract filter tree plus a caller identity
// into the final tree a storage adapter can execute.
//
// Compilation does three things, in order:
//  1. rewrites Reference leaves (sub-filters on pointer/relation
//     fields) into id-set membership by querying the target class,
//  2. expands relation Emptiness leaves into the exists/equal-empty
//     form both storage models need,
//  3. wraps the result in the caller's access-control clause unless
//     the caller is root.
//
// The input tree is never mutated; a new tree is returned.
package compile

import (
	"context"
	"fmt"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// Operation selects which ACL grant a compiled filter enforces.
type Operation string

const (
	Read  Operation = "read"
	Write Operation = "write"
)

// TargetLookup resolves the ids of a target class matching a filter.
// The controller implements it; lookups run with the caller's own
// identity so ACL applies transitively to referenced classes.
type TargetLookup interface {
	MatchingIDs(ctx context.Context, className string, filter where.Node, caller access.Identity) ([]string, error)
}

// Compile produces the adapter-ready filter for one operation. The
// returned tree contains only And, Or, and Comparison nodes.
//
// An empty input filter compiles to nil (unconstrained) for root and
// to exactly the ACL clause for everyone else.
func Compile(ctx context.Context, reg *schema.Registry, className string, filter where.Node, caller access.Identity, op Operation, lookup TargetLookup) (where.Node, error) {
	class, err := reg.Class(className)
	if err != nil {
		return nil, err
	}

	compiled, err := compileNode(ctx, reg, class, filter, caller, lookup)
	if err != nil {
		return nil, err
	}

	if caller.IsRoot {
		return compiled, nil
	}
	return where.AllOf(compiled, aclClause(caller, op)), nil
}

func compileNode(ctx context.Context, reg *schema.Registry, class schema.Class, n where.Node, caller access.Identity, lookup TargetLookup) (where.Node, error) {
	switch node := n.(type) {
	case nil:
		return nil, nil

	case where.And:
		children, err := compileChildren(ctx, reg, class, node.Nodes, caller, lookup)
		if err != nil {
			return nil, err
		}
		return where.AllOf(children...), nil

	case where.Or:
		children, err := compileChildren(ctx, reg, class, node.Nodes, caller, lookup)
		if err != nil {
			return nil, err
		}
		return where.AnyOf(children...), nil

	case where.Comparison:
		return node, nil

	case where.Emptiness:
		return expandEmptiness(node), nil

	case where.Reference:
		return flattenReference(ctx, reg, class, node, caller, lookup)

	default:
		return nil, fmt.Errorf("compile: unsupported filter node %T", n)
	}
}

func compileChildren(ctx context.Context, reg *schema.Registry, class schema.Class, nodes []where.Node, caller access.Identity, lookup TargetLookup) ([]where.Node, error) {
	out := make([]where.Node, 0, len(nodes))
	for _, child := range nodes {
		compiled, err := compileNode(ctx, reg, class, child, caller, lookup)
		if err != nil {
			return nil, err
		}
		// Empty branches are dropped, never replaced by an
		// always-true or always-false leaf.
		if compiled != nil {
			out = append(out, compiled)
		}
	}
	return out, nil
}

// expandEmptiness rewrites relation isEmpty filters. Storage may model
// an empty relation as an absent field or an empty array, so both
// shapes are covered.
func expandEmptiness(node where.Emptiness) where.Node {
	if node.Empty {
		return where.Or{Nodes: []where.Node{
			where.Comparison{Field: node.Field, Op: where.OpEqualTo, Value: []any{}},
			where.Comparison{Field: node.Field, Op: where.OpExists, Value: false},
		}}
	}
	return where.And{Nodes: []where.Node{
		where.Comparison{Field: node.Field, Op: where.OpExists, Value: true},
		where.Comparison{Field: node.Field, Op: where.OpNotEqualTo, Value: []any{}},
	}}
}

// flattenReference resolves a sub-filter on a pointer or relation
// field into id-set membership on that field. Zero matching targets
// compile to an empty in-list, which adapters translate to a
// never-matching predicate - an unconstrained leaf here would silently
// widen the result set.
func flattenReference(ctx context.Context, reg *schema.Registry, class schema.Class, node where.Reference, caller access.Identity, lookup TargetLookup) (where.Node, error) {
	field, ok := class.Field(node.Field)
	if !ok {
		return nil, fmt.Errorf("compile: class %s has no field %q", class.Name, node.Field)
	}
	if field.Kind != schema.Pointer && field.Kind != schema.Relation {
		return nil, fmt.Errorf("compile: field %s.%s is not a pointer or relation", class.Name, node.Field)
	}
	if lookup == nil {
		return nil, fmt.Errorf("compile: reference filter on %s.%s requires a target lookup", class.Name, node.Field)
	}
	if _, err := reg.Class(field.Target); err != nil {
		return nil, err
	}

	ids, err := lookup.MatchingIDs(ctx, field.Target, node.Where, caller)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return where.Comparison{Field: node.Field, Op: where.OpIn, Value: values}, nil
}

// aclClause builds the access-control condition injected for non-root
// callers. User-level entries take precedence: the role branch only
// applies when no user entry exists for the caller.
func aclClause(caller access.Identity, op Operation) where.Node {
	grantKey := access.ACLReadKey
	if op == Write {
		grantKey = access.ACLWriteKey
	}

	open := where.Comparison{Field: access.ACLField, Op: where.OpEqualTo, Value: nil}
	if !caller.Authenticated() {
		return open
	}

	branches := []where.Node{
		open,
		where.Comparison{
			Field: access.ACLUsersPath,
			Op:    where.OpContains,
			Value: map[string]any{access.ACLUserIDKey: caller.UserID, grantKey: true},
		},
	}
	if caller.RoleID != "" {
		branches = append(branches, where.And{Nodes: []where.Node{
			where.Comparison{
				Field: access.ACLRolesPath,
				Op:    where.OpContains,
				Value: map[string]any{access.ACLRoleIDKey: caller.RoleID, grantKey: true},
			},
			where.Comparison{
				Field: access.ACLUsersPath,
				Op:    where.OpNotContains,
				Value: map[string]any{access.ACLUserIDKey: caller.UserID},
			},
		}})
	}
	return where.Or{Nodes: branches}
}
