package controller

import (
	"context"
	"fmt"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// resolveReferences expands the pointer and relation fields of one row
// according to the selection, by issuing recursive reads under the
// caller's identity. The row is mutated in place: foreign ids are
// replaced with the resolved objects.
func (c *Controller) resolveReferences(ctx context.Context, class schema.Class, sel where.Select, row map[string]any, caller access.Identity, depth int) error {
	if sel == nil || row == nil {
		return nil
	}

	for name, entry := range sel {
		field, ok := class.Fields[name]
		if !ok || entry.Sub == nil {
			continue
		}
		if field.Kind == schema.Pointer || field.Kind == schema.Relation {
			if depth >= c.maxDepth {
				return fmt.Errorf("reference resolution exceeds depth %d on class %s", c.maxDepth, class.Name)
			}
		}
		switch field.Kind {
		case schema.Pointer:
			if err := c.resolvePointer(ctx, field, entry, row, caller, depth); err != nil {
				return err
			}
		case schema.Relation:
			if err := c.resolveRelation(ctx, field, name, entry, row, caller, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolvePointer swaps a stored foreign id for the target object. A
// null foreign id short-circuits to null without a call, and a target
// the caller may not read resolves to null rather than failing the
// whole request.
func (c *Controller) resolvePointer(ctx context.Context, field schema.Field, entry where.Entry, row map[string]any, caller access.Identity, depth int) error {
	fk, ok := row[field.Name].(string)
	if !ok || fk == "" {
		row[field.Name] = nil
		return nil
	}
	child, err := c.get(ctx, GetParams{Class: field.Target, ID: fk, Select: entry.Sub}, caller, depth+1)
	if IsObjectNotFound(err) {
		row[field.Name] = nil
		return nil
	}
	if err != nil {
		return err
	}
	row[field.Name] = child
	return nil
}

// resolveRelation swaps an array of foreign ids for the target
// objects, honoring the caller's sub-arguments. The total count reuses
// len(ids) when no filter or pagination argument was attached - the
// cheap path - and issues a count query otherwise.
func (c *Controller) resolveRelation(ctx context.Context, field schema.Field, name string, entry where.Entry, row map[string]any, caller access.Identity, depth int) error {
	ids := foreignIDs(row[name])

	members := where.In("id", idValues(ids))
	children, err := c.getMany(ctx, GetManyParams{
		Class:  field.Target,
		Where:  where.AllOf(members, entry.Where),
		Select: entry.Sub,
		Order:  entry.Order,
		First:  entry.First,
		Offset: entry.Offset,
	}, caller, depth+1)
	if err != nil {
		return err
	}

	if !entry.WithCount {
		row[name] = children
		return nil
	}

	total := int64(len(ids))
	if entry.Where != nil || entry.First > 0 || entry.Offset > 0 {
		total, err = c.count(ctx, CountParams{Class: field.Target, Where: where.AllOf(members, entry.Where)}, caller)
		if err != nil {
			return err
		}
	}
	row[name] = map[string]any{"objects": children, "totalCount": total}
	return nil
}

func foreignIDs(v any) []string {
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
