package controller

import (
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// project reduces a row to exactly the caller's selected top-level
// keys plus the id. Fields fetched internally - virtual-field
// dependencies, foreign ids of unselected references - never leak.
// Projection is idempotent: projecting an already-projected object
// with the same selection is a no-op.
func project(class schema.Class, row map[string]any, sel where.Select) map[string]any {
	if row == nil {
		return nil
	}
	if sel == nil {
		return row
	}

	out := make(map[string]any, len(sel)+1)
	if id, ok := row["id"]; ok {
		out["id"] = id
	}
	for name, entry := range sel {
		value, ok := row[name]
		if !ok {
			continue
		}
		if entry.Sub != nil {
			if field, known := class.Fields[name]; known && field.Kind == schema.Object {
				value = projectNested(field, value, entry.Sub)
			}
		}
		out[name] = value
	}
	return out
}

// projectNested applies a sub-selection to a nested object value.
// Pointer and relation values were already projected by the recursive
// reads that resolved them.
func projectNested(field schema.Field, value any, sel where.Select) any {
	nested, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(sel))
	for name, entry := range sel {
		v, present := nested[name]
		if !present {
			continue
		}
		if entry.Sub != nil {
			if child, known := field.Fields[name]; known && child.Kind == schema.Object {
				v = projectNested(child, v, entry.Sub)
			}
		}
		out[name] = v
	}
	return out
}
