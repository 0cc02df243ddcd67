package sqlite

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// buildFilter compiles a filter tree to a parameterized SQL condition.
// Values are never interpolated. A nil tree compiles to an
// unconstrained condition; an empty in-list compiles to a
// never-matching one.
func buildFilter(class schema.Class, n where.Node) (string, []any, error) {
	if n == nil {
		return "1 = 1", nil, nil
	}
	switch node := n.(type) {
	case where.And:
		return buildGroup(class, node.Nodes, " AND ", "1 = 1")
	case where.Or:
		return buildGroup(class, node.Nodes, " OR ", "1 = 0")
	case where.Comparison:
		return buildComparison(class, node)
	default:
		return "", nil, fmt.Errorf("sqlite: unsupported filter node %T", n)
	}
}

func buildGroup(class schema.Class, nodes []where.Node, sep, empty string) (string, []any, error) {
	if len(nodes) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(nodes))
	var args []any
	for _, child := range nodes {
		sql, childArgs, err := buildFilter(class, child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

// quotePath turns a dotted field path into a JSON1 path literal.
func quotePath(field string) string {
	return "'$." + field + "'"
}

func extract(field string) string {
	return "json_extract(data, " + quotePath(field) + ")"
}

// arrayField reports whether the path names an array or relation
// field, which changes the in operator to membership semantics.
func arrayField(class schema.Class, path string) bool {
	if strings.Contains(path, ".") {
		return false
	}
	f, ok := class.Field(path)
	return ok && (f.Kind == schema.Array || f.Kind == schema.Relation)
}

func buildComparison(class schema.Class, cmp where.Comparison) (string, []any, error) {
	if cmp.Field == "id" {
		return buildIDComparison(cmp)
	}

	switch cmp.Op {
	case where.OpEqualTo:
		if cmp.Value == nil {
			return fmt.Sprintf("(json_type(data, %s) IS NULL OR json_type(data, %s) = 'null')",
				quotePath(cmp.Field), quotePath(cmp.Field)), nil, nil
		}
		return compareValue(cmp.Field, "=", cmp.Value)
	case where.OpNotEqualTo:
		if cmp.Value == nil {
			return fmt.Sprintf("(json_type(data, %s) IS NOT NULL AND json_type(data, %s) != 'null')",
				quotePath(cmp.Field), quotePath(cmp.Field)), nil, nil
		}
		sql, args, err := compareValue(cmp.Field, "=", cmp.Value)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + sql, args, nil
	case where.OpGreaterThan:
		return compareValue(cmp.Field, ">", cmp.Value)
	case where.OpGreaterThanOrEqualTo:
		return compareValue(cmp.Field, ">=", cmp.Value)
	case where.OpLessThan:
		return compareValue(cmp.Field, "<", cmp.Value)
	case where.OpLessThanOrEqualTo:
		return compareValue(cmp.Field, "<=", cmp.Value)
	case where.OpIn:
		return buildIn(class, cmp, false)
	case where.OpNotIn:
		return buildIn(class, cmp, true)
	case where.OpContains:
		return buildContains(cmp, false)
	case where.OpNotContains:
		return buildContains(cmp, true)
	case where.OpExists:
		if cmp.Value == false {
			return fmt.Sprintf("json_type(data, %s) IS NULL", quotePath(cmp.Field)), nil, nil
		}
		return fmt.Sprintf("json_type(data, %s) IS NOT NULL", quotePath(cmp.Field)), nil, nil
	default:
		return "", nil, fmt.Errorf("sqlite: unsupported operator %q", cmp.Op)
	}
}

func buildIDComparison(cmp where.Comparison) (string, []any, error) {
	switch cmp.Op {
	case where.OpEqualTo:
		return "id = ?", []any{cmp.Value}, nil
	case where.OpNotEqualTo:
		return "id != ?", []any{cmp.Value}, nil
	case where.OpIn, where.OpNotIn:
		values, err := inValues(cmp.Value)
		if err != nil {
			return "", nil, err
		}
		if len(values) == 0 {
			if cmp.Op == where.OpNotIn {
				return "1 = 1", nil, nil
			}
			return "1 = 0", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		op := "IN"
		if cmp.Op == where.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("id %s (%s)", op, placeholders), values, nil
	case where.OpExists:
		if cmp.Value == false {
			return "1 = 0", nil, nil
		}
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("sqlite: unsupported operator %q on id", cmp.Op)
	}
}

// compareValue binds scalars directly; arrays and objects compare
// against their canonical JSON text.
func compareValue(field, op string, value any) (string, []any, error) {
	switch value.(type) {
	case []any, []string, map[string]any:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("sqlite: encode filter value: %w", err)
		}
		return fmt.Sprintf("%s %s json(?)", extract(field), op), []any{string(raw)}, nil
	default:
		return fmt.Sprintf("%s %s ?", extract(field), op), []any{value}, nil
	}
}

func inValues(v any) ([]any, error) {
	switch values := v.(type) {
	case []any:
		return values, nil
	case []string:
		out := make([]any, len(values))
		for i, s := range values {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sqlite: in operator needs a list, got %T", v)
	}
}

func buildIn(class schema.Class, cmp where.Comparison, negate bool) (string, []any, error) {
	values, err := inValues(cmp.Value)
	if err != nil {
		return "", nil, err
	}
	if len(values) == 0 {
		if negate {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")

	var sql string
	if arrayField(class, cmp.Field) {
		// Membership: any element of the stored array is in the list.
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(data, %s) WHERE json_each.value IN (%s))",
			quotePath(cmp.Field), placeholders)
	} else {
		sql = fmt.Sprintf("%s IN (%s)", extract(cmp.Field), placeholders)
	}
	if negate {
		sql = "NOT " + sql
	}
	return sql, values, nil
}

// buildContains matches arrays that have a member equal to the value,
// or - for map values - a member whose listed keys all match.
func buildContains(cmp where.Comparison, negate bool) (string, []any, error) {
	var sql string
	var args []any

	switch value := cmp.Value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		conds := make([]string, len(keys))
		for i, k := range keys {
			conds[i] = fmt.Sprintf("json_extract(json_each.value, '$.%s') = ?", k)
			args = append(args, value[k])
		}
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(data, %s) WHERE %s)",
			quotePath(cmp.Field), strings.Join(conds, " AND "))
	default:
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(data, %s) WHERE json_each.value = ?)",
			quotePath(cmp.Field))
		args = []any{cmp.Value}
	}

	if negate {
		sql = "NOT " + sql
	}
	return sql, args, nil
}
