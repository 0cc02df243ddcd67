package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarrydb/quarry/internal/where"
)

// buildFilter compiles a filter tree to a parameterized SQL condition
// over the JSONB data column. Positional parameters are appended to
// args; values are never interpolated.
func buildFilter(n where.Node, args *[]any) (string, error) {
	if n == nil {
		return "TRUE", nil
	}
	switch node := n.(type) {
	case where.And:
		return buildGroup(node.Nodes, " AND ", "TRUE", args)
	case where.Or:
		return buildGroup(node.Nodes, " OR ", "FALSE", args)
	case where.Comparison:
		return buildComparison(node, args)
	default:
		return "", fmt.Errorf("postgres: unsupported filter node %T", n)
	}
}

func buildGroup(nodes []where.Node, sep, empty string, args *[]any) (string, error) {
	if len(nodes) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(nodes))
	for _, child := range nodes {
		sql, err := buildFilter(child, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func bind(args *[]any, value any) string {
	*args = append(*args, value)
	return fmt.Sprintf("$%d", len(*args))
}

func bindJSON(args *[]any, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("postgres: encode filter value: %w", err)
	}
	return bind(args, string(raw)) + "::jsonb", nil
}

// jsonPath turns a dotted field path into a #> path literal.
func jsonPath(field string) string {
	return "'{" + strings.ReplaceAll(field, ".", ",") + "}'"
}

func jsonExpr(field string) string {
	return "data #> " + jsonPath(field)
}

func textExpr(field string) string {
	return "data #>> " + jsonPath(field)
}

func buildComparison(cmp where.Comparison, args *[]any) (string, error) {
	if cmp.Field == "id" {
		return buildIDComparison(cmp, args)
	}

	switch cmp.Op {
	case where.OpEqualTo:
		if cmp.Value == nil {
			return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", jsonExpr(cmp.Field), jsonExpr(cmp.Field)), nil
		}
		param, err := bindJSON(args, cmp.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", jsonExpr(cmp.Field), param), nil

	case where.OpNotEqualTo:
		if cmp.Value == nil {
			return fmt.Sprintf("(%s IS NOT NULL AND %s != 'null'::jsonb)", jsonExpr(cmp.Field), jsonExpr(cmp.Field)), nil
		}
		param, err := bindJSON(args, cmp.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IS DISTINCT FROM %s", jsonExpr(cmp.Field), param), nil

	case where.OpGreaterThan:
		return buildOrdered(cmp, ">", args)
	case where.OpGreaterThanOrEqualTo:
		return buildOrdered(cmp, ">=", args)
	case where.OpLessThan:
		return buildOrdered(cmp, "<", args)
	case where.OpLessThanOrEqualTo:
		return buildOrdered(cmp, "<=", args)

	case where.OpIn:
		return buildIn(cmp, false, args)
	case where.OpNotIn:
		return buildIn(cmp, true, args)

	case where.OpContains:
		return buildContains(cmp, false, args)
	case where.OpNotContains:
		return buildContains(cmp, true, args)

	case where.OpExists:
		if cmp.Value == false {
			return jsonExpr(cmp.Field) + " IS NULL", nil
		}
		return jsonExpr(cmp.Field) + " IS NOT NULL", nil

	default:
		return "", fmt.Errorf("postgres: unsupported operator %q", cmp.Op)
	}
}

func buildIDComparison(cmp where.Comparison, args *[]any) (string, error) {
	switch cmp.Op {
	case where.OpEqualTo:
		return "id = " + bind(args, cmp.Value), nil
	case where.OpNotEqualTo:
		return "id != " + bind(args, cmp.Value), nil
	case where.OpIn, where.OpNotIn:
		ids, err := stringValues(cmp.Value)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			if cmp.Op == where.OpNotIn {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		expr := "id = ANY(" + bind(args, ids) + ")"
		if cmp.Op == where.OpNotIn {
			expr = "NOT " + expr
		}
		return expr, nil
	default:
		return "", fmt.Errorf("postgres: unsupported operator %q on id", cmp.Op)
	}
}

// buildOrdered compares numerically when the value is a number and
// textually otherwise.
func buildOrdered(cmp where.Comparison, op string, args *[]any) (string, error) {
	switch cmp.Value.(type) {
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("(%s)::numeric %s %s", textExpr(cmp.Field), op, bind(args, cmp.Value)), nil
	default:
		return fmt.Sprintf("%s %s %s", textExpr(cmp.Field), op, bind(args, cmp.Value)), nil
	}
}

func stringValues(v any) ([]string, error) {
	switch values := v.(type) {
	case []string:
		return values, nil
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("postgres: expected string list, got %T element", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("postgres: in operator needs a list, got %T", v)
	}
}

// buildIn matches scalar fields by equality against any listed value;
// for array-shaped values stored at the path (relations), jsonb ?|
// provides element overlap on string ids.
func buildIn(cmp where.Comparison, negate bool, args *[]any) (string, error) {
	values, ok := cmp.Value.([]any)
	if !ok {
		ids, err := stringValues(cmp.Value)
		if err != nil {
			return "", err
		}
		values = make([]any, len(ids))
		for i, id := range ids {
			values[i] = id
		}
	}
	if len(values) == 0 {
		if negate {
			return "TRUE", nil
		}
		return "FALSE", nil
	}

	allStrings := true
	for _, v := range values {
		if _, ok := v.(string); !ok {
			allStrings = false
			break
		}
	}

	var expr string
	if allStrings {
		ids := make([]string, len(values))
		for i, v := range values {
			ids[i] = v.(string)
		}
		// ?| matches a jsonb string by equality and a jsonb array by
		// element membership, covering pointer and relation fields
		// with one predicate.
		expr = fmt.Sprintf("%s ?| %s", jsonExpr(cmp.Field), bind(args, ids))
	} else {
		params := make([]string, len(values))
		for i, v := range values {
			param, err := bindJSON(args, v)
			if err != nil {
				return "", err
			}
			params[i] = param
		}
		expr = fmt.Sprintf("%s = ANY(ARRAY[%s])", jsonExpr(cmp.Field), strings.Join(params, ", "))
	}

	if negate {
		expr = "NOT " + expr
	}
	return expr, nil
}

// buildContains wraps the value in a one-element array and uses jsonb
// containment, so a map value matches any array member with all listed
// keys equal. COALESCE keeps absent fields well-defined under NOT.
func buildContains(cmp where.Comparison, negate bool, args *[]any) (string, error) {
	param, err := bindJSON(args, []any{cmp.Value})
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf("COALESCE(%s @> %s, FALSE)", jsonExpr(cmp.Field), param)
	if negate {
		expr = "NOT " + expr
	}
	return expr, nil
}

func orderClause(order []where.Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Direction == where.Desc {
			dir = "DESC"
		}
		if o.Field == "id" {
			parts[i] = "id " + dir
		} else {
			parts[i] = jsonExpr(o.Field) + " " + dir
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
