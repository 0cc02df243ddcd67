package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/quarrydb/quarry/internal/where"
)

// buildFilter compiles a filter tree to a bson document. Dotted field
// paths map natively onto nested queries; the id field maps to _id.
func buildFilter(n where.Node) (bson.M, error) {
	if n == nil {
		return bson.M{}, nil
	}
	switch node := n.(type) {
	case where.And:
		return buildGroup(node.Nodes, "$and")
	case where.Or:
		return buildGroup(node.Nodes, "$or")
	case where.Comparison:
		return buildComparison(node)
	default:
		return nil, fmt.Errorf("mongo: unsupported filter node %T", n)
	}
}

func buildGroup(nodes []where.Node, op string) (bson.M, error) {
	if len(nodes) == 0 {
		if op == "$or" {
			// An empty OR matches nothing.
			return bson.M{"_id": bson.M{"$in": []any{}}}, nil
		}
		return bson.M{}, nil
	}
	children := make([]bson.M, 0, len(nodes))
	for _, child := range nodes {
		built, err := buildFilter(child)
		if err != nil {
			return nil, err
		}
		children = append(children, built)
	}
	return bson.M{op: children}, nil
}

func fieldPath(field string) string {
	if field == "id" {
		return "_id"
	}
	return field
}

func buildComparison(cmp where.Comparison) (bson.M, error) {
	path := fieldPath(cmp.Field)

	switch cmp.Op {
	case where.OpEqualTo:
		// {field: null} matches explicit null and absent alike.
		return bson.M{path: cmp.Value}, nil
	case where.OpNotEqualTo:
		return bson.M{path: bson.M{"$ne": cmp.Value}}, nil
	case where.OpGreaterThan:
		return bson.M{path: bson.M{"$gt": cmp.Value}}, nil
	case where.OpGreaterThanOrEqualTo:
		return bson.M{path: bson.M{"$gte": cmp.Value}}, nil
	case where.OpLessThan:
		return bson.M{path: bson.M{"$lt": cmp.Value}}, nil
	case where.OpLessThanOrEqualTo:
		return bson.M{path: bson.M{"$lte": cmp.Value}}, nil
	case where.OpIn:
		values, err := listValues(cmp.Value)
		if err != nil {
			return nil, err
		}
		// $in on an array field means element overlap; an empty list
		// matches nothing, which is exactly the empty sentinel.
		return bson.M{path: bson.M{"$in": values}}, nil
	case where.OpNotIn:
		values, err := listValues(cmp.Value)
		if err != nil {
			return nil, err
		}
		return bson.M{path: bson.M{"$nin": values}}, nil
	case where.OpContains:
		return bson.M{path: bson.M{"$elemMatch": elemMatch(cmp.Value)}}, nil
	case where.OpNotContains:
		return bson.M{path: bson.M{"$not": bson.M{"$elemMatch": elemMatch(cmp.Value)}}}, nil
	case where.OpExists:
		return bson.M{path: bson.M{"$exists": cmp.Value != false}}, nil
	default:
		return nil, fmt.Errorf("mongo: unsupported operator %q", cmp.Op)
	}
}

// elemMatch matches an array member with every listed key equal (map
// values) or equal to the value itself (scalars).
func elemMatch(value any) bson.M {
	if m, ok := value.(map[string]any); ok {
		match := make(bson.M, len(m))
		for k, v := range m {
			match[k] = v
		}
		return match
	}
	return bson.M{"$eq": value}
}

func listValues(v any) ([]any, error) {
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
		return nil, fmt.Errorf("mongo: in operator needs a list, got %T", v)
	}
}
