package where

// Op identifies a comparison operator on a Comparison leaf.
type Op string

const (
	OpEqualTo              Op = "equalTo"
	OpNotEqualTo           Op = "notEqualTo"
	OpGreaterThan          Op = "greaterThan"
	OpGreaterThanOrEqualTo Op = "greaterThanOrEqualTo"
	OpLessThan             Op = "lessThan"
	OpLessThanOrEqualTo    Op = "lessThanOrEqualTo"
	OpIn                   Op = "in"
	OpNotIn                Op = "notIn"
	OpContains             Op = "contains"
	OpNotContains          Op = "notContains"
	OpExists               Op = "exists"
)

// Node is a node of the abstract filter tree.
//
// Sealed interface: only types in this package implement it.
type Node interface {
	whereNode() // marker method - seals interface to this package
}

// Comparison is a leaf predicate: Field <Op> Value.
//
// Field may be a dotted path into nested objects ("acl.users"). For
// OpIn/OpNotIn the value is a []any; an empty OpIn list means "matches
// nothing" and adapters must translate it to a never-true predicate,
// never drop it. For OpEqualTo with a nil value, adapters must match
// both an explicit null and an absent field.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

func (Comparison) whereNode() {}

// And matches when every child matches. Empty children match everything.
type And struct {
	Nodes []Node
}

func (And) whereNode() {}

// Or matches when at least one child matches.
type Or struct {
	Nodes []Node
}

func (Or) whereNode() {}

// Reference is a sub-filter on the target class of a pointer or
// relation field. The filter compiler resolves it to the set of
// matching target ids and rewrites the leaf to an OpIn comparison;
// adapters never see a Reference.
type Reference struct {
	Field string
	Where Node // filter evaluated against the target class
}

func (Reference) whereNode() {}

// Emptiness filters a relation field on whether it has any members.
// Storage may model an empty relation as an empty array or an absent
// field; the compiler expands Emptiness to cover both. Adapters never
// see an Emptiness node.
type Emptiness struct {
	Field string
	Empty bool
}

func (Emptiness) whereNode() {}

// Eq builds an equalTo leaf. Shorthand used throughout tests and hooks.
func Eq(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpEqualTo, Value: value}
}

// In builds an in leaf over the given values.
func In(field string, values []any) Comparison {
	return Comparison{Field: field, Op: OpIn, Value: values}
}

// AllOf combines nodes with AND, flattening the degenerate cases:
// zero nodes yields nil (no constraint) and one node yields the node
// itself.
func AllOf(nodes ...Node) Node {
	kept := compact(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Nodes: kept}
	}
}

// AnyOf combines nodes with OR, with the same degenerate handling as
// AllOf.
func AnyOf(nodes ...Node) Node {
	kept := compact(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Or{Nodes: kept}
	}
}

func compact(nodes []Node) []Node {
	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return kept
}
