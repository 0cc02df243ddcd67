package where

// Direction orders results ascending or descending.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Order is one sort key. Order lists are passed through to adapters
// unmodified; the engine imposes no secondary sort.
type Order struct {
	Field     string
	Direction Direction
}

// Select maps field names to selection entries.
//
// Three shapes matter to the controller:
//   - a nil Select means "every physical field"
//   - an empty non-nil Select is the identifiers-only sentinel: writes
//     return {id} without a materializing re-read
//   - a populated Select lists exactly the top-level keys that may
//     appear in the projected output
type Select map[string]Entry

// Entry is the selection of a single field. A zero Entry selects a
// scalar. Sub selects into a nested object, pointer target, or
// relation target. The remaining fields are relation sub-arguments
// forwarded by the reference resolver.
type Entry struct {
	Sub       Select
	Where     Node
	Order     []Order
	First     int
	Offset    int
	WithCount bool
}

// Leaf is the entry selecting a plain field.
var Leaf = Entry{}

// Take returns a Select of plain leaves for the given fields.
func Take(fields ...string) Select {
	s := make(Select, len(fields))
	for _, f := range fields {
		s[f] = Leaf
	}
	return s
}

// IDOnly is the empty-but-non-nil sentinel select.
func IDOnly() Select {
	return Select{}
}

// Merge returns a copy of s with the given fields added as plain
// leaves when absent. A nil receiver stays nil: it already selects
// everything.
func (s Select) Merge(fields ...string) Select {
	if s == nil {
		return nil
	}
	out := make(Select, len(s)+len(fields))
	for k, v := range s {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f]; !ok {
			out[f] = Leaf
		}
	}
	return out
}

// Has reports whether the field is selected. A nil Select selects
// every field.
func (s Select) Has(field string) bool {
	if s == nil {
		return true
	}
	_, ok := s[field]
	return ok
}
