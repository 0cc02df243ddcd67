package controller

import "github.com/quarrydb/quarry/internal/where"

// GetParams selects one object by id. Where optionally narrows the
// match further; the compiled ACL clause is always folded in for
// non-root callers.
type GetParams struct {
	Class  string
	ID     string
	Select where.Select
	Where  where.Node
}

// GetManyParams selects many objects. Order, First, and Offset are
// passed through to the adapter unmodified.
type GetManyParams struct {
	Class  string
	Select where.Select
	Where  where.Node
	Order  []where.Order
	First  int
	Offset int
}

// CountParams counts matching objects.
type CountParams struct {
	Class string
	Where where.Node
}

// CreateParams creates one object and returns it projected through
// Select. The id-only sentinel select skips the materializing re-read.
type CreateParams struct {
	Class  string
	Data   map[string]any
	Select where.Select
}

// CreateManyParams creates a batch; results align with Data.
type CreateManyParams struct {
	Class  string
	Data   []map[string]any
	Select where.Select
}

// UpdateParams updates one object by id.
type UpdateParams struct {
	Class  string
	ID     string
	Data   map[string]any
	Select where.Select
}

// UpdateManyParams updates every object matching Where with one change
// set. Matching ids are snapshotted before the mutation; results come
// back in that snapshot order.
type UpdateManyParams struct {
	Class  string
	Where  where.Node
	Data   map[string]any
	Select where.Select
}

// DeleteParams deletes one object by id, returning its prior state
// projected through Select (unless the id-only sentinel).
type DeleteParams struct {
	Class  string
	ID     string
	Select where.Select
}

// DeleteManyParams deletes every object matching Where.
type DeleteManyParams struct {
	Class  string
	Where  where.Node
	Select where.Select
}
