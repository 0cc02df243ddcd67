// Package adapter defines the contract every physical store implements.
//
// Adapters receive fully compiled filter trees - And, Or, and
// Comparison nodes only - and translate them to their native query
// form. The engine acquires one logical unit of work per call and
// never holds a connection across hook or resolution stages.
package adapter

import (
	"context"
	"errors"

	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// ErrNotFound is returned by GetObject, UpdateObject, and DeleteObject
// when no row matches the id plus filter. The controller surfaces it
// as ObjectNotFound regardless of whether the cause was true absence
// or an injected ACL condition.
var ErrNotFound = errors.New("object not found")

// GetParams selects a single object by id, optionally narrowed by a
// compiled filter. A nil Select returns every physical field.
type GetParams struct {
	Class  string
	ID     string
	Where  where.Node
	Select where.Select
}

// ListParams selects many objects. Order, First, and Offset are passed
// through unmodified; adapters impose no secondary sort.
type ListParams struct {
	Class  string
	Where  where.Node
	Select where.Select
	Order  []where.Order
	First  int
	Offset int
}

// CountParams counts objects matching a compiled filter.
type CountParams struct {
	Class string
	Where where.Node
}

// CreateParams inserts one object. The adapter assigns and returns the
// id; the payload never carries one.
type CreateParams struct {
	Class string
	Data  map[string]any
}

// CreateManyParams inserts a batch; returned ids align with Data.
type CreateManyParams struct {
	Class string
	Data  []map[string]any
}

// UpdateParams updates one object by id, narrowed by a compiled
// filter (which carries the caller's write ACL).
type UpdateParams struct {
	Class string
	ID    string
	Where where.Node
	Data  map[string]any
}

// UpdateManyParams applies one change set to every object matching the
// filter, returning the touched ids.
type UpdateManyParams struct {
	Class string
	Where where.Node
	Data  map[string]any
}

// DeleteParams deletes one object by id plus filter.
type DeleteParams struct {
	Class string
	ID    string
	Where where.Node
}

// DeleteManyParams deletes every object matching the filter.
type DeleteManyParams struct {
	Class string
	Where where.Node
}

// Adapter executes compiled queries against one physical store.
//
// Contract notes shared by all implementations:
//   - an empty OpIn value list is a never-matching predicate
//   - OpEqualTo nil matches both explicit null and absent fields
//   - OpIn on an array-kind field means "any element in list"
//   - OpContains with a map value means "array has a member with all
//     of these keys equal"
type Adapter interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// EnsureClass creates the physical container for a class when it
	// does not exist yet. Idempotent.
	EnsureClass(ctx context.Context, class schema.Class) error

	Count(ctx context.Context, p CountParams) (int64, error)
	GetObject(ctx context.Context, p GetParams) (map[string]any, error)
	GetObjects(ctx context.Context, p ListParams) ([]map[string]any, error)

	CreateObject(ctx context.Context, p CreateParams) (string, error)
	CreateObjects(ctx context.Context, p CreateManyParams) ([]string, error)

	UpdateObject(ctx context.Context, p UpdateParams) (string, error)
	UpdateObjects(ctx context.Context, p UpdateManyParams) ([]string, error)

	DeleteObject(ctx context.Context, p DeleteParams) error
	DeleteObjects(ctx context.Context, p DeleteManyParams) error

	// ClearDatabase drops every object of every class. Test support.
	ClearDatabase(ctx context.Context) error
}
