package hook

import (
	"context"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// Object is the view of one in-flight object handed to each hook.
type Object struct {
	Class  schema.Class
	Caller access.Identity
	Select where.Select

	// Data is the mutable payload: the incoming fields for Before*
	// write ops, the fetched row for read ops. Mutations fold
	// left-to-right across hooks in priority order. Nil on a
	// collection-level run.
	Data map[string]any

	// Where is the compiled filter of a collection-level run: a read
	// targeting a filter rather than a known object set. Nil on
	// per-object runs.
	Where where.Node

	id       string
	original map[string]any
	loaded   bool
	load     func(ctx context.Context) (map[string]any, error)
}

// ID returns the object id, empty for not-yet-created objects.
func (o *Object) ID() string { return o.id }

// Original returns the object's current persisted state, loading it on
// first use. The load runs root-privileged and skips hooks, and
// happens at most once per object; hooks that never dereference the
// pre-image cost no extra read.
func (o *Object) Original(ctx context.Context) (map[string]any, error) {
	if o.loaded || o.load == nil {
		return o.original, nil
	}
	loaded, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	o.original = loaded
	o.loaded = true
	return o.original, nil
}

// Runner executes the hooks of one class for one request.
type Runner struct {
	reg        *Registry
	class      schema.Class
	caller     access.Identity
	sel        where.Select
	loader     ObjectLoader
	listLoader ObjectsLoader
}

// Initialize binds a runner to a class, caller, selection, and the
// loader callbacks used for lazy pre-image access.
func (r *Registry) Initialize(class schema.Class, caller access.Identity, sel where.Select, loader ObjectLoader, listLoader ObjectsLoader) *Runner {
	return &Runner{reg: r, class: class, caller: caller, sel: sel, loader: loader, listLoader: listLoader}
}

// Single carries the inputs for a single-object run. Original may be
// pre-populated (delete snapshots); otherwise it is loaded lazily
// through the runner's ObjectLoader when a hook first asks for it.
type Single struct {
	ID       string
	Data     map[string]any
	Original map[string]any
}

// RunOnSingleObject runs every matching hook in priority order and
// returns the folded Data. An error from any hook aborts the run.
func (r *Runner) RunOnSingleObject(ctx context.Context, op Op, s Single) (map[string]any, error) {
	hooks := r.reg.hooksFor(r.class.Name, op)
	if len(hooks) == 0 {
		return s.Data, nil
	}

	obj := r.newObject(s)
	for _, h := range hooks {
		if err := h.fn(ctx, obj); err != nil {
			return nil, err
		}
	}
	return obj.Data, nil
}

// Multi carries the inputs for a vectorized run. Data is aligned by
// the input payload's position; Originals, when pre-populated, align
// with IDs.
type Multi struct {
	IDs       []string
	Where     where.Node
	Data      []map[string]any
	Originals []map[string]any
}

// RunOnMultipleObjects runs each hook across every object before
// moving to the next hook. Callers must not assume per-object hook
// isolation: ordering is priority-major, not object-major.
//
// When the Multi carries no object set at all (nil IDs and Data, as on
// collection reads and counts), each hook still fires exactly once, on
// a collection-level Object carrying the filter. An empty-but-non-nil
// id set means "zero known objects" and fires nothing.
func (r *Runner) RunOnMultipleObjects(ctx context.Context, op Op, m Multi) ([]map[string]any, error) {
	hooks := r.reg.hooksFor(r.class.Name, op)
	if len(hooks) == 0 {
		return m.Data, nil
	}

	if m.IDs == nil && m.Data == nil {
		obj := &Object{Class: r.class, Caller: r.caller, Select: r.sel, Where: m.Where}
		for _, h := range hooks {
			if err := h.fn(ctx, obj); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	objs := r.newObjects(ctx, m)
	for _, h := range hooks {
		for _, obj := range objs {
			if err := h.fn(ctx, obj); err != nil {
				return nil, err
			}
		}
	}

	out := make([]map[string]any, len(objs))
	for i, obj := range objs {
		out[i] = obj.Data
	}
	return out, nil
}

func (r *Runner) newObject(s Single) *Object {
	obj := &Object{
		Class:    r.class,
		Caller:   r.caller,
		Select:   r.sel,
		Data:     s.Data,
		id:       s.ID,
		original: s.Original,
		loaded:   s.Original != nil,
	}
	if !obj.loaded && s.ID != "" && r.loader != nil {
		id := s.ID
		obj.load = func(ctx context.Context) (map[string]any, error) {
			return r.loader(ctx, id)
		}
	}
	return obj
}

// newObjects builds per-object views sharing one lazy batch load: the
// first pre-image dereference fetches every object in a single query
// and fans the rows out by id.
func (r *Runner) newObjects(ctx context.Context, m Multi) []*Object {
	n := len(m.Data)
	if n == 0 {
		n = len(m.IDs)
	}

	var batch func(ctx context.Context) (map[string]map[string]any, error)
	if r.listLoader != nil && (len(m.IDs) > 0 || m.Where != nil) {
		var once map[string]map[string]any
		filter := m.Where
		if filter == nil {
			values := make([]any, len(m.IDs))
			for i, id := range m.IDs {
				values[i] = id
			}
			filter = where.In("id", values)
		}
		batch = func(ctx context.Context) (map[string]map[string]any, error) {
			if once != nil {
				return once, nil
			}
			rows, err := r.listLoader(ctx, filter)
			if err != nil {
				return nil, err
			}
			once = make(map[string]map[string]any, len(rows))
			for _, row := range rows {
				if id, ok := row["id"].(string); ok {
					once[id] = row
				}
			}
			return once, nil
		}
	}

	objs := make([]*Object, n)
	for i := 0; i < n; i++ {
		s := Single{}
		if i < len(m.IDs) {
			s.ID = m.IDs[i]
		}
		if i < len(m.Data) {
			s.Data = m.Data[i]
		}
		if i < len(m.Originals) {
			s.Original = m.Originals[i]
		}
		obj := r.newObject(s)
		if !obj.loaded && batch != nil && obj.id != "" {
			id := obj.id
			obj.load = func(ctx context.Context) (map[string]any, error) {
				rows, err := batch(ctx)
				if err != nil {
					return nil, err
				}
				return rows[id], nil
			}
		}
		objs[i] = obj
	}
	return objs
}
