package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/compile"
	"github.com/quarrydb/quarry/internal/hook"
	"github.com/quarrydb/quarry/internal/metrics"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// DefaultMaxDepth bounds pointer/relation resolution nesting. The
// selection tree is finite so recursion always terminates; the cap
// bounds worst-case fan-out.
const DefaultMaxDepth = 5

// Controller orchestrates every object operation against one adapter.
type Controller struct {
	registry *schema.Registry
	adapter  adapter.Adapter
	hooks    *hook.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	maxDepth int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. Default discards.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics enables per-operation counters and latency histograms.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMaxDepth overrides the reference-resolution depth cap.
func WithMaxDepth(depth int) Option {
	return func(c *Controller) { c.maxDepth = depth }
}

// New builds a Controller and registers the engine-owned hooks: ACL
// population, virtual-field materialization, and one cascade-delete
// hook per class that declares cascades.
func New(reg *schema.Registry, ad adapter.Adapter, hooks *hook.Registry, opts ...Option) *Controller {
	if hooks == nil {
		hooks = hook.NewRegistry()
	}
	c := &Controller{
		registry: reg,
		adapter:  ad,
		hooks:    hooks,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(c)
	}

	hook.RegisterBuiltins(hooks)
	for _, class := range reg.Classes() {
		if len(class.Cascades) > 0 {
			c.registerCascade(class)
		}
	}
	return c
}

// Registry exposes the schema registry (read-only).
func (c *Controller) Registry() *schema.Registry { return c.registry }

// Hooks exposes the hook registry for user registrations.
func (c *Controller) Hooks() *hook.Registry { return c.hooks }

// registerCascade deletes dependent children after a parent of this
// class is deleted. Runs root-privileged: the parent delete already
// passed the caller's ACL.
func (c *Controller) registerCascade(class schema.Class) {
	cascades := class.Cascades
	c.hooks.RegisterInternal(class.Name, hook.AfterDelete, hook.PriorityCascadeDelete,
		func(ctx context.Context, obj *hook.Object) error {
			if obj.ID() == "" {
				return nil
			}
			for _, cascade := range cascades {
				_, err := c.DeleteMany(ctx, DeleteManyParams{
					Class:  cascade.Class,
					Where:  where.Eq(cascade.PointerField, obj.ID()),
					Select: where.IDOnly(),
				}, access.Root())
				if err != nil && !IsObjectNotFound(err) {
					return err
				}
			}
			return nil
		})
}

// MatchingIDs implements compile.TargetLookup: it resolves the ids of
// a target class matching a filter, under the caller's own identity so
// ACL applies transitively through reference filters.
func (c *Controller) MatchingIDs(ctx context.Context, className string, filter where.Node, caller access.Identity) ([]string, error) {
	compiled, err := compile.Compile(ctx, c.registry, className, filter, caller, compile.Read, c)
	if err != nil {
		return nil, err
	}
	rows, err := c.adapter.GetObjects(ctx, adapter.ListParams{
		Class:  className,
		Where:  compiled,
		Select: where.IDOnly(),
	})
	if err != nil {
		return nil, &AdapterError{Class: className, Err: err}
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// runner builds a hook runner whose loader callbacks are
// root-privileged, hook-skipping adapter reads.
func (c *Controller) runner(class schema.Class, caller access.Identity, sel where.Select) *hook.Runner {
	loader := func(ctx context.Context, id string) (map[string]any, error) {
		row, err := c.adapter.GetObject(ctx, adapter.GetParams{Class: class.Name, ID: id})
		if errors.Is(err, adapter.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, &AdapterError{Class: class.Name, Err: err}
		}
		return row, nil
	}
	listLoader := func(ctx context.Context, filter where.Node) ([]map[string]any, error) {
		rows, err := c.adapter.GetObjects(ctx, adapter.ListParams{Class: class.Name, Where: filter})
		if err != nil {
			return nil, &AdapterError{Class: class.Name, Err: err}
		}
		return rows, nil
	}
	return c.hooks.Initialize(class, caller, sel, loader, listLoader)
}

// adapterSelect widens the caller's selection with the fields the
// engine needs internally: the id, the dependencies of selected
// virtual fields, and the foreign-id storage of selected pointers and
// relations. Projection strips the extras again before anything is
// returned.
func adapterSelect(class schema.Class, sel where.Select) where.Select {
	if sel == nil {
		return nil
	}
	out := sel.Merge("id")
	for _, f := range class.VirtualFields() {
		if sel.Has(f.Name) {
			out = out.Merge(f.DependsOn...)
		}
	}
	return out
}

// stripPayload removes virtual fields (never persisted) and the id
// (adapter-assigned, immutable) from a write payload.
func stripPayload(class schema.Class, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		if f, ok := class.Fields[k]; ok && f.Kind == schema.Virtual {
			continue
		}
		out[k] = v
	}
	return out
}

func idValues(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// idOnly reports whether sel is the id-only sentinel: non-nil and
// empty, meaning "skip the materializing re-read".
func idOnly(sel where.Select) bool {
	return sel != nil && len(sel) == 0
}
