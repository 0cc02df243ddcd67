package controller

import (
	"context"
	"errors"
	"time"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/compile"
	"github.com/quarrydb/quarry/internal/hook"
	"github.com/quarrydb/quarry/internal/where"
)

// Get returns one object projected through the caller's selection.
// Absence and ACL exclusion both surface as ObjectNotFoundError.
func (c *Controller) Get(ctx context.Context, p GetParams, caller access.Identity) (map[string]any, error) {
	start := time.Now()
	obj, err := c.get(ctx, p, caller, 0)
	c.observe("get", p.Class, start, err)
	return obj, err
}

func (c *Controller) get(ctx context.Context, p GetParams, caller access.Identity, depth int) (map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, p.Where, caller, compile.Read, c)
	if err != nil {
		return nil, err
	}

	runner := c.runner(class, caller, p.Select)
	if _, err := runner.RunOnSingleObject(ctx, hook.BeforeRead, hook.Single{ID: p.ID}); err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeRead, Err: err}
	}

	row, err := c.adapter.GetObject(ctx, adapter.GetParams{
		Class:  class.Name,
		ID:     p.ID,
		Where:  compiled,
		Select: adapterSelect(class, p.Select),
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, &ObjectNotFoundError{Class: class.Name, ID: p.ID}
	}
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if err := c.resolveReferences(ctx, class, p.Select, row, caller, depth); err != nil {
		return nil, err
	}

	row, err = runner.RunOnSingleObject(ctx, hook.AfterRead, hook.Single{ID: p.ID, Data: row})
	if err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterRead, Err: err}
	}

	return project(class, row, p.Select), nil
}

// GetMany returns the objects matching the filter, in adapter order.
func (c *Controller) GetMany(ctx context.Context, p GetManyParams, caller access.Identity) ([]map[string]any, error) {
	start := time.Now()
	objs, err := c.getMany(ctx, p, caller, 0)
	c.observe("getMany", p.Class, start, err)
	return objs, err
}

func (c *Controller) getMany(ctx context.Context, p GetManyParams, caller access.Identity, depth int) ([]map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, p.Where, caller, compile.Read, c)
	if err != nil {
		return nil, err
	}

	runner := c.runner(class, caller, p.Select)
	if _, err := runner.RunOnMultipleObjects(ctx, hook.BeforeRead, hook.Multi{Where: compiled}); err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeRead, Err: err}
	}

	rows, err := c.adapter.GetObjects(ctx, adapter.ListParams{
		Class:  class.Name,
		Where:  compiled,
		Select: adapterSelect(class, p.Select),
		Order:  p.Order,
		First:  p.First,
		Offset: p.Offset,
	})
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	for _, row := range rows {
		if err := c.resolveReferences(ctx, class, p.Select, row, caller, depth); err != nil {
			return nil, err
		}
	}

	rows, err = runner.RunOnMultipleObjects(ctx, hook.AfterRead, hook.Multi{IDs: rowIDs(rows), Data: rows})
	if err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterRead, Err: err}
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = project(class, row, p.Select)
	}
	return out, nil
}

// Count counts matching objects. Read hooks still fire, with an empty
// selection and no object materialization.
func (c *Controller) Count(ctx context.Context, p CountParams, caller access.Identity) (int64, error) {
	start := time.Now()
	n, err := c.count(ctx, p, caller)
	c.observe("count", p.Class, start, err)
	return n, err
}

func (c *Controller) count(ctx context.Context, p CountParams, caller access.Identity) (int64, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return 0, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, p.Where, caller, compile.Read, c)
	if err != nil {
		return 0, err
	}

	runner := c.runner(class, caller, where.IDOnly())
	if _, err := runner.RunOnMultipleObjects(ctx, hook.BeforeRead, hook.Multi{Where: compiled}); err != nil {
		return 0, &HookRejectedError{Class: class.Name, Op: hook.BeforeRead, Err: err}
	}

	n, err := c.adapter.Count(ctx, adapter.CountParams{Class: class.Name, Where: compiled})
	if err != nil {
		return 0, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnMultipleObjects(ctx, hook.AfterRead, hook.Multi{Where: compiled}); err != nil {
		return 0, &PostCommitHookError{Class: class.Name, Op: hook.AfterRead, Err: err}
	}
	return n, nil
}

func (c *Controller) observe(op, class string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.Observe(op, class, time.Since(start), err)
	}
	if err != nil {
		c.log.Debug("operation failed", "op", op, "class", class, "err", err)
		return
	}
	c.log.Debug("operation done", "op", op, "class", class, "elapsed", time.Since(start))
}

func rowIDs(rows []map[string]any) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
