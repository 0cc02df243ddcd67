package controller

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/compile"
	"github.com/quarrydb/quarry/internal/hook"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// Create inserts one object. The adapter assigns the id; the returned
// object comes from a root-privileged materializing re-read so
// read-path hooks (ACL shaping, virtual fields) apply uniformly to
// fresh data. The id-only sentinel select returns {id} with no extra
// read.
func (c *Controller) Create(ctx context.Context, p CreateParams, caller access.Identity) (map[string]any, error) {
	start := time.Now()
	obj, err := c.create(ctx, p, caller)
	c.observe("create", p.Class, start, err)
	return obj, err
}

func (c *Controller) create(ctx context.Context, p CreateParams, caller access.Identity) (map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}

	runner := c.runner(class, caller, p.Select)
	data, err := runner.RunOnSingleObject(ctx, hook.BeforeCreate, hook.Single{Data: clone(p.Data)})
	if err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeCreate, Err: err}
	}

	id, err := c.adapter.CreateObject(ctx, adapter.CreateParams{
		Class: class.Name,
		Data:  stripPayload(class, data),
	})
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnSingleObject(ctx, hook.AfterCreate, hook.Single{ID: id, Data: data}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterCreate, Err: err}
	}

	if idOnly(p.Select) {
		return map[string]any{"id": id}, nil
	}
	return c.get(ctx, GetParams{Class: class.Name, ID: id, Select: p.Select}, access.Root(), 0)
}

// CreateMany inserts a batch; results align with the input payloads.
// A zero-length batch returns an empty slice without touching the
// adapter.
func (c *Controller) CreateMany(ctx context.Context, p CreateManyParams, caller access.Identity) ([]map[string]any, error) {
	start := time.Now()
	objs, err := c.createMany(ctx, p, caller)
	c.observe("createMany", p.Class, start, err)
	return objs, err
}

func (c *Controller) createMany(ctx context.Context, p CreateManyParams, caller access.Identity) ([]map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	if len(p.Data) == 0 {
		return []map[string]any{}, nil
	}

	payloads := make([]map[string]any, len(p.Data))
	for i, d := range p.Data {
		payloads[i] = clone(d)
	}

	runner := c.runner(class, caller, p.Select)
	payloads, err = runner.RunOnMultipleObjects(ctx, hook.BeforeCreate, hook.Multi{Data: payloads})
	if err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeCreate, Err: err}
	}

	stripped := make([]map[string]any, len(payloads))
	for i, d := range payloads {
		stripped[i] = stripPayload(class, d)
	}
	ids, err := c.adapter.CreateObjects(ctx, adapter.CreateManyParams{Class: class.Name, Data: stripped})
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnMultipleObjects(ctx, hook.AfterCreate, hook.Multi{IDs: ids, Data: payloads}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterCreate, Err: err}
	}

	if idOnly(p.Select) {
		out := make([]map[string]any, len(ids))
		for i, id := range ids {
			out[i] = map[string]any{"id": id}
		}
		return out, nil
	}
	return c.fetchByIDs(ctx, class.Name, ids, p.Select)
}

// Update mutates one object by id. The compiled filter carries the
// caller's write ACL, so an unauthorized update surfaces as
// ObjectNotFound.
func (c *Controller) Update(ctx context.Context, p UpdateParams, caller access.Identity) (map[string]any, error) {
	start := time.Now()
	obj, err := c.update(ctx, p, caller)
	c.observe("update", p.Class, start, err)
	return obj, err
}

func (c *Controller) update(ctx context.Context, p UpdateParams, caller access.Identity) (map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, nil, caller, compile.Write, c)
	if err != nil {
		return nil, err
	}

	runner := c.runner(class, caller, p.Select)
	data, err := runner.RunOnSingleObject(ctx, hook.BeforeUpdate, hook.Single{ID: p.ID, Data: clone(p.Data)})
	if err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeUpdate, Err: err}
	}

	id, err := c.adapter.UpdateObject(ctx, adapter.UpdateParams{
		Class: class.Name,
		ID:    p.ID,
		Where: compiled,
		Data:  stripPayload(class, data),
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, &ObjectNotFoundError{Class: class.Name, ID: p.ID}
	}
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnSingleObject(ctx, hook.AfterUpdate, hook.Single{ID: id, Data: data}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterUpdate, Err: err}
	}

	if idOnly(p.Select) {
		return map[string]any{"id": id}, nil
	}
	return c.get(ctx, GetParams{Class: class.Name, ID: id, Select: p.Select}, access.Root(), 0)
}

// UpdateMany mutates every matching object. Matching ids are
// snapshotted before the mutation - the filter may no longer match
// afterwards - and the re-read runs by id set, in snapshot order.
func (c *Controller) UpdateMany(ctx context.Context, p UpdateManyParams, caller access.Identity) ([]map[string]any, error) {
	start := time.Now()
	objs, err := c.updateMany(ctx, p, caller)
	c.observe("updateMany", p.Class, start, err)
	return objs, err
}

func (c *Controller) updateMany(ctx context.Context, p UpdateManyParams, caller access.Identity) ([]map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, p.Where, caller, compile.Write, c)
	if err != nil {
		return nil, err
	}

	ids, err := c.snapshotIDs(ctx, class.Name, compiled)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, len(ids))
	for i := range ids {
		payloads[i] = clone(p.Data)
	}

	runner := c.runner(class, caller, p.Select)
	payloads, err = runner.RunOnMultipleObjects(ctx, hook.BeforeUpdate, hook.Multi{IDs: ids, Where: compiled, Data: payloads})
	if err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeUpdate, Err: err}
	}

	if err := c.applyUpdates(ctx, class, ids, payloads); err != nil {
		return nil, err
	}

	if _, err := runner.RunOnMultipleObjects(ctx, hook.AfterUpdate, hook.Multi{IDs: ids, Data: payloads}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterUpdate, Err: err}
	}

	if idOnly(p.Select) {
		out := make([]map[string]any, len(ids))
		for i, id := range ids {
			out[i] = map[string]any{"id": id}
		}
		return out, nil
	}
	return c.fetchByIDs(ctx, class.Name, ids, p.Select)
}

// applyUpdates issues one batched adapter write when every folded
// payload stayed identical, and falls back to per-id writes when hooks
// diverged them.
func (c *Controller) applyUpdates(ctx context.Context, class schema.Class, ids []string, payloads []map[string]any) error {
	if len(ids) == 0 {
		return nil
	}

	uniform := true
	for i := 1; i < len(payloads); i++ {
		if !reflect.DeepEqual(payloads[0], payloads[i]) {
			uniform = false
			break
		}
	}

	if uniform {
		_, err := c.adapter.UpdateObjects(ctx, adapter.UpdateManyParams{
			Class: class.Name,
			Where: where.In("id", idValues(ids)),
			Data:  stripPayload(class, payloads[0]),
		})
		if err != nil {
			return &AdapterError{Class: class.Name, Err: err}
		}
		return nil
	}

	for i, id := range ids {
		_, err := c.adapter.UpdateObject(ctx, adapter.UpdateParams{
			Class: class.Name,
			ID:    id,
			Data:  stripPayload(class, payloads[i]),
		})
		if err != nil && !errors.Is(err, adapter.ErrNotFound) {
			return &AdapterError{Class: class.Name, Err: err}
		}
	}
	return nil
}

// snapshotIDs captures the ids matching an already-compiled filter,
// in id order, so multi-object results are deterministic on every
// backend.
func (c *Controller) snapshotIDs(ctx context.Context, className string, compiled where.Node) ([]string, error) {
	rows, err := c.adapter.GetObjects(ctx, adapter.ListParams{
		Class:  className,
		Where:  compiled,
		Select: where.IDOnly(),
		Order:  []where.Order{{Field: "id", Direction: where.Asc}},
	})
	if err != nil {
		return nil, &AdapterError{Class: className, Err: err}
	}
	return rowIDs(rows), nil
}

// fetchByIDs materializes a result set root-privileged, preserving the
// given id order.
func (c *Controller) fetchByIDs(ctx context.Context, className string, ids []string, sel where.Select) ([]map[string]any, error) {
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	rows, err := c.getMany(ctx, GetManyParams{
		Class:  className,
		Where:  where.In("id", idValues(ids)),
		Select: sel,
	}, access.Root(), 0)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			byID[id] = row
		}
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func clone(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
