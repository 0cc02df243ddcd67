package controller

import (
	"context"
	"errors"
	"time"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/compile"
	"github.com/quarrydb/quarry/internal/hook"
)

// Delete removes one object by id and returns its prior state
// projected through Select. Delete uses write ACL semantics.
func (c *Controller) Delete(ctx context.Context, p DeleteParams, caller access.Identity) (map[string]any, error) {
	start := time.Now()
	obj, err := c.delete(ctx, p, caller)
	c.observe("delete", p.Class, start, err)
	return obj, err
}

func (c *Controller) delete(ctx context.Context, p DeleteParams, caller access.Identity) (map[string]any, error) {
	class, err := c.registry.Class(p.Class)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Compile(ctx, c.registry, p.Class, nil, caller, compile.Write, c)
	if err != nil {
		return nil, err
	}

	// Snapshot before delete so the caller can receive the previous
	// state. Skipped for the id-only sentinel.
	var snapshot map[string]any
	if !idOnly(p.Select) {
		snapshot, err = c.get(ctx, GetParams{Class: class.Name, ID: p.ID, Select: p.Select}, access.Root(), 0)
		if err != nil {
			return nil, err
		}
	}

	runner := c.runner(class, caller, p.Select)
	if _, err := runner.RunOnSingleObject(ctx, hook.BeforeDelete, hook.Single{ID: p.ID, Original: snapshot}); err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeDelete, Err: err}
	}

	err = c.adapter.DeleteObject(ctx, adapter.DeleteParams{Class: class.Name, ID: p.ID, Where: compiled})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, &ObjectNotFoundError{Class: class.Name, ID: p.ID}
	}
	if err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnSingleObject(ctx, hook.AfterDelete, hook.Single{ID: p.ID, Original: snapshot}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterDelete, Err: err}
	}

	if idOnly(p.Select) {
		return map[string]any{"id": p.ID}, nil
	}
	return snapshot, nil
}

// DeleteMany removes every object matching the filter and returns the
// prior states, in pre-delete id order.
func (c *Controller) DeleteMany(ctx context.Context, p DeleteManyParams, caller access.Identity) ([]map[string]any, error) {
	start := time.Now()
	objs, err := c.deleteMany(ctx, p, caller)
	c.observe("deleteMany", p.Class, start, err)
	return objs, err
}

func (c *Controller) deleteMany(ctx context.Context, p DeleteManyParams, caller access.Identity) ([]map[string]any, error) {
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

	var snapshots []map[string]any
	if !idOnly(p.Select) {
		snapshots, err = c.fetchByIDs(ctx, class.Name, ids, p.Select)
		if err != nil {
			return nil, err
		}
	}

	runner := c.runner(class, caller, p.Select)
	if _, err := runner.RunOnMultipleObjects(ctx, hook.BeforeDelete, hook.Multi{IDs: ids, Where: compiled, Originals: snapshots}); err != nil {
		return nil, &HookRejectedError{Class: class.Name, Op: hook.BeforeDelete, Err: err}
	}

	if err := c.adapter.DeleteObjects(ctx, adapter.DeleteManyParams{Class: class.Name, Where: compiled}); err != nil {
		return nil, &AdapterError{Class: class.Name, Err: err}
	}

	if _, err := runner.RunOnMultipleObjects(ctx, hook.AfterDelete, hook.Multi{IDs: ids, Originals: snapshots}); err != nil {
		return nil, &PostCommitHookError{Class: class.Name, Op: hook.AfterDelete, Err: err}
	}

	if idOnly(p.Select) {
		out := make([]map[string]any, len(ids))
		for i, id := range ids {
			out[i] = map[string]any{"id": id}
		}
		return out, nil
	}
	if snapshots == nil {
		snapshots = []map[string]any{}
	}
	return snapshots, nil
}
