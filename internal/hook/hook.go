// Package hook implements the before/after callback pipeline that runs
// around every create/read/update/delete.
//
// Hooks are registered once at process start as (class, operation,
// priority, func) and resolved into a per-operation map at
// registration time, never searched linearly per call. Priorities at
// or below zero are reserved for hooks the engine registers itself
// (ACL population, virtual-field materialization, cascade deletes);
// user hooks must use a positive priority and run after them.
package hook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quarrydb/quarry/internal/where"
)

// Op identifies one lifecycle stage.
type Op string

const (
	BeforeCreate Op = "beforeCreate"
	AfterCreate  Op = "afterCreate"
	BeforeRead   Op = "beforeRead"
	AfterRead    Op = "afterRead"
	BeforeUpdate Op = "beforeUpdate"
	AfterUpdate  Op = "afterUpdate"
	BeforeDelete Op = "beforeDelete"
	AfterDelete  Op = "afterDelete"
)

// Before reports whether the op runs before the adapter mutation.
func (op Op) Before() bool {
	return op == BeforeCreate || op == BeforeRead || op == BeforeUpdate || op == BeforeDelete
}

// Func is one hook callback. It may mutate obj.Data (the in-flight
// payload for writes, the fetched object for reads) or abort the
// operation by returning an error.
type Func func(ctx context.Context, obj *Object) error

// ObjectLoader loads the current state of one object by id. The
// controller wires this to a root-privileged, hook-skipping read.
type ObjectLoader func(ctx context.Context, id string) (map[string]any, error)

// ObjectsLoader loads the current state of the objects matching a
// filter, also root-privileged and hook-skipping.
type ObjectsLoader func(ctx context.Context, filter where.Node) ([]map[string]any, error)

type entry struct {
	priority int
	seq      int // registration order, tiebreaker for equal priorities
	fn       Func
}

type key struct {
	class string // lower-cased, "" matches every class
	op    Op
}

// Registry holds registered hooks. Registration happens at process
// start; reads afterwards are lock-free apart from an RWMutex shared
// with late registrations in tests.
type Registry struct {
	mu      sync.RWMutex
	entries map[key][]entry
	seq     int
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key][]entry)}
}

// Register adds a user hook. className "" registers for every class.
// Priorities at or below zero are reserved for the engine.
func (r *Registry) Register(className string, op Op, priority int, fn Func) error {
	if priority <= 0 {
		return fmt.Errorf("hook: priority %d is reserved for internal hooks", priority)
	}
	r.add(className, op, priority, fn)
	return nil
}

// RegisterInternal adds an engine-owned hook with priority <= 0.
func (r *Registry) RegisterInternal(className string, op Op, priority int, fn Func) {
	if priority > 0 {
		panic("hook: internal hooks must use priority <= 0")
	}
	r.add(className, op, priority, fn)
}

func (r *Registry) add(className string, op Op, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{class: strings.ToLower(className), op: op}
	r.seq++
	list := append(r.entries[k], entry{priority: priority, seq: r.seq, fn: fn})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	r.entries[k] = list
}

// hooksFor merges class-specific and catch-all hooks, ascending by
// priority with registration order as tiebreaker.
func (r *Registry) hooksFor(className string, op Op) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classEntries := r.entries[key{class: strings.ToLower(className), op: op}]
	globalEntries := r.entries[key{class: "", op: op}]
	if len(globalEntries) == 0 {
		return classEntries
	}
	merged := make([]entry, 0, len(classEntries)+len(globalEntries))
	merged = append(merged, classEntries...)
	merged = append(merged, globalEntries...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].priority != merged[j].priority {
			return merged[i].priority < merged[j].priority
		}
		return merged[i].seq < merged[j].seq
	})
	return merged
}
