// Package schema defines classes (named record types) and the
// immutable registry the rest of the engine resolves them through.
//
// The registry is built once at process start and read by nearly every
// component; it is passed around explicitly instead of living in a
// package-level singleton.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarrydb/quarry/internal/access"
)

// FieldKind discriminates how a field is stored and resolved.
type FieldKind int

const (
	// Scalar is a plain value (string, number, bool, date).
	Scalar FieldKind = iota
	// Array is an array of scalars or objects.
	Array
	// Object is a nested object with its own field map.
	Object
	// Pointer holds a single foreign id referencing another class.
	Pointer
	// Relation holds an array of foreign ids referencing another class.
	Relation
	// Virtual is computed after read and never persisted.
	Virtual
)

// VirtualFunc computes a virtual field from the already-fetched object.
type VirtualFunc func(object map[string]any) any

// Field describes one field of a class.
type Field struct {
	Name   string
	Kind   FieldKind
	Target string // target class for Pointer and Relation

	Fields map[string]Field // nested fields for Object

	// Virtual fields only.
	DependsOn []string
	Compute   VirtualFunc
}

// Access lists the user and role ids granted at class level. The
// builtin ACL hook copies these onto every created object that does
// not ship its own acl.
type Access struct {
	Read  []string
	Write []string
}

// Cascade declares dependent records to delete when an object of this
// class is deleted: children of Class whose PointerField equals the
// deleted id.
type Cascade struct {
	Class        string
	PointerField string
}

// Class is a named record type. Classes are defined once per process
// and looked up case-insensitively.
type Class struct {
	Name   string
	Fields map[string]Field

	AuthorizedUsers Access
	AuthorizedRoles Access
	Cascades        []Cascade

	// DefaultACL, when set, derives the acl document for objects
	// created without an explicit one, from the creating caller and
	// the in-flight payload. It takes precedence over the
	// AuthorizedUsers/AuthorizedRoles lists; returning nil leaves the
	// object open.
	DefaultACL func(caller access.Identity, data map[string]any) map[string]any
}

// Field returns the named field, false when absent. Only the first
// segment of a dotted path is resolved here; nested segments belong to
// the adapters.
func (c Class) Field(name string) (Field, bool) {
	head := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		head = name[:i]
	}
	f, ok := c.Fields[head]
	return f, ok
}

// VirtualFields returns the class's virtual fields sorted by name.
func (c Class) VirtualFields() []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.Kind == Virtual {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ClassNotFoundError reports a schema lookup failure. Always fatal,
// never retried.
type ClassNotFoundError struct {
	Class string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("class not found: %s", e.Class)
}

// Registry resolves class names case-insensitively. Immutable after
// NewRegistry returns.
type Registry struct {
	classes map[string]Class
}

// NewRegistry builds a registry from the given classes. Duplicate
// names (case-insensitive) are rejected.
func NewRegistry(classes ...Class) (*Registry, error) {
	m := make(map[string]Class, len(classes))
	for _, c := range classes {
		key := strings.ToLower(c.Name)
		if key == "" {
			return nil, fmt.Errorf("class with empty name")
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("duplicate class %q", c.Name)
		}
		if c.Fields == nil {
			c.Fields = map[string]Field{}
		}
		m[key] = c
	}
	return &Registry{classes: m}, nil
}

// Class returns the named class or a ClassNotFoundError.
func (r *Registry) Class(name string) (Class, error) {
	c, ok := r.classes[strings.ToLower(name)]
	if !ok {
		return Class{}, &ClassNotFoundError{Class: name}
	}
	return c, nil
}

// Classes returns every registered class sorted by name.
func (r *Registry) Classes() []Class {
	out := make([]Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
