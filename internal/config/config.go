// Package config loads the backend connection and class definitions
// from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quarrydb/quarry/internal/schema"
)

// Backend names accepted in the config file.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is the root of the YAML config file.
type Config struct {
	Backend  string        `yaml:"backend"`
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Classes  []ClassConfig `yaml:"classes"`
}

// ClassConfig declares one object class.
type ClassConfig struct {
	Name            string                 `yaml:"name"`
	Fields          map[string]FieldConfig `yaml:"fields"`
	AuthorizedUsers AccessConfig           `yaml:"authorizedUsers"`
	AuthorizedRoles AccessConfig           `yaml:"authorizedRoles"`
	Cascades        []CascadeConfig        `yaml:"cascades"`
}

// FieldConfig declares one field of a class. Virtual fields carry Go
// functions, so they are declared in code, not here.
type FieldConfig struct {
	Kind   string                 `yaml:"kind"`
	Target string                 `yaml:"target"`
	Fields map[string]FieldConfig `yaml:"fields"`
}

// AccessConfig lists user or role ids granted at class level.
type AccessConfig struct {
	Read  []string `yaml:"read"`
	Write []string `yaml:"write"`
}

// CascadeConfig declares a dependent class deleted along with its
// parent.
type CascadeConfig struct {
	Class        string `yaml:"class"`
	PointerField string `yaml:"pointerField"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates config bytes.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres, BackendMongo:
	case "":
		return fmt.Errorf("config: backend is required")
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.URI == "" {
		return fmt.Errorf("config: uri is required")
	}
	if c.Backend == BackendMongo && c.Database == "" {
		return fmt.Errorf("config: database is required for the mongo backend")
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("config: at least one class is required")
	}
	for _, class := range c.Classes {
		if class.Name == "" {
			return fmt.Errorf("config: class without a name")
		}
		if err := validateFields(class.Name, class.Fields); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(className string, fields map[string]FieldConfig) error {
	for name, field := range fields {
		kind, err := fieldKind(field.Kind)
		if err != nil {
			return fmt.Errorf("config: class %s field %s: %w", className, name, err)
		}
		if (kind == schema.Pointer || kind == schema.Relation) && field.Target == "" {
			return fmt.Errorf("config: class %s field %s: %s fields need a target", className, name, field.Kind)
		}
		if err := validateFields(className, field.Fields); err != nil {
			return err
		}
	}
	return nil
}

// Registry builds a schema registry from the declared classes.
func (c *Config) Registry() (*schema.Registry, error) {
	classes := make([]schema.Class, 0, len(c.Classes))
	for _, cc := range c.Classes {
		fields, err := buildFields(cc.Fields)
		if err != nil {
			return nil, fmt.Errorf("config: class %s: %w", cc.Name, err)
		}
		cascades := make([]schema.Cascade, 0, len(cc.Cascades))
		for _, casc := range cc.Cascades {
			cascades = append(cascades, schema.Cascade{
				Class:        casc.Class,
				PointerField: casc.PointerField,
			})
		}
		classes = append(classes, schema.Class{
			Name:            cc.Name,
			Fields:          fields,
			AuthorizedUsers: schema.Access(cc.AuthorizedUsers),
			AuthorizedRoles: schema.Access(cc.AuthorizedRoles),
			Cascades:        cascades,
		})
	}
	return schema.NewRegistry(classes...)
}

func buildFields(fcs map[string]FieldConfig) (map[string]schema.Field, error) {
	fields := make(map[string]schema.Field, len(fcs))
	for name, fc := range fcs {
		kind, err := fieldKind(fc.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		sub, err := buildFields(fc.Fields)
		if err != nil {
			return nil, err
		}
		fields[name] = schema.Field{
			Name:   name,
			Kind:   kind,
			Target: fc.Target,
			Fields: sub,
		}
	}
	return fields, nil
}

func fieldKind(name string) (schema.FieldKind, error) {
	switch name {
	case "", "scalar":
		return schema.Scalar, nil
	case "array":
		return schema.Array, nil
	case "object":
		return schema.Object, nil
	case "pointer":
		return schema.Pointer, nil
	case "relation":
		return schema.Relation, nil
	default:
		return schema.Scalar, fmt.Errorf("unknown field kind %q", name)
	}
}
