package cli

import (
	"context"
	"fmt"

	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/adapter/mongo"
	"github.com/quarrydb/quarry/internal/adapter/postgres"
	"github.com/quarrydb/quarry/internal/adapter/sqlite"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/schema"
)

// Deployment is a loaded config plus an opened adapter.
type Deployment struct {
	Config   *config.Config
	Registry *schema.Registry
	Adapter  adapter.Adapter
}

// LoadDeployment reads the config file and opens the configured
// backend. Callers close the adapter when done.
func LoadDeployment(ctx context.Context, path string) (*Deployment, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build schema", err)
	}

	var ad adapter.Adapter
	switch cfg.Backend {
	case config.BackendSQLite:
		ad, err = sqlite.Open(cfg.URI, reg)
	case config.BackendPostgres:
		ad, err = postgres.New(ctx, cfg.URI, reg)
	case config.BackendMongo:
		ad, err = mongo.New(ctx, cfg.URI, cfg.Database, reg)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open backend", err)
	}

	return &Deployment{Config: cfg, Registry: reg, Adapter: ad}, nil
}
