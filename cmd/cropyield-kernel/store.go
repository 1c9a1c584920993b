package main

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/manthysbr/cropyield/internal/adapters/duckdb"
	"github.com/manthysbr/cropyield/internal/adapters/memory"
	"github.com/manthysbr/cropyield/internal/adapters/postgres"
	"github.com/manthysbr/cropyield/internal/config"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

// openStore connects the configured backend and applies its schema.
func openStore(ctx context.Context, cfg config.StoreConfig) (ports.Store, error) {
	var (
		store ports.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverDuckDB:
		store, err = duckdb.NewRepository(ctx, cfg.DSN)
	case config.DriverPostgres:
		store, err = postgres.Open(ctx, cfg.DSN, postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	case config.DriverMemory:
		store = memory.New()
	default:
		return nil, errors.Newf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", cfg.Driver)
	}

	if cfg.SeedDemo {
		if err := store.SeedDemo(ctx); err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "failed to seed demo data")
		}
	}
	return store, nil
}
