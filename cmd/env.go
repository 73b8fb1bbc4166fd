package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/netsight/reconciled/internal/catalog"
	"github.com/netsight/reconciled/internal/detector"
	"github.com/netsight/reconciled/internal/lineage"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/resolver"
	"github.com/netsight/reconciled/internal/store"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "reconciled.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the entity-type catalog. Without a configured file the
// catalog is empty and every value passes the schema check.
func initCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.New(nil, cfg.Catalog.DefaultType), nil
	}
	return catalog.Load(cfg.Catalog.Path)
}

// engineEnv bundles the reconciliation components that commands share.
type engineEnv struct {
	store    store.Store
	catalog  *catalog.Catalog
	ledger   *lineage.Ledger
	registry *priority.Registry
	detector *detector.Detector
	engine   *resolver.Engine
}

func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	cat, err := initCatalog()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	led := lineage.NewLedger(st)
	reg := priority.NewRegistry(st)

	return &engineEnv{
		store:    st,
		catalog:  cat,
		ledger:   led,
		registry: reg,
		detector: detector.New(st, led, reg, cat, cfg.Detector),
		engine:   resolver.NewEngine(st, reg),
	}, nil
}

func (e *engineEnv) Close() {
	e.store.Close() //nolint:errcheck
}
