// Package storage opens the configured timeseries backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/badger"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/diskcheck"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
)

// Backend is a pipeline.Store that can also be enumerated, purged, and closed.
type Backend interface {
	pipeline.Store
	Clients(ctx context.Context) ([]string, error)
	Purge(ctx context.Context, client string) error
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*badger.Store)(nil)
)

// Open checks free space on the store volume and opens the backend named by
// cfg.StoreBackend at cfg.StorePath.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	report, err := diskcheck.EnsureFree(cfg.StorePath, cfg.StoreMinFreeMB)
	if err != nil {
		return nil, err
	}
	logger.Info("store volume", "backend", cfg.StoreBackend, "space", report.String())

	switch cfg.StoreBackend {
	case config.BackendSQLite:
		return sqlite.Open(ctx, cfg.StorePath, logger)
	case config.BackendBadger:
		return badger.Open(cfg.StorePath, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
