package storage

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/diskcheck"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			cfg := &config.Config{
				StoreBackend: backend,
				StorePath:    filepath.Join(t.TempDir(), "store", "mesh.db"),
			}
			b, err := Open(ctx, cfg, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })

			key := domain.MustDateKey("2021010100")
			require.NoError(t, b.Commit(ctx, "ACME", []domain.DateKey{key}, []domain.Row{
				{DateKey: key, Time: key.Time(), Category: "WL", Value: 1},
			}))

			clients, err := b.Clients(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"ACME"}, clients)

			require.NoError(t, b.Purge(ctx, "ACME"))
			dates, err := b.CommittedDates(ctx, "ACME")
			require.NoError(t, err)
			assert.Empty(t, dates)
		})
	}
}

func TestOpen_InsufficientSpace(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:   config.BackendSQLite,
		StorePath:      filepath.Join(t.TempDir(), "mesh.db"),
		StoreMinFreeMB: math.MaxUint64,
	}
	_, err := Open(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, diskcheck.ErrInsufficientSpace)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := &config.Config{StoreBackend: "postgres", StorePath: filepath.Join(t.TempDir(), "x")}
	_, err := Open(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}
