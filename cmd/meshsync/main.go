// Command meshsync keeps each configured client's stored timeseries in step
// with the dated results tree. By default it runs as a service: one sync pass
// per SYNC_INTERVAL plus health, metrics, and status endpoints. The flags
// select one-shot modes instead.
//
// Usage:
//
//	meshsync                        # service
//	meshsync -once                  # single pass over CLIENTS, then exit
//	meshsync -export ACME -out a.csv
//	meshsync -forecast ACME -out f.csv
//	meshsync -resync ACME           # purge the client, then sync it again
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/kafka"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/meshfile"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/storage"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/catalog"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/export"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
)

type flags struct {
	once     bool
	export   string
	forecast string
	resync   string
	out      string
}

func main() {
	var f flags
	flag.BoolVar(&f.once, "once", false, "run a single sync pass over CLIENTS and exit")
	flag.StringVar(&f.export, "export", "", "write the stored timeseries of this client as CSV and exit")
	flag.StringVar(&f.forecast, "forecast", "", "write the upcoming forecast window of this client as CSV and exit")
	flag.StringVar(&f.resync, "resync", "", "purge this client's ledger and rows, sync it again, and exit")
	flag.StringVar(&f.out, "out", "-", "output file for -export and -forecast, - for stdout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := run(cfg, f, logger, metrics); err != nil {
		logger.Error("meshsync failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, f flags, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := catalog.NewResolver(cfg.ResultsRoot, logger)
	remap, err := loadRemapper(cfg, logger)
	if err != nil {
		return fmt.Errorf("load category map: %w", err)
	}
	extractor, err := newExtractor(cfg, remap, logger)
	if err != nil {
		return err
	}

	// The forecast view reads files only; it never opens the store.
	if f.forecast != "" {
		b := pipeline.NewForecastBuilder(resolver, extractor, cfg.FileKind, cfg.ForecastWindowDays, logger)
		rows, err := b.Build(ctx, f.forecast)
		if err != nil {
			return fmt.Errorf("forecast %s: %w", f.forecast, err)
		}
		return writeOutput(f.out, func(w io.Writer) error { return export.WriteCSV(w, rows) })
	}

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	if f.export != "" {
		rows, err := store.Rows(ctx, f.export)
		if err != nil {
			return fmt.Errorf("export %s: %w", f.export, err)
		}
		return writeOutput(f.out, func(w io.Writer) error { return export.WriteCSV(w, rows) })
	}

	var opts []pipeline.AggregatorOption
	if cfg.KafkaEnabled {
		notifier := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithNotifier(notifier))
		logger.Info("commit notifications enabled", "topic", cfg.KafkaCommitTopic)
	}

	agg := pipeline.NewAggregator(resolver, extractor, store, cfg.FileKind, logger, metrics, opts...)

	if f.resync != "" {
		return resync(ctx, store, agg, f.resync, logger)
	}

	if len(cfg.Clients) == 0 {
		return errors.New("CLIENTS is required")
	}
	runner := pipeline.NewRunner(agg, cfg.Clients, cfg.SyncInterval, nil, logger, metrics)

	if f.once {
		return runner.RunOnce(ctx)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, store, logger,
		httpadapter.WithNodeQuery(newMeshQuery(cfg, resolver, remap)))

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start sync loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("sync loop did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
	return nil
}

// loadRemapper returns the category table from CATEGORY_MAP_FILE, or the
// default table when unset.
func loadRemapper(cfg *config.Config, logger *slog.Logger) (*mesh.Remapper, error) {
	if cfg.CategoryMapFile == "" {
		return mesh.DefaultRemapper(), nil
	}
	remap, err := mesh.LoadRemapFile(cfg.CategoryMapFile)
	if err != nil {
		return nil, err
	}
	logger.Info("category map loaded", "path", cfg.CategoryMapFile, "labels", remap.Labels())
	return remap, nil
}

// newExtractor builds the extractor named by EXTRACTOR. Every probe
// category must resolve through remap.
func newExtractor(cfg *config.Config, remap *mesh.Remapper, logger *slog.Logger) (pipeline.Extractor, error) {
	reader := meshfile.NewReader()
	if cfg.Extractor != config.ExtractProbe {
		return pipeline.NewSeriesExtractor(reader), nil
	}
	for _, c := range cfg.ProbeCategories {
		if _, err := remap.Resolve(c); err != nil {
			return nil, fmt.Errorf("PROBE_CATEGORIES: %w", err)
		}
	}
	probe := pipeline.Probe{Lon: cfg.Probe.Lon, Lat: cfg.Probe.Lat, Depth: cfg.Probe.Depth}
	return pipeline.NewMeshProbeExtractor(reader, remap, probe, cfg.ProbeCategories, logger), nil
}

// newMeshQuery serves node queries over MESH_FILE_KIND files, caching up to
// MESH_CACHE_SIZE decoded meshes.
func newMeshQuery(cfg *config.Config, resolver *catalog.Resolver, remap *mesh.Remapper) *pipeline.MeshQuery {
	var reader mesh.Reader = meshfile.NewReader()
	if cfg.MeshCacheSize > 0 {
		reader = meshfile.NewCachedReader(reader, cfg.MeshCacheSize)
	}
	return pipeline.NewMeshQuery(resolver, reader, remap, cfg.MeshFileKind)
}

// resync drops everything stored for client and ingests it from scratch.
func resync(ctx context.Context, store storage.Backend, agg *pipeline.Aggregator, client string, logger *slog.Logger) error {
	if err := store.Purge(ctx, client); err != nil {
		return fmt.Errorf("purge %s: %w", client, err)
	}
	res, err := agg.Sync(ctx, client)
	if err != nil {
		return err
	}
	logger.Info("resync complete", "client", client, "dates", len(res.Committed), "rows", res.Rows, "skipped", len(res.Skipped))
	return nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
