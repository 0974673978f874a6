package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
)

const day = 24 * time.Hour

// ForecastCatalog picks the freshest forecast file for each date.
type ForecastCatalog interface {
	LatestForecastFiles(client, kind string) (map[domain.DateKey]string, error)
}

// ForecastBuilder concatenates the rows of upcoming forecast runs.
type ForecastBuilder struct {
	catalog    ForecastCatalog
	extractor  Extractor
	kind       string
	windowDays int
	logger     *slog.Logger
}

// NewForecastBuilder creates a ForecastBuilder looking windowDays ahead.
func NewForecastBuilder(c ForecastCatalog, e Extractor, kind string, windowDays int, logger *slog.Logger) *ForecastBuilder {
	return &ForecastBuilder{
		catalog:    c,
		extractor:  e,
		kind:       kind,
		windowDays: windowDays,
		logger:     logger,
	}
}

// Build returns the rows of every forecast run whose date lies between
// now and now plus the window, counted in whole days, in ascending date
// order. An empty window yields no rows and no error.
func (b *ForecastBuilder) Build(ctx context.Context, client string) ([]domain.Row, error) {
	log := b.logger.With("client", client)

	files, err := b.catalog.LatestForecastFiles(client, b.kind)
	if err != nil {
		if len(files) == 0 {
			return nil, err
		}
		log.Warn("catalog reported unreadable paths", "error", err)
	}

	keys := b.window(files, domain.Now())
	if len(keys) == 0 {
		log.Info("no forecast runs in window", "window_days", b.windowDays)
		return nil, nil
	}

	var rows []domain.Row
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames, err := b.extractor.Extract(ctx, files[k])
		if err != nil {
			log.Warn("skipping forecast run", "date_key", k, "path", files[k], "error", err)
			continue
		}
		rows = append(rows, domain.RowsFromFrames(k, frames)...)
	}
	return rows, nil
}

// window selects the keys in [0, windowDays] whole days from now.
func (b *ForecastBuilder) window(files map[domain.DateKey]string, now time.Time) []domain.DateKey {
	var keys []domain.DateKey
	for k := range files {
		diff := k.Time().Sub(now)
		if diff < 0 {
			continue
		}
		if int(diff/day) <= b.windowDays {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
