package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
)

// SeriesReader decodes the point-series part of a results file.
type SeriesReader interface {
	ReadSeries(path string) (*domain.PointSeries, error)
}

// SeriesExtractor implements Extractor for point-series files: every item
// in the file becomes one frame.
type SeriesExtractor struct {
	reader SeriesReader
}

// NewSeriesExtractor creates a SeriesExtractor.
func NewSeriesExtractor(r SeriesReader) *SeriesExtractor {
	return &SeriesExtractor{reader: r}
}

func (e *SeriesExtractor) Extract(ctx context.Context, path string) ([]domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps, err := e.reader.ReadSeries(path)
	if err != nil {
		return nil, err
	}
	return ps.Frames(), nil
}

// Probe is a fixed query position inside the mesh.
type Probe struct {
	Lon   float64
	Lat   float64
	Depth float64
}

// MeshProbeExtractor implements Extractor for mesh files by sampling the
// element nearest a fixed probe for each configured category.
type MeshProbeExtractor struct {
	reader     mesh.Reader
	remap      *mesh.Remapper
	probe      Probe
	categories []string
	logger     *slog.Logger
}

// NewMeshProbeExtractor creates a MeshProbeExtractor. A nil remapper uses
// the default category table.
func NewMeshProbeExtractor(r mesh.Reader, remap *mesh.Remapper, probe Probe, categories []string, logger *slog.Logger) *MeshProbeExtractor {
	return &MeshProbeExtractor{
		reader:     r,
		remap:      remap,
		probe:      probe,
		categories: categories,
		logger:     logger,
	}
}

// Extract opens the file in its own engine session. A category the file
// does not carry is logged and left out; failing every category is an error.
// Any other failure, an unmapped label included, fails the whole file.
func (e *MeshProbeExtractor) Extract(ctx context.Context, path string) ([]domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eng, err := mesh.Open(e.reader, path, e.remap)
	if err != nil {
		return nil, err
	}

	frames := make([]domain.Frame, 0, len(e.categories))
	var lastErr error
	for _, c := range e.categories {
		f, err := eng.NodeData(e.probe.Lon, e.probe.Lat, e.probe.Depth, c)
		if err != nil {
			if !errors.Is(err, mesh.ErrItemMissing) {
				return nil, fmt.Errorf("probe %q: %w", c, err)
			}
			e.logger.Warn("probe category unavailable", "path", path, "category", c, "error", err)
			lastErr = err
			continue
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no probe category readable: %w", lastErr)
	}
	return frames, nil
}
