package mesh

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
)

var (
	// ErrElementOutOfRange is returned for an element index the mesh does not have.
	ErrElementOutOfRange = errors.New("element index out of range")

	// ErrItemMissing is returned when a resolved raw key is absent from the dataset.
	ErrItemMissing = errors.New("dataset item missing")
)

// Reader decodes a mesh results file.
type Reader interface {
	ReadMesh(path string) (*domain.MeshDataset, error)
}

// Engine answers node queries against one mesh results file. It holds the
// decoded dataset for the lifetime of one session; drop the Engine to release it.
type Engine struct {
	index *Index
	remap *Remapper
	times []time.Time
	items map[string][][]float64
}

// Open reads path through r and builds an Engine over it.
func Open(r Reader, path string, remap *Remapper, opts ...IndexOption) (*Engine, error) {
	ds, err := r.ReadMesh(path)
	if err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", path, err)
	}
	e, err := NewEngine(ds, remap, opts...)
	if err != nil {
		return nil, fmt.Errorf("load mesh %s: %w", path, err)
	}
	return e, nil
}

// NewEngine validates the dataset's shapes and indexes its nodes. The
// engine only reads ds, so one decoded dataset may back several engines.
func NewEngine(ds *domain.MeshDataset, remap *Remapper, opts ...IndexOption) (*Engine, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if remap == nil {
		remap = DefaultRemapper()
	}

	index, err := NewIndex(ds.Nodes, opts...)
	if err != nil {
		return nil, err
	}

	for name, values := range ds.Items {
		if len(values) != len(ds.Times) {
			return nil, fmt.Errorf("item %q: %d time steps, time axis has %d", name, len(values), len(ds.Times))
		}
		for step, row := range values {
			if len(row) != len(ds.Nodes) {
				return nil, fmt.Errorf("item %q step %d: %d elements, mesh has %d", name, step, len(row), len(ds.Nodes))
			}
		}
	}

	return &Engine{
		index: index,
		remap: remap,
		times: ds.Times,
		items: ds.Items,
	}, nil
}

// Index exposes the engine's spatial index.
func (e *Engine) Index() *Index { return e.index }

// Times returns a copy of the dataset's time axis.
func (e *Engine) Times() []time.Time { return slices.Clone(e.times) }

// Extract slices category at element across every time step. The frame is
// labeled with the semantic category, not the reader's raw key.
func (e *Engine) Extract(category string, element int) (domain.Frame, error) {
	raw, err := e.remap.Resolve(category)
	if err != nil {
		return domain.Frame{}, err
	}
	if element < 0 || element >= e.index.Len() {
		return domain.Frame{}, fmt.Errorf("extract %q at %d: %w", category, element, ErrElementOutOfRange)
	}
	values, ok := e.items[raw]
	if !ok {
		return domain.Frame{}, fmt.Errorf("extract %q (raw %q): %w", category, raw, ErrItemMissing)
	}

	samples := make([]domain.Sample, len(e.times))
	for step, t := range e.times {
		samples[step] = domain.Sample{Time: t, Value: values[step][element]}
	}
	return domain.Frame{Category: category, Element: element, Samples: samples}, nil
}

// NodeData extracts category at the node nearest (lon, lat, depth).
func (e *Engine) NodeData(lon, lat, depth float64, category string) (domain.Frame, error) {
	element, err := e.index.Nearest(lon, lat, depth)
	if err != nil {
		return domain.Frame{}, err
	}
	return e.Extract(category, element)
}

// NodeColumn extracts category at every layer found at (lon, lat). A location
// matching no node yields an empty column.
func (e *Engine) NodeColumn(lon, lat float64, category string) (domain.VerticalColumn, error) {
	if _, err := e.remap.Resolve(category); err != nil {
		return domain.VerticalColumn{}, err
	}

	col := domain.VerticalColumn{Lon: lon, Lat: lat}
	for _, ref := range e.index.LayersAt(lon, lat) {
		f, err := e.Extract(category, ref.Element)
		if err != nil {
			return domain.VerticalColumn{}, fmt.Errorf("column layer %g: %w", ref.Depth, err)
		}
		col.Layers = append(col.Layers, domain.Layer{Depth: ref.Depth, Element: ref.Element, Frame: f})
	}
	return col, nil
}

// Polar returns current speed (r) and direction in degrees (theta) at the
// node nearest (lon, lat, depth).
func (e *Engine) Polar(lon, lat, depth float64) (domain.PolarFrame, error) {
	element, err := e.index.Nearest(lon, lat, depth)
	if err != nil {
		return domain.PolarFrame{}, err
	}
	speed, err := e.Extract(CurrentSpeed, element)
	if err != nil {
		return domain.PolarFrame{}, err
	}
	direction, err := e.Extract(CurrentDirection, element)
	if err != nil {
		return domain.PolarFrame{}, err
	}

	out := domain.PolarFrame{Element: element, Samples: make([]domain.PolarSample, len(speed.Samples))}
	for i := range speed.Samples {
		out.Samples[i] = domain.PolarSample{
			Time:  speed.Samples[i].Time,
			R:     speed.Samples[i].Value,
			Theta: RadiansToCompass(direction.Samples[i].Value),
		}
	}
	return out, nil
}
