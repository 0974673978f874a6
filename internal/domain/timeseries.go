package domain

import (
	"math"
	"sort"
	"time"
)

// NoElement marks a frame that did not come from a mesh element, e.g. a
// point-series item.
const NoElement = -1

// Node is one mesh element's position. Z is the normalized vertical position
// in [0, 1], where 1 is the surface layer.
type Node struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	Z   float64 `json:"z"`
}

// Sample is a single (timestamp, value) pair.
type Sample struct {
	Time  time.Time
	Value float64
}

// Frame is the time series of one category at one element. Samples follow the
// source reader's native time grid and are strictly increasing in time.
type Frame struct {
	Category string
	Element  int
	Samples  []Sample
}

// Len returns the number of samples.
func (f Frame) Len() int { return len(f.Samples) }

// Layer is one depth of a vertical column.
type Layer struct {
	Depth   float64
	Element int
	Frame   Frame
}

// VerticalColumn holds every layer sharing one (lon, lat) location, ordered
// by ascending depth value.
type VerticalColumn struct {
	Lon    float64
	Lat    float64
	Layers []Layer
}

// Frame returns the layer frame whose depth is within 1e-9 of depth.
func (c VerticalColumn) Frame(depth float64) (Frame, bool) {
	for _, l := range c.Layers {
		if math.Abs(l.Depth-depth) <= 1e-9 {
			return l.Frame, true
		}
	}
	return Frame{}, false
}

// Depths returns the column's depth values in ascending order.
func (c VerticalColumn) Depths() []float64 {
	out := make([]float64, len(c.Layers))
	for i, l := range c.Layers {
		out[i] = l.Depth
	}
	return out
}

// PolarSample is a current reading in polar form: R is the speed and Theta
// the direction in degrees within [0, 360).
type PolarSample struct {
	Time  time.Time
	R     float64
	Theta float64
}

// PolarFrame is the polar current series at one element.
type PolarFrame struct {
	Element int
	Samples []PolarSample
}

// Row is one committed measurement in a client's timeseries table.
type Row struct {
	DateKey  DateKey
	Time     time.Time
	Category string
	Value    float64
}

// RowsFromFrames flattens frames into rows tagged with key. NaN samples are
// missing values in the source and are dropped.
func RowsFromFrames(key DateKey, frames []Frame) []Row {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	rows := make([]Row, 0, n)
	for _, f := range frames {
		for _, s := range f.Samples {
			if math.IsNaN(s.Value) {
				continue
			}
			rows = append(rows, Row{DateKey: key, Time: s.Time.UTC(), Category: f.Category, Value: s.Value})
		}
	}
	return rows
}

// SortRows orders rows by time, then date key, then category.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.DateKey != b.DateKey {
			return a.DateKey < b.DateKey
		}
		return a.Category < b.Category
	})
}

// MeshDataset is the decoded content of a mesh results file: category arrays
// shaped [time][element] keyed by the reader's raw category names.
type MeshDataset struct {
	Times []time.Time
	Nodes []Node
	Items map[string][][]float64
}

// PointSeries is the decoded content of a point-series results file: one
// [time] array per item.
type PointSeries struct {
	Times []time.Time
	Items map[string][]float64
}

// Frames converts every item into a frame, ordered by item name.
func (p PointSeries) Frames() []Frame {
	names := make([]string, 0, len(p.Items))
	for name := range p.Items {
		names = append(names, name)
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		values := p.Items[name]
		f := Frame{Category: name, Element: NoElement, Samples: make([]Sample, 0, len(values))}
		for i, v := range values {
			if i >= len(p.Times) {
				break
			}
			f.Samples = append(f.Samples, Sample{Time: p.Times[i], Value: v})
		}
		frames = append(frames, f)
	}
	return frames
}
