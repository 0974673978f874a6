package mesh

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
)

const (
	// Closeness used for column membership and surface detection.
	relTolerance = 1e-9
	absTolerance = 1e-12

	surfaceZ = 1.0
)

var (
	// ErrEmptyMesh is returned when an index is built from zero nodes.
	ErrEmptyMesh = errors.New("mesh has no nodes")

	// ErrOutsideMesh is returned by Nearest when a maximum distance is set and
	// the closest node lies beyond it.
	ErrOutsideMesh = errors.New("query point outside mesh coverage")
)

// LayerRef is one node of a vertical column.
type LayerRef struct {
	Depth   float64
	Element int
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithFullColumnScan makes LayersAt scan every node instead of stopping at
// the first surface node, de-duplicating repeated depths.
func WithFullColumnScan() IndexOption {
	return func(ix *Index) { ix.fullScan = true }
}

// WithMaxDistance bounds Nearest: a closest node farther than d (in the same
// lon/lat/z space) yields ErrOutsideMesh. d <= 0 leaves queries unbounded.
func WithMaxDistance(d float64) IndexOption {
	return func(ix *Index) { ix.maxDistance = d }
}

// Index owns a mesh's node coordinates and answers spatial lookups. Element
// indices are positions in the node slice.
type Index struct {
	nodes       []domain.Node
	fullScan    bool
	maxDistance float64
}

// NewIndex builds an index over nodes. The slice is copied.
func NewIndex(nodes []domain.Node, opts ...IndexOption) (*Index, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyMesh
	}
	ix := &Index{nodes: append([]domain.Node(nil), nodes...)}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Len returns the number of nodes.
func (ix *Index) Len() int { return len(ix.nodes) }

// Node returns the coordinates of element i.
func (ix *Index) Node(i int) (domain.Node, bool) {
	if i < 0 || i >= len(ix.nodes) {
		return domain.Node{}, false
	}
	return ix.nodes[i], true
}

// Nearest returns the element whose (lon, lat, z) is closest to the query in
// Euclidean distance. Ties go to the lowest element index. Points outside the
// mesh resolve to the closest node unless a maximum distance is configured.
func (ix *Index) Nearest(lon, lat, depth float64) (int, error) {
	best := -1
	bestDist := math.Inf(1)
	for i, n := range ix.nodes {
		d := squaredDistance(n, lon, lat, depth)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("nearest to (%g, %g, %g): no comparable node", lon, lat, depth)
	}
	if ix.maxDistance > 0 && math.Sqrt(bestDist) > ix.maxDistance {
		return 0, fmt.Errorf("nearest to (%g, %g, %g): %w", lon, lat, depth, ErrOutsideMesh)
	}
	return best, nil
}

// LayersAt returns every node sharing (lon, lat) within floating tolerance,
// ordered by ascending depth.
//
// By default the scan stops once a surface node (z close to 1) is collected,
// which assumes surface nodes are enumerated last within their column. Build
// the index WithFullColumnScan when that ordering is not guaranteed.
func (ix *Index) LayersAt(lon, lat float64) []LayerRef {
	var layers []LayerRef
	for i, n := range ix.nodes {
		if !isClose(n.Lon, lon) || !isClose(n.Lat, lat) {
			continue
		}
		if ix.fullScan && containsDepth(layers, n.Z) {
			continue
		}
		layers = append(layers, LayerRef{Depth: n.Z, Element: i})
		if !ix.fullScan && isClose(n.Z, surfaceZ) {
			break
		}
	}

	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Depth < layers[j].Depth })
	return layers
}

func containsDepth(layers []LayerRef, z float64) bool {
	for _, l := range layers {
		if isClose(l.Depth, z) {
			return true
		}
	}
	return false
}

func squaredDistance(n domain.Node, lon, lat, depth float64) float64 {
	dx := n.Lon - lon
	dy := n.Lat - lat
	dz := n.Z - depth
	return dx*dx + dy*dy + dz*dz
}

// isClose mirrors the usual absolute+relative float comparison.
func isClose(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	return diff <= math.Max(relTolerance*math.Max(math.Abs(a), math.Abs(b)), absTolerance)
}
