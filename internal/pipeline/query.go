package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
)

// FileResolver resolves one client date to a results file.
type FileResolver interface {
	FileForDate(client, kind string, key domain.DateKey) (string, error)
}

// MeshQuery answers node queries against a client's mesh file for one date.
// Each call opens its own engine session; pair it with a caching reader to
// avoid decoding the same file repeatedly.
type MeshQuery struct {
	files  FileResolver
	reader mesh.Reader
	remap  *mesh.Remapper
	kind   string
	opts   []mesh.IndexOption
}

// NewMeshQuery creates a MeshQuery over mesh files of the given kind.
func NewMeshQuery(files FileResolver, reader mesh.Reader, remap *mesh.Remapper, kind string, opts ...mesh.IndexOption) *MeshQuery {
	return &MeshQuery{files: files, reader: reader, remap: remap, kind: kind, opts: opts}
}

func (q *MeshQuery) open(ctx context.Context, client string, key domain.DateKey) (*mesh.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := q.files.FileForDate(client, q.kind, key)
	if err != nil {
		return nil, err
	}
	return mesh.Open(q.reader, path, q.remap, q.opts...)
}

// NodeData extracts category at the node nearest (lon, lat, depth).
func (q *MeshQuery) NodeData(ctx context.Context, client string, key domain.DateKey, lon, lat, depth float64, category string) (domain.Frame, error) {
	eng, err := q.open(ctx, client, key)
	if err != nil {
		return domain.Frame{}, err
	}
	f, err := eng.NodeData(lon, lat, depth, category)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("%s %s: %w", client, key, err)
	}
	return f, nil
}

// Polar returns the polar current series at the node nearest (lon, lat, depth).
func (q *MeshQuery) Polar(ctx context.Context, client string, key domain.DateKey, lon, lat, depth float64) (domain.PolarFrame, error) {
	eng, err := q.open(ctx, client, key)
	if err != nil {
		return domain.PolarFrame{}, err
	}
	pf, err := eng.Polar(lon, lat, depth)
	if err != nil {
		return domain.PolarFrame{}, fmt.Errorf("%s %s: %w", client, key, err)
	}
	return pf, nil
}
