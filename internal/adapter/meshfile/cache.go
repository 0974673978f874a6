package meshfile

import (
	"fmt"
	"os"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	lru "github.com/hashicorp/golang-lru"
)

// MeshReader decodes the mesh part of a results file.
type MeshReader interface {
	ReadMesh(path string) (*domain.MeshDataset, error)
}

// CachedReader wraps a MeshReader with an in-memory LRU cache of decoded
// datasets. An entry is reused only while the file's size and modification
// time are unchanged.
//
// Every caller of a cached path gets the same *domain.MeshDataset. Engines
// built on it only read it; callers must not modify it either.
type CachedReader struct {
	inner MeshReader
	cache *lru.Cache
}

// NewCachedReader creates a cache decorator holding at most maxEntries
// datasets, and at least one.
func NewCachedReader(inner MeshReader, maxEntries int) *CachedReader {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New(max(maxEntries, 1))
	return &CachedReader{inner: inner, cache: cache}
}

// ReadMesh returns the cached dataset for path or decodes it through the inner reader.
func (c *CachedReader) ReadMesh(path string) (*domain.MeshDataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{path: path, size: info.Size(), modNanos: info.ModTime().UnixNano()}
	if v, ok := c.cache.Get(key); ok {
		return v.(*domain.MeshDataset), nil
	}
	ds, err := c.inner.ReadMesh(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c.cache.Add(key, ds)
	return ds, nil
}

// Len returns the number of cached datasets.
func (c *CachedReader) Len() int { return c.cache.Len() }

// cacheKey identifies one version of a file on disk.
type cacheKey struct {
	path     string
	size     int64
	modNanos int64
}
