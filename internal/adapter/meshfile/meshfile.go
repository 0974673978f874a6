// Package meshfile reads and writes the interchange encoding the upstream
// converter emits for model results: a JSON document, optionally
// xz-compressed, carrying a time axis plus mesh items, point-series items, or both.
package meshfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/ulikunitz/xz"
)

// xzMagic opens every xz stream.
var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

var (
	// ErrNoMesh is returned by ReadMesh for a file without nodes or mesh items.
	ErrNoMesh = errors.New("file has no mesh data")

	// ErrNoSeries is returned by ReadSeries for a file without point-series items.
	ErrNoSeries = errors.New("file has no point-series data")
)

// document is the on-disk layout.
type document struct {
	Times  []time.Time            `json:"times"`
	Nodes  [][3]float64           `json:"nodes,omitempty"`
	Items  map[string][][]float64 `json:"items,omitempty"`
	Series map[string][]float64   `json:"series,omitempty"`
}

// Reader decodes results files from the local filesystem.
// It implements mesh.Reader and pipeline.SeriesReader.
type Reader struct{}

// NewReader creates a Reader.
func NewReader() *Reader { return &Reader{} }

// ReadMesh decodes the mesh part of the file at path.
func (r *Reader) ReadMesh(path string) (*domain.MeshDataset, error) {
	doc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if len(doc.Nodes) == 0 || len(doc.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoMesh)
	}

	nodes := make([]domain.Node, len(doc.Nodes))
	for i, n := range doc.Nodes {
		nodes[i] = domain.Node{Lon: n[0], Lat: n[1], Z: n[2]}
	}
	return &domain.MeshDataset{Times: doc.Times, Nodes: nodes, Items: doc.Items}, nil
}

// ReadSeries decodes the point-series part of the file at path.
func (r *Reader) ReadSeries(path string) (*domain.PointSeries, error) {
	doc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if len(doc.Series) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSeries)
	}
	for name, values := range doc.Series {
		if len(values) != len(doc.Times) {
			return nil, fmt.Errorf("%s: item %q has %d values, time axis has %d", path, name, len(values), len(doc.Times))
		}
	}
	return &domain.PointSeries{Times: doc.Times, Items: doc.Series}, nil
}

func readFile(path string) (*document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// decode sniffs for an xz header and reads the JSON document.
func decode(r io.Reader) (*document, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var src io.Reader = br
	if bytes.Equal(head, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		src = xr
	}

	var doc document
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return nil, err
	}
	for i := 1; i < len(doc.Times); i++ {
		if !doc.Times[i].After(doc.Times[i-1]) {
			return nil, fmt.Errorf("time axis not strictly increasing at step %d", i)
		}
	}
	return &doc, nil
}

// Content is what Write encodes. Either part may be empty.
type Content struct {
	Times  []time.Time
	Mesh   *domain.MeshDataset
	Series map[string][]float64
}

// Write encodes content to w, xz-compressing when compress is set.
func Write(w io.Writer, c Content, compress bool) error {
	doc := document{Times: c.Times, Series: c.Series}
	if c.Mesh != nil {
		if len(doc.Times) == 0 {
			doc.Times = c.Mesh.Times
		}
		doc.Items = c.Mesh.Items
		doc.Nodes = make([][3]float64, len(c.Mesh.Nodes))
		for i, n := range c.Mesh.Nodes {
			doc.Nodes[i] = [3]float64{n.Lon, n.Lat, n.Z}
		}
	}

	if !compress {
		return json.NewEncoder(w).Encode(doc)
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open xz writer: %w", err)
	}
	if err := json.NewEncoder(xw).Encode(doc); err != nil {
		_ = xw.Close()
		return err
	}
	return xw.Close()
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(path string, c Content, compress bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, c, compress); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
