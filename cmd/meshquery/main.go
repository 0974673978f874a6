// Command meshquery answers one spatial query against a mesh results file
// and prints the result as CSV.
//
// Usage:
//
//	meshquery -file run.dfsu.json -op node -lon 103.8 -lat 1.25 -depth 1 -category Salinity,Temperature
//	meshquery -file run.dfsu.json -op column -lon 103.8 -lat 1.25 -category Salinity
//	meshquery -file run.dfsu.json -op polar -lon 103.8 -lat 1.25 -depth 1
//	meshquery -file run.dfsu.json -op layers -lon 103.8 -lat 1.25
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/meshfile"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/export"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
)

type query struct {
	file        string
	op          string
	lon         float64
	lat         float64
	depth       float64
	categories  []string
	mapFile     string
	fullScan    bool
	maxDistance float64
}

func main() {
	var q query
	var categories string
	flag.StringVar(&q.file, "file", "", "mesh results file")
	flag.StringVar(&q.op, "op", "node", "query: node, column, polar, or layers")
	flag.Float64Var(&q.lon, "lon", 0, "query longitude")
	flag.Float64Var(&q.lat, "lat", 0, "query latitude")
	flag.Float64Var(&q.depth, "depth", 1, "query depth, 1 is the surface")
	flag.StringVar(&categories, "category", "", "comma-separated categories for node and column queries")
	flag.StringVar(&q.mapFile, "map", "", "YAML category map replacing the default table")
	flag.BoolVar(&q.fullScan, "full-scan", false, "scan every node when collecting a column")
	flag.Float64Var(&q.maxDistance, "max-distance", 0, "reject queries farther than this from any node, 0 for no limit")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger := observability.NewTextLogger(os.Stderr, *logLevel)

	for _, c := range strings.Split(categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			q.categories = append(q.categories, c)
		}
	}
	if q.file == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(q, os.Stdout); err != nil {
		logger.Error("query failed", "file", q.file, "op", q.op, "error", err)
		os.Exit(1)
	}
}

func run(q query, w io.Writer) error {
	remap := mesh.DefaultRemapper()
	if q.mapFile != "" {
		r, err := mesh.LoadRemapFile(q.mapFile)
		if err != nil {
			return err
		}
		remap = r
	}

	var opts []mesh.IndexOption
	if q.fullScan {
		opts = append(opts, mesh.WithFullColumnScan())
	}
	if q.maxDistance > 0 {
		opts = append(opts, mesh.WithMaxDistance(q.maxDistance))
	}

	eng, err := mesh.Open(meshfile.NewReader(), q.file, remap, opts...)
	if err != nil {
		return err
	}

	switch q.op {
	case "node":
		if len(q.categories) == 0 {
			return errors.New("node query needs -category")
		}
		frames := make([]domain.Frame, 0, len(q.categories))
		for _, c := range q.categories {
			f, err := eng.NodeData(q.lon, q.lat, q.depth, c)
			if err != nil {
				return err
			}
			frames = append(frames, f)
		}
		return export.WriteFrames(w, frames)

	case "column":
		if len(q.categories) != 1 {
			return errors.New("column query needs exactly one -category")
		}
		col, err := eng.NodeColumn(q.lon, q.lat, q.categories[0])
		if err != nil {
			return err
		}
		return export.WriteColumn(w, col)

	case "polar":
		pf, err := eng.Polar(q.lon, q.lat, q.depth)
		if err != nil {
			return err
		}
		return export.WritePolar(w, pf)

	case "layers":
		return writeLayers(w, eng.Index().LayersAt(q.lon, q.lat))

	default:
		return fmt.Errorf("unknown -op %q", q.op)
	}
}

func writeLayers(w io.Writer, layers []mesh.LayerRef) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"depth", "element"}); err != nil {
		return err
	}
	for _, l := range layers {
		rec := []string{strconv.FormatFloat(l.Depth, 'g', -1, 64), strconv.Itoa(l.Element)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
