// Command genmock writes a synthetic results tree for local runs and demos:
// one run directory per date key, each holding point-series forecast files
// for every client and, optionally, a small layered mesh file.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -root data/mock \
//	  -clients ACME,BPTT_Cypre \
//	  -start 2024042600 -runs 4 -every 12h \
//	  -mesh
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/meshfile"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
)

type options struct {
	root     string
	clients  []string
	start    domain.DateKey
	runs     int
	every    time.Duration
	horizons []int
	steps    int
	mesh     bool
	compress bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	root := flag.String("root", "", "results root to create TT_HD/Results under")
	clients := flag.String("clients", "ACME", "comma-separated client names")
	start := flag.String("start", "2024042600", "date key of the first run")
	runs := flag.Int("runs", 4, "number of run directories")
	every := flag.Duration("every", 12*time.Hour, "spacing between runs")
	horizons := flag.String("horizons", "0,24", "comma-separated forecast horizons in hours")
	steps := flag.Int("steps", 24, "hourly time steps per file")
	withMesh := flag.Bool("mesh", false, "also write a layered mesh file per run")
	compress := flag.Bool("xz", true, "xz-compress the files")
	flag.Parse()

	if *root == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -root")
	}

	opts := options{
		root:     *root,
		clients:  splitList(*clients),
		runs:     *runs,
		every:    *every,
		steps:    *steps,
		mesh:     *withMesh,
		compress: *compress,
	}
	key, err := domain.ParseDateKey(*start)
	if err != nil {
		return err
	}
	opts.start = key
	for _, h := range splitList(*horizons) {
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 || n > 999 {
			return fmt.Errorf("invalid horizon %q", h)
		}
		opts.horizons = append(opts.horizons, n)
	}

	n, err := generate(opts)
	if err != nil {
		return err
	}
	log.Printf("wrote %d files under %s", n, filepath.Join(opts.root, "TT_HD", "Results"))
	return nil
}

// generate writes the tree and returns the number of files written.
func generate(o options) (int, error) {
	if len(o.clients) == 0 || o.runs <= 0 || o.steps <= 0 || len(o.horizons) == 0 {
		return 0, fmt.Errorf("need at least one client, run, step, and horizon")
	}

	written := 0
	for r := 0; r < o.runs; r++ {
		runStart := o.start.Time().Add(time.Duration(r) * o.every)
		runDir := filepath.Join(o.root, "TT_HD", "Results", string(domain.DateKeyFromTime(runStart)))

		for ci, client := range o.clients {
			for _, h := range o.horizons {
				name := fmt.Sprintf("TT_HD_%s_F%03d.dfs0", client, h)
				c := meshfile.Content{
					Times:  hourly(runStart, o.steps),
					Series: seriesFor(runStart, o.steps, float64(ci)),
				}
				if err := meshfile.WriteFile(filepath.Join(runDir, "TimeSeries", name), c, o.compress); err != nil {
					return written, err
				}
				written++
			}

			if o.mesh {
				name := fmt.Sprintf("TT_HD_%s_F000.dfsu", client)
				ds, err := meshFor(runStart, o.steps)
				if err != nil {
					return written, err
				}
				if err := meshfile.WriteFile(filepath.Join(runDir, name), meshfile.Content{Mesh: ds}, o.compress); err != nil {
					return written, err
				}
				written++
			}
		}
		log.Printf("run %s: %d clients", domain.DateKeyFromTime(runStart), len(o.clients))
	}
	return written, nil
}

func hourly(start time.Time, steps int) []time.Time {
	times := make([]time.Time, steps)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return times
}

// tide is a semi-diurnal signal in absolute time, so overlapping runs agree.
func tide(t time.Time, amplitude, phase float64) float64 {
	hours := float64(t.Unix()) / 3600
	return amplitude * math.Sin(2*math.Pi*hours/12.42+phase)
}

func seriesFor(start time.Time, steps int, phase float64) map[string][]float64 {
	level := make([]float64, steps)
	speed := make([]float64, steps)
	for i, t := range hourly(start, steps) {
		level[i] = round(tide(t, 1.2, phase))
		speed[i] = round(math.Abs(tide(t, 0.8, phase+math.Pi/2)))
	}
	return map[string][]float64{"Water level": level, "Current speed": speed}
}

// meshFor builds a 2x2 grid with two layers per column. Items are filed
// under the reader's raw keys, so queries must go through the remapper.
func meshFor(start time.Time, steps int) (*domain.MeshDataset, error) {
	var nodes []domain.Node
	for _, lon := range []float64{103.80, 103.85} {
		for _, lat := range []float64{1.20, 1.25} {
			nodes = append(nodes, domain.Node{Lon: lon, Lat: lat, Z: 0.5}, domain.Node{Lon: lon, Lat: lat, Z: 1})
		}
	}

	remap := mesh.DefaultRemapper()
	items := make(map[string][][]float64)
	add := func(category string, value func(t time.Time, e int) float64) error {
		raw, err := remap.Resolve(category)
		if err != nil {
			return err
		}
		grid := make([][]float64, steps)
		for s, t := range hourly(start, steps) {
			grid[s] = make([]float64, len(nodes))
			for e := range nodes {
				grid[s][e] = round(value(t, e))
			}
		}
		items[raw] = grid
		return nil
	}

	fields := []struct {
		category string
		value    func(t time.Time, e int) float64
	}{
		{mesh.Salinity, func(t time.Time, e int) float64 { return 31 + nodes[e].Z + tide(t, 0.3, 0) }},
		{mesh.Temperature, func(t time.Time, e int) float64 { return 28 + 2*nodes[e].Z + tide(t, 0.5, 1) }},
		{mesh.CurrentSpeed, func(t time.Time, e int) float64 { return math.Abs(tide(t, 0.8*nodes[e].Z, 2)) }},
		{mesh.CurrentDirection, func(t time.Time, e int) float64 { return math.Mod(tide(t, math.Pi, 0)+2*math.Pi, 2*math.Pi) }},
	}
	for _, f := range fields {
		if err := add(f.category, f.value); err != nil {
			return nil, err
		}
	}
	return &domain.MeshDataset{Times: hourly(start, steps), Nodes: nodes, Items: items}, nil
}

func round(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
