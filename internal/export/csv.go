// Package export writes timeseries as delimited tables, one line per timestamp.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
)

// TimeLayout formats the leading time column. Fractional seconds are kept
// so distinct stamps never print alike.
const TimeLayout = time.RFC3339Nano

// Column is one named output column.
type Column struct {
	Name    string
	Samples []domain.Sample
}

// WriteCSV pivots a client's rows into one line per timestamp with one
// column per category, categories sorted. When several date keys carry the
// same timestamp and category, the most recent date key wins.
func WriteCSV(w io.Writer, rows []domain.Row) error {
	type cell struct {
		key   domain.DateKey
		value float64
	}
	latest := make(map[string]map[int64]cell)
	times := make(map[int64]time.Time)

	for _, r := range rows {
		ts := r.Time.UnixNano()
		times[ts] = r.Time
		byTime, ok := latest[r.Category]
		if !ok {
			byTime = make(map[int64]cell)
			latest[r.Category] = byTime
		}
		if prev, ok := byTime[ts]; ok && prev.key > r.DateKey {
			continue
		}
		byTime[ts] = cell{key: r.DateKey, value: r.Value}
	}

	cols := make([]Column, 0, len(latest))
	for category, byTime := range latest {
		col := Column{Name: category, Samples: make([]domain.Sample, 0, len(byTime))}
		for ts, c := range byTime {
			col.Samples = append(col.Samples, domain.Sample{Time: times[ts], Value: c.value})
		}
		cols = append(cols, col)
	}
	slices.SortFunc(cols, func(a, b Column) int { return strings.Compare(a.Name, b.Name) })
	return WriteColumns(w, cols)
}

// WriteFrames writes query frames side by side, each column named by its category.
func WriteFrames(w io.Writer, frames []domain.Frame) error {
	cols := make([]Column, len(frames))
	for i, f := range frames {
		cols[i] = Column{Name: f.Category, Samples: f.Samples}
	}
	return WriteColumns(w, cols)
}

// WriteColumn writes a vertical column with one column per layer, named
// "<category>@<depth>", shallowest first.
func WriteColumn(w io.Writer, col domain.VerticalColumn) error {
	cols := make([]Column, len(col.Layers))
	for i, l := range col.Layers {
		cols[i] = Column{
			Name:    fmt.Sprintf("%s@%s", l.Frame.Category, strconv.FormatFloat(l.Depth, 'g', -1, 64)),
			Samples: l.Frame.Samples,
		}
	}
	return WriteColumns(w, cols)
}

// WritePolar writes a polar current series as time,r,theta.
func WritePolar(w io.Writer, pf domain.PolarFrame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "r", "theta"}); err != nil {
		return err
	}
	for _, s := range pf.Samples {
		if err := cw.Write([]string{s.Time.UTC().Format(TimeLayout), formatValue(s.R), formatValue(s.Theta)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteColumns outer-joins columns on time. Missing cells are left empty.
func WriteColumns(w io.Writer, cols []Column) error {
	index := make(map[int64]time.Time)
	cells := make([]map[int64]float64, len(cols))
	for i, c := range cols {
		cells[i] = make(map[int64]float64, len(c.Samples))
		for _, s := range c.Samples {
			ts := s.Time.UnixNano()
			index[ts] = s.Time
			cells[i][ts] = s.Value
		}
	}

	stamps := make([]int64, 0, len(index))
	for ts := range index {
		stamps = append(stamps, ts)
	}
	slices.Sort(stamps)

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(cols)+1)
	header = append(header, "time")
	for _, c := range cols {
		header = append(header, c.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(cols)+1)
	for _, ts := range stamps {
		record[0] = index[ts].UTC().Format(TimeLayout)
		for i := range cols {
			if v, ok := cells[i][ts]; ok {
				record[i+1] = formatValue(v)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

