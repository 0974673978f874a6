package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var (
	t0 = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func TestPointSeriesFrames(t *testing.T) {
	ps := PointSeries{
		Times: []time.Time{t0, t1},
		Items: map[string][]float64{
			"Temperature":   {27.1, 27.3},
			"Current speed": {0.4, 0.5},
		},
	}

	frames := ps.Frames()

	want := []Frame{
		{Category: "Current speed", Element: NoElement, Samples: []Sample{{t0, 0.4}, {t1, 0.5}}},
		{Category: "Temperature", Element: NoElement, Samples: []Sample{{t0, 27.1}, {t1, 27.3}}},
	}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestPointSeriesFrames_TruncatesToTimeAxis(t *testing.T) {
	ps := PointSeries{
		Times: []time.Time{t0},
		Items: map[string][]float64{"Salinity": {35.0, 35.1}},
	}
	frames := ps.Frames()
	assert.Len(t, frames, 1)
	assert.Equal(t, 1, frames[0].Len())
}

func TestRowsFromFrames_DropsNaN(t *testing.T) {
	frames := []Frame{
		{Category: "Salinity", Samples: []Sample{{t0, 35.0}, {t1, math.NaN()}}},
	}

	rows := RowsFromFrames("2021010100", frames)

	assert.Equal(t, []Row{{DateKey: "2021010100", Time: t0, Category: "Salinity", Value: 35.0}}, rows)
}

func TestSortRows(t *testing.T) {
	rows := []Row{
		{DateKey: "2021010112", Time: t1, Category: "b"},
		{DateKey: "2021010112", Time: t0, Category: "b"},
		{DateKey: "2021010100", Time: t0, Category: "b"},
		{DateKey: "2021010100", Time: t0, Category: "a"},
	}

	SortRows(rows)

	assert.Equal(t, []Row{
		{DateKey: "2021010100", Time: t0, Category: "a"},
		{DateKey: "2021010100", Time: t0, Category: "b"},
		{DateKey: "2021010112", Time: t0, Category: "b"},
		{DateKey: "2021010112", Time: t1, Category: "b"},
	}, rows)
}

func TestVerticalColumnFrame(t *testing.T) {
	col := VerticalColumn{Layers: []Layer{
		{Depth: 0.5, Element: 3, Frame: Frame{Category: "Salinity", Element: 3}},
		{Depth: 1.0, Element: 4, Frame: Frame{Category: "Salinity", Element: 4}},
	}}

	f, ok := col.Frame(1.0)
	assert.True(t, ok)
	assert.Equal(t, 4, f.Element)

	_, ok = col.Frame(0.25)
	assert.False(t, ok)
	assert.Equal(t, []float64{0.5, 1.0}, col.Depths())
}
