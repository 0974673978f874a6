package pipeline_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/meshfile"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/catalog"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acme = "ACME"

func newAggregator(c pipeline.Catalog, e pipeline.Extractor, s pipeline.Store, opts ...pipeline.AggregatorOption) *pipeline.Aggregator {
	return pipeline.NewAggregator(c, e, s, ".dfs0", discardLogger(), newTestMetrics(), opts...)
}

func TestSync_CommitsNewDatesInOrder(t *testing.T) {
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010112", "2021010100"},
		files: map[domain.DateKey]string{"2021010100": "a.dfs0", "2021010112": "b.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{
		"a.dfs0": {frameAt("2021010100", "WL", 1, 2)},
		"b.dfs0": {frameAt("2021010112", "WL", 3)},
	}}
	store := newMemStore()

	res, err := newAggregator(cat, ext, store).Sync(context.Background(), acme)
	require.NoError(t, err)

	assert.Equal(t, []domain.DateKey{"2021010100", "2021010112"}, res.New)
	assert.Equal(t, []domain.DateKey{"2021010100", "2021010112"}, res.Committed)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Available)
	assert.Equal(t, []string{"a.dfs0", "b.dfs0"}, ext.calls, "dates processed ascending")
	assert.Equal(t, 1, store.commits, "one commit per sync")
}

func TestSync_NoNewDatesIsNoOp(t *testing.T) {
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010100"},
		files: map[domain.DateKey]string{"2021010100": "a.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{"a.dfs0": {frameAt("2021010100", "WL", 1)}}}
	store := newMemStore()
	agg := newAggregator(cat, ext, store)

	_, err := agg.Sync(context.Background(), acme)
	require.NoError(t, err)

	res, err := agg.Sync(context.Background(), acme)
	require.NoError(t, err)
	assert.True(t, res.NoOp())
	assert.Empty(t, res.New)
	assert.Equal(t, 1, store.commits)
	assert.Len(t, ext.calls, 1, "committed dates are not re-extracted")

	rows, err := store.Rows(context.Background(), acme)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSync_SkipsFailedDates(t *testing.T) {
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010100", "2021010112", "2021010200", "2021010212"},
		files: map[domain.DateKey]string{
			"2021010100": "ok.dfs0",
			"2021010112": "broken.dfs0",
			"2021010212": "empty.dfs0",
		},
	}
	ext := &mockExtractor{
		frames: map[string][]domain.Frame{
			"ok.dfs0":    {frameAt("2021010100", "WL", 1)},
			"empty.dfs0": {frameAt("2021010212", "WL", math.NaN())},
		},
		errs: map[string]error{"broken.dfs0": errors.New("truncated file")},
	}
	store := newMemStore()
	agg := newAggregator(cat, ext, store)

	res, err := agg.Sync(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010100"}, res.Committed)
	require.Len(t, res.Skipped, 3)
	assert.Equal(t, domain.DateKey("2021010112"), res.Skipped[0].DateKey)
	assert.ErrorContains(t, res.Skipped[0].Err, "truncated file")
	assert.Equal(t, domain.DateKey("2021010200"), res.Skipped[1].DateKey)
	assert.ErrorIs(t, res.Skipped[2].Err, pipeline.ErrNoUsableFrames)

	// Skipped dates stay out of the ledger and are retried next time.
	ext.errs = nil
	ext.frames["broken.dfs0"] = []domain.Frame{frameAt("2021010112", "WL", 2)}
	res, err = agg.Sync(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010112"}, res.Committed)
}

func TestSync_AllDatesFailIsNoOp(t *testing.T) {
	cat := &mockCatalog{dates: []domain.DateKey{"2021010100"}}
	store := newMemStore()

	res, err := newAggregator(cat, &mockExtractor{}, store).Sync(context.Background(), acme)
	require.NoError(t, err)
	assert.True(t, res.NoOp())
	assert.Len(t, res.Skipped, 1)
	assert.Zero(t, store.commits)
}

func TestSync_CommitFailureDoesNotAdvanceLedger(t *testing.T) {
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010100"},
		files: map[domain.DateKey]string{"2021010100": "a.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{"a.dfs0": {frameAt("2021010100", "WL", 1)}}}
	store := newMemStore()
	store.commitErr = errors.New("disk full")
	notifier := &mockNotifier{}

	res, err := newAggregator(cat, ext, store, pipeline.WithNotifier(notifier)).Sync(context.Background(), acme)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, res.Committed)
	assert.Empty(t, notifier.commits)

	committed, err := store.CommittedDates(context.Background(), acme)
	require.NoError(t, err)
	assert.Empty(t, committed)
}

func TestSync_ConcurrentWriterConflict(t *testing.T) {
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010100"},
		files: map[domain.DateKey]string{"2021010100": "a.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{"a.dfs0": {frameAt("2021010100", "WL", 1)}}}
	store := newMemStore()
	store.commitErr = domain.ErrAlreadyCommitted

	_, err := newAggregator(cat, ext, store).Sync(context.Background(), acme)
	assert.ErrorIs(t, err, domain.ErrAlreadyCommitted)
}

func TestSync_DetectsCorruption(t *testing.T) {
	tests := []struct {
		name       string
		ledger     []domain.DateKey
		rows       []domain.Row
		ledgerOnly []domain.DateKey
		dataOnly   []domain.DateKey
	}{
		{
			name:       "ledger key without data",
			ledger:     []domain.DateKey{"2021010100", "2021010112"},
			rows:       []domain.Row{{DateKey: "2021010100", Category: "WL"}},
			ledgerOnly: []domain.DateKey{"2021010112"},
		},
		{
			name:     "data without ledger key",
			ledger:   []domain.DateKey{"2021010100"},
			rows:     []domain.Row{{DateKey: "2021010100"}, {DateKey: "2021010112"}},
			dataOnly: []domain.DateKey{"2021010112"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.ledger[acme] = map[domain.DateKey]bool{}
			for _, k := range tt.ledger {
				store.ledger[acme][k] = true
			}
			store.rows[acme] = tt.rows
			ext := &mockExtractor{}
			metrics := newTestMetrics()
			agg := pipeline.NewAggregator(&mockCatalog{dates: []domain.DateKey{"2021010200"}}, ext, store, ".dfs0", discardLogger(), metrics)

			_, err := agg.Sync(context.Background(), acme)
			require.ErrorIs(t, err, pipeline.ErrLedgerCorruption)

			var ce *pipeline.CorruptionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, acme, ce.Client)
			assert.Equal(t, tt.ledgerOnly, ce.LedgerOnly)
			assert.Equal(t, tt.dataOnly, ce.DataOnly)
			assert.Empty(t, ext.calls, "nothing ingested on a corrupt client")
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.SyncRuns.WithLabelValues("corrupt")), 0)
		})
	}
}

func TestSync_CatalogProblemsAreNotFatal(t *testing.T) {
	cat := &mockCatalog{
		dates:    []domain.DateKey{"2021010100"},
		datesErr: &catalog.PathError{Path: "Results/backup", Err: domain.ErrInvalidDateKey},
		files:    map[domain.DateKey]string{"2021010100": "a.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{"a.dfs0": {frameAt("2021010100", "WL", 1)}}}

	res, err := newAggregator(cat, ext, newMemStore()).Sync(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010100"}, res.Committed)
}

func TestSync_MissingResultsDirFails(t *testing.T) {
	cat := &mockCatalog{datesErr: catalog.ErrResultsDirMissing}

	_, err := newAggregator(cat, &mockExtractor{}, newMemStore()).Sync(context.Background(), acme)
	assert.ErrorIs(t, err, catalog.ErrResultsDirMissing)
}

func TestSync_NotifiesAfterCommit(t *testing.T) {
	clock := fixedClock(t, time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC))
	cat := &mockCatalog{
		dates: []domain.DateKey{"2021010100", "2021010112"},
		files: map[domain.DateKey]string{"2021010100": "a.dfs0", "2021010112": "b.dfs0"},
	}
	ext := &mockExtractor{frames: map[string][]domain.Frame{
		"a.dfs0": {frameAt("2021010100", "WL", 1, 2)},
		"b.dfs0": {frameAt("2021010112", "WL", 3)},
	}}
	notifier := &mockNotifier{err: errors.New("broker down")}
	metrics := newTestMetrics()
	agg := pipeline.NewAggregator(cat, ext, newMemStore(), ".dfs0", discardLogger(), metrics, pipeline.WithNotifier(notifier))

	res, err := agg.Sync(context.Background(), acme)
	require.NoError(t, err, "notification failure does not fail a durable commit")
	assert.Len(t, res.Committed, 2)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, []domain.Commit{
		{SyncID: res.ID, Client: acme, DateKey: "2021010100", Rows: 2, CommittedAt: clock.Now()},
		{SyncID: res.ID, Client: acme, DateKey: "2021010112", Rows: 1, CommittedAt: clock.Now()},
	}, notifier.commits)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.NotifyErrors), 0)
}

// writeSeriesFile writes a point-series results file for client under the
// given date directory.
func writeSeriesFile(t *testing.T, root, dateDir, name string, start time.Time, values ...float64) {
	t.Helper()
	times := make([]time.Time, len(values))
	for i := range values {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}
	path := filepath.Join(root, "TT_HD", "Results", dateDir, "TimeSeries", name)
	require.NoError(t, meshfile.WriteFile(path, meshfile.Content{
		Times:  times,
		Series: map[string][]float64{"Water level": values},
	}, false))
}

func TestSync_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSeriesFile(t, root, "2021010100", "TT_HD_ACME_F024.dfs0", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), 1.0, 1.1)
	writeSeriesFile(t, root, "2021010112", "TT_HD_ACME_F012.dfs0", time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC), 2.0, 2.1)
	writeSeriesFile(t, root, "2021010112", "TT_HD_OTHER_F012.dfs0", time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC), 9.0)

	store := newMemStore()
	agg := newAggregator(
		catalog.NewResolver(root, discardLogger()),
		pipeline.NewSeriesExtractor(meshfile.NewReader()),
		store,
	)
	ctx := context.Background()

	res, err := agg.Sync(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010100", "2021010112"}, res.Committed)
	assert.Equal(t, 4, res.Rows)

	committed, err := store.CommittedDates(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010100", "2021010112"}, committed)

	writeSeriesFile(t, root, "2021010200", "TT_HD_ACME_F000.dfs0", time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC), 3.0)

	res, err = agg.Sync(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, []domain.DateKey{"2021010200"}, res.Committed)
	assert.Equal(t, 1, res.Rows)

	res, err = agg.Sync(ctx, acme)
	require.NoError(t, err)
	assert.True(t, res.NoOp())

	rows, err := store.Rows(ctx, acme)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, domain.Row{
		DateKey:  "2021010200",
		Time:     time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
		Category: "Water level",
		Value:    3.0,
	}, rows[4])
}
