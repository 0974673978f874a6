package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the sync pipeline.
type Metrics struct {
	SyncRuns        *prometheus.CounterVec // labels: outcome={committed,noop,failed,corrupt}
	DatesCommitted  prometheus.Counter
	DatesSkipped    prometheus.Counter
	RowsCommitted   prometheus.Counter
	CatalogProblems prometheus.Counter
	NotifyErrors    prometheus.Counter
	PipelineRunning prometheus.Gauge

	SyncDuration prometheus.Histogram
	RowsPerSync  prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "sync_runs_total",
			Help:      "Sync calls by outcome.",
		}, []string{"outcome"}),
		DatesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "dates_committed_total",
			Help:      "Date keys committed to the ledger.",
		}),
		DatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "dates_skipped_total",
			Help:      "New date keys skipped because resolution or extraction failed.",
		}),
		RowsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "rows_committed_total",
			Help:      "Measurement rows appended to client timeseries.",
		}),
		CatalogProblems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "catalog_problems_total",
			Help:      "Sync calls whose catalog walk reported offending paths.",
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_etl",
			Name:      "notify_errors_total",
			Help:      "Commit notifications that failed to publish.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mesh_etl",
			Name:      "pipeline_running",
			Help:      "1 when the sync loop is active, 0 when shut down.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mesh_etl",
			Name:      "sync_duration_seconds",
			Help:      "Duration of one client sync including extraction and commit.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RowsPerSync: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mesh_etl",
			Name:      "rows_per_sync",
			Help:      "Rows committed by one sync call.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
	}

	prometheus.MustRegister(
		m.SyncRuns,
		m.DatesCommitted,
		m.DatesSkipped,
		m.RowsCommitted,
		m.CatalogProblems,
		m.NotifyErrors,
		m.PipelineRunning,
		m.SyncDuration,
		m.RowsPerSync,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SyncRuns:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "sync_runs_total"}, []string{"outcome"}),
		DatesCommitted:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "dates_committed_total"}),
		DatesSkipped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "dates_skipped_total"}),
		RowsCommitted:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "rows_committed_total"}),
		CatalogProblems: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "catalog_problems_total"}),
		NotifyErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mesh_etl", Name: "notify_errors_total"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "mesh_etl", Name: "pipeline_running"}),
		SyncDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "mesh_etl", Name: "sync_duration_seconds"}),
		RowsPerSync:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "mesh_etl", Name: "rows_per_sync"}),
	}
}
