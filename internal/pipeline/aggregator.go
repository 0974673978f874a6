package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/catalog"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
	"github.com/google/uuid"
)

// ErrLedgerCorruption marks a ledger that disagrees with the stored data.
// A corrupted client needs a manual resync; Sync refuses to advance it.
var ErrLedgerCorruption = errors.New("ledger and timeseries disagree")

// ErrNoUsableFrames is recorded for a date whose file produced no rows.
var ErrNoUsableFrames = errors.New("file yielded no usable frames")

// CorruptionError lists the keys that break ledger/data agreement for a client.
type CorruptionError struct {
	Client string
	// LedgerOnly keys are committed in the ledger but have no rows (data loss).
	LedgerOnly []domain.DateKey
	// DataOnly keys have rows but no ledger entry (duplication on retry).
	DataOnly []domain.DateKey
}

func (e *CorruptionError) Error() string {
	var parts []string
	if len(e.LedgerOnly) > 0 {
		parts = append(parts, fmt.Sprintf("ledger keys without data %v", e.LedgerOnly))
	}
	if len(e.DataOnly) > 0 {
		parts = append(parts, fmt.Sprintf("data without ledger keys %v", e.DataOnly))
	}
	return fmt.Sprintf("client %s: %s", e.Client, strings.Join(parts, "; "))
}

func (e *CorruptionError) Unwrap() error { return ErrLedgerCorruption }

// Catalog lists the dates a client has on disk and resolves one date to a file.
type Catalog interface {
	Dates(client, kind string) ([]domain.DateKey, error)
	FileForDate(client, kind string, key domain.DateKey) (string, error)
}

// Extractor turns one results file into frames.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.Frame, error)
}

// Store persists a client's timeseries and its ingestion ledger.
type Store interface {
	// CommittedDates returns the client's ledger keys in ascending order.
	CommittedDates(ctx context.Context, client string) ([]domain.DateKey, error)
	// DataDates returns the distinct keys that have at least one row.
	DataDates(ctx context.Context, client string) ([]domain.DateKey, error)
	// Commit appends rows and ledger keys in a single transaction. A key
	// already in the ledger fails the whole commit with domain.ErrAlreadyCommitted.
	Commit(ctx context.Context, client string, keys []domain.DateKey, rows []domain.Row) error
	// Rows returns every row for the client ordered by time.
	Rows(ctx context.Context, client string) ([]domain.Row, error)
}

// Notifier announces committed dates to downstream consumers.
type Notifier interface {
	NotifyCommitted(ctx context.Context, commits []domain.Commit) error
}

// SkippedDate records a new date that could not be ingested this sync.
type SkippedDate struct {
	DateKey domain.DateKey
	Err     error
}

// SyncResult reports what one Sync call did.
type SyncResult struct {
	ID        string // correlates logs and commit notifications of one call
	Client    string
	Available int
	New       []domain.DateKey
	Committed []domain.DateKey
	Skipped   []SkippedDate
	Rows      int
}

// NoOp reports whether the call committed nothing.
func (r SyncResult) NoOp() bool { return len(r.Committed) == 0 }

// Aggregator merges newly available dates into a client's stored timeseries.
type Aggregator struct {
	catalog   Catalog
	extractor Extractor
	store     Store
	notifier  Notifier
	kind      string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithNotifier publishes a commit record for every committed date.
func WithNotifier(n Notifier) AggregatorOption {
	return func(a *Aggregator) { a.notifier = n }
}

// NewAggregator creates an Aggregator reading files of the given kind.
func NewAggregator(c Catalog, e Extractor, s Store, kind string, logger *slog.Logger, metrics *observability.Metrics, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		catalog:   c,
		extractor: e,
		store:     s,
		kind:      kind,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sync ingests every date the catalog offers for client that the ledger
// does not hold yet. Per-date failures skip that date; a store failure
// aborts the call without advancing the ledger.
func (a *Aggregator) Sync(ctx context.Context, client string) (SyncResult, error) {
	start := time.Now()
	res, outcome, err := a.sync(ctx, client)
	a.metrics.SyncRuns.WithLabelValues(outcome).Inc()
	a.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (a *Aggregator) sync(ctx context.Context, client string) (SyncResult, string, error) {
	res := SyncResult{ID: uuid.NewString(), Client: client}
	log := a.logger.With("client", client, "sync_id", res.ID)

	committed, err := a.Verify(ctx, client)
	if err != nil {
		if errors.Is(err, ErrLedgerCorruption) {
			log.Error("ledger corruption detected, manual resync required", "error", err)
			return res, "corrupt", err
		}
		return res, "failed", fmt.Errorf("read ledger: %w", err)
	}

	available, catErr := a.catalog.Dates(client, a.kind)
	if catErr != nil {
		if errors.Is(catErr, catalog.ErrResultsDirMissing) {
			return res, "failed", catErr
		}
		a.metrics.CatalogProblems.Inc()
		log.Warn("catalog reported unreadable paths", "error", catErr)
	}
	res.Available = len(available)

	res.New = newDates(available, committed)
	if len(res.New) == 0 {
		log.Info("no new dates", "available", len(available), "committed", len(committed))
		return res, "noop", nil
	}

	var rows []domain.Row
	perKey := make(map[domain.DateKey]int, len(res.New))
	for _, key := range res.New {
		if err := ctx.Err(); err != nil {
			return res, "failed", err
		}
		keyRows, err := a.ingest(ctx, client, key)
		if err != nil {
			log.Warn("skipping date", "date_key", key, "error", err)
			a.metrics.DatesSkipped.Inc()
			res.Skipped = append(res.Skipped, SkippedDate{DateKey: key, Err: err})
			continue
		}
		rows = append(rows, keyRows...)
		perKey[key] = len(keyRows)
		res.Committed = append(res.Committed, key)
	}

	if len(res.Committed) == 0 {
		log.Info("no new dates could be ingested", "skipped", len(res.Skipped))
		return res, "noop", nil
	}

	domain.SortRows(rows)
	if err := a.store.Commit(ctx, client, res.Committed, rows); err != nil {
		log.Error("commit failed", "error", err, "dates", len(res.Committed), "rows", len(rows))
		res.Committed = nil
		return res, "failed", fmt.Errorf("commit %s: %w", client, err)
	}
	res.Rows = len(rows)

	a.metrics.DatesCommitted.Add(float64(len(res.Committed)))
	a.metrics.RowsCommitted.Add(float64(len(rows)))
	a.metrics.RowsPerSync.Observe(float64(len(rows)))
	log.Info("sync committed", "dates", len(res.Committed), "rows", len(rows), "skipped", len(res.Skipped))

	a.notify(ctx, res, perKey)
	return res, "committed", nil
}

// Verify checks that every ledger key has data and every data key has a
// ledger entry. It returns the committed keys when they agree.
func (a *Aggregator) Verify(ctx context.Context, client string) ([]domain.DateKey, error) {
	return VerifyLedger(ctx, a.store, client)
}

// LedgerReader is the read side of a Store that VerifyLedger needs.
type LedgerReader interface {
	CommittedDates(ctx context.Context, client string) ([]domain.DateKey, error)
	DataDates(ctx context.Context, client string) ([]domain.DateKey, error)
}

// VerifyLedger compares the client's ledger against the dates that hold
// rows. A mismatch in either direction is a *CorruptionError.
func VerifyLedger(ctx context.Context, s LedgerReader, client string) ([]domain.DateKey, error) {
	committed, err := s.CommittedDates(ctx, client)
	if err != nil {
		return nil, err
	}
	withData, err := s.DataDates(ctx, client)
	if err != nil {
		return nil, err
	}

	ledgerOnly := difference(committed, withData)
	dataOnly := difference(withData, committed)
	if len(ledgerOnly) > 0 || len(dataOnly) > 0 {
		return nil, &CorruptionError{Client: client, LedgerOnly: ledgerOnly, DataOnly: dataOnly}
	}
	return committed, nil
}

func (a *Aggregator) ingest(ctx context.Context, client string, key domain.DateKey) ([]domain.Row, error) {
	path, err := a.catalog.FileForDate(client, a.kind, key)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	frames, err := a.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	rows := domain.RowsFromFrames(key, frames)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoUsableFrames)
	}
	return rows, nil
}

// notify publishes commit records. The data is already durable, so a
// failure here is logged and counted only.
func (a *Aggregator) notify(ctx context.Context, res SyncResult, perKey map[domain.DateKey]int) {
	if a.notifier == nil {
		return
	}
	now := domain.Now()
	commits := make([]domain.Commit, len(res.Committed))
	for i, k := range res.Committed {
		commits[i] = domain.Commit{SyncID: res.ID, Client: res.Client, DateKey: k, Rows: perKey[k], CommittedAt: now}
	}
	if err := a.notifier.NotifyCommitted(ctx, commits); err != nil {
		a.metrics.NotifyErrors.Inc()
		a.logger.Warn("commit notification failed", "client", res.Client, "sync_id", res.ID, "error", err)
	}
}

// newDates returns available minus committed in ascending order.
func newDates(available, committed []domain.DateKey) []domain.DateKey {
	out := difference(available, committed)
	slices.Sort(out)
	return out
}

// difference returns the keys of a not present in b, without duplicates.
func difference(a, b []domain.DateKey) []domain.DateKey {
	seen := make(map[domain.DateKey]struct{}, len(b)+len(a))
	for _, k := range b {
		seen[k] = struct{}{}
	}
	var out []domain.DateKey
	for _, k := range a {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
