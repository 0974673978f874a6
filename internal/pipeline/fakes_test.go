package pipeline_test

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
)

// --- mocks ---

type mockCatalog struct {
	dates    []domain.DateKey
	datesErr error
	files    map[domain.DateKey]string
	forecast map[domain.DateKey]string
}

func (m *mockCatalog) Dates(_, _ string) ([]domain.DateKey, error) {
	return slices.Clone(m.dates), m.datesErr
}

func (m *mockCatalog) FileForDate(_, _ string, key domain.DateKey) (string, error) {
	p, ok := m.files[key]
	if !ok {
		return "", fmt.Errorf("date %s: %w", key, fs.ErrNotExist)
	}
	return p, nil
}

func (m *mockCatalog) LatestForecastFiles(_, _ string) (map[domain.DateKey]string, error) {
	return m.forecast, m.datesErr
}

type mockExtractor struct {
	frames map[string][]domain.Frame
	errs   map[string]error
	calls  []string
}

func (m *mockExtractor) Extract(_ context.Context, path string) ([]domain.Frame, error) {
	m.calls = append(m.calls, path)
	if err := m.errs[path]; err != nil {
		return nil, err
	}
	return m.frames[path], nil
}

// memStore is an in-memory Store with all-or-nothing commits.
type memStore struct {
	mu        sync.Mutex
	ledger    map[string]map[domain.DateKey]bool
	rows      map[string][]domain.Row
	commitErr error
	commits   int
}

func newMemStore() *memStore {
	return &memStore{
		ledger: make(map[string]map[domain.DateKey]bool),
		rows:   make(map[string][]domain.Row),
	}
}

func (s *memStore) CommittedDates(_ context.Context, client string) ([]domain.DateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DateKey
	for k := range s.ledger[client] {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func (s *memStore) DataDates(_ context.Context, client string) ([]domain.DateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[domain.DateKey]bool{}
	var out []domain.DateKey
	for _, r := range s.rows[client] {
		if !seen[r.DateKey] {
			seen[r.DateKey] = true
			out = append(out, r.DateKey)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *memStore) Commit(_ context.Context, client string, keys []domain.DateKey, rows []domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	for _, k := range keys {
		if s.ledger[client][k] {
			return fmt.Errorf("ledger %s/%s: %w", client, k, domain.ErrAlreadyCommitted)
		}
	}
	if s.ledger[client] == nil {
		s.ledger[client] = make(map[domain.DateKey]bool)
	}
	for _, k := range keys {
		s.ledger[client][k] = true
	}
	s.rows[client] = append(s.rows[client], rows...)
	s.commits++
	return nil
}

func (s *memStore) Rows(_ context.Context, client string) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.rows[client])
	domain.SortRows(out)
	return out, nil
}

type mockNotifier struct {
	commits []domain.Commit
	err     error
}

func (m *mockNotifier) NotifyCommitted(_ context.Context, commits []domain.Commit) error {
	m.commits = append(m.commits, commits...)
	return m.err
}

// --- helpers ---

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// frameAt builds a single-category frame with hourly samples from the key's time.
func frameAt(key domain.DateKey, category string, values ...float64) domain.Frame {
	f := domain.Frame{Category: category, Element: domain.NoElement}
	for i, v := range values {
		f.Samples = append(f.Samples, domain.Sample{Time: key.Time().Add(time.Duration(i) * time.Hour), Value: v})
	}
	return f
}
