// Command validate performs integrity checks on a timeseries store: ledger
// and data agreement, row ordering and uniqueness, and missing values. With
// -results it also reports dates on disk that are not committed yet.
//
// The store is located the same way the service does it, through
// STORE_BACKEND and STORE_PATH.
//
// Usage:
//
//	go run ./cmd/validate
//	go run ./cmd/validate -client ACME -results /srv/models
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/storage"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/catalog"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// Store is what validation reads.
type Store interface {
	pipeline.LedgerReader
	Clients(ctx context.Context) ([]string, error)
	Rows(ctx context.Context, client string) ([]domain.Row, error)
}

func main() {
	clientList := flag.String("client", "", "comma-separated clients to check, default every stored client")
	results := flag.String("results", "", "results root to compare the ledger against")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewTextLogger(os.Stderr, "warn")

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		os.Exit(1)
	}

	var cat pipeline.Catalog
	if *results != "" {
		cat = catalog.NewResolver(*results, logger)
	}

	code := run(ctx, os.Stdout, store, cat, cfg.FileKind, splitClients(*clientList))
	_ = store.Close()
	os.Exit(code)
}

func run(ctx context.Context, w io.Writer, store Store, cat pipeline.Catalog, kind string, clients []string) int {
	fmt.Fprintln(w, "=== Timeseries Store Integrity Validation ===")
	fmt.Fprintln(w)

	if len(clients) == 0 {
		var err error
		clients, err = store.Clients(ctx)
		if err != nil {
			fmt.Fprintf(w, "FATAL: list clients: %v\n", err)
			return 1
		}
	}
	if len(clients) == 0 {
		fmt.Fprintln(w, "No clients stored.")
		return 0
	}

	var phases []*phase
	for _, c := range clients {
		phases = append(phases, validateLedger(ctx, store, c), validateRows(ctx, store, c))
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	if cat != nil {
		fmt.Fprintln(w)
		for _, c := range clients {
			reportPending(ctx, w, store, cat, kind, c)
		}
	}

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// validateLedger checks that the ledger and the stored rows name the same dates.
func validateLedger(ctx context.Context, store Store, client string) *phase {
	p := &phase{name: client + ": ledger agreement"}

	_, err := pipeline.VerifyLedger(ctx, store, client)
	var ce *pipeline.CorruptionError
	switch {
	case err == nil:
	case errors.As(err, &ce):
		for _, k := range ce.LedgerOnly {
			p.errorf("date %s is committed but has no rows", k)
		}
		for _, k := range ce.DataOnly {
			p.errorf("date %s has rows but no ledger entry", k)
		}
	default:
		p.errorf("read ledger: %v", err)
	}
	return p
}

// validateRows checks time ordering, (date, time, category) uniqueness, and
// that no missing value was stored.
func validateRows(ctx context.Context, store Store, client string) *phase {
	p := &phase{name: client + ": row integrity"}

	rows, err := store.Rows(ctx, client)
	if err != nil {
		p.errorf("read rows: %v", err)
		return p
	}

	type cell struct {
		key      domain.DateKey
		ts       int64
		category string
	}
	seen := make(map[cell]struct{}, len(rows))
	for i, r := range rows {
		if i > 0 && r.Time.Before(rows[i-1].Time) {
			p.errorf("row %d at %s is out of time order", i, r.Time)
		}
		c := cell{r.DateKey, r.Time.UnixNano(), r.Category}
		if _, dup := seen[c]; dup {
			p.errorf("duplicate row %s %s %q", r.DateKey, r.Time, r.Category)
		}
		seen[c] = struct{}{}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			p.errorf("row %s %s %q holds %v", r.DateKey, r.Time, r.Category, r.Value)
		}
	}
	return p
}

// reportPending prints the dates available on disk that the ledger lacks.
// Pending dates are not a failure; the next sync picks them up.
func reportPending(ctx context.Context, w io.Writer, store Store, cat pipeline.Catalog, kind, client string) {
	available, err := cat.Dates(client, kind)
	if err != nil {
		fmt.Fprintf(w, "  Note: %s catalog: %v\n", client, err)
	}
	committed, err := store.CommittedDates(ctx, client)
	if err != nil {
		return
	}
	done := make(map[domain.DateKey]bool, len(committed))
	for _, k := range committed {
		done[k] = true
	}
	var pending []string
	for _, k := range available {
		if !done[k] {
			pending = append(pending, k.String())
		}
	}
	fmt.Fprintf(w, "  %s: %d on disk, %d committed, %d pending %v\n",
		client, len(available), len(committed), len(pending), pending)
}

func splitClients(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
