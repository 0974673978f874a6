// Package sqlite persists client timeseries and the ingestion ledger in a
// single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS measurements (
	client   TEXT    NOT NULL,
	date_key TEXT    NOT NULL,
	ts       INTEGER NOT NULL,
	category TEXT    NOT NULL,
	value    REAL    NOT NULL,
	PRIMARY KEY (client, date_key, ts, category)
);
CREATE INDEX IF NOT EXISTS measurements_client_ts ON measurements (client, ts);
CREATE TABLE IF NOT EXISTS ingested_dates (
	client       TEXT    NOT NULL,
	date_key     TEXT    NOT NULL,
	committed_at INTEGER NOT NULL,
	PRIMARY KEY (client, date_key)
);`

// Store implements pipeline.Store on SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommittedDates returns the client's ledger keys in ascending order.
func (s *Store) CommittedDates(ctx context.Context, client string) ([]domain.DateKey, error) {
	return s.dateKeys(ctx, `SELECT date_key FROM ingested_dates WHERE client = ? ORDER BY date_key`, client)
}

// DataDates returns the distinct date keys that have rows, ascending.
func (s *Store) DataDates(ctx context.Context, client string) ([]domain.DateKey, error) {
	return s.dateKeys(ctx, `SELECT DISTINCT date_key FROM measurements WHERE client = ? ORDER BY date_key`, client)
}

func (s *Store) dateKeys(ctx context.Context, query, client string) ([]domain.DateKey, error) {
	rows, err := s.db.QueryContext(ctx, query, client)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.DateKey
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, domain.DateKey(k))
	}
	return keys, rows.Err()
}

// Commit writes ledger keys and rows in one transaction. If any key is
// already in the ledger nothing is written and domain.ErrAlreadyCommitted
// is returned. Keys and rows must match per domain.CheckCommit.
func (s *Store) Commit(ctx context.Context, client string, keys []domain.DateKey, rows []domain.Row) (err error) {
	if err := domain.CheckCommit(keys, rows); err != nil {
		return fmt.Errorf("commit %s: %w", client, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rollback failed", "client", client, "error", rbErr)
			}
		}
	}()

	now := domain.Now().UnixNano()
	for _, k := range keys {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ingested_dates (client, date_key, committed_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			client, string(k), now)
		if err != nil {
			return fmt.Errorf("ledger %s/%s: %w", client, k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("ledger %s/%s: %w", client, k, domain.ErrAlreadyCommitted)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (client, date_key, ts, category, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, client, string(r.DateKey), r.Time.UnixNano(), r.Category, r.Value); err != nil {
			return fmt.Errorf("insert %s/%s %s: %w", client, r.DateKey, r.Category, err)
		}
	}

	return tx.Commit()
}

// Rows returns every row for client ordered by time, date key, then category.
func (s *Store) Rows(ctx context.Context, client string) ([]domain.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date_key, ts, category, value FROM measurements WHERE client = ? ORDER BY ts, date_key, category`,
		client)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		var (
			key string
			ts  int64
			r   domain.Row
		)
		if err := rows.Scan(&key, &ts, &r.Category, &r.Value); err != nil {
			return nil, err
		}
		r.DateKey = domain.DateKey(key)
		r.Time = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clients lists every client with ledger entries or rows.
func (s *Store) Clients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client FROM ingested_dates UNION SELECT client FROM measurements ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Purge deletes the client's ledger and rows in one transaction, so the
// next sync re-ingests everything the catalog offers.
func (s *Store) Purge(ctx context.Context, client string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM measurements WHERE client = ?`, client); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM ingested_dates WHERE client = ?`, client); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.logger.Warn("client purged", "client", client, "path", s.path)
	return nil
}
