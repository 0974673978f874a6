// Package badger persists client timeseries and the ingestion ledger in an
// embedded Badger key-value store.
//
// Key layout:
//
//	ledger/<client>\x00<datekey>  -> committed_at, unix nanoseconds, big endian
//	data/<client>\x00<datekey>    -> gob-encoded rows of that date
//
// Both keys of a date are written in the same transaction.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

const (
	prefixLedger = "ledger/"
	prefixData   = "data/"
	sep          = "\x00"
)

// ErrInvalidClient is returned for a client name that cannot be encoded in a key.
var ErrInvalidClient = errors.New("invalid client name")

// record is the stored form of one row; the date key lives in the key.
type record struct {
	Ts       int64
	Category string
	Value    float64
}

// Store implements pipeline.Store on Badger.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates the store in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	return open(opts, logger)
}

// OpenInMemory opens a store that keeps everything in memory.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	opts.Logger = slogAdapter{logger: logger.With("component", "badger")}
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", opts.Dir, err)
	}
	logger.Info("badger store opened", "path", opts.Dir, "in_memory", opts.InMemory)
	return &Store{db: db, logger: logger}, nil
}

// Close flushes and releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ledgerKey(client string, k domain.DateKey) []byte {
	return []byte(prefixLedger + client + sep + string(k))
}

func dataKey(client string, k domain.DateKey) []byte {
	return []byte(prefixData + client + sep + string(k))
}

func clientPrefix(prefix, client string) []byte {
	return []byte(prefix + client + sep)
}

func checkClient(client string) error {
	if client == "" || strings.Contains(client, sep) {
		return fmt.Errorf("%q: %w", client, ErrInvalidClient)
	}
	return nil
}

// CommittedDates returns the client's ledger keys in ascending order.
func (s *Store) CommittedDates(_ context.Context, client string) ([]domain.DateKey, error) {
	if err := checkClient(client); err != nil {
		return nil, err
	}
	return s.keysWithPrefix(clientPrefix(prefixLedger, client))
}

// DataDates returns the date keys that have rows, ascending.
func (s *Store) DataDates(_ context.Context, client string) ([]domain.DateKey, error) {
	if err := checkClient(client); err != nil {
		return nil, err
	}
	return s.keysWithPrefix(clientPrefix(prefixData, client))
}

func (s *Store) keysWithPrefix(prefix []byte) ([]domain.DateKey, error) {
	var keys []domain.DateKey
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			keys = append(keys, domain.DateKey(k[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

// Commit writes ledger entries and row blobs in one transaction. If any key
// is already in the ledger nothing is written and domain.ErrAlreadyCommitted
// is returned. Keys and rows must match per domain.CheckCommit.
func (s *Store) Commit(_ context.Context, client string, keys []domain.DateKey, rows []domain.Row) error {
	if err := checkClient(client); err != nil {
		return err
	}
	if err := domain.CheckCommit(keys, rows); err != nil {
		return fmt.Errorf("commit %s: %w", client, err)
	}

	byKey := make(map[domain.DateKey][]record, len(keys))
	for _, r := range rows {
		byKey[r.DateKey] = append(byKey[r.DateKey], record{Ts: r.Time.UnixNano(), Category: r.Category, Value: r.Value})
	}

	stamp := make([]byte, 8)
	binary.BigEndian.PutUint64(stamp, uint64(domain.Now().UnixNano()))

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			_, err := txn.Get(ledgerKey(client, k))
			if err == nil {
				return fmt.Errorf("ledger %s/%s: %w", client, k, domain.ErrAlreadyCommitted)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(ledgerKey(client, k), stamp); err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(byKey[k]); err != nil {
				return fmt.Errorf("encode %s/%s: %w", client, k, err)
			}
			if err := txn.Set(dataKey(client, k), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("commit %s: %w", client, domain.ErrAlreadyCommitted)
	}
	return err
}

// Rows returns every row for client ordered by time, date key, then category.
func (s *Store) Rows(_ context.Context, client string) ([]domain.Row, error) {
	if err := checkClient(client); err != nil {
		return nil, err
	}
	prefix := clientPrefix(prefixData, client)

	var out []domain.Row
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := domain.DateKey(item.Key()[len(prefix):])
			err := item.Value(func(v []byte) error {
				var recs []record
				if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&recs); err != nil {
					return fmt.Errorf("decode %s/%s: %w", client, key, err)
				}
				for _, r := range recs {
					out = append(out, domain.Row{
						DateKey:  key,
						Time:     time.Unix(0, r.Ts).UTC(),
						Category: r.Category,
						Value:    r.Value,
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortRows(out)
	return out, nil
}

// Clients lists every client with ledger entries or rows.
func (s *Store) Clients(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			var rest string
			switch {
			case strings.HasPrefix(k, prefixLedger):
				rest = k[len(prefixLedger):]
			case strings.HasPrefix(k, prefixData):
				rest = k[len(prefixData):]
			default:
				continue
			}
			client, _, ok := strings.Cut(rest, sep)
			if ok && !seen[client] {
				seen[client] = true
				out = append(out, client)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// Purge deletes the client's ledger and rows in one transaction.
func (s *Store) Purge(_ context.Context, client string) error {
	if err := checkClient(client); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{clientPrefix(prefixLedger, client), clientPrefix(prefixData, client)} {
			var keys [][]byte
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()

			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("client purged", "client", client)
	return nil
}
