package domain

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrAlreadyCommitted is returned by a store when a ledger entry being
// committed already exists, i.e. another writer committed the date first.
// The whole commit is rolled back.
var ErrAlreadyCommitted = errors.New("date key already committed")

// Commit describes one DateKey durably merged into a client's timeseries.
type Commit struct {
	SyncID      string    `json:"sync_id,omitempty"`
	Client      string    `json:"client"`
	DateKey     DateKey   `json:"date_key"`
	Rows        int       `json:"rows"`
	CommittedAt time.Time `json:"committed_at"`
}

// ErrUnbalancedCommit is returned for a commit whose ledger keys and rows
// do not cover each other.
var ErrUnbalancedCommit = errors.New("ledger keys and rows do not match")

// CheckCommit reports ErrUnbalancedCommit unless every key carries at least
// one row and every row belongs to one of keys.
func CheckCommit(keys []DateKey, rows []Row) error {
	pending := make(map[DateKey]bool, len(keys))
	for _, k := range keys {
		pending[k] = true
	}
	listed := maps.Clone(pending)
	for _, r := range rows {
		if !listed[r.DateKey] {
			return fmt.Errorf("row for %s outside the committed keys: %w", r.DateKey, ErrUnbalancedCommit)
		}
		delete(pending, r.DateKey)
	}
	for _, k := range keys {
		if pending[k] {
			return fmt.Errorf("%s has no rows: %w", k, ErrUnbalancedCommit)
		}
	}
	return nil
}
