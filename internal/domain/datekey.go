package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DateKeyLayout is the time layout of a DateKey: YYYYMMDDHH.
	DateKeyLayout = "2006010215"

	// newMeshSuffix tags the first results directory written after a mesh change.
	newMeshSuffix = "-newmesh"
)

// ErrInvalidDateKey is the sentinel wrapped by every DateKeyError.
var ErrInvalidDateKey = errors.New("invalid date key")

// DateKeyError reports a directory name that does not follow the YYYYMMDDHH grammar.
type DateKeyError struct {
	Input  string
	Reason string
}

func (e *DateKeyError) Error() string {
	return fmt.Sprintf("invalid date key %q: %s", e.Input, e.Reason)
}

func (e *DateKeyError) Unwrap() error { return ErrInvalidDateKey }

// DateKey is the canonical 10-character date-hour string identifying one
// ingestion batch, e.g. "2021010112".
type DateKey string

// ParseDateKey validates a results directory name and returns its DateKey.
// A trailing "-newmesh" tag is stripped before parsing.
func ParseDateKey(s string) (DateKey, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > len(newMeshSuffix) && strings.EqualFold(trimmed[len(trimmed)-len(newMeshSuffix):], newMeshSuffix) {
		trimmed = trimmed[:len(trimmed)-len(newMeshSuffix)]
	}

	if len(trimmed) != len(DateKeyLayout) {
		return "", &DateKeyError{Input: s, Reason: fmt.Sprintf("want %d characters, got %d", len(DateKeyLayout), len(trimmed))}
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] < '0' || trimmed[i] > '9' {
			return "", &DateKeyError{Input: s, Reason: "non-digit character"}
		}
	}
	if _, err := time.Parse(DateKeyLayout, trimmed); err != nil {
		return "", &DateKeyError{Input: s, Reason: "not a calendar date-hour"}
	}
	return DateKey(trimmed), nil
}

// MustDateKey is ParseDateKey for literals known to be valid.
func MustDateKey(s string) DateKey {
	k, err := ParseDateKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// DateKeyFromTime formats t (in UTC) as a DateKey, truncating to the hour.
func DateKeyFromTime(t time.Time) DateKey {
	return DateKey(t.UTC().Format(DateKeyLayout))
}

// Time returns the UTC instant the key denotes.
func (k DateKey) Time() time.Time {
	t, err := time.Parse(DateKeyLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (k DateKey) String() string { return string(k) }

// HasPrefix reports whether the key matches a coarse filter such as "2021" or "202101".
func (k DateKey) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(k), prefix)
}
