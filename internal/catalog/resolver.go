// Package catalog discovers model results files on the dated directory tree
//
//	<root>/TT_HD/Results/<DateKey>[-newmesh]/[TimeSeries/]<file>
//
// and answers which dates a client has data for.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
)

const (
	projectDir    = "TT_HD"
	resultsDir    = "Results"
	timeSeriesDir = "TimeSeries"

	horizonDigits = 3
)

// ErrResultsDirMissing is returned when the root has no TT_HD/Results directory.
var ErrResultsDirMissing = errors.New("results directory missing")

// PathError reports one offending path found during a walk.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *PathError) Unwrap() error { return e.Err }

// File is one results file matched by a walk.
type File struct {
	Path    string
	DateDir string // run directory name as found on disk
}

// Resolver walks a results tree.
type Resolver struct {
	results string
	logger  *slog.Logger
}

// NewResolver creates a resolver rooted at root.
func NewResolver(root string, logger *slog.Logger) *Resolver {
	return &Resolver{
		results: filepath.Join(root, projectDir, resultsDir),
		logger:  logger,
	}
}

// ResultsDir returns the directory the resolver walks.
func (r *Resolver) ResultsDir() string { return r.results }

// Paths returns every file whose name contains client and kind, in discovery
// order. dateFilter, when non-empty, must prefix the run directory name.
// Problems with individual paths are returned joined alongside the matches.
func (r *Resolver) Paths(client, dateFilter, kind string) ([]string, error) {
	files, err := r.walk(client, kind)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if dateFilter != "" && !strings.HasPrefix(f.DateDir, dateFilter) {
			continue
		}
		paths = append(paths, f.Path)
	}
	return paths, err
}

// Dates returns the ascending, duplicate-free DateKeys that hold at least one
// file for client and kind. Run directories whose names do not parse are
// reported in the returned error; the remaining dates are still returned.
func (r *Resolver) Dates(client, kind string) ([]domain.DateKey, error) {
	files, walkErr := r.walk(client, kind)

	seen := make(map[domain.DateKey]struct{})
	var errs []error
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	reported := make(map[string]struct{})

	for _, f := range files {
		key, err := domain.ParseDateKey(f.DateDir)
		if err != nil {
			if _, dup := reported[f.DateDir]; !dup {
				reported[f.DateDir] = struct{}{}
				errs = append(errs, &PathError{Path: filepath.Dir(f.Path), Err: err})
			}
			continue
		}
		seen[key] = struct{}{}
	}

	dates := make([]domain.DateKey, 0, len(seen))
	for k := range seen {
		dates = append(dates, k)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates, errors.Join(errs...)
}

// LatestForecastFiles maps each DateKey to the client's file with the
// smallest forecast horizon in that run. Files without a horizon suffix are
// reported and ignored.
func (r *Resolver) LatestForecastFiles(client, kind string) (map[domain.DateKey]string, error) {
	files, walkErr := r.walk(client, kind)

	type pick struct {
		horizon int
		path    string
	}
	best := make(map[domain.DateKey]pick)
	var errs []error
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	for _, f := range files {
		key, err := domain.ParseDateKey(f.DateDir)
		if err != nil {
			errs = append(errs, &PathError{Path: f.Path, Err: err})
			continue
		}
		h, err := ForecastHorizon(filepath.Base(f.Path))
		if err != nil {
			errs = append(errs, &PathError{Path: f.Path, Err: err})
			continue
		}
		if cur, ok := best[key]; !ok || h < cur.horizon {
			best[key] = pick{horizon: h, path: f.Path}
		}
	}

	out := make(map[domain.DateKey]string, len(best))
	for k, p := range best {
		out[k] = p.path
	}
	return out, errors.Join(errs...)
}

// FileForDate resolves the file to ingest for one DateKey: the smallest
// forecast horizon when filenames carry one, otherwise the first file found.
func (r *Resolver) FileForDate(client, kind string, key domain.DateKey) (string, error) {
	files, walkErr := r.walk(client, kind)

	chosen, chosenHorizon := "", -1
	for _, f := range files {
		k, err := domain.ParseDateKey(f.DateDir)
		if err != nil || k != key {
			continue
		}
		h, err := ForecastHorizon(filepath.Base(f.Path))
		switch {
		case chosen == "":
			chosen = f.Path
			if err == nil {
				chosenHorizon = h
			}
		case err == nil && (chosenHorizon < 0 || h < chosenHorizon):
			chosen, chosenHorizon = f.Path, h
		}
	}

	if chosen == "" {
		if walkErr != nil {
			return "", fmt.Errorf("resolve %s for %s: %w", key, client, walkErr)
		}
		return "", fmt.Errorf("resolve %s for %s: %w", key, client, fs.ErrNotExist)
	}
	return chosen, nil
}

// ForecastHorizon parses the three-digit horizon that precedes a filename's
// extension, e.g. "TT_HD_ACME_F024.dfs0" -> 24.
func ForecastHorizon(name string) (int, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if len(stem) < horizonDigits {
		return 0, fmt.Errorf("filename %q: no forecast horizon", name)
	}
	digits := stem[len(stem)-horizonDigits:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("filename %q: no forecast horizon", name)
		}
	}
	return strconv.Atoi(digits)
}

// walk collects files matching client and kind directly in a run directory
// or in its TimeSeries sub-directory, in lexical discovery order. Unreadable
// directories are reported and skipped.
func (r *Resolver) walk(client, kind string) ([]File, error) {
	info, err := os.Stat(r.results)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", r.results, ErrResultsDirMissing)
	}

	var files []File
	var errs []error
	walkErr := filepath.WalkDir(r.results, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.results {
				return err
			}
			errs = append(errs, &PathError{Path: path, Err: err})
			r.logger.Warn("catalog walk error, skipping", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(r.results, path)
		if relErr != nil || rel == "." {
			return nil
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			switch {
			case len(segments) == 1:
				return nil
			case len(segments) == 2 && strings.EqualFold(segments[1], timeSeriesDir):
				return nil
			default:
				return fs.SkipDir
			}
		}

		if len(segments) != 2 && len(segments) != 3 {
			return nil
		}
		name := d.Name()
		if !strings.Contains(name, client) || !strings.Contains(name, kind) {
			return nil
		}
		files = append(files, File{Path: path, DateDir: segments[0]})
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return files, errors.Join(errs...)
}
