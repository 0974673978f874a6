// Package diskcheck refuses to open a store on a nearly full volume.
package diskcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrInsufficientSpace is returned when the volume has less free space than required.
var ErrInsufficientSpace = errors.New("not enough free disk space")

// Report describes the volume a store path lives on.
type Report struct {
	Path   string // existing directory that was measured
	Free   uint64
	Total  uint64
	UsedPc float64
}

// FreeMB is the free space in whole megabytes.
func (r Report) FreeMB() uint64 { return r.Free / (1024 * 1024) }

func (r Report) String() string {
	return fmt.Sprintf("%s free of %s (%.1f%% used) at %s",
		humanize.IBytes(r.Free), humanize.IBytes(r.Total), r.UsedPc, r.Path)
}

// EnsureFree checks that the volume holding path has at least minMB megabytes
// free. The path itself need not exist yet; its nearest existing ancestor is
// measured. A zero minMB only reports.
func EnsureFree(path string, minMB uint64) (Report, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return Report{}, err
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return Report{}, fmt.Errorf("disk usage %s: %w", dir, err)
	}

	r := Report{Path: dir, Free: usage.Free, Total: usage.Total, UsedPc: usage.UsedPercent}
	if r.FreeMB() < minMB {
		return r, fmt.Errorf("%s: %s free, %d MB required: %w", dir, humanize.IBytes(r.Free), minMB, ErrInsufficientSpace)
	}
	return r, nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(p)
		if err == nil {
			if info.IsDir() {
				return p, nil
			}
			return filepath.Dir(p), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		p = parent
	}
}
