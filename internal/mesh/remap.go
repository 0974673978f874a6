package mesh

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Semantic category labels used by queries.
const (
	Salinity         = "Salinity"
	Temperature      = "Temperature"
	Density          = "Density"
	CurrentDirection = "Current direction"
	CurrentSpeed     = "Current speed"
	WVelocity        = "W velocity"
	UVelocity        = "U velocity"
)

// ErrUnknownCategory is wrapped by every CategoryError.
var ErrUnknownCategory = errors.New("unknown category")

// CategoryError reports a semantic label with no raw-key mapping.
type CategoryError struct {
	Label string
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("unknown category %q: no raw key mapping", e.Label)
}

func (e *CategoryError) Unwrap() error { return ErrUnknownCategory }

// The upstream reader labels every category one slot off. Keys are the
// meaning of the data, values are the name the reader files it under.
var defaultTable = map[string]string{
	Salinity:         "Temperature",
	Temperature:      "Density",
	Density:          "Current direction (Horizontal)",
	CurrentDirection: "Current speed",
	CurrentSpeed:     "W velocity",
	WVelocity:        "V velocity",
	UVelocity:        "Z coordinate",
}

// Remapper resolves semantic category labels to the reader's raw keys.
type Remapper struct {
	table map[string]string
}

// DefaultRemapper returns the remapper for the standard correction table.
func DefaultRemapper() *Remapper {
	return NewRemapper(defaultTable)
}

// NewRemapper builds a remapper over a copy of table.
func NewRemapper(table map[string]string) *Remapper {
	t := make(map[string]string, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &Remapper{table: t}
}

// Resolve returns the raw key for label, or a *CategoryError.
func (r *Remapper) Resolve(label string) (string, error) {
	raw, ok := r.table[label]
	if !ok {
		return "", &CategoryError{Label: label}
	}
	return raw, nil
}

// Labels returns the number of mapped labels.
func (r *Remapper) Labels() int { return len(r.table) }

// remapFile is the YAML layout of a correction table override:
//
//	categories:
//	  Salinity: Temperature
//	  Temperature: Density
type remapFile struct {
	Categories map[string]string `yaml:"categories"`
}

// LoadRemapTable parses a YAML correction table. The result replaces the
// default table entirely; labels absent from the file are unmapped.
func LoadRemapTable(r io.Reader) (*Remapper, error) {
	var f remapFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode category table: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("category table has no entries")
	}
	for label, raw := range f.Categories {
		if label == "" || raw == "" {
			return nil, fmt.Errorf("category table: empty mapping %q -> %q", label, raw)
		}
	}
	return NewRemapper(f.Categories), nil
}

// LoadRemapFile reads a YAML correction table from path. An empty path yields
// the default remapper.
func LoadRemapFile(path string) (*Remapper, error) {
	if path == "" {
		return DefaultRemapper(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open category table: %w", err)
	}
	defer f.Close()
	return LoadRemapTable(f)
}
