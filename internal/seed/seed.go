// Package seed loads the markers a fresh service starts with.
package seed

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// Source is the adapter name seed deltas carry.
const Source = "seed"

type file struct {
	Markers []domain.Delta `yaml:"markers"`
}

// Load reads a seed file. Each entry becomes a create delta to submit
// through the broker like any other source.
func Load(path string) ([]domain.Delta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes seed YAML. Unknown keys are rejected, and every entry needs
// an id, kind and position.
func Parse(r io.Reader) ([]domain.Delta, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	seen := make(map[string]bool, len(doc.Markers))
	for i := range doc.Markers {
		d := &doc.Markers[i]
		switch {
		case d.ID == "":
			return nil, fmt.Errorf("seed entry %d: missing id", i)
		case d.Kind == "":
			return nil, fmt.Errorf("seed %s: missing kind", d.ID)
		case d.Position == nil:
			return nil, fmt.Errorf("seed %s: missing position", d.ID)
		case d.Remove:
			return nil, fmt.Errorf("seed %s: remove is not allowed", d.ID)
		case seen[d.ID]:
			return nil, fmt.Errorf("seed %s: duplicate id", d.ID)
		}
		if err := d.CheckGeometry(); err != nil {
			return nil, fmt.Errorf("seed %s: %w", d.ID, err)
		}
		seen[d.ID] = true
		d.Source = Source
	}
	return doc.Markers, nil
}
