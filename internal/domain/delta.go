package domain

import (
	"time"
)

// Delta is a normalized, possibly partial update for one marker. Nil pointer
// fields and absent payload keys leave the stored value untouched.
type Delta struct {
	ID       string    `json:"id" yaml:"id"`
	Kind     string    `json:"kind,omitempty" yaml:"kind"`
	Position *Position `json:"position,omitempty" yaml:"position"`
	Label    *string   `json:"label,omitempty" yaml:"label"`
	Color    *string   `json:"color,omitempty" yaml:"color"`
	Payload  Payload   `json:"payload,omitempty" yaml:"payload"`

	// Remove withdraws the marker. Every other field is ignored.
	Remove bool `json:"remove,omitempty" yaml:"remove"`

	// RevisionHint is the revision the producer last saw. A hint older than
	// the stored revision marks the delta as stale and it is applied as a no-op.
	RevisionHint *uint64 `json:"revision_hint,omitempty" yaml:"revision_hint"`

	// Source names the adapter that produced the delta.
	Source string `json:"-" yaml:"-"`
}

// CheckGeometry returns a *GeometryError when the delta carries a position
// outside the WGS-84 range.
func (d Delta) CheckGeometry() error {
	if d.Position == nil || d.Position.Valid() {
		return nil
	}
	return &GeometryError{ID: d.ID, Lat: d.Position.Lat, Lon: d.Position.Lon}
}

// Create builds the first version of a marker from a delta. revision is the
// starting revision, zero unless the id was previously withdrawn.
func Create(d Delta, revision uint64, now time.Time) (Marker, Change, error) {
	if err := d.CheckGeometry(); err != nil {
		return Marker{}, Change{}, err
	}
	var missing []string
	if d.ID == "" {
		missing = append(missing, "id")
	}
	if d.Kind == "" {
		missing = append(missing, "kind")
	}
	if d.Position == nil {
		missing = append(missing, "position")
	}
	if len(missing) > 0 {
		return Marker{}, Change{}, &IncompleteCreateError{ID: d.ID, Missing: missing}
	}

	m := Marker{
		ID:        d.ID,
		Kind:      ParseKind(d.Kind),
		Position:  *d.Position,
		Label:     d.ID,
		Payload:   d.Payload.Normalize(),
		Revision:  revision,
		Source:    d.Source,
		UpdatedAt: now.UTC(),
	}
	if m.Payload == nil {
		m.Payload = Payload{}
	}
	if d.Label != nil {
		m.Label = *d.Label
	}
	if d.Color != nil {
		m.Color = *d.Color
	}

	pos := m.Position
	label := m.Label
	c := Change{
		ID:       m.ID,
		Revision: m.Revision,
		Kind:     m.Kind,
		Op:       OpCreate,
		Source:   m.Source,
		Fields: Fields{
			Position: &pos,
			Label:    &label,
			Payload:  m.Payload.Clone(),
		},
	}
	if d.Color != nil {
		color := m.Color
		c.Fields.Color = &color
	}
	return m, c, nil
}

// Merge folds d into existing field by field. Payload merges key by key.
// When every field d names already holds the same value, Merge reports
// changed=false and returns existing untouched. Kind in d is ignored.
func Merge(existing Marker, d Delta, now time.Time) (Marker, Change, bool, error) {
	if err := d.CheckGeometry(); err != nil {
		return existing, Change{}, false, err
	}
	if d.RevisionHint != nil && *d.RevisionHint < existing.Revision {
		return existing, Change{}, false, nil
	}

	var f Fields
	changed := false

	if d.Position != nil && *d.Position != existing.Position {
		pos := *d.Position
		f.Position = &pos
		changed = true
	}
	if d.Label != nil && *d.Label != existing.Label {
		label := *d.Label
		f.Label = &label
		changed = true
	}
	if d.Color != nil && *d.Color != existing.Color {
		color := *d.Color
		f.Color = &color
		changed = true
	}
	for k, v := range d.Payload {
		nv := NormalizeValue(v)
		if old, ok := existing.Payload[k]; ok && valuesEqual(old, nv) {
			continue
		}
		if f.Payload == nil {
			f.Payload = Payload{}
		}
		f.Payload[k] = nv
		changed = true
	}

	if !changed {
		return existing, Change{}, false, nil
	}

	m := existing.Clone()
	if f.Position != nil {
		m.Position = *f.Position
	}
	if f.Label != nil {
		m.Label = *f.Label
	}
	if f.Color != nil {
		m.Color = *f.Color
	}
	if len(f.Payload) > 0 && m.Payload == nil {
		m.Payload = make(Payload, len(f.Payload))
	}
	for k, v := range f.Payload {
		m.Payload[k] = cloneValue(v)
	}
	m.Revision = existing.Revision + 1
	if d.Source != "" {
		m.Source = d.Source
	}
	m.UpdatedAt = now.UTC()

	c := Change{
		ID:       m.ID,
		Revision: m.Revision,
		Kind:     m.Kind,
		Op:       OpUpdate,
		Fields:   f,
		Source:   m.Source,
	}
	return m, c, true, nil
}

// Withdraw builds the remove change for an existing marker. Only the source
// that last wrote the marker may remove it.
func Withdraw(existing Marker, source string) (Change, error) {
	if source != existing.Source {
		return Change{}, &OwnershipError{ID: existing.ID, Owner: existing.Source, Source: source}
	}
	return Change{
		ID:       existing.ID,
		Revision: existing.Revision + 1,
		Kind:     existing.Kind,
		Op:       OpRemove,
		Source:   source,
	}, nil
}

// StringPtr returns a pointer to s. Adapters use it to fill optional delta fields.
func StringPtr(s string) *string { return &s }
