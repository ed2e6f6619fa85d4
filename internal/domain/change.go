package domain

// Op describes what an accepted change did to a marker.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Fields holds the marker fields a change touched. Payload carries only the
// keys whose values changed.
type Fields struct {
	Position *Position `json:"position,omitempty"`
	Label    *string   `json:"label,omitempty"`
	Color    *string   `json:"color,omitempty"`
	Payload  Payload   `json:"payload,omitempty"`
}

// Change is the MarkerChanged notification pushed to viewers after the
// registry accepts a delta.
type Change struct {
	ID       string `json:"id"`
	Revision uint64 `json:"revision"`
	Kind     Kind   `json:"kind"`
	Op       Op     `json:"op"`
	Fields   Fields `json:"fields"`
	Source   string `json:"source,omitempty"`

	// Seq is the registry-wide position of the change. Viewers use it to
	// discard changes already reflected in the snapshot they hold.
	Seq uint64 `json:"seq"`
}

// Apply folds the change into a viewer-side copy of the marker. It is the
// client half of the merge and is used by tests and the change-log consumer
// to check that a snapshot plus its change stream reproduces the registry.
func (c Change) Apply(m Marker) Marker {
	m = m.Clone()
	if c.Op == OpCreate {
		m = Marker{ID: c.ID, Kind: c.Kind, Source: c.Source}
	}
	m.Revision = c.Revision
	if c.Fields.Position != nil {
		m.Position = *c.Fields.Position
	}
	if c.Fields.Label != nil {
		m.Label = *c.Fields.Label
	}
	if c.Fields.Color != nil {
		m.Color = *c.Fields.Color
	}
	if len(c.Fields.Payload) > 0 && m.Payload == nil {
		m.Payload = make(Payload, len(c.Fields.Payload))
	}
	for k, v := range c.Fields.Payload {
		m.Payload[k] = cloneValue(v)
	}
	return m
}
