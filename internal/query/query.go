// Package query is the read-only view of the registry used by the detail
// viewer and the chat assistant.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// Reader is the read side of the registry.
type Reader interface {
	All() []domain.Marker
	At(index int) (domain.Marker, bool)
	Get(id string) (domain.Marker, bool)
}

// Service answers snapshot queries. It holds no state of its own.
type Service struct {
	reader Reader
}

// NewService creates a Service over r.
func NewService(r Reader) *Service {
	return &Service{reader: r}
}

// AllMarkers returns every marker in registry order.
func (s *Service) AllMarkers() []domain.Marker {
	return s.reader.All()
}

// MarkerAt returns the marker at position index of AllMarkers.
func (s *Service) MarkerAt(index int) (domain.Marker, bool) {
	return s.reader.At(index)
}

// MarkerByID returns the marker with the given id.
func (s *Service) MarkerByID(id string) (domain.Marker, bool) {
	return s.reader.Get(id)
}

// contextMarker is the shape handed to the chat assistant. It mirrors what
// the dashboard passed as "Optional data".
type contextMarker struct {
	ID       string         `json:"id"`
	Kind     string         `json:"type"`
	Name     string         `json:"name"`
	Position [2]float64     `json:"position"`
	Data     domain.Payload `json:"data"`
	Revision uint64         `json:"revision"`
}

// MarkersAsContext serializes the current markers for the assistant's input.
func (s *Service) MarkersAsContext() ([]byte, error) {
	markers := s.reader.All()
	out := make([]contextMarker, 0, len(markers))
	for _, m := range markers {
		data := m.Payload
		if data == nil {
			data = domain.Payload{}
		}
		out = append(out, contextMarker{
			ID:       m.ID,
			Kind:     m.Kind.DisplayName(),
			Name:     m.Label,
			Position: [2]float64{m.Position.Lat, m.Position.Lon},
			Data:     data,
			Revision: m.Revision,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal marker context: %w", err)
	}
	return b, nil
}
