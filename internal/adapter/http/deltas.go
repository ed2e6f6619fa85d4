package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
)

// IntakeSource is the source name given to deltas posted over HTTP.
const IntakeSource = "intake"

const maxDeltaBody = 1 << 20

type deltaResult struct {
	ID       string    `json:"id"`
	Changed  bool      `json:"changed"`
	Op       domain.Op `json:"op,omitempty"`
	Revision uint64    `json:"revision"`
	Error    string    `json:"error,omitempty"`
}

type deltaResponse struct {
	Results []deltaResult `json:"results"`
}

// handleDeltas accepts one delta object or an array of them and applies them
// in order through the broker.
func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	deltas, err := decodeDeltas(http.MaxBytesReader(w, r.Body, maxDeltaBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range deltas {
		deltas[i].Source = IntakeSource
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.applyTimeout)
	defer cancel()

	outcomes, err := s.deps.Ingester.IngestBatch(deltas).Wait(ctx)
	switch {
	case errors.Is(err, pipeline.ErrBrokerStopped):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	case err != nil:
		// Still queued; the broker applies them once it catches up.
		sharedobs.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "count": len(deltas)})
		return
	}

	resp := deltaResponse{Results: make([]deltaResult, 0, len(outcomes))}
	rejected := 0
	for _, o := range outcomes {
		res := deltaResult{ID: o.ID, Changed: o.Changed, Revision: o.Marker.Revision}
		if o.Changed {
			res.Op = o.Change.Op
			res.Revision = o.Change.Revision
		}
		if o.Err != nil {
			res.Error = o.Err.Error()
			if errors.Is(o.Err, domain.ErrInvalidGeometry) || errors.Is(o.Err, domain.ErrIncompleteCreate) ||
				errors.Is(o.Err, domain.ErrNotOwner) {
				rejected++
			}
		}
		resp.Results = append(resp.Results, res)
	}

	status := http.StatusOK
	if rejected == len(outcomes) {
		status = http.StatusUnprocessableEntity
	}
	sharedobs.WriteJSON(w, status, resp)
}

func decodeDeltas(body io.Reader) ([]domain.Delta, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, errors.New("body must be a JSON delta or array of deltas")
	}

	var deltas []domain.Delta
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &deltas); err != nil {
			return nil, errors.New("invalid delta array: " + err.Error())
		}
	} else {
		var d domain.Delta
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, errors.New("invalid delta: " + err.Error())
		}
		deltas = []domain.Delta{d}
	}

	if len(deltas) == 0 {
		return nil, errors.New("no deltas")
	}
	for i, d := range deltas {
		if d.ID == "" {
			return nil, errors.New("delta " + strconv.Itoa(i) + ": missing id")
		}
	}
	return deltas, nil
}
