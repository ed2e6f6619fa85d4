package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
)

type snapshotData struct {
	Seq     uint64          `json:"seq"`
	Resync  bool            `json:"resync,omitempty"`
	Markers []domain.Marker `json:"markers"`
}

// handleStream serves a subscription as Server-Sent Events: one "snapshot"
// event, then a "change" event per accepted change. A viewer that falls
// behind receives a new "snapshot" event with resync set.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// The stream outlives the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := s.deps.Streamer.Subscribe()
	defer s.deps.Streamer.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	markers := sub.Snapshot
	if markers == nil {
		markers = []domain.Marker{}
	}
	if err := writeEvent(w, fanout.EventSnapshot, snapshotData{Seq: sub.Seq, Markers: markers}); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			err = writeStreamEvent(w, ev)
		}
		if err != nil {
			s.logger.Debug("viewer stream closed", "subscription_id", sub.ID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeStreamEvent(w http.ResponseWriter, ev fanout.Event) error {
	if ev.Type == fanout.EventSnapshot {
		markers := ev.Markers
		if markers == nil {
			markers = []domain.Marker{}
		}
		return writeEvent(w, fanout.EventSnapshot, snapshotData{Seq: ev.Seq, Resync: ev.Resync, Markers: markers})
	}
	if ev.Change == nil {
		return nil
	}
	return writeEvent(w, fanout.EventChange, ev.Change)
}

func writeEvent(w http.ResponseWriter, name fanout.EventType, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}
