package http

import (
	"net/http"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func (s *Server) handleMarkers(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.deps.Queries.AllMarkers())
}

func (s *Server) handleMarkerAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	m, ok := s.deps.Queries.MarkerAt(index)
	if !ok {
		writeError(w, http.StatusNotFound, "no marker at index "+strconv.Itoa(index))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleMarkerByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := s.deps.Queries.MarkerByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown marker "+strconv.Quote(id))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleContext(w http.ResponseWriter, _ *http.Request) {
	b, err := s.deps.Queries.MarkersAsContext()
	if err != nil {
		s.logger.Error("marker context failed", "error", err)
		writeError(w, http.StatusInternalServerError, "marker context unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
