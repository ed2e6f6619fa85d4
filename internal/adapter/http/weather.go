package http

import (
	"errors"
	"net/http"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.deps.Weather == nil {
		writeError(w, http.StatusNotFound, "weather lookups are disabled")
		return
	}

	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil || !(domain.Position{Lat: lat, Lon: lon}).Valid() {
		writeError(w, http.StatusBadRequest, "lat and lon must be valid coordinates")
		return
	}

	c, err := s.deps.Weather.Conditions(r.Context(), lat, lon)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		s.logger.Warn("weather lookup failed", "lat", lat, "lon", lon, "error", err)
		writeError(w, status, "weather lookup failed")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, c)
}
