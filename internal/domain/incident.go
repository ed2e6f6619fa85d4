package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PoliceCallColor is the marker color the dashboard used for every call.
const PoliceCallColor = "#FFFFFF"

// DefaultIncidentCategories is the dispatch call-type allow-list.
var DefaultIncidentCategories = []string{"AUDIBLE ALARM", "TRAFFIC HAZARD", "FIRE"}

// IncidentPoint is the GeoJSON point attached to a dispatch record.
type IncidentPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// IncidentRecord is one row of the dispatched-calls dataset.
type IncidentRecord struct {
	IncidentNumber   string         `json:"incident_number"`
	CADNumber        string         `json:"cad_number"`
	CallType         string         `json:"call_type_original_desc"`
	DispatchDateTime string         `json:"dispatch_datetime"`
	Point            *IncidentPoint `json:"intersection_point"`
	IntersectionName string         `json:"intersection_name"`
	Priority         string         `json:"priority_original"`
	Agency           string         `json:"agency"`
}

// IncidentFilter selects which dispatch records become markers.
type IncidentFilter struct {
	Categories []string
	Window     time.Duration
}

var incidentTimeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// ParseDispatchTime reads a dataset timestamp. Zone-less values are UTC.
func ParseDispatchTime(s string) (time.Time, error) {
	for _, layout := range incidentTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized dispatch time %q", s)
}

// FilterIncidents keeps records in an allowed category, dispatched strictly
// after now-Window, with a usable point. Everything else is dropped silently.
func FilterIncidents(records []IncidentRecord, f IncidentFilter, now time.Time) []IncidentRecord {
	allowed := make(map[string]struct{}, len(f.Categories))
	for _, c := range f.Categories {
		allowed[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	cutoff := now.UTC().Add(-f.Window)

	var out []IncidentRecord
	for _, r := range records {
		if _, ok := allowed[strings.ToUpper(strings.TrimSpace(r.CallType))]; !ok {
			continue
		}
		if r.Point == nil || len(r.Point.Coordinates) < 2 {
			continue
		}
		t, err := ParseDispatchTime(r.DispatchDateTime)
		if err != nil || !t.After(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IncidentID returns the marker id for a dispatch record.
func IncidentID(r IncidentRecord) string {
	if n := strings.TrimSpace(r.IncidentNumber); n != "" {
		return "police-call-" + n
	}
	var lon, lat float64
	if r.Point != nil && len(r.Point.Coordinates) >= 2 {
		lon, lat = r.Point.Coordinates[0], r.Point.Coordinates[1]
	}
	input := fmt.Sprintf("%s|%s|%.5f|%.5f", r.CallType, r.DispatchDateTime, lat, lon)
	hash := sha256.Sum256([]byte(input))
	return "police-call-" + hex.EncodeToString(hash[:8])
}

// IncidentDeltas maps filtered records to PoliceCall deltas.
func IncidentDeltas(records []IncidentRecord, source string) []Delta {
	out := make([]Delta, 0, len(records))
	for _, r := range records {
		if r.Point == nil || len(r.Point.Coordinates) < 2 {
			continue
		}
		payload := Payload{"issue": r.CallType}
		if t, err := ParseDispatchTime(r.DispatchDateTime); err == nil {
			payload["dispatchedAt"] = t.Format(time.RFC3339)
		}
		if r.IntersectionName != "" {
			payload["intersection"] = r.IntersectionName
		}
		if r.Priority != "" {
			payload["priority"] = r.Priority
		}
		if r.Agency != "" {
			payload["agency"] = r.Agency
		}
		out = append(out, Delta{
			ID:       IncidentID(r),
			Kind:     string(KindPoliceCall),
			Position: &Position{Lat: r.Point.Coordinates[1], Lon: r.Point.Coordinates[0]},
			Label:    StringPtr(KindPoliceCall.DisplayName()),
			Color:    StringPtr(PoliceCallColor),
			Payload:  payload,
			Source:   source,
		})
	}
	return out
}
