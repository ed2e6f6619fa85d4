package domain

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SeismicIDMode selects how earthquake marker ids are built.
type SeismicIDMode string

const (
	// SeismicIDIndex numbers events by their line position in each response.
	// A re-poll whose ordering shifted re-assigns ids to different events.
	SeismicIDIndex SeismicIDMode = "index"

	// SeismicIDEvent uses the upstream event id.
	SeismicIDEvent SeismicIDMode = "event"
)

// ParseSeismicIDMode validates a configured mode.
func ParseSeismicIDMode(s string) (SeismicIDMode, error) {
	switch m := SeismicIDMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SeismicIDIndex, SeismicIDEvent:
		return m, nil
	case "":
		return SeismicIDIndex, nil
	default:
		return "", fmt.Errorf("unknown seismic id mode %q", s)
	}
}

const seismicFieldCount = 13

var subSecond = regexp.MustCompile(`\.\d+$`)

// SeismicEvent is one data line of the FDSN text format.
type SeismicEvent struct {
	Index         int
	EventID       string
	Date          string
	Time          string
	Lat           float64
	Lon           float64
	Depth         float64
	MagnitudeType string
	Magnitude     float64
	Location      string
}

// ParseSeismicText parses an FDSN text body. Lines starting with '#' and blank
// lines are skipped. A malformed data line is reported in errs and skipped;
// it still consumes its index so neighbouring events keep their positions.
func ParseSeismicText(body string) (events []SeismicEvent, errs []error) {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	index := 0
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := parseSeismicLine(line, index)
		index++
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read seismic body: %w", err))
	}
	return events, errs
}

func parseSeismicLine(line string, index int) (SeismicEvent, error) {
	fields := strings.Split(line, "|")
	if len(fields) < seismicFieldCount {
		return SeismicEvent{}, fmt.Errorf("line %d: want %d fields, got %d", index, seismicFieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	date, tod, _ := strings.Cut(fields[1], "T")
	tod = subSecond.ReplaceAllString(tod, "")

	lat, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return SeismicEvent{}, fmt.Errorf("line %d: latitude: %w", index, err)
	}
	lon, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return SeismicEvent{}, fmt.Errorf("line %d: longitude: %w", index, err)
	}
	depth, _ := strconv.ParseFloat(fields[4], 64)
	mag, err := strconv.ParseFloat(fields[10], 64)
	if err != nil {
		return SeismicEvent{}, fmt.Errorf("line %d: magnitude: %w", index, err)
	}

	return SeismicEvent{
		Index:         index,
		EventID:       fields[0],
		Date:          date,
		Time:          tod,
		Lat:           lat,
		Lon:           lon,
		Depth:         depth,
		MagnitudeType: fields[9],
		Magnitude:     mag,
		Location:      fields[12],
	}, nil
}

// SeismicID returns the marker id for an event under the given mode.
func SeismicID(ev SeismicEvent, mode SeismicIDMode) string {
	if mode == SeismicIDEvent && ev.EventID != "" {
		return "earthquake-" + ev.EventID
	}
	return "earthquake-" + strconv.Itoa(ev.Index)
}

// SeismicDeltas maps parsed events to Earthquake deltas.
func SeismicDeltas(events []SeismicEvent, mode SeismicIDMode, source string) []Delta {
	out := make([]Delta, 0, len(events))
	for _, ev := range events {
		label := ev.Location
		if label == "" {
			label = KindEarthquake.DisplayName()
		}
		out = append(out, Delta{
			ID:       SeismicID(ev, mode),
			Kind:     string(KindEarthquake),
			Position: &Position{Lat: ev.Lat, Lon: ev.Lon},
			Label:    StringPtr(label),
			Payload: Payload{
				"eventId":       ev.EventID,
				"date":          ev.Date,
				"time":          ev.Time,
				"magnitude":     ev.Magnitude,
				"magnitudeType": ev.MagnitudeType,
				"depth":         ev.Depth,
				"location":      ev.Location,
			},
			Source: source,
		})
	}
	return out
}
