// Command genmock writes deterministic upstream fixtures for local runs and
// tests: a page of dispatched police calls, an FDSN text body of earthquakes,
// and a JSONL stream of sensor telemetry. It runs the fixtures back through
// the domain parsers and prints how many markers each would produce.
//
// Usage:
//
//	go run ./cmd/genmock --out data/mock --seed 7 --now 2025-04-26T18:00:00Z
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// San Francisco, roughly the dispatch dataset's extent.
const (
	sfMinLat, sfMaxLat = 37.70, 37.81
	sfMinLon, sfMaxLon = -122.51, -122.37
)

var callTypes = []string{"AUDIBLE ALARM", "TRAFFIC HAZARD", "FIRE", "NOISE NUISANCE", "SUSPICIOUS PERSON"}

var places = []string{"Berkeley, CA", "San Jose, CA", "Gilroy, CA", "Petaluma, CA", "Hollister, CA", "Pacifica, CA"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("genmock", pflag.ExitOnError)
	out := flagSet.String("out", "data/mock", "output directory")
	seed := flagSet.Uint64("seed", 7, "random seed")
	nowFlag := flagSet.String("now", "2025-04-26T18:00:00Z", "reference time (RFC 3339)")
	incidents := flagSet.Int("incidents", 50, "number of dispatch records")
	quakes := flagSet.Int("quakes", 12, "number of earthquakes")
	sensors := flagSet.Int("sensors", 3, "number of telemetry sensors")
	steps := flagSet.Int("steps", 10, "telemetry messages per sensor")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	now, err := time.Parse(time.RFC3339, *nowFlag)
	if err != nil {
		return fmt.Errorf("--now: %w", err)
	}
	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))

	records := genIncidents(rng, *incidents, now.UTC())
	if err := writeJSON(filepath.Join(*out, "incidents.json"), records); err != nil {
		return fmt.Errorf("writing incidents: %w", err)
	}

	seismic := genSeismic(rng, *quakes, now.UTC())
	if err := writeFile(filepath.Join(*out, "earthquakes.txt"), []byte(seismic)); err != nil {
		return fmt.Errorf("writing earthquakes: %w", err)
	}

	telemetry, err := genTelemetry(rng, *sensors, *steps)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(*out, "telemetry.jsonl"), telemetry); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	log.Printf("wrote fixtures to %s", *out)

	printStats(records, seismic, telemetry, now.UTC())
	return nil
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func genIncidents(rng *rand.Rand, n int, now time.Time) []domain.IncidentRecord {
	records := make([]domain.IncidentRecord, 0, n)
	for i := range n {
		rec := domain.IncidentRecord{
			IncidentNumber:   fmt.Sprintf("25%07d", 100000+i),
			CADNumber:        fmt.Sprintf("251%06d", 1000+i),
			CallType:         callTypes[rng.IntN(len(callTypes))],
			DispatchDateTime: now.Add(-time.Duration(rng.IntN(18*60)) * time.Minute).Format("2006-01-02T15:04:05.000"),
			IntersectionName: fmt.Sprintf("%d ST \\ MARKET ST", rng.IntN(30)+1),
			Priority:         []string{"A", "B", "C"}[rng.IntN(3)],
			Agency:           "Police",
		}
		// About one in ten records has no intersection point.
		if rng.IntN(10) != 0 {
			rec.Point = &domain.IncidentPoint{
				Type:        "Point",
				Coordinates: []float64{between(rng, sfMinLon, sfMaxLon), between(rng, sfMinLat, sfMaxLat)},
			}
		}
		records = append(records, rec)
	}
	return records
}

func genSeismic(rng *rand.Rand, n int, now time.Time) string {
	var b strings.Builder
	b.WriteString("#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName\n")
	for i := range n {
		at := now.Add(-time.Duration(rng.IntN(24*3600)) * time.Second)
		place := places[rng.IntN(len(places))]
		fmt.Fprintf(&b, "nc7%07d|%s|%.4f|%.4f|%.2f|NC|NC|NC|nc7%07d|md|%.2f|NC|%dkm %s of %s\n",
			i, at.Format("2006-01-02T15:04:05.000"),
			between(rng, 36.5, 38.5), between(rng, -123.5, -121.5), between(rng, 0, 15),
			i, between(rng, 0.5, 4.5), rng.IntN(20)+1, []string{"N", "S", "E", "W"}[rng.IntN(4)], place)
	}
	return b.String()
}

func genTelemetry(rng *rand.Rand, sensors, steps int) ([]byte, error) {
	type position struct{ lat, lon float64 }
	pos := make([]position, sensors)
	for i := range pos {
		pos[i] = position{between(rng, 37.78, 37.83), between(rng, -122.42, -122.36)}
	}

	var b strings.Builder
	for step := range steps {
		for i := range sensors {
			pos[i].lat += between(rng, -0.001, 0.001)
			pos[i].lon += between(rng, -0.001, 0.001)
			msg := map[string]any{
				"id":   fmt.Sprintf("sensor-%d", i+1),
				"lat":  round(pos[i].lat, 5),
				"long": round(pos[i].lon, 5),
				"wind": round(between(rng, 0, 30), 1),
			}
			if i%2 == 0 {
				msg["radio"] = 900 + rng.IntN(10)
			}
			if step == 0 {
				msg["name"] = fmt.Sprintf("Bay Sensor %d", i+1)
			}
			line, err := json.Marshal(msg)
			if err != nil {
				return nil, fmt.Errorf("marshal telemetry: %w", err)
			}
			b.Write(line)
			b.WriteByte('\n')
		}
	}
	return []byte(b.String()), nil
}

func round(v float64, places int) float64 {
	p := 1.0
	for range places {
		p *= 10
	}
	return float64(int64(v*p)) / p
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func printStats(records []domain.IncidentRecord, seismic string, telemetry []byte, now time.Time) {
	kept := domain.FilterIncidents(records, domain.IncidentFilter{
		Categories: domain.DefaultIncidentCategories,
		Window:     12 * time.Hour,
	}, now)
	events, errs := domain.ParseSeismicText(seismic)

	var parsed, rejected int
	for _, line := range strings.Split(strings.TrimSpace(string(telemetry)), "\n") {
		if _, err := domain.ParseTelemetry([]byte(line), "telemetry"); err != nil {
			rejected++
			continue
		}
		parsed++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Incidents: %d records, %d markers after filter\n", len(records), len(domain.IncidentDeltas(kept, "sfgov")))
	fmt.Printf("Earthquakes: %d events, %d malformed\n", len(events), len(errs))
	fmt.Printf("Telemetry: %d deltas, %d rejected\n", parsed, rejected)
}
