// Package domain models the markers shown on the situational-awareness map and
// the rules for folding feed updates into them.
//
// # Markers
//
// A [Marker] is one displayed item: an emergency phone call, a police dispatch,
// a radio/weather sensor, or an earthquake. Its ID is stable for its lifetime
// and its [Kind] never changes after creation. Revision starts at 0 and grows
// by exactly one for every accepted change.
//
// # Deltas
//
// Feeds never hand over whole markers. They produce a [Delta]: the marker ID
// plus whichever fields the feed knows about. A delta that names an unknown ID
// must carry a kind and a position. A delta for a known ID is merged field by
// field, and its payload key by key, so a sensor that only reports wind speed
// keeps its last radio frequency.
//
// A delta whose every specified field already equals the stored value is a
// no-op: [Merge] reports changed=false and the revision stays put. Re-polling
// an unchanged upstream therefore produces no observable effect.
//
// # Data Sources
//
// Police calls come from the San Francisco "Law Enforcement Dispatched Calls
// for Service: Real-Time" dataset (data.sfgov.org resource gnap-fj3t):
//
//	[{"incident_number": "251160123",
//	  "call_type_original_desc": "AUDIBLE ALARM",
//	  "dispatch_datetime": "2025-04-26T13:45:07.000",
//	  "intersection_point": {"type": "Point", "coordinates": [-122.41, 37.77]}}]
//
//	Coordinates are GeoJSON order: [lon, lat].
//	dispatch_datetime is a floating timestamp without zone; it is read as UTC.
//
// Earthquakes come from the USGS FDSN event service in text format:
//
//	#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
//	nc75157371|2025-04-26T10:02:11.520|37.6|-122.4|8.1|NC|NC|NC|75157371|md|1.9|NC|3km SE of Daly City, CA
//
//	Lines starting with '#' are headers. Sub-second precision is dropped from
//	the time. IDs are positional (earthquake-0, earthquake-1, ...) unless the
//	upstream event ID mode is selected; see [SeismicIDMode].
//
// Sensor telemetry arrives as JSON text messages on a push channel:
//
//	{"id": "marker-2", "lat": 37.8248, "long": -122.37, "radio": 900,
//	 "wind": 15, "direction": "NW", "temperature": 61.2, "humidity": 74}
//
//	radio -> payload.frequency, wind -> payload.windSpeed; the rest keep their
//	names. {"id": "...", "withdrawn": true} removes the marker when telemetry
//	last wrote it.
package domain
