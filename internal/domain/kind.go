package domain

import "strings"

// Kind is the closed set of marker categories. It decides how consumers read
// a marker's payload.
type Kind string

const (
	KindPhoneCall       Kind = "PhoneCall"
	KindPoliceCall      Kind = "PoliceCall"
	KindSensorTelemetry Kind = "SensorTelemetry"
	KindEarthquake      Kind = "Earthquake"
	KindUnknown         Kind = "Unknown"
)

// Kinds lists every Kind in display order.
func Kinds() []Kind {
	return []Kind{KindPhoneCall, KindPoliceCall, KindSensorTelemetry, KindEarthquake, KindUnknown}
}

// ParseKind maps a feed's type name onto a Kind. The dashboard used several
// spellings per category ("SDR Sensor", "Ultrasonic Wind Sensor"); anything
// unrecognized becomes KindUnknown.
func ParseKind(s string) Kind {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)

	switch key {
	case "phonecall", "call":
		return KindPhoneCall
	case "policecall", "police":
		return KindPoliceCall
	case "sensor", "sensortelemetry", "sdrsensor", "ultrasonicwindsensor", "windsensor", "weathersensor", "telemetry":
		return KindSensorTelemetry
	case "earthquake", "seismic":
		return KindEarthquake
	default:
		return KindUnknown
	}
}

// DisplayName is the label the map legend shows for the kind.
func (k Kind) DisplayName() string {
	switch k {
	case KindPhoneCall:
		return "Phone Call"
	case KindPoliceCall:
		return "Police Call"
	case KindSensorTelemetry:
		return "Sensor"
	case KindEarthquake:
		return "Earthquake"
	case KindUnknown:
		return "Unknown"
	}
	return "Unknown"
}
