package domain

// Conditions is the read-only weather and air-quality snapshot for a point.
type Conditions struct {
	TemperatureF float64 `json:"temperature"`
	PM10         float64 `json:"pm10"`
	PM25         float64 `json:"pm2_5"`
}

// CelsiusToFahrenheit converts an upstream reading.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
