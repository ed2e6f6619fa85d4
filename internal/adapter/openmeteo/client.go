// Package openmeteo looks up current temperature and air quality for a point.
// It is a side collaborator of the query layer and never produces markers.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// Config points the client at the forecast and air-quality services.
type Config struct {
	WeatherURL    string
	AirQualityURL string
	Timeout       time.Duration
}

// Client fetches domain.Conditions from Open-Meteo.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo client.
func NewClient(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// Conditions returns the current conditions at lat/lon. Temperature is
// converted to Fahrenheit.
func (c *Client) Conditions(ctx context.Context, lat, lon float64) (domain.Conditions, error) {
	var (
		weather weatherResponse
		air     airQualityResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.get(gctx, c.cfg.WeatherURL, lat, lon, "temperature_2m", &weather); err != nil {
			return err
		}
		if weather.Current.Temperature2m == nil {
			return errors.New("temperature_2m: missing from response")
		}
		return nil
	})
	g.Go(func() error {
		if err := c.get(gctx, c.cfg.AirQualityURL, lat, lon, "pm10,pm2_5", &air); err != nil {
			return err
		}
		if air.Current.PM10 == nil || air.Current.PM25 == nil {
			return errors.New("pm10,pm2_5: missing from response")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return domain.Conditions{}, &domain.SourceError{Source: "open-meteo", Err: err}
	}
	c.metrics.WeatherRequests.WithLabelValues("success").Inc()

	return domain.Conditions{
		TemperatureF: domain.CelsiusToFahrenheit(*weather.Current.Temperature2m),
		PM10:         *air.Current.PM10,
		PM25:         *air.Current.PM25,
	}, nil
}

func (c *Client) get(ctx context.Context, base string, lat, lon float64, current string, out any) error {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":   {current},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", current, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: status %d: %s", current, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", current, err)
	}
	return nil
}

type weatherResponse struct {
	Current struct {
		Temperature2m *float64 `json:"temperature_2m"`
	} `json:"current"`
}

type airQualityResponse struct {
	Current struct {
		PM10 *float64 `json:"pm10"`
		PM25 *float64 `json:"pm2_5"`
	} `json:"current"`
}
