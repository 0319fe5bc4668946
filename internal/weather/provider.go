// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/telemetry"
)

// Provider fetches one weather observation for a position.
type Provider interface {
	Fetch(ctx context.Context, pos telemetry.Position) (*Snapshot, error)
}

// OpenMeteoURL is the default forecast endpoint.
const OpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoProvider fetches current conditions from the Open-Meteo API.
// No API key required.
type OpenMeteoProvider struct {
	baseURL string
	client  *http.Client
}

// NewOpenMeteoProvider creates a provider. An empty baseURL uses the public
// endpoint; tests point it at a local server.
func NewOpenMeteoProvider(baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = OpenMeteoURL
	}
	return &OpenMeteoProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// openMeteoResponse mirrors the subset of fields we request. Pointers keep
// absent fields distinguishable from zero values.
type openMeteoResponse struct {
	Current struct {
		Temperature   *float64 `json:"temperature_2m"`
		Humidity      *float64 `json:"relative_humidity_2m"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
		Precipitation *float64 `json:"precipitation"`
	} `json:"current"`
}

// Fetch requests current conditions. Missing fields come back as unknown
// readings rather than errors.
func (p *OpenMeteoProvider) Fetch(ctx context.Context, pos telemetry.Position) (*Snapshot, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(pos.Latitude, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(pos.Longitude, 'f', 4, 64))
	query.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,precipitation")
	query.Set("wind_speed_unit", "kmh")

	reqURL := p.baseURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API status %d", resp.StatusCode)
	}

	var decoded openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	snapshot := &Snapshot{
		Timestamp:   time.Now().UTC(),
		Position:    pos,
		Temperature: readingFrom(decoded.Current.Temperature),
		Humidity:    readingFrom(decoded.Current.Humidity),
		WindKmh:     readingFrom(decoded.Current.WindSpeed),
		AQI:         telemetry.Unknown(),
	}
	if decoded.Current.Precipitation != nil && *decoded.Current.Precipitation > 0 {
		snapshot.Raining = true
	}
	return snapshot, nil
}

func readingFrom(v *float64) telemetry.Reading {
	if v == nil {
		return telemetry.Unknown()
	}
	return telemetry.Known(*v)
}
