// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package weather

import (
	"time"

	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// Snapshot is one observation from the weather provider. Fields a provider
// could not supply are unknown readings; rules over missing fields simply
// do not fire.
type Snapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	Position    telemetry.Position `json:"position"`
	Temperature telemetry.Reading  `json:"temperature_c"`
	Humidity    telemetry.Reading  `json:"humidity_pct"`
	WindKmh     telemetry.Reading  `json:"wind_kmh"`
	Raining     bool               `json:"raining"`
	AQI         telemetry.Reading  `json:"aqi"`
}

// FeelsLikeC derives the humidity-adjusted temperature. Unknown when the
// temperature is unknown; missing humidity falls back to the raw
// temperature above the onset.
func (s Snapshot) FeelsLikeC() telemetry.Reading {
	if !s.Temperature.Valid {
		return telemetry.Unknown()
	}
	if !s.Humidity.Valid {
		return s.Temperature
	}
	return telemetry.Known(HeatIndexC(s.Temperature.Value, s.Humidity.Value))
}

// Rule thresholds for synthetic events.
const (
	heatWarnFeelsLikeC    = 40.0
	extremeHeatFeelsLikeC = 45.0
	highWindKmh           = 40.0
	extremeWindKmh        = 60.0
	hazardousAQI          = 300.0
)

// Events derives the synthetic risk events this snapshot warrants. The
// detection engine applies its normal debounce, so repeated snapshots in
// the same conditions do not spam the rider.
func (s Snapshot) Events() []*detection.RiskEvent {
	var events []*detection.RiskEvent

	add := func(riskType detection.RiskType, severity detection.Severity, message string) {
		events = append(events, &detection.RiskEvent{
			Type:        riskType,
			Severity:    severity,
			Timestamp:   s.Timestamp,
			Position:    s.Position,
			HasPosition: telemetry.HasValidCoordinates(s.Position.Latitude, s.Position.Longitude),
			Message:     message,
			Source:      "weather",
		})
	}

	if feels := s.FeelsLikeC(); feels.Valid {
		switch {
		case feels.Value >= extremeHeatFeelsLikeC:
			add(detection.RiskExtremeWeather, detection.SeverityCritical, "extreme heat, feels-like above 45C")
		case feels.Value >= heatWarnFeelsLikeC:
			add(detection.RiskHeatWarning, detection.SeverityHigh, "dangerous heat, feels-like above 40C")
		}
	}

	if s.WindKmh.Valid {
		switch {
		case s.WindKmh.Value >= extremeWindKmh:
			add(detection.RiskExtremeWeather, detection.SeverityCritical, "extreme wind")
		case s.WindKmh.Value >= highWindKmh:
			add(detection.RiskHighWind, detection.SeverityMedium, "high wind")
		}
	}

	if s.Raining {
		add(detection.RiskRainWarning, detection.SeverityMedium, "rain, wet roads")
	}

	if s.AQI.Valid && s.AQI.Value >= hazardousAQI {
		add(detection.RiskExtremeWeather, detection.SeverityHigh, "hazardous air quality")
	}

	return events
}
