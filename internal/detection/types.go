// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/telemetry"
)

// RiskType identifies the kind of risk event.
type RiskType string

const (
	// RiskSpeedWarning is raised when instantaneous speed exceeds the limit.
	RiskSpeedWarning RiskType = "speed_warning"

	// RiskSuddenStop is a crash-like deceleration within one sample interval.
	RiskSuddenStop RiskType = "sudden_stop"

	// RiskFallDetected is an abrupt free-fall/impact acceleration signature.
	RiskFallDetected RiskType = "fall_detected"

	// RiskLongIdle is prolonged absence of meaningful motion mid-ride.
	RiskLongIdle RiskType = "long_idle"

	// RiskWellnessCheck is a periodic check-in prompt on long rides.
	RiskWellnessCheck RiskType = "wellness_check"

	// RiskUnsafeZone is raised when entering a cell with a bad outcome history.
	RiskUnsafeZone RiskType = "unsafe_zone"

	// Weather-injected types. These are produced by the weather collaborator,
	// not derived from motion, but follow the same debounce rules.
	RiskHeatWarning    RiskType = "heat_warning"
	RiskRainWarning    RiskType = "rain_warning"
	RiskHighWind       RiskType = "high_wind"
	RiskExtremeWeather RiskType = "extreme_weather"
)

// Severity indicates how serious a risk event is. Severity is assigned at
// creation and never changes; trust in the event is expressed separately as
// confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordering value for severity comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RiskEvent is a discrete, debounced risk detection. Immutable once created.
type RiskEvent struct {
	ID        string    `json:"id"`
	Type      RiskType  `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Position is where the event happened, when a recent fix was available.
	Position    telemetry.Position `json:"position,omitempty"`
	HasPosition bool               `json:"has_position"`

	// Message is an optional human-readable description.
	Message string `json:"message,omitempty"`

	// Source records what produced the event: motion, timer, weather, zone.
	Source string `json:"source,omitempty"`

	// SensorIntensity is an optional raw 0-100 intensity measurement from the
	// detecting sensor, used by the scorer in place of the severity base.
	SensorIntensity telemetry.Reading `json:"sensor_intensity,omitempty"`
}

// Detector is the interface all motion-derived detection rules implement.
type Detector interface {
	// Type returns the risk type this detector raises.
	Type() RiskType

	// Check evaluates one normalized sample. Returns an event when the rule
	// fires, nil otherwise. Check runs on the pipeline goroutine.
	Check(sample telemetry.Sample) (*RiskEvent, error)

	// Configure updates the detector configuration.
	Configure(config json.RawMessage) error

	// Enabled returns whether this detector is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the detector.
	SetEnabled(enabled bool)
}

// TickChecker is implemented by detectors that fire on elapsed time rather
// than on individual samples (long idle). The engine calls CheckTick on its
// periodic evaluation tick.
type TickChecker interface {
	CheckTick(now time.Time) (*RiskEvent, error)
}

// SpeedConfig configures the speed warning detector.
type SpeedConfig struct {
	// LimitKmh is the speed above which a warning is raised.
	LimitKmh float64 `json:"limit_kmh"`

	Severity Severity `json:"severity"`
}

// DefaultSpeedConfig returns the deployment defaults.
func DefaultSpeedConfig() SpeedConfig {
	return SpeedConfig{
		LimitKmh: 60,
		Severity: SeverityMedium,
	}
}

// SuddenStopConfig configures the sudden stop detector.
type SuddenStopConfig struct {
	// MinPrevSpeedKmh: the rider must have been moving at least this fast.
	MinPrevSpeedKmh float64 `json:"min_prev_speed_kmh"`

	// MaxCurrSpeedKmh: the rider must now be essentially stationary.
	MaxCurrSpeedKmh float64 `json:"max_curr_speed_kmh"`

	// MinDropKmh: the fall in speed within one sample interval.
	MinDropKmh float64 `json:"min_drop_kmh"`

	Severity Severity `json:"severity"`
}

// DefaultSuddenStopConfig returns the deployment defaults.
func DefaultSuddenStopConfig() SuddenStopConfig {
	return SuddenStopConfig{
		MinPrevSpeedKmh: 20,
		MaxCurrSpeedKmh: 2,
		MinDropKmh:      20,
		Severity:        SeverityHigh,
	}
}

// FallConfig configures the fall detector.
type FallConfig struct {
	// DeltaThreshold is the Euclidean norm of the delta between consecutive
	// raw acceleration vectors above which a fall is assumed.
	DeltaThreshold float64 `json:"delta_threshold"`

	Severity Severity `json:"severity"`
}

// DefaultFallConfig returns the deployment defaults.
func DefaultFallConfig() FallConfig {
	return FallConfig{
		DeltaThreshold: 25,
		Severity:       SeverityCritical,
	}
}

// IdleConfig configures the long idle detector.
type IdleConfig struct {
	// MeaningfulSpeedKmh is the speed above which the idle accumulator resets.
	MeaningfulSpeedKmh float64 `json:"meaningful_speed_kmh"`

	// IdleAfter is how long without meaningful motion counts as idle.
	IdleAfter time.Duration `json:"idle_after"`

	Severity Severity `json:"severity"`
}

// DefaultIdleConfig returns the deployment defaults.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		MeaningfulSpeedKmh: 2,
		IdleAfter:          5 * time.Minute,
		Severity:           SeverityHigh,
	}
}
