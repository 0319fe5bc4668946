// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/telemetry"
)

// SuddenStopDetector models a crash-like deceleration: moving at speed one
// sample, essentially stationary the next, with a drop beyond the configured
// threshold within that single interval.
type SuddenStopDetector struct {
	config  SuddenStopConfig
	enabled bool
	mu      sync.RWMutex

	prevSpeed telemetry.Reading
}

// NewSuddenStopDetector creates a sudden stop detector with defaults.
func NewSuddenStopDetector() *SuddenStopDetector {
	return &SuddenStopDetector{
		config:  DefaultSuddenStopConfig(),
		enabled: true,
	}
}

// Type returns the risk type.
func (d *SuddenStopDetector) Type() RiskType {
	return RiskSuddenStop
}

// Check compares this sample's speed against the previous one.
func (d *SuddenStopDetector) Check(sample telemetry.Sample) (*RiskEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return nil, nil
	}
	if !sample.SpeedKmh.Valid {
		// No speed this tick: keep the previous reading, a single missed fix
		// must not fabricate a stop.
		return nil, nil
	}

	prev := d.prevSpeed
	curr := sample.SpeedKmh.Value
	d.prevSpeed = sample.SpeedKmh

	if !prev.Valid {
		return nil, nil
	}

	drop := prev.Value - curr
	if prev.Value <= d.config.MinPrevSpeedKmh || curr >= d.config.MaxCurrSpeedKmh || drop <= d.config.MinDropKmh {
		return nil, nil
	}

	event := newEvent(RiskSuddenStop, d.config.Severity, sample, "motion")
	event.Message = fmt.Sprintf("speed dropped %.0f km/h to %.0f km/h in one interval", drop, curr)
	return event, nil
}

// Configure applies a partial configuration update. Fields absent from the
// JSON keep their current values.
func (d *SuddenStopDetector) Configure(config json.RawMessage) error {
	d.mu.RLock()
	newConfig := d.config
	d.mu.RUnlock()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.MinDropKmh <= 0 {
		return fmt.Errorf("min_drop_kmh must be positive")
	}
	if newConfig.MaxCurrSpeedKmh < 0 {
		return fmt.Errorf("max_curr_speed_kmh cannot be negative")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *SuddenStopDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *SuddenStopDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Reset clears speed history at ride boundaries.
func (d *SuddenStopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevSpeed = telemetry.Unknown()
}
