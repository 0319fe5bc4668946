// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/telemetry"
)

// IdleDetector accumulates time without meaningful motion. It observes
// samples to reset its accumulator and fires from the engine's periodic
// evaluation tick, not from individual samples.
type IdleDetector struct {
	config  IdleConfig
	enabled bool
	mu      sync.RWMutex

	lastMotion   time.Time
	lastPosition telemetry.Position
	hasPosition  bool
}

// NewIdleDetector creates an idle detector with defaults.
func NewIdleDetector() *IdleDetector {
	return &IdleDetector{
		config:  DefaultIdleConfig(),
		enabled: true,
	}
}

// Type returns the risk type.
func (d *IdleDetector) Type() RiskType {
	return RiskLongIdle
}

// Check observes a sample. Meaningful speed resets the idle accumulator;
// Check itself never raises.
func (d *IdleDetector) Check(sample telemetry.Sample) (*RiskEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastMotion.IsZero() {
		// Ride start: don't count pre-ride stillness as idle.
		d.lastMotion = sample.Timestamp
	}
	if sample.SpeedKmh.Valid && sample.SpeedKmh.Value > d.config.MeaningfulSpeedKmh {
		d.lastMotion = sample.Timestamp
	}
	if sample.HasPosition {
		d.lastPosition = sample.Position
		d.hasPosition = true
	}
	return nil, nil
}

// CheckTick raises a long idle event when the accumulator exceeds the
// configured threshold. Called on the engine's evaluation tick.
func (d *IdleDetector) CheckTick(now time.Time) (*RiskEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled || d.lastMotion.IsZero() {
		return nil, nil
	}

	idle := now.Sub(d.lastMotion)
	if idle < d.config.IdleAfter {
		return nil, nil
	}

	event := &RiskEvent{
		ID:        newEventID(),
		Type:      RiskLongIdle,
		Severity:  d.config.Severity,
		Timestamp: now,
		Source:    "timer",
		Message:   fmt.Sprintf("no meaningful motion for %s", idle.Round(time.Second)),
	}
	if d.hasPosition {
		event.Position = d.lastPosition
		event.HasPosition = true
	}
	return event, nil
}

// Configure applies a partial configuration update. Fields absent from the
// JSON keep their current values.
func (d *IdleDetector) Configure(config json.RawMessage) error {
	d.mu.RLock()
	newConfig := d.config
	d.mu.RUnlock()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.IdleAfter <= 0 {
		return fmt.Errorf("idle_after must be positive")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *IdleDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *IdleDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Reset clears the idle accumulator at ride boundaries.
func (d *IdleDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastMotion = time.Time{}
	d.hasPosition = false
}

var _ TickChecker = (*IdleDetector)(nil)
