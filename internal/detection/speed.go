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

// SpeedDetector raises a warning when instantaneous speed exceeds the limit.
type SpeedDetector struct {
	config  SpeedConfig
	enabled bool
	mu      sync.RWMutex
}

// NewSpeedDetector creates a speed detector with default configuration.
func NewSpeedDetector() *SpeedDetector {
	return &SpeedDetector{
		config:  DefaultSpeedConfig(),
		enabled: true,
	}
}

// Type returns the risk type.
func (d *SpeedDetector) Type() RiskType {
	return RiskSpeedWarning
}

// Check evaluates one sample against the speed limit.
func (d *SpeedDetector) Check(sample telemetry.Sample) (*RiskEvent, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	// No speed reading this tick: fail soft, keep monitoring.
	if !sample.SpeedKmh.Valid {
		return nil, nil
	}
	if sample.SpeedKmh.Value <= config.LimitKmh {
		return nil, nil
	}

	event := newEvent(RiskSpeedWarning, config.Severity, sample, "motion")
	event.Message = fmt.Sprintf("speed %.0f km/h exceeds limit %.0f km/h", sample.SpeedKmh.Value, config.LimitKmh)
	return event, nil
}

// Configure applies a partial configuration update. Fields absent from the
// JSON keep their current values.
func (d *SpeedDetector) Configure(config json.RawMessage) error {
	newConfig := d.Config()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.LimitKmh <= 0 {
		return fmt.Errorf("limit_kmh must be positive")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *SpeedDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *SpeedDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *SpeedDetector) Config() SpeedConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// newEvent builds a RiskEvent from a sample, attaching position when present.
func newEvent(riskType RiskType, severity Severity, sample telemetry.Sample, source string) *RiskEvent {
	event := &RiskEvent{
		ID:        newEventID(),
		Type:      riskType,
		Severity:  severity,
		Timestamp: sample.Timestamp,
		Source:    source,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if sample.HasPosition {
		event.Position = sample.Position
		event.HasPosition = true
	}
	return event
}
