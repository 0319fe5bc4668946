// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"fmt"
	"math"
	"sync"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/telemetry"
)

// FallDetector recognizes the abrupt free-fall/impact signature: a large
// Euclidean delta between consecutive raw acceleration vectors.
type FallDetector struct {
	config  FallConfig
	enabled bool
	mu      sync.RWMutex
}

// NewFallDetector creates a fall detector with defaults.
func NewFallDetector() *FallDetector {
	return &FallDetector{
		config:  DefaultFallConfig(),
		enabled: true,
	}
}

// Type returns the risk type.
func (d *FallDetector) Type() RiskType {
	return RiskFallDetected
}

// Check evaluates the acceleration delta against the fall threshold.
func (d *FallDetector) Check(sample telemetry.Sample) (*RiskEvent, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	if !sample.AccelDelta.Valid {
		return nil, nil
	}
	delta := sample.AccelDelta.Value
	if delta <= config.DeltaThreshold {
		return nil, nil
	}

	event := newEvent(RiskFallDetected, config.Severity, sample, "motion")
	event.Message = fmt.Sprintf("acceleration delta %.1f exceeds fall threshold %.1f", delta, config.DeltaThreshold)

	// Report the raw signature strength as 0-100 intensity so the scorer can
	// weight a hard impact above a borderline one. Threshold maps to ~60,
	// twice the threshold saturates.
	intensity := math.Min(100, delta/config.DeltaThreshold*60)
	event.SensorIntensity = telemetry.Known(intensity)

	return event, nil
}

// Configure applies a partial configuration update. Fields absent from the
// JSON keep their current values.
func (d *FallDetector) Configure(config json.RawMessage) error {
	d.mu.RLock()
	newConfig := d.config
	d.mu.RUnlock()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.DeltaThreshold <= 0 {
		return fmt.Errorf("delta_threshold must be positive")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *FallDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *FallDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
