// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package telemetry

import (
	"math"
	"time"
)

// RawFix is a location callback payload as delivered by the platform.
type RawFix struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	AccuracyM float64
}

// RawMotion is an inertial callback payload as delivered by the platform.
type RawMotion struct {
	Timestamp time.Time
	Accel     AccelVector
	// HeadingDeg is the device heading in degrees [0,360). Absent when the
	// orientation sensor is unavailable.
	HeadingDeg Reading
}

// SamplerConfig tunes sample normalization.
type SamplerConfig struct {
	// MaxFixAgeSeconds rejects stale fixes: a fix older than this relative to
	// the motion reading it is fused with contributes no position update.
	MaxFixAgeSeconds int `json:"max_fix_age_seconds"`

	// MaxAccuracyM rejects fixes whose reported accuracy is worse than this.
	// Zero disables the accuracy gate.
	MaxAccuracyM float64 `json:"max_accuracy_m"`

	// MaxSpeedKmh discards derived speeds above this as GPS glitches.
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		MaxFixAgeSeconds: 30,
		MaxAccuracyM:     100,
		MaxSpeedKmh:      160, // Anything faster than this on a delivery bike is a glitch
	}
}

// Sampler fuses raw location and inertial callbacks into normalized Samples.
// It is not goroutine-safe: the pipeline delivers all sensor callbacks to it
// from a single goroutine, which is the serialization guarantee the whole
// core relies on.
type Sampler struct {
	config SamplerConfig

	lastFix      *RawFix
	lastAccel    *AccelVector
	lastHead     Reading
	haveMotion   bool
	pendingSpeed Reading
}

// NewSampler creates a sampler with the given configuration.
func NewSampler(config SamplerConfig) *Sampler {
	if config.MaxFixAgeSeconds <= 0 {
		config.MaxFixAgeSeconds = 30
	}
	if config.MaxSpeedKmh <= 0 {
		config.MaxSpeedKmh = 160
	}
	return &Sampler{config: config}
}

// OnFix records a location fix. Invalid coordinates and fixes failing the
// accuracy gate are ignored: fail soft, keep monitoring with what remains.
func (s *Sampler) OnFix(fix RawFix) {
	if IsUnknownLocation(fix.Latitude, fix.Longitude) {
		return
	}
	if math.Abs(fix.Latitude) > 90 || math.Abs(fix.Longitude) > 180 {
		return
	}
	if s.config.MaxAccuracyM > 0 && fix.AccuracyM > s.config.MaxAccuracyM {
		return
	}

	// Derive instantaneous speed from displacement over elapsed time.
	f := fix
	s.pendingSpeed = Unknown()
	if s.lastFix != nil {
		elapsed := fix.Timestamp.Sub(s.lastFix.Timestamp)
		if elapsed > 0 {
			distKm := haversineKm(s.lastFix.Latitude, s.lastFix.Longitude, fix.Latitude, fix.Longitude)
			speed := distKm / elapsed.Hours()
			if speed <= s.config.MaxSpeedKmh {
				s.pendingSpeed = Known(speed)
			}
		}
	}
	s.lastFix = &f
}

// Next fuses the latest fix with a motion reading and returns the normalized
// sample for this tick.
func (s *Sampler) Next(motion RawMotion) Sample {
	sample := Sample{
		Timestamp:      motion.Timestamp,
		AccelMagnitude: Known(motion.Accel.Magnitude()),
		SpeedKmh:       s.pendingSpeed,
	}

	// Position: only attach a fix that is recent enough to describe "now".
	if s.lastFix != nil {
		age := motion.Timestamp.Sub(s.lastFix.Timestamp)
		if age >= 0 && age <= time.Duration(s.config.MaxFixAgeSeconds)*time.Second {
			sample.Position = Position{
				Latitude:  s.lastFix.Latitude,
				Longitude: s.lastFix.Longitude,
				AccuracyM: s.lastFix.AccuracyM,
			}
			sample.HasPosition = true
		}
	}

	// Acceleration delta against the previous raw vector.
	if s.haveMotion {
		sample.AccelDelta = Known(motion.Accel.DeltaMagnitude(*s.lastAccel))
	}
	accel := motion.Accel
	s.lastAccel = &accel
	s.haveMotion = true

	// Orientation delta: absolute heading change, wrapped to [0,180].
	if motion.HeadingDeg.Valid && s.lastHead.Valid {
		delta := math.Abs(motion.HeadingDeg.Value - s.lastHead.Value)
		if delta > 180 {
			delta = 360 - delta
		}
		sample.OrientationDelta = Known(delta)
	}
	s.lastHead = motion.HeadingDeg

	return sample
}

// LastPosition returns the most recent accepted fix as a Position, if any.
func (s *Sampler) LastPosition() (Position, bool) {
	if s.lastFix == nil {
		return Position{}, false
	}
	return Position{
		Latitude:  s.lastFix.Latitude,
		Longitude: s.lastFix.Longitude,
		AccuracyM: s.lastFix.AccuracyM,
	}, true
}

// Reset clears sampler state at ride boundaries.
func (s *Sampler) Reset() {
	s.lastFix = nil
	s.lastAccel = nil
	s.lastHead = Unknown()
	s.haveMotion = false
	s.pendingSpeed = Unknown()
}
