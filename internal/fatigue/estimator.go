// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package fatigue estimates rider fatigue and panic risk from motion
// variance and ride context. The estimator runs alongside the risk
// detectors and never raises risk events itself; its scores feed the UI,
// the websocket stream, and the advisory nudge path.
package fatigue

import (
	"math"
	"sync"
	"time"

	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// Band is the coarse fatigue level shown to the rider.
type Band string

const (
	BandNone     Band = "none"
	BandMild     Band = "mild"
	BandModerate Band = "moderate"
	BandSevere   Band = "severe"
)

// PanicSevereThreshold forces the severe nudge path regardless of the
// fatigue band.
const PanicSevereThreshold = 60

// BandFor maps scores to a band. Panic takes priority over fatigue.
func BandFor(fatigueScore, panicScore int) Band {
	if panicScore >= PanicSevereThreshold {
		return BandSevere
	}
	switch {
	case fatigueScore >= 70:
		return BandSevere
	case fatigueScore >= 50:
		return BandModerate
	case fatigueScore >= 30:
		return BandMild
	default:
		return BandNone
	}
}

// Component caps and indicator weights.
const (
	windowSize = 60

	timeCap        = 40
	accelCap       = 25
	orientationCap = 20
	heatCap        = 15
	heatOnsetC     = 35.0

	panicAccelWeight       = 30
	panicOrientationWeight = 30
	panicSpeedWeight       = 20
	panicHeatWeight        = 20

	panicAccelVariance      = 15.0
	panicOrientationMeanDeg = 30.0
	panicSpeedVariance      = 50.0
	panicExtremeFeelsLikeC  = 40.0
)

// State is a read snapshot of the estimator for the API and websocket.
type State struct {
	Monitoring   bool      `json:"monitoring"`
	RideStart    time.Time `json:"ride_start,omitempty"`
	FatigueScore int       `json:"fatigue_score"`
	PanicScore   int       `json:"panic_score"`
	Band         Band      `json:"band"`
}

// Estimator keeps bounded rolling windows of acceleration magnitude,
// orientation instability, and speed, recomputing both scores on every
// sample. Sample delivery happens on the pipeline goroutine; the mutex
// covers snapshot reads from the API.
type Estimator struct {
	mu sync.RWMutex

	accel       *telemetry.Ring
	orientation *telemetry.Ring
	speed       *telemetry.Ring

	monitoring bool
	rideStart  time.Time
	feelsLikeC telemetry.Reading

	fatigueScore int
	panicScore   int
}

// NewEstimator creates an estimator with the standard 60-sample windows.
func NewEstimator() *Estimator {
	return &Estimator{
		accel:       telemetry.NewRing(windowSize),
		orientation: telemetry.NewRing(windowSize),
		speed:       telemetry.NewRing(windowSize),
	}
}

// StartRide begins monitoring and anchors the time-on-ride component.
func (e *Estimator) StartRide(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.monitoring = true
	e.rideStart = at
	e.accel.Reset()
	e.orientation.Reset()
	e.speed.Reset()
	e.fatigueScore = 0
	e.panicScore = 0
}

// StopRide stops monitoring. Scores freeze at their last values.
func (e *Estimator) StopRide() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitoring = false
}

// SetAmbient updates the feels-like temperature used by the heat components.
// An unknown reading removes heat from both scores.
func (e *Estimator) SetAmbient(feelsLikeC telemetry.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feelsLikeC = feelsLikeC
}

// Observe feeds one sample into the rolling windows and recomputes both
// scores. Readings the sample is missing leave their window untouched.
func (e *Estimator) Observe(sample telemetry.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.monitoring {
		return
	}
	if sample.AccelMagnitude.Valid {
		e.accel.Push(sample.AccelMagnitude.Value)
	}
	if sample.OrientationDelta.Valid {
		e.orientation.Push(sample.OrientationDelta.Value)
	}
	if sample.SpeedKmh.Valid {
		e.speed.Push(sample.SpeedKmh.Value)
	}

	e.recomputeLocked(sample.Timestamp)
}

func (e *Estimator) recomputeLocked(now time.Time) {
	e.fatigueScore = clampScore(e.timeComponent(now) + e.accelComponent() + e.orientationComponent() + e.heatComponent())
	e.panicScore = clampScore(e.panicComponents())

	metrics.FatigueScore.Set(float64(e.fatigueScore))
	metrics.PanicScore.Set(float64(e.panicScore))
}

// timeComponent grows linearly to the one hour mark, flattens through
// ninety minutes, then grows convexly as long rides wear the rider down.
func (e *Estimator) timeComponent(now time.Time) int {
	if e.rideStart.IsZero() {
		return 0
	}
	minutes := now.Sub(e.rideStart).Minutes()
	if minutes <= 0 {
		return 0
	}

	var score float64
	switch {
	case minutes <= 60:
		score = minutes * 0.35
	case minutes <= 90:
		score = 21 + (minutes-60)*0.2
	default:
		score = 27 + math.Pow(minutes-90, 1.5)*0.05
	}
	return capInt(int(math.Round(score)), timeCap)
}

func (e *Estimator) accelComponent() int {
	if e.accel.Len() < 2 {
		return 0
	}
	return capInt(int(math.Round(e.accel.Variance()*2.5)), accelCap)
}

func (e *Estimator) orientationComponent() int {
	if e.orientation.Len() < 2 {
		return 0
	}
	return capInt(int(math.Round(e.orientation.Mean()*0.5)), orientationCap)
}

func (e *Estimator) heatComponent() int {
	if !e.feelsLikeC.Valid || e.feelsLikeC.Value <= heatOnsetC {
		return 0
	}
	return capInt(int(math.Round((e.feelsLikeC.Value-heatOnsetC)*3)), heatCap)
}

// panicComponents sums fixed-weight indicator flags.
func (e *Estimator) panicComponents() int {
	score := 0
	if e.accel.Len() >= 2 && e.accel.Variance() > panicAccelVariance {
		score += panicAccelWeight
	}
	if e.orientation.Len() >= 2 && e.orientation.Mean() > panicOrientationMeanDeg {
		score += panicOrientationWeight
	}
	if e.speed.Len() >= 2 && e.speed.Variance() > panicSpeedVariance {
		score += panicSpeedWeight
	}
	if e.feelsLikeC.Valid && e.feelsLikeC.Value > panicExtremeFeelsLikeC {
		score += panicHeatWeight
	}
	return score
}

// MotionVariance reports the rolling accelerometer and orientation variance
// plus the number of accelerometer samples behind them. Used to snapshot a
// sensor signature when an alarm is reinforced.
func (e *Estimator) MotionVariance() (accel, orientation float64, samples int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accel.Variance(), e.orientation.Variance(), e.accel.Len()
}

// FatigueScore returns the current fatigue score.
func (e *Estimator) FatigueScore() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fatigueScore
}

// PanicScore returns the current panic score.
func (e *Estimator) PanicScore() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.panicScore
}

// Band returns the current fatigue band with panic priority applied.
func (e *Estimator) Band() Band {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return BandFor(e.fatigueScore, e.panicScore)
}

// State returns a consistent snapshot.
func (e *Estimator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Monitoring:   e.monitoring,
		RideStart:    e.rideStart,
		FatigueScore: e.fatigueScore,
		PanicScore:   e.panicScore,
		Band:         BandFor(e.fatigueScore, e.panicScore),
	}
}

func capInt(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < 0 {
		return 0
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
