// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package scoring turns raw risk events into scored events with an action
// decision. Confidence is an additive model over independently bounded
// factors, recomputed fresh for every event; it is never persisted as a
// source of truth.
package scoring

import (
	"math"
	"time"

	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// Action is the escalation decision derived from confidence.
type Action string

const (
	ActionSuppress  Action = "suppress"
	ActionConfirm   Action = "confirm"
	ActionAlert     Action = "alert"
	ActionEmergency Action = "emergency"
)

// Confidence bands for action mapping.
const (
	ConfirmThreshold   = 40
	AlertThreshold     = 70
	EmergencyThreshold = 85

	// CriticalEmergencyThreshold auto-triggers emergency for any
	// critical-severity event regardless of type.
	CriticalEmergencyThreshold = 90
)

// Factor bounds.
const (
	baseCap          = 40
	baseFloor        = 10
	patternCap       = 20
	patternWindow    = 30 * time.Second
	patternPerEvent  = 7
	nightBonus       = 10
	duskBonus        = 5
	speedHighBonus   = 15
	speedMedBonus    = 10
	speedLowBonus    = 5
	erraticPenalty   = -20
	unsettledPenalty = -10
)

// Factors is the per-event confidence breakdown. The six components sum to
// the confidence value before clamping.
type Factors struct {
	BaseSeverity int `json:"base_severity"`
	EventType    int `json:"event_type"`
	Pattern      int `json:"pattern"`
	Location     int `json:"location"`
	TimeOfDay    int `json:"time_of_day"`
	SpeedContext int `json:"speed_context"`
	Consistency  int `json:"consistency"`
}

// Sum returns the unclamped factor total.
func (f Factors) Sum() int {
	return f.BaseSeverity + f.EventType + f.Pattern + f.Location + f.TimeOfDay + f.SpeedContext + f.Consistency
}

// ScoredRiskEvent is a RiskEvent plus its derived confidence and action.
type ScoredRiskEvent struct {
	*detection.RiskEvent

	Confidence int     `json:"confidence"`
	Factors    Factors `json:"confidence_factors"`
	Action     Action  `json:"action"`

	// RequiresConfirmation is set for the confirm and alert bands; alert
	// notifies immediately but still offers the rider a confirmation.
	RequiresConfirmation bool `json:"requires_confirmation"`

	LocationCellID string `json:"location_cell_id,omitempty"`
}

// LocationAdjuster provides the learned per-cell confidence adjustment.
// Implemented by the location memory store; an unknown cell yields 0.
type LocationAdjuster interface {
	Adjustment(lat, lng float64) int
	CellID(lat, lng float64) string
}

// Context carries the ride state a score is computed against. History is
// consulted as of the event's own timestamp so events are scored in arrival
// order regardless of when the scorer runs.
type Context struct {
	History   *detection.History
	RideStart time.Time
	SpeedKmh  telemetry.Reading
}

// Scorer computes confidence and actions. Safe for use from the pipeline
// goroutine only; it holds no mutable state of its own.
type Scorer struct {
	locations LocationAdjuster
}

// NewScorer creates a scorer backed by the given location memory. A nil
// adjuster disables the location factor.
func NewScorer(locations LocationAdjuster) *Scorer {
	return &Scorer{locations: locations}
}

// Score derives a ScoredRiskEvent from a raised event and the current ride
// context.
func (s *Scorer) Score(event *detection.RiskEvent, rideCtx Context) *ScoredRiskEvent {
	factors := Factors{
		BaseSeverity: s.baseFactor(event),
		Pattern:      s.patternFactor(event, rideCtx.History),
		TimeOfDay:    timeOfDayFactor(event.Timestamp),
		SpeedContext: speedFactor(rideCtx.SpeedKmh),
		Consistency:  consistencyFactor(rideCtx.History, rideCtx.RideStart, event.Timestamp),
	}
	factors.EventType = s.typeFactor(event, factors.BaseSeverity)

	var cellID string
	if event.HasPosition && s.locations != nil {
		factors.Location = s.locations.Adjustment(event.Position.Latitude, event.Position.Longitude)
		cellID = s.locations.CellID(event.Position.Latitude, event.Position.Longitude)
	}

	confidence := clamp(factors.Sum(), 0, 100)
	action := actionFor(event, confidence)

	metrics.ConfidenceScore.Observe(float64(confidence))
	metrics.ActionsTotal.WithLabelValues(string(action)).Inc()

	logging.Debug().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Int("confidence", confidence).
		Str("action", string(action)).
		Msg("event scored")

	return &ScoredRiskEvent{
		RiskEvent:            event,
		Confidence:           confidence,
		Factors:              factors,
		Action:               action,
		RequiresConfirmation: action == ActionConfirm || action == ActionAlert,
		LocationCellID:       cellID,
	}
}

// baseFactor maps severity to a base score. A measured sensor intensity may
// raise the base, never lower it.
func (s *Scorer) baseFactor(event *detection.RiskEvent) int {
	base := severityBase(event.Severity)
	if event.SensorIntensity.Valid {
		scaled := int(math.Round(event.SensorIntensity.Value * 0.4))
		if scaled > baseCap {
			scaled = baseCap
		}
		if scaled > base {
			base = scaled
		}
	}
	return base
}

func severityBase(severity detection.Severity) int {
	switch severity {
	case detection.SeverityCritical:
		return 35
	case detection.SeverityHigh:
		return 25
	case detection.SeverityMedium:
		return 15
	default:
		return 8
	}
}

// typeFactor is the per-type adjustment, reported as the effective delta
// after the base cap/floor so the breakdown still sums to the confidence.
func (s *Scorer) typeFactor(event *detection.RiskEvent, base int) int {
	var delta int
	switch event.Type {
	case detection.RiskFallDetected:
		delta = 10
	case detection.RiskSuddenStop:
		delta = 5
	case detection.RiskSpeedWarning, detection.RiskHeatWarning:
		delta = -5
	default:
		return 0
	}

	adjusted := base + delta
	if adjusted > baseCap {
		adjusted = baseCap
	}
	if adjusted < baseFloor {
		adjusted = baseFloor
	}
	return adjusted - base
}

// patternFactor rewards sustained same-type activity in the last 30 seconds.
// The event under scoring is already in the history and is not counted as
// its own pattern.
func (s *Scorer) patternFactor(event *detection.RiskEvent, history *detection.History) int {
	if history == nil {
		return 0
	}
	prior := history.CountSameType(event.Type, patternWindow, event.Timestamp)
	if prior > 0 {
		prior--
	}
	bonus := prior * patternPerEvent
	if bonus > patternCap {
		bonus = patternCap
	}
	return bonus
}

// timeOfDayFactor raises suspicion at night and through the dusk/dawn band.
func timeOfDayFactor(at time.Time) int {
	hour := at.Hour()
	if hour >= 22 || hour < 5 {
		return nightBonus
	}
	if hour >= 19 || hour < 7 {
		return duskBonus
	}
	return 0
}

// speedFactor scales with current speed. Missing speed contributes nothing.
func speedFactor(speed telemetry.Reading) int {
	if !speed.Valid {
		return 0
	}
	switch {
	case speed.Value > 40:
		return speedHighBonus
	case speed.Value > 20:
		return speedMedBonus
	case speed.Value > 5:
		return speedLowBonus
	default:
		return 0
	}
}

// consistencyFactor dampens confidence for erratic sessions. Rides shorter
// than a minute are treated as one minute so a ride's first event is not
// penalized.
func consistencyFactor(history *detection.History, rideStart, asOf time.Time) int {
	if history == nil || rideStart.IsZero() {
		return 0
	}
	minutes := asOf.Sub(rideStart).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	perMinute := float64(history.CountAll(asOf)) / minutes
	switch {
	case perMinute > 2:
		return erraticPenalty
	case perMinute > 1:
		return unsettledPenalty
	default:
		return 0
	}
}

// actionFor maps confidence to the escalation action. Fall events and any
// critical event at very high confidence skip confirmation entirely.
func actionFor(event *detection.RiskEvent, confidence int) Action {
	switch {
	case event.Type == detection.RiskFallDetected && confidence >= EmergencyThreshold:
		return ActionEmergency
	case event.Severity == detection.SeverityCritical && confidence >= CriticalEmergencyThreshold:
		return ActionEmergency
	case confidence >= EmergencyThreshold:
		return ActionEmergency
	case confidence >= AlertThreshold:
		return ActionAlert
	case confidence >= ConfirmThreshold:
		return ActionConfirm
	default:
		return ActionSuppress
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
