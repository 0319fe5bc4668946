// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package emergency coordinates the cancellable countdown, active-help,
// and resolution lifecycle for an escalated risk event.
package emergency

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/telemetry"
	"github.com/outrider-app/outrider/internal/timeutil"
)

// TriggerType identifies what started the escalation.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutoFall  TriggerType = "auto_fall"
	TriggerAutoIdle  TriggerType = "auto_idle"
	TriggerAutoCrash TriggerType = "auto_crash"
)

// Status is the escalation lifecycle state. Countdown precedes the recorded
// statuses; resolved and false_alarm are terminal.
type Status string

const (
	StatusCountdown  Status = "countdown"
	StatusActive     Status = "active"
	StatusResolved   Status = "resolved"
	StatusFalseAlarm Status = "false_alarm"
)

// CountdownTicks is the number of one second countdown ticks before help
// activates.
const CountdownTicks = 10

// Event is the persisted emergency record. Terminal once resolved or
// false_alarm; the terminal status is the reinforcement signal for
// location memory.
type Event struct {
	ID          string             `json:"id"`
	Trigger     TriggerType        `json:"trigger"`
	Position    telemetry.Position `json:"position,omitempty"`
	HasPosition bool               `json:"has_position"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}

// Sink records lifecycle transitions to the persistence layer.
type Sink interface {
	RecordEmergency(event *Event)
}

// FalseAlarmFunc reinforces location memory on a cancelled countdown.
// Separated from the store's concrete type so tests inject a closure.
type FalseAlarmFunc func(lat, lng float64)

// Escalation is one emergency lifecycle. At most one escalation runs per
// ride; the pipeline enforces that. All timer callbacks are guarded so
// nothing fires after cancellation or resolution.
type Escalation struct {
	mu sync.Mutex

	clock      timeutil.Clock
	notifier   notify.Notifier
	sink       Sink
	falseAlarm FalseAlarmFunc
	onUpdate   func(Event, int)

	event     Event
	remaining int
	tick      timeutil.Timer
	done      bool
}

// Options carries the escalation collaborators.
type Options struct {
	Clock    timeutil.Clock
	Notifier notify.Notifier
	Sink     Sink

	// FalseAlarm runs when a countdown is cancelled with a known location.
	FalseAlarm FalseAlarmFunc

	// OnUpdate observes every state change with the seconds remaining.
	// Used for UI/websocket countdown display.
	OnUpdate func(event Event, remaining int)
}

// Start creates an escalation and begins the countdown. Entry emits the
// strongest haptic pattern and the activation voice line.
func Start(trigger TriggerType, position telemetry.Position, hasPosition bool, opts Options) *Escalation {
	if opts.Clock == nil {
		opts.Clock = timeutil.Real{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}

	e := &Escalation{
		clock:      opts.Clock,
		notifier:   opts.Notifier,
		sink:       opts.Sink,
		falseAlarm: opts.FalseAlarm,
		onUpdate:   opts.OnUpdate,
		event: Event{
			ID:          uuid.New().String(),
			Trigger:     trigger,
			Position:    position,
			HasPosition: hasPosition,
			Status:      StatusCountdown,
			CreatedAt:   opts.Clock.Now().UTC(),
		},
		remaining: CountdownTicks,
	}

	e.notifier.Vibrate(notify.PatternSOS)
	e.notifier.Speak("emergency.activated", "")
	metrics.EmergenciesStarted.WithLabelValues(string(trigger)).Inc()

	logging.Warn().
		Str("emergency_id", e.event.ID).
		Str("trigger", string(trigger)).
		Int("countdown_s", e.remaining).
		Msg("emergency countdown started")

	e.notifyUpdate()
	e.mu.Lock()
	e.tick = e.clock.AfterFunc(time.Second, e.onTick)
	e.mu.Unlock()
	return e
}

// onTick decrements the countdown and activates at zero.
func (e *Escalation) onTick() {
	e.mu.Lock()
	if e.done || e.event.Status != StatusCountdown {
		e.mu.Unlock()
		return
	}
	e.remaining--
	if e.remaining > 0 {
		e.tick = e.clock.AfterFunc(time.Second, e.onTick)
		e.mu.Unlock()
		e.notifyUpdate()
		return
	}
	e.event.Status = StatusActive
	e.mu.Unlock()

	e.notifier.Speak("emergency.help_coming", "")
	e.record()
	e.notifyUpdate()

	logging.Warn().Str("emergency_id", e.event.ID).Msg("emergency active, help requested")
}

// Cancel stops a running countdown and records a false alarm. Reinforces
// location memory when the location is known. No-op once the escalation is
// active or terminal; idempotent.
func (e *Escalation) Cancel() bool {
	e.mu.Lock()
	if e.done || e.event.Status != StatusCountdown {
		e.mu.Unlock()
		return false
	}
	e.done = true
	e.event.Status = StatusFalseAlarm
	now := e.clock.Now().UTC()
	e.event.ResolvedAt = &now
	tick := e.tick
	e.mu.Unlock()

	if tick != nil {
		tick.Stop()
	}

	e.notifier.Speak("emergency.cancelled", "")
	if e.falseAlarm != nil && e.event.HasPosition {
		e.falseAlarm(e.event.Position.Latitude, e.event.Position.Longitude)
	}

	metrics.EmergencyOutcomes.WithLabelValues(string(StatusFalseAlarm)).Inc()
	e.record()
	e.notifyUpdate()

	logging.Info().Str("emergency_id", e.event.ID).Msg("emergency cancelled as false alarm")
	return true
}

// Resolve stands down an active emergency. Distinct from a cancelled
// countdown: help was already considered active, so the outcome is
// ambiguous ground truth and location memory is not reinforced.
func (e *Escalation) Resolve() bool {
	e.mu.Lock()
	if e.done || e.event.Status != StatusActive {
		e.mu.Unlock()
		return false
	}
	e.done = true
	e.event.Status = StatusResolved
	now := e.clock.Now().UTC()
	e.event.ResolvedAt = &now
	e.mu.Unlock()

	e.notifier.Speak("emergency.resolved", "")
	metrics.EmergencyOutcomes.WithLabelValues(string(StatusResolved)).Inc()
	e.record()
	e.notifyUpdate()

	logging.Info().Str("emergency_id", e.event.ID).Msg("emergency resolved by rider")
	return true
}

// Snapshot returns the current event and seconds remaining.
func (e *Escalation) Snapshot() (Event, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.event, e.remaining
}

// Terminal reports whether the escalation reached a terminal status.
func (e *Escalation) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Active reports whether help is currently active.
func (e *Escalation) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.event.Status == StatusActive
}

func (e *Escalation) record() {
	if e.sink == nil {
		return
	}
	e.mu.Lock()
	snapshot := e.event
	e.mu.Unlock()
	e.sink.RecordEmergency(&snapshot)
}

func (e *Escalation) notifyUpdate() {
	if e.onUpdate == nil {
		return
	}
	e.mu.Lock()
	event, remaining := e.event, e.remaining
	e.mu.Unlock()
	e.onUpdate(event, remaining)
}
