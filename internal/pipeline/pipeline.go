// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package pipeline is the serialized core loop. Sensor callbacks, weather
// snapshots, timer ticks, and confirmation outcomes all arrive as messages on
// one buffered channel with exactly one consumer goroutine, which owns every
// piece of mutable ride state. Producers never block: when the queue is full
// the oldest message is dropped and counted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/dialogue"
	"github.com/outrider-app/outrider/internal/emergency"
	"github.com/outrider-app/outrider/internal/fatigue"
	"github.com/outrider-app/outrider/internal/locmem"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/scoring"
	"github.com/outrider-app/outrider/internal/sink"
	"github.com/outrider-app/outrider/internal/telemetry"
	"github.com/outrider-app/outrider/internal/timeutil"
	"github.com/outrider-app/outrider/internal/wal"
	"github.com/outrider-app/outrider/internal/weather"
)

// ErrRideActive is returned when StartRide is called during a ride.
var ErrRideActive = errors.New("pipeline: ride already active")

// ErrNoRide is returned for ride-scoped operations outside a ride.
var ErrNoRide = errors.New("pipeline: no active ride")

// FallEmergencyGrace is how long a fall event below the auto-emergency band
// waits for the rider before escalating on its own.
const FallEmergencyGrace = 10 * time.Second

// DefaultTickInterval drives time-based detection and nudge checks.
const DefaultTickInterval = 30 * time.Second

// DefaultWellnessInterval is how often a long ride prompts a check-in.
const DefaultWellnessInterval = 2 * time.Hour

// wellnessQuietPeriod postpones a check-in right after a real alert.
const wellnessQuietPeriod = 10 * time.Minute

// DefaultQueueSize bounds the inbound message channel.
const DefaultQueueSize = 256

// Recorder accepts audit records for the persistence sink. Implemented by
// sink.Publisher.
type Recorder interface {
	Record(ctx context.Context, record *sink.Record) error
}

// Options wires the loop's collaborators. Engine, Scorer, Estimator, and
// Sampler are required; everything else degrades to a no-op when absent.
type Options struct {
	Clock    timeutil.Clock
	DeviceID string
	Language string

	Sampler   *telemetry.Sampler
	Engine    *detection.Engine
	Scorer    *scoring.Scorer
	Estimator *fatigue.Estimator
	Nudger    *fatigue.Nudger
	Memory    *locmem.Store
	Notifier  notify.Notifier
	Listener  dialogue.Listener
	Recorder  Recorder

	Dialogue dialogue.Config

	QueueSize    int
	TickInterval time.Duration
	FallGrace    time.Duration

	// WellnessInterval paces periodic check-in prompts on long rides.
	WellnessInterval time.Duration

	// Broadcast hooks for the websocket hub. Called from the loop goroutine;
	// they must not block.
	OnScored    func(event *scoring.ScoredRiskEvent)
	OnFatigue   func(state fatigue.State)
	OnEmergency func(event emergency.Event, remaining int)
}

// Status is a point-in-time snapshot of the loop for the local API.
type Status struct {
	RideActive bool      `json:"ride_active"`
	RideID     string    `json:"ride_id,omitempty"`
	RideStart  time.Time `json:"ride_start,omitempty"`

	Fatigue fatigue.State `json:"fatigue"`

	ConfirmationActive bool `json:"confirmation_active"`

	Emergency          *emergency.Event  `json:"emergency,omitempty"`
	CountdownRemaining int               `json:"countdown_remaining,omitempty"`
	Weather            *weather.Snapshot `json:"weather,omitempty"`
}

type msgKind int

const (
	msgMotion msgKind = iota
	msgFix
	msgWeather
	msgTick
	msgOutcome
	msgGrace
	msgControl
)

type inbound struct {
	kind msgKind

	motion   telemetry.RawMotion
	fix      telemetry.RawFix
	snapshot *weather.Snapshot
	outcome  dialogue.Outcome
	event    *scoring.ScoredRiskEvent
	control  func()
}

// Loop is the single-consumer event loop. All fields below inbox are owned
// by the consumer goroutine and must not be touched from outside it.
type Loop struct {
	opts  Options
	clock timeutil.Clock
	inbox chan inbound

	rideActive   bool
	rideID       string
	rideStart    time.Time
	lastSpeed    telemetry.Reading
	lastBand     fatigue.Band
	currentCell  string
	lastWellness time.Time

	session      *dialogue.Session
	sessionEvent *scoring.ScoredRiskEvent
	escalation   *emergency.Escalation
	graceTimer   timeutil.Timer
	weatherNow   *weather.Snapshot
}

// New builds a loop. Serve must be running before messages are processed.
func New(opts Options) *Loop {
	if opts.Clock == nil {
		opts.Clock = timeutil.Real{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.FallGrace <= 0 {
		opts.FallGrace = FallEmergencyGrace
	}
	if opts.WellnessInterval <= 0 {
		opts.WellnessInterval = DefaultWellnessInterval
	}
	return &Loop{
		opts:     opts,
		clock:    opts.Clock,
		inbox:    make(chan inbound, opts.QueueSize),
		lastBand: fatigue.BandNone,
	}
}

// OnFix delivers a raw location fix. Never blocks.
func (l *Loop) OnFix(fix telemetry.RawFix) {
	l.enqueue(inbound{kind: msgFix, fix: fix})
}

// OnMotion delivers a raw inertial reading. Never blocks.
func (l *Loop) OnMotion(motion telemetry.RawMotion) {
	l.enqueue(inbound{kind: msgMotion, motion: motion})
}

// OnWeather delivers a fresh weather snapshot. Never blocks.
func (l *Loop) OnWeather(snapshot *weather.Snapshot) {
	if snapshot == nil {
		return
	}
	l.enqueue(inbound{kind: msgWeather, snapshot: snapshot})
}

// enqueue is the non-blocking producer path: on a full queue the oldest
// message is discarded to make room.
func (l *Loop) enqueue(msg inbound) {
	select {
	case l.inbox <- msg:
		return
	default:
	}
	select {
	case <-l.inbox:
		metrics.PipelineDropped.Inc()
	default:
	}
	select {
	case l.inbox <- msg:
	default:
		metrics.PipelineDropped.Inc()
	}
}

// do runs fn on the loop goroutine and waits for it. Control messages use a
// blocking send: they come from user actions and must not be dropped.
func (l *Loop) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	msg := inbound{kind: msgControl, control: func() {
		fn()
		close(done)
	}}
	select {
	case l.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve consumes the inbox until the context ends. Implements
// suture.Service.
func (l *Loop) Serve(ctx context.Context) error {
	stopTick := l.startTicker(ctx)
	defer stopTick()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.inbox:
			l.dispatch(msg)
			metrics.PipelineQueueDepth.Set(float64(len(l.inbox)))
		}
	}
}

// String names the service in the supervision tree.
func (l *Loop) String() string { return "pipeline-loop" }

// startTicker arms a self-rearming tick. The callback only enqueues; the
// loop goroutine does the work.
func (l *Loop) startTicker(ctx context.Context) func() {
	var timer timeutil.Timer
	var arm func()
	arm = func() {
		timer = l.clock.AfterFunc(l.opts.TickInterval, func() {
			l.enqueue(inbound{kind: msgTick})
			if ctx.Err() == nil {
				arm()
			}
		})
	}
	arm()
	return func() {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) dispatch(msg inbound) {
	switch msg.kind {
	case msgFix:
		if l.opts.Sampler != nil {
			l.opts.Sampler.OnFix(msg.fix)
		}
	case msgMotion:
		l.handleMotion(msg.motion)
	case msgWeather:
		l.handleWeather(msg.snapshot)
	case msgTick:
		l.handleTick()
	case msgOutcome:
		l.handleOutcome(msg.outcome, msg.event)
	case msgGrace:
		l.handleGrace(msg.event)
	case msgControl:
		msg.control()
	}
}

func (l *Loop) handleMotion(motion telemetry.RawMotion) {
	if !l.rideActive || l.opts.Sampler == nil {
		return
	}
	sample := l.opts.Sampler.Next(motion)
	if sample.SpeedKmh.Valid {
		l.lastSpeed = sample.SpeedKmh
	}

	if l.opts.Estimator != nil {
		l.opts.Estimator.Observe(sample)
		l.broadcastBandChange()
	}

	for _, event := range l.opts.Engine.ProcessSample(sample) {
		l.route(event)
	}
	l.checkZone(sample)
}

// checkZone raises an unsafe zone warning when the rider crosses into a cell
// whose outcome history is dominated by confirmed incidents.
func (l *Loop) checkZone(sample telemetry.Sample) {
	if l.opts.Memory == nil || !sample.HasPosition {
		return
	}
	cell := l.opts.Memory.CellID(sample.Position.Latitude, sample.Position.Longitude)
	if cell == l.currentCell {
		return
	}
	l.currentCell = cell
	if !l.opts.Memory.Hazardous(sample.Position.Latitude, sample.Position.Longitude) {
		return
	}

	event := &detection.RiskEvent{
		Type:        detection.RiskUnsafeZone,
		Severity:    detection.SeverityMedium,
		Timestamp:   sample.Timestamp,
		Position:    sample.Position,
		HasPosition: true,
		Source:      "zone",
		Message:     "entering an area with a confirmed incident history",
	}
	if l.opts.Engine.InjectExternal(event) {
		l.route(event)
	}
}

func (l *Loop) handleWeather(snapshot *weather.Snapshot) {
	l.weatherNow = snapshot
	if l.opts.Estimator != nil {
		l.opts.Estimator.SetAmbient(snapshot.FeelsLikeC())
	}
	if !l.rideActive {
		return
	}
	for _, event := range snapshot.Events() {
		if l.opts.Engine.InjectExternal(event) {
			l.route(event)
		}
	}
}

func (l *Loop) handleTick() {
	now := l.clock.Now()
	l.reapEscalation()

	if !l.rideActive {
		return
	}
	for _, event := range l.opts.Engine.OnTick(now) {
		l.route(event)
	}
	if l.opts.Nudger != nil && l.opts.Estimator != nil {
		l.opts.Nudger.OnTick(now, l.opts.Estimator.Band())
	}
	l.checkWellness(now)
}

// checkWellness prompts a periodic check-in on long rides. A recent real
// alert postpones the prompt so the rider is not asked twice in a row; the
// answer flows through the normal confirmation path.
func (l *Loop) checkWellness(now time.Time) {
	since := l.rideStart
	if l.lastWellness.After(since) {
		since = l.lastWellness
	}
	if now.Sub(since) < l.opts.WellnessInterval {
		return
	}
	history := l.opts.Engine.History()
	for _, riskType := range []detection.RiskType{
		detection.RiskFallDetected, detection.RiskSuddenStop, detection.RiskLongIdle,
	} {
		if event := history.LastOfType(riskType); event != nil && now.Sub(event.Timestamp) < wellnessQuietPeriod {
			return
		}
	}

	l.lastWellness = now
	event := &detection.RiskEvent{
		Type:      detection.RiskWellnessCheck,
		Severity:  detection.SeverityLow,
		Timestamp: now,
		Source:    "timer",
		Message:   fmt.Sprintf("riding for %s, checking in", now.Sub(l.rideStart).Round(time.Minute)),
	}
	if l.opts.Engine.InjectExternal(event) {
		l.route(event)
	}
}

// reapEscalation forgets a terminal escalation so a new emergency can start.
func (l *Loop) reapEscalation() {
	if l.escalation != nil && l.escalation.Terminal() {
		l.escalation = nil
	}
}

// route scores a raised event and dispatches its action.
func (l *Loop) route(event *detection.RiskEvent) {
	scored := l.opts.Scorer.Score(event, scoring.Context{
		History:   l.opts.Engine.History(),
		RideStart: l.rideStart,
		SpeedKmh:  l.lastSpeed,
	})

	l.recordRiskEvent(scored)
	if l.opts.OnScored != nil {
		l.opts.OnScored(scored)
	}

	if scored.Type == detection.RiskFallDetected && scored.Action != scoring.ActionEmergency {
		l.armGrace(scored)
	}

	switch scored.Action {
	case scoring.ActionSuppress:
		// A check-in exists to be answered; only sensed risks can be
		// suppressed on low confidence.
		if scored.Type == detection.RiskWellnessCheck {
			l.startConfirmation(scored)
			return
		}
		logging.Debug().
			Str("type", string(scored.Type)).
			Int("confidence", scored.Confidence).
			Msg("event suppressed")
	case scoring.ActionConfirm, scoring.ActionAlert:
		l.startConfirmation(scored)
	case scoring.ActionEmergency:
		l.startEmergency(scored, triggerFor(scored.Type))
	}
}

// armGrace schedules the automatic fall escalation. A confirmation outcome
// of ok or cancelled disarms it; anything else lets it fire.
func (l *Loop) armGrace(scored *scoring.ScoredRiskEvent) {
	if l.graceTimer != nil {
		return
	}
	l.graceTimer = l.clock.AfterFunc(l.opts.FallGrace, func() {
		l.enqueue(inbound{kind: msgGrace, event: scored})
	})
}

func (l *Loop) cancelGrace() {
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
}

func (l *Loop) handleGrace(scored *scoring.ScoredRiskEvent) {
	l.graceTimer = nil
	l.reapEscalation()
	if l.escalation != nil {
		return
	}
	logging.Warn().
		Str("event_id", scored.ID).
		Msg("fall unacknowledged, escalating")
	l.startEmergency(scored, emergency.TriggerAutoFall)
}

func (l *Loop) startConfirmation(scored *scoring.ScoredRiskEvent) {
	if l.session != nil && !l.session.Done() {
		logging.Debug().Str("event_id", scored.ID).Msg("confirmation already running")
		return
	}
	if l.opts.Listener == nil {
		logging.Debug().Str("event_id", scored.ID).Msg("no listener, confirmation skipped")
		return
	}

	cfg := l.opts.Dialogue
	if cfg.PromptKey == "" {
		cfg = dialogue.DefaultConfig()
	}
	if cfg.Language == "" {
		cfg.Language = l.opts.Language
	}

	l.sessionEvent = scored
	l.session = dialogue.NewSession(cfg, l.opts.Notifier, l.opts.Listener, l.clock,
		func(outcome dialogue.Outcome) {
			l.enqueue(inbound{kind: msgOutcome, outcome: outcome, event: scored})
		})
	l.session.Start()
}

func (l *Loop) handleOutcome(outcome dialogue.Outcome, scored *scoring.ScoredRiskEvent) {
	l.session = nil
	l.sessionEvent = nil

	switch outcome {
	case dialogue.OutcomeOK:
		l.cancelGrace()
		l.reinforce(scored, false)
	case dialogue.OutcomeDanger:
		l.cancelGrace()
		l.reinforce(scored, true)
		l.startEmergency(scored, triggerFor(scored.Type))
	case dialogue.OutcomeTimeout:
		// Conservative policy: no answer is never a silent drop. The rider
		// gets a reinforced alert and a pending fall grace keeps running.
		l.opts.Notifier.Vibrate(notify.PatternStrong)
		l.opts.Notifier.Speak("alert.unconfirmed", l.opts.Language)
		logging.Warn().
			Str("event_id", scored.ID).
			Str("type", string(scored.Type)).
			Msg("confirmation timed out, holding alert")
	case dialogue.OutcomeCancelled:
		l.cancelGrace()
	}
}

// reinforce feeds a confirmation outcome back into location memory.
func (l *Loop) reinforce(scored *scoring.ScoredRiskEvent, trueAlarm bool) {
	if l.opts.Memory == nil || !scored.HasPosition {
		return
	}
	sig := l.signature()
	if trueAlarm {
		l.opts.Memory.RecordTrueAlarm(scored.Position.Latitude, scored.Position.Longitude, sig)
		metrics.ReinforcementsTotal.WithLabelValues("true_alarm").Inc()
		return
	}
	l.opts.Memory.RecordFalseAlarm(scored.Position.Latitude, scored.Position.Longitude, sig)
	metrics.ReinforcementsTotal.WithLabelValues("false_alarm").Inc()
}

// signature snapshots the current motion character for cell learning.
func (l *Loop) signature() *locmem.SensorSignature {
	if l.opts.Estimator == nil {
		return nil
	}
	accel, orientation, samples := l.opts.Estimator.MotionVariance()
	sig := &locmem.SensorSignature{
		AccelVariance:       accel,
		OrientationVariance: orientation,
		SampleCount:         samples,
	}
	for _, event := range l.opts.Engine.History().Recent(5) {
		sig.RecentEventTypes = append(sig.RecentEventTypes, string(event.Type))
	}
	return sig
}

func (l *Loop) startEmergency(scored *scoring.ScoredRiskEvent, trigger emergency.TriggerType) {
	l.reapEscalation()
	if l.escalation != nil {
		logging.Debug().Str("event_id", scored.ID).Msg("escalation already running")
		return
	}
	l.cancelGrace()
	if l.session != nil && !l.session.Done() {
		l.session.Cancel()
		l.session = nil
		l.sessionEvent = nil
	}

	l.escalation = emergency.Start(trigger, scored.Position, scored.HasPosition, l.escalationOptions())
}

func (l *Loop) escalationOptions() emergency.Options {
	return emergency.Options{
		Clock:    l.clock,
		Notifier: l.opts.Notifier,
		Sink:     emergencySink{loop: l},
		FalseAlarm: func(lat, lng float64) {
			if l.opts.Memory == nil {
				return
			}
			l.opts.Memory.RecordFalseAlarm(lat, lng, nil)
			metrics.ReinforcementsTotal.WithLabelValues("false_alarm").Inc()
		},
		OnUpdate: l.opts.OnEmergency,
	}
}

func triggerFor(riskType detection.RiskType) emergency.TriggerType {
	switch riskType {
	case detection.RiskFallDetected:
		return emergency.TriggerAutoFall
	case detection.RiskLongIdle, detection.RiskWellnessCheck:
		return emergency.TriggerAutoIdle
	default:
		return emergency.TriggerAutoCrash
	}
}

func (l *Loop) broadcastBandChange() {
	band := l.opts.Estimator.Band()
	if band == l.lastBand {
		return
	}
	l.lastBand = band
	if l.opts.OnFatigue != nil {
		l.opts.OnFatigue(l.opts.Estimator.State())
	}
}

// StartRide begins a monitoring session.
func (l *Loop) StartRide(ctx context.Context) (string, error) {
	var rideID string
	var startErr error
	err := l.do(ctx, func() {
		if l.rideActive {
			startErr = ErrRideActive
			return
		}
		l.rideID = uuid.NewString()
		l.rideStart = l.clock.Now()
		l.rideActive = true
		l.lastSpeed = telemetry.Unknown()
		l.lastBand = fatigue.BandNone
		l.currentCell = ""
		l.lastWellness = time.Time{}

		if l.opts.Sampler != nil {
			l.opts.Sampler.Reset()
		}
		l.opts.Engine.Reset()
		if l.opts.Estimator != nil {
			l.opts.Estimator.StartRide(l.rideStart)
		}
		if l.opts.Nudger != nil {
			l.opts.Nudger.Reset()
		}

		rideID = l.rideID
		l.recordSession(nil)
		logging.Info().Str("ride_id", rideID).Msg("ride started")
	})
	if err != nil {
		return "", err
	}
	return rideID, startErr
}

// StopRide ends the monitoring session. An emergency in flight keeps
// running: ending the ride never cancels help.
func (l *Loop) StopRide(ctx context.Context) error {
	var stopErr error
	err := l.do(ctx, func() {
		if !l.rideActive {
			stopErr = ErrNoRide
			return
		}
		if l.session != nil && !l.session.Done() {
			l.session.Cancel()
			l.session = nil
			l.sessionEvent = nil
		}
		l.cancelGrace()
		if l.opts.Estimator != nil {
			l.opts.Estimator.StopRide()
		}
		ended := l.clock.Now()
		l.recordSession(&ended)
		logging.Info().Str("ride_id", l.rideID).Msg("ride stopped")
		l.rideActive = false
	})
	if err != nil {
		return err
	}
	return stopErr
}

// TriggerEmergency starts a manual escalation from the panic button.
func (l *Loop) TriggerEmergency(ctx context.Context) error {
	var trigErr error
	err := l.do(ctx, func() {
		l.reapEscalation()
		if l.escalation != nil {
			trigErr = errors.New("pipeline: emergency already in progress")
			return
		}
		var position telemetry.Position
		hasPosition := false
		if l.opts.Sampler != nil {
			position, hasPosition = l.opts.Sampler.LastPosition()
		}
		l.cancelGrace()
		if l.session != nil && !l.session.Done() {
			l.session.Cancel()
			l.session = nil
			l.sessionEvent = nil
		}
		l.escalation = emergency.Start(emergency.TriggerManual, position, hasPosition, l.escalationOptions())
	})
	if err != nil {
		return err
	}
	return trigErr
}

// CancelEmergency cancels a running countdown. Reports whether a countdown
// was cancelled.
func (l *Loop) CancelEmergency(ctx context.Context) (bool, error) {
	cancelled := false
	err := l.do(ctx, func() {
		if l.escalation != nil {
			cancelled = l.escalation.Cancel()
		}
		l.reapEscalation()
	})
	return cancelled, err
}

// ResolveEmergency marks an active emergency resolved.
func (l *Loop) ResolveEmergency(ctx context.Context) (bool, error) {
	resolved := false
	err := l.do(ctx, func() {
		if l.escalation != nil {
			resolved = l.escalation.Resolve()
		}
		l.reapEscalation()
	})
	return resolved, err
}

// Status snapshots the loop state for the local API.
func (l *Loop) Status(ctx context.Context) (Status, error) {
	var status Status
	err := l.do(ctx, func() {
		status = Status{
			RideActive:         l.rideActive,
			ConfirmationActive: l.session != nil && !l.session.Done(),
			Weather:            l.weatherNow,
		}
		if l.rideActive {
			status.RideID = l.rideID
			status.RideStart = l.rideStart
		}
		if l.opts.Estimator != nil {
			status.Fatigue = l.opts.Estimator.State()
		}
		if l.escalation != nil && !l.escalation.Terminal() {
			event, remaining := l.escalation.Snapshot()
			status.Emergency = &event
			status.CountdownRemaining = remaining
		}
	})
	return status, err
}

// LastPosition reports the rider's most recent accepted fix. Safe to call
// from any goroutine; used by the weather poller.
func (l *Loop) LastPosition(ctx context.Context) (telemetry.Position, bool) {
	var pos telemetry.Position
	var ok bool
	if err := l.do(ctx, func() {
		pos, ok = l.opts.Sampler.LastPosition()
	}); err != nil {
		return telemetry.Position{}, false
	}
	return pos, ok
}

// recordRiskEvent persists a scored event to the sink, failure-tolerant.
func (l *Loop) recordRiskEvent(scored *scoring.ScoredRiskEvent) {
	if l.opts.Recorder == nil {
		return
	}
	record, err := sink.RiskEventRecord(l.opts.DeviceID, scored)
	if err != nil {
		logging.Warn().Err(err).Str("event_id", scored.ID).Msg("risk event record failed")
		return
	}
	l.record(record)
}

// recordSession persists a ride boundary. The end record reuses the ride id
// so the sink completes the same row.
func (l *Loop) recordSession(endedAt *time.Time) {
	if l.opts.Recorder == nil {
		return
	}
	record, err := sink.SessionRecord(l.opts.DeviceID, &sink.RideSession{
		ID:        l.rideID,
		StartedAt: l.rideStart,
		EndedAt:   endedAt,
	})
	if err != nil {
		logging.Warn().Err(err).Str("ride_id", l.rideID).Msg("session record failed")
		return
	}
	l.record(record)
}

func (l *Loop) record(record *sink.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.opts.Recorder.Record(ctx, record); err != nil && !errors.Is(err, wal.ErrClosed) {
		logging.Warn().Err(err).Str("record_id", record.ID).Msg("sink record failed")
	}
}

// emergencySink adapts the recorder to the escalation's sink interface.
// RecordEmergency is called from timer goroutines; Recorder implementations
// are safe for that.
type emergencySink struct {
	loop *Loop
}

func (s emergencySink) RecordEmergency(event *emergency.Event) {
	if s.loop.opts.Recorder == nil {
		return
	}
	record, err := sink.EmergencyRecord(s.loop.opts.DeviceID, event)
	if err != nil {
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("emergency record failed")
		return
	}
	s.loop.record(record)
}
