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
	"github.com/google/uuid"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// DebounceWindow is how long a raised event suppresses further events of the
// same type. A duplicate within the window produces no notification and no
// record.
const DebounceWindow = 60 * time.Second

// Engine converts the continuous sample stream into discrete, debounced
// RiskEvents. Detectors run in registration order so that the most urgent
// signatures (fall, sudden stop) are evaluated before advisory ones.
//
// Sample processing happens on the single pipeline goroutine; the engine's
// own locking exists only because Configure/SetEnabled may arrive from the
// HTTP API concurrently.
type Engine struct {
	mu        sync.RWMutex
	detectors []Detector
	byType    map[RiskType]Detector
	enabled   bool

	history  *History
	notifier notify.Notifier

	lastRaised map[RiskType]time.Time
}

// NewEngine creates a detection engine with the given rolling history and
// notifier. Register detectors before processing samples.
func NewEngine(history *History, notifier notify.Notifier) *Engine {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Engine{
		byType:     make(map[RiskType]Detector),
		enabled:    true,
		history:    history,
		notifier:   notifier,
		lastRaised: make(map[RiskType]time.Time),
	}
}

// RegisterDetector adds a detector. Registration order is evaluation order.
func (e *Engine) RegisterDetector(detector Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detectors = append(e.detectors, detector)
	e.byType[detector.Type()] = detector

	logging.Info().Str("detector", string(detector.Type())).Msg("registered detector")
}

// ProcessSample runs all enabled detectors against one sample and returns the
// events that survived debouncing, in detector order.
func (e *Engine) ProcessSample(sample telemetry.Sample) []*RiskEvent {
	e.mu.RLock()
	if !e.enabled {
		e.mu.RUnlock()
		return nil
	}
	detectors := make([]Detector, len(e.detectors))
	copy(detectors, e.detectors)
	e.mu.RUnlock()

	var raised []*RiskEvent
	for _, detector := range detectors {
		if !detector.Enabled() {
			continue
		}
		event, err := detector.Check(sample)
		if err != nil {
			// A failing detector degrades that signal only; the rest of the
			// pipeline keeps running.
			metrics.DetectionErrors.WithLabelValues(string(detector.Type())).Inc()
			logging.Error().Err(err).Str("detector", string(detector.Type())).Msg("detector check failed")
			continue
		}
		if event == nil {
			continue
		}
		if e.raise(event) {
			raised = append(raised, event)
		}
	}
	return raised
}

// OnTick runs time-based detectors (long idle). Call every evaluation tick,
// typically 30 seconds.
func (e *Engine) OnTick(now time.Time) []*RiskEvent {
	e.mu.RLock()
	if !e.enabled {
		e.mu.RUnlock()
		return nil
	}
	detectors := make([]Detector, len(e.detectors))
	copy(detectors, e.detectors)
	e.mu.RUnlock()

	var raised []*RiskEvent
	for _, detector := range detectors {
		ticker, ok := detector.(TickChecker)
		if !ok || !detector.Enabled() {
			continue
		}
		event, err := ticker.CheckTick(now)
		if err != nil {
			metrics.DetectionErrors.WithLabelValues(string(detector.Type())).Inc()
			logging.Error().Err(err).Str("detector", string(detector.Type())).Msg("tick check failed")
			continue
		}
		if event == nil {
			continue
		}
		if e.raise(event) {
			raised = append(raised, event)
		}
	}
	return raised
}

// InjectExternal submits an externally produced event (weather, unsafe zone)
// to the same debounce and history treatment as motion events. Returns true
// when the event was raised rather than debounced.
func (e *Engine) InjectExternal(event *RiskEvent) bool {
	e.mu.RLock()
	enabled := e.enabled
	e.mu.RUnlock()
	if !enabled || event == nil {
		return false
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return e.raise(event)
}

// raise applies the debounce window, records the event, and notifies the
// rider. Returns false when the event was suppressed as a duplicate.
func (e *Engine) raise(event *RiskEvent) bool {
	e.mu.Lock()
	last, seen := e.lastRaised[event.Type]
	if seen && event.Timestamp.Sub(last) < DebounceWindow {
		e.mu.Unlock()
		metrics.EventsDebounced.WithLabelValues(string(event.Type)).Inc()
		return false
	}
	e.lastRaised[event.Type] = event.Timestamp
	e.mu.Unlock()

	e.history.Append(event)
	metrics.EventsRaised.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	e.notifyRider(event)

	logging.Info().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("severity", string(event.Severity)).
		Msg("risk event raised")
	return true
}

// notifyRider triggers the severity-mapped haptic pattern and voice line.
func (e *Engine) notifyRider(event *RiskEvent) {
	pattern := notify.PatternStandard
	if event.Severity == SeverityCritical {
		pattern = notify.PatternSOS
	} else if event.Severity == SeverityHigh {
		pattern = notify.PatternStrong
	}
	e.notifier.Vibrate(pattern)
	e.notifier.Speak("risk."+string(event.Type), "")
}

// History returns the engine's rolling event history.
func (e *Engine) History() *History {
	return e.history
}

// SetEnabled enables or disables the whole engine.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled returns whether the engine is enabled.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Detector returns a registered detector by type.
func (e *Engine) Detector(riskType RiskType) (Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.byType[riskType]
	return d, ok
}

// ConfigureDetector updates a detector's configuration.
func (e *Engine) ConfigureDetector(riskType RiskType, config json.RawMessage) error {
	e.mu.RLock()
	detector, ok := e.byType[riskType]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("detector not found: %s", riskType)
	}
	return detector.Configure(config)
}

// Reset clears per-ride detector and debounce state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.lastRaised = make(map[RiskType]time.Time)
	detectors := make([]Detector, len(e.detectors))
	copy(detectors, e.detectors)
	e.mu.Unlock()

	e.history.Reset()
	for _, d := range detectors {
		if r, ok := d.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// newEventID returns a fresh event identifier.
func newEventID() string {
	return uuid.New().String()
}
