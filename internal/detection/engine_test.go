// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"sync"
	"testing"
	"time"

	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// countingNotifier records notifications for assertions.
type countingNotifier struct {
	mu       sync.Mutex
	spoken   []string
	patterns []notify.Pattern
}

func (n *countingNotifier) Speak(key, lang string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spoken = append(n.spoken, key)
}

func (n *countingNotifier) Vibrate(p notify.Pattern) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.patterns = append(n.patterns, p)
}

func (n *countingNotifier) spokenCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.spoken)
}

func speedSample(at time.Time, kmh float64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: at,
		SpeedKmh:  telemetry.Known(kmh),
		Position:  telemetry.Position{Latitude: 12.97, Longitude: 77.59},
	}
}

func newTestEngine(n notify.Notifier) *Engine {
	e := NewEngine(NewHistory(10*time.Minute), n)
	e.RegisterDetector(NewFallDetector())
	e.RegisterDetector(NewSuddenStopDetector())
	e.RegisterDetector(NewSpeedDetector())
	e.RegisterDetector(NewIdleDetector())
	return e
}

func TestEngineRaisesSpeedWarning(t *testing.T) {
	n := &countingNotifier{}
	e := newTestEngine(n)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	raised := e.ProcessSample(speedSample(now, 72))
	if len(raised) != 1 {
		t.Fatalf("raised %d events, want 1", len(raised))
	}
	if raised[0].Type != RiskSpeedWarning {
		t.Errorf("type = %s, want speed_warning", raised[0].Type)
	}
	if raised[0].Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium", raised[0].Severity)
	}
	if n.spokenCount() != 1 {
		t.Errorf("spoken = %d, want 1", n.spokenCount())
	}
}

func TestEngineDebounceIdempotence(t *testing.T) {
	n := &countingNotifier{}
	e := newTestEngine(n)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Same event type twice within 60 seconds: exactly one notification.
	first := e.ProcessSample(speedSample(now, 72))
	second := e.ProcessSample(speedSample(now.Add(30*time.Second), 75))

	if len(first) != 1 {
		t.Fatalf("first raise = %d events, want 1", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("duplicate within window raised %d events, want 0", len(second))
	}
	if n.spokenCount() != 1 {
		t.Errorf("notifications = %d, want exactly 1", n.spokenCount())
	}

	// Past the window the type may fire again.
	third := e.ProcessSample(speedSample(now.Add(61*time.Second), 80))
	if len(third) != 1 {
		t.Errorf("raise after window = %d events, want 1", len(third))
	}
}

func TestEngineDebounceIsPerType(t *testing.T) {
	e := newTestEngine(&countingNotifier{})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	if got := e.ProcessSample(speedSample(now, 72)); len(got) != 1 {
		t.Fatalf("speed raise = %d, want 1", len(got))
	}

	// A different type within the window is not suppressed.
	fall := telemetry.Sample{Timestamp: now.Add(5 * time.Second), AccelDelta: telemetry.Known(30)}
	// Prime the fall detector's delta via sample directly.
	if got := e.ProcessSample(fall); len(got) != 1 {
		t.Fatalf("fall raise = %d, want 1", len(got))
	}
}

func TestEngineCriticalHapticPattern(t *testing.T) {
	n := &countingNotifier{}
	e := newTestEngine(n)

	e.ProcessSample(telemetry.Sample{
		Timestamp:  time.Now(),
		AccelDelta: telemetry.Known(30),
	})

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.patterns) != 1 || n.patterns[0] != notify.PatternSOS {
		t.Errorf("patterns = %v, want [sos]", n.patterns)
	}
}

func TestEngineInjectExternalDebounces(t *testing.T) {
	n := &countingNotifier{}
	e := newTestEngine(n)
	now := time.Now()

	first := e.InjectExternal(&RiskEvent{Type: RiskHeatWarning, Severity: SeverityHigh, Timestamp: now, Source: "weather"})
	dup := e.InjectExternal(&RiskEvent{Type: RiskHeatWarning, Severity: SeverityHigh, Timestamp: now.Add(10 * time.Second), Source: "weather"})

	if !first {
		t.Error("first external event should raise")
	}
	if dup {
		t.Error("duplicate external event within window should be suppressed")
	}
	if n.spokenCount() != 1 {
		t.Errorf("notifications = %d, want 1", n.spokenCount())
	}
}

func TestEngineDisabled(t *testing.T) {
	e := newTestEngine(&countingNotifier{})
	e.SetEnabled(false)

	if got := e.ProcessSample(speedSample(time.Now(), 90)); got != nil {
		t.Errorf("disabled engine raised %d events", len(got))
	}
	if e.InjectExternal(&RiskEvent{Type: RiskRainWarning, Severity: SeverityMedium}) {
		t.Error("disabled engine accepted external event")
	}
}

func TestEngineOnTickRaisesLongIdle(t *testing.T) {
	e := newTestEngine(&countingNotifier{})
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Establish motion, then go still.
	e.ProcessSample(speedSample(start, 25))
	e.ProcessSample(telemetry.Sample{Timestamp: start.Add(time.Second), SpeedKmh: telemetry.Known(0.5)})

	// Just before the threshold: nothing.
	if got := e.OnTick(start.Add(4 * time.Minute)); len(got) != 0 {
		t.Fatalf("tick before threshold raised %d events", len(got))
	}

	raised := e.OnTick(start.Add(5*time.Minute + time.Second))
	if len(raised) != 1 || raised[0].Type != RiskLongIdle {
		t.Fatalf("tick past threshold raised %v, want one long_idle", raised)
	}
}

func TestEngineResetClearsDebounce(t *testing.T) {
	e := newTestEngine(&countingNotifier{})
	now := time.Now()

	e.ProcessSample(speedSample(now, 72))
	e.Reset()

	// After reset the same type may raise immediately (new ride).
	if got := e.ProcessSample(speedSample(now.Add(time.Second), 72)); len(got) != 1 {
		t.Errorf("raise after reset = %d events, want 1", len(got))
	}
	if e.History().CountAll(now.Add(time.Hour)) != 1 {
		t.Errorf("history should only contain post-reset events")
	}
}

func TestEngineConfigureDetector(t *testing.T) {
	e := newTestEngine(&countingNotifier{})

	if err := e.ConfigureDetector(RiskSpeedWarning, []byte(`{"limit_kmh": 80, "severity": "medium"}`)); err != nil {
		t.Fatalf("ConfigureDetector: %v", err)
	}

	if got := e.ProcessSample(speedSample(time.Now(), 72)); len(got) != 0 {
		t.Errorf("72 km/h should not raise after limit moved to 80")
	}

	if err := e.ConfigureDetector(RiskType("bogus"), []byte(`{}`)); err == nil {
		t.Error("expected error for unknown detector")
	}
}
