// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package emergency

import (
	"sync"
	"testing"
	"time"

	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/telemetry"
	"github.com/outrider-app/outrider/internal/timeutil"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) RecordEmergency(event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
}

func (r *recordingSink) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

type speakCounter struct {
	mu     sync.Mutex
	spoken []string
}

func (s *speakCounter) Speak(key, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, key)
}

func (s *speakCounter) Vibrate(p notify.Pattern) {}

func startTest(t *testing.T, trigger TriggerType) (*Escalation, *timeutil.Fake, *recordingSink, *speakCounter) {
	t.Helper()
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	spk := &speakCounter{}
	e := Start(trigger, telemetry.Position{Latitude: 12.9716, Longitude: 77.5946}, true, Options{
		Clock:    clock,
		Notifier: spk,
		Sink:     sink,
	})
	return e, clock, sink, spk
}

func TestCountdownActivatesAfterTenSeconds(t *testing.T) {
	e, clock, sink, spk := startTest(t, TriggerAutoFall)

	clock.Advance(9 * time.Second)
	if e.Active() {
		t.Fatal("escalation active before countdown completed")
	}
	if _, remaining := e.Snapshot(); remaining != 1 {
		t.Errorf("remaining = %d, want 1 after 9 ticks", remaining)
	}

	clock.Advance(time.Second)
	if !e.Active() {
		t.Fatal("escalation should be active after 10 ticks")
	}
	if got := sink.statuses(); len(got) != 1 || got[0] != StatusActive {
		t.Errorf("sink records = %v, want [active]", got)
	}

	spk.mu.Lock()
	defer spk.mu.Unlock()
	if spk.spoken[0] != "emergency.activated" {
		t.Errorf("entry line = %q", spk.spoken[0])
	}
	if spk.spoken[len(spk.spoken)-1] != "emergency.help_coming" {
		t.Errorf("activation line = %q", spk.spoken[len(spk.spoken)-1])
	}
}

func TestCancelDuringCountdown(t *testing.T) {
	reinforced := 0
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	e := Start(TriggerManual, telemetry.Position{Latitude: 1, Longitude: 2}, true, Options{
		Clock: clock,
		Sink:  sink,
		FalseAlarm: func(lat, lng float64) {
			reinforced++
			if lat != 1 || lng != 2 {
				t.Errorf("reinforced at (%v, %v), want (1, 2)", lat, lng)
			}
		},
	})

	clock.Advance(4 * time.Second)
	if !e.Cancel() {
		t.Fatal("cancel during countdown should succeed")
	}

	event, _ := e.Snapshot()
	if event.Status != StatusFalseAlarm {
		t.Errorf("status = %s, want false_alarm", event.Status)
	}
	if event.ResolvedAt == nil {
		t.Error("terminal event needs a resolution timestamp")
	}
	if reinforced != 1 {
		t.Errorf("reinforcements = %d, want 1", reinforced)
	}
	if got := sink.statuses(); len(got) != 1 || got[0] != StatusFalseAlarm {
		t.Errorf("sink records = %v, want [false_alarm]", got)
	}

	// Ticks after cancellation must not fire.
	clock.Advance(time.Minute)
	if e.Active() {
		t.Error("cancelled escalation became active")
	}
}

func TestCancelWithoutPositionSkipsReinforcement(t *testing.T) {
	reinforced := 0
	clock := timeutil.NewFake(time.Now())
	e := Start(TriggerManual, telemetry.Position{}, false, Options{
		Clock:      clock,
		FalseAlarm: func(lat, lng float64) { reinforced++ },
	})

	e.Cancel()
	if reinforced != 0 {
		t.Errorf("reinforcements = %d, want 0 without a location", reinforced)
	}
}

func TestResolveFromActive(t *testing.T) {
	reinforced := 0
	clock := timeutil.NewFake(time.Now())
	sink := &recordingSink{}
	e := Start(TriggerAutoIdle, telemetry.Position{Latitude: 1, Longitude: 2}, true, Options{
		Clock:      clock,
		Sink:       sink,
		FalseAlarm: func(lat, lng float64) { reinforced++ },
	})

	// Resolve is invalid during countdown.
	if e.Resolve() {
		t.Fatal("resolve during countdown should fail")
	}

	clock.Advance(10 * time.Second)
	if !e.Resolve() {
		t.Fatal("resolve from active should succeed")
	}

	event, _ := e.Snapshot()
	if event.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", event.Status)
	}
	// Ambiguous ground truth: resolved never reinforces.
	if reinforced != 0 {
		t.Errorf("reinforcements = %d, want 0", reinforced)
	}
	if got := sink.statuses(); len(got) != 2 || got[1] != StatusResolved {
		t.Errorf("sink records = %v, want [active resolved]", got)
	}

	// Terminal: further transitions are no-ops.
	if e.Cancel() || e.Resolve() {
		t.Error("terminal escalation accepted a transition")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e, clock, sink, _ := startTest(t, TriggerManual)
	clock.Advance(time.Second)

	if !e.Cancel() {
		t.Fatal("first cancel should succeed")
	}
	if e.Cancel() {
		t.Error("second cancel should be a no-op")
	}
	if got := sink.statuses(); len(got) != 1 {
		t.Errorf("sink records = %v, want exactly one", got)
	}
}

func TestOnUpdateCountdownProgress(t *testing.T) {
	var mu sync.Mutex
	var remainings []int
	clock := timeutil.NewFake(time.Now())
	Start(TriggerManual, telemetry.Position{}, false, Options{
		Clock: clock,
		OnUpdate: func(event Event, remaining int) {
			mu.Lock()
			remainings = append(remainings, remaining)
			mu.Unlock()
		},
	})

	clock.Advance(3 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []int{10, 9, 8, 7}
	if len(remainings) != len(want) {
		t.Fatalf("updates = %v, want %v", remainings, want)
	}
	for i := range want {
		if remainings[i] != want[i] {
			t.Fatalf("updates = %v, want %v", remainings, want)
		}
	}
}
