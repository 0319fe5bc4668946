// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package timeutil

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	clock := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var order []int
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })

	clock.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callbacks fired out of order: %v", order)
	}
}

func TestFakeAdvancePartial(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))

	fired := false
	clock.AfterFunc(10*time.Second, func() { fired = true })

	clock.Advance(9 * time.Second)
	if fired {
		t.Error("timer fired before deadline")
	}
	clock.Advance(1 * time.Second)
	if !fired {
		t.Error("timer did not fire at deadline")
	}
}

func TestFakeTimerStop(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("first Stop should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	clock.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer must not fire")
	}
}

func TestFakeCallbackSchedulesTimer(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))

	var ticks int
	var tick func()
	tick = func() {
		ticks++
		if ticks < 3 {
			clock.AfterFunc(time.Second, tick)
		}
	}
	clock.AfterFunc(time.Second, tick)

	clock.Advance(10 * time.Second)
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	timer := Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
	timer.Stop()
}
