// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package telemetry

import (
	"math"
	"testing"
)

func TestRingPushEviction(t *testing.T) {
	r := NewRing(3)

	r.Push(1)
	r.Push(2)
	r.Push(3)
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	// Fourth push evicts the oldest
	r.Push(4)
	if r.Len() != 3 {
		t.Fatalf("Len after overflow = %d, want 3", r.Len())
	}

	values := r.Values()
	want := []float64{2, 3, 4}
	for i, v := range want {
		if values[i] != v {
			t.Errorf("Values()[%d] = %v, want %v", i, values[i], v)
		}
	}
}

func TestRingMeanVariance(t *testing.T) {
	tests := []struct {
		name         string
		values       []float64
		wantMean     float64
		wantVariance float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{5}, 5, 0},
		{"uniform", []float64{4, 4, 4, 4}, 4, 0},
		{"spread", []float64{2, 4, 6, 8}, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(10)
			for _, v := range tt.values {
				r.Push(v)
			}
			if got := r.Mean(); math.Abs(got-tt.wantMean) > 1e-9 {
				t.Errorf("Mean = %v, want %v", got, tt.wantMean)
			}
			if got := r.Variance(); math.Abs(got-tt.wantVariance) > 1e-9 {
				t.Errorf("Variance = %v, want %v", got, tt.wantVariance)
			}
		})
	}
}

func TestRingVarianceUsesWindowOnly(t *testing.T) {
	r := NewRing(2)
	r.Push(1000) // will be evicted
	r.Push(3)
	r.Push(5)

	if got := r.Mean(); math.Abs(got-4) > 1e-9 {
		t.Errorf("Mean after eviction = %v, want 4", got)
	}
	if got := r.Variance(); math.Abs(got-1) > 1e-9 {
		t.Errorf("Variance after eviction = %v, want 1", got)
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing(2)
	if r.Last() != 0 {
		t.Errorf("Last on empty = %v, want 0", r.Last())
	}
	r.Push(7)
	r.Push(9)
	r.Push(11) // wraps
	if r.Last() != 11 {
		t.Errorf("Last = %v, want 11", r.Last())
	}
}

func TestRingReset(t *testing.T) {
	r := NewRing(4)
	r.Push(1)
	r.Push(2)
	r.Reset()
	if r.Len() != 0 || r.Mean() != 0 || r.Variance() != 0 {
		t.Errorf("Reset did not clear state: len=%d mean=%v var=%v", r.Len(), r.Mean(), r.Variance())
	}
}

func TestNewRingCoercesCapacity(t *testing.T) {
	r := NewRing(0)
	if r.Cap() != 1 {
		t.Errorf("Cap = %d, want 1", r.Cap())
	}
}
