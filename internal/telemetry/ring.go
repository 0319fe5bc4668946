// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package telemetry

import "math"

// Ring is a fixed-capacity ring buffer for float64 values with incremental
// mean/variance. The fatigue estimator and confidence scorer both maintain
// bounded rolling windows over motion signals; a ring keeps those windows at
// O(1) per sample with no allocation after construction.
type Ring struct {
	data   []float64
	pos    int
	full   bool
	sum    float64
	sumSq  float64
	bounds int
}

// NewRing creates a Ring with the given capacity. Capacity must be positive;
// a non-positive capacity is coerced to 1.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		data:   make([]float64, capacity),
		bounds: capacity,
	}
}

// Push adds a value, evicting the oldest when the buffer is full.
func (r *Ring) Push(v float64) {
	if r.full {
		old := r.data[r.pos]
		r.sum -= old
		r.sumSq -= old * old
	}
	r.data[r.pos] = v
	r.sum += v
	r.sumSq += v * v

	r.pos++
	if r.pos >= r.bounds {
		r.pos = 0
		r.full = true
	}
}

// Len returns the number of values currently in the buffer.
func (r *Ring) Len() int {
	if r.full {
		return r.bounds
	}
	return r.pos
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return r.bounds
}

// Mean returns the arithmetic mean of buffered values, or 0 when empty.
func (r *Ring) Mean() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	return r.sum / float64(n)
}

// Variance returns the population variance of buffered values, or 0 when
// fewer than two values are present. The incremental sums can drift slightly
// negative from float cancellation; the result is floored at zero.
func (r *Ring) Variance() float64 {
	n := r.Len()
	if n < 2 {
		return 0
	}
	mean := r.sum / float64(n)
	v := r.sumSq/float64(n) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation of buffered values.
func (r *Ring) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// Last returns the most recently pushed value, or 0 when empty.
func (r *Ring) Last() float64 {
	if r.Len() == 0 {
		return 0
	}
	idx := r.pos - 1
	if idx < 0 {
		idx = r.bounds - 1
	}
	return r.data[idx]
}

// Values returns the buffered values in insertion order.
func (r *Ring) Values() []float64 {
	n := r.Len()
	out := make([]float64, n)
	if r.full {
		copy(out, r.data[r.pos:])
		copy(out[r.bounds-r.pos:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Reset clears the buffer.
func (r *Ring) Reset() {
	r.pos = 0
	r.full = false
	r.sum = 0
	r.sumSq = 0
}
