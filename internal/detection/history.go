// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package detection

import (
	"sync"
	"time"
)

// History is the bounded rolling window of raised events used for
// pattern-density computation. Events older than the retention window are
// pruned on append; the scorer filters the remainder as-of the event being
// scored, so an event never sees events raised after its own timestamp.
type History struct {
	mu        sync.RWMutex
	events    []*RiskEvent
	retention time.Duration
}

// NewHistory creates a history retaining events for the given window.
func NewHistory(retention time.Duration) *History {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &History{retention: retention}
}

// Append records a raised event and prunes expired entries.
func (h *History) Append(event *RiskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)
	h.pruneLocked(event.Timestamp)
}

// CountSameType returns how many events of the given type occurred in
// (asOf-window, asOf]. The event being scored is included if already appended.
func (h *History) CountSameType(riskType RiskType, window time.Duration, asOf time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := asOf.Add(-window)
	count := 0
	for _, e := range h.events {
		if e.Type != riskType {
			continue
		}
		if e.Timestamp.After(cutoff) && !e.Timestamp.After(asOf) {
			count++
		}
	}
	return count
}

// CountAll returns the total number of retained events as of the given time.
func (h *History) CountAll(asOf time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, e := range h.events {
		if !e.Timestamp.After(asOf) {
			count++
		}
	}
	return count
}

// Recent returns up to limit most recent events, newest first.
func (h *History) Recent(limit int) []*RiskEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*RiskEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.events[i])
	}
	return out
}

// LastOfType returns the most recent event of the given type, or nil.
func (h *History) LastOfType(riskType RiskType) *RiskEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type == riskType {
			return h.events[i]
		}
	}
	return nil
}

// Reset clears the history at ride boundaries.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// pruneLocked drops events older than the retention window relative to now.
func (h *History) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.retention)
	idx := 0
	for idx < len(h.events) && h.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		h.events = append(h.events[:0], h.events[idx:]...)
	}
}
