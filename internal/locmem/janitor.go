// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package locmem

import (
	"context"
	"time"

	"github.com/outrider-app/outrider/internal/logging"
)

// DefaultSweepInterval is how often the janitor sweeps expired cells.
const DefaultSweepInterval = 12 * time.Hour

// Janitor periodically expires cells past the store's retention window.
// Implements suture.Service.
type Janitor struct {
	store    *Store
	interval time.Duration
}

// NewJanitor creates a janitor for the store. A non-positive interval
// falls back to DefaultSweepInterval.
func NewJanitor(store *Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{store: store, interval: interval}
}

// Serve sweeps once at startup and then on every interval tick.
func (j *Janitor) Serve(ctx context.Context) error {
	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	removed, err := j.store.Cleanup(time.Now())
	if err != nil {
		logging.Warn().Err(err).Msg("location memory cleanup failed")
		return
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("expired location cells swept")
	}
}

// String names the service in the supervision tree.
func (j *Janitor) String() string { return "locmem-janitor" }
