// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package weather

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/telemetry"
)

// DefaultPollInterval is the fixed polling cadence.
const DefaultPollInterval = 15 * time.Minute

// RefreshDistanceKm forces a refresh when the rider moved this far from the
// position of the last fetch.
const RefreshDistanceKm = 5.0

// PositionFunc supplies the rider's last known position. ok is false when
// no fix exists yet; the poller then skips the cycle.
type PositionFunc func() (telemetry.Position, bool)

// Poller periodically fetches weather and hands snapshots to the pipeline.
// Implements suture.Service.
type Poller struct {
	provider Provider
	position PositionFunc
	deliver  func(*Snapshot)
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker[*Snapshot]

	lastFetchPos telemetry.Position
	haveFetched  bool
}

// NewPoller creates a poller. deliver runs on the poller goroutine and must
// hand off to the pipeline queue rather than process inline.
func NewPoller(provider Provider, position PositionFunc, deliver func(*Snapshot), interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	settings := gobreaker.Settings{
		Name:    "weather-fetch",
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Poller{
		provider: provider,
		position: position,
		deliver:  deliver,
		interval: interval,
		breaker:  gobreaker.NewCircuitBreaker[*Snapshot](settings),
	}
}

// Serve polls until the context is cancelled. Between full intervals it
// checks every 30 seconds whether the rider moved far enough to force a
// refresh.
func (p *Poller) Serve(ctx context.Context) error {
	p.fetch(ctx)

	interval := time.NewTicker(p.interval)
	defer interval.Stop()
	movement := time.NewTicker(30 * time.Second)
	defer movement.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interval.C:
			p.fetch(ctx)
		case <-movement.C:
			if p.movedBeyondThreshold() {
				p.fetch(ctx)
			}
		}
	}
}

func (p *Poller) movedBeyondThreshold() bool {
	if !p.haveFetched {
		return false
	}
	pos, ok := p.position()
	if !ok {
		return false
	}
	return telemetry.DistanceKm(p.lastFetchPos, pos) > RefreshDistanceKm
}

// fetch runs one guarded fetch. Failures are swallowed; the rider's local
// state never depends on weather being available.
func (p *Poller) fetch(ctx context.Context) {
	pos, ok := p.position()
	if !ok {
		return
	}

	snapshot, err := p.breaker.Execute(func() (*Snapshot, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		return p.provider.Fetch(fetchCtx, pos)
	})
	if err != nil {
		metrics.WeatherFetches.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Msg("weather fetch failed")
		return
	}

	p.lastFetchPos = pos
	p.haveFetched = true
	metrics.WeatherFetches.WithLabelValues("ok").Inc()

	logging.Debug().
		Float64("lat", pos.Latitude).
		Float64("lng", pos.Longitude).
		Msg("weather snapshot fetched")

	if p.deliver != nil {
		p.deliver(snapshot)
	}
}

// String names the service in the supervision tree.
func (p *Poller) String() string { return "weather-poller" }
