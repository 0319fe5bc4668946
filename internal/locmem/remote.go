// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package locmem

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/outrider-app/outrider/internal/logging"
)

// UpsertSubject is the request-reply subject for remote cell upserts. The
// remote store merges by taking the max of each counter and replies with
// its merged copy.
const UpsertSubject = "outrider.locmem.upsert"

// upsertRequest is the wire format for a remote upsert.
type upsertRequest struct {
	DeviceID string `json:"device_id"`
	Cell     Memory `json:"cell"`
}

// NATSSyncer syncs cells to a remote store over NATS request-reply, guarded
// by a circuit breaker so a flapping uplink cannot pile up goroutines.
type NATSSyncer struct {
	conn    *nats.Conn
	breaker *gobreaker.CircuitBreaker[*Memory]
}

// NewNATSSyncer creates a syncer on an established connection.
func NewNATSSyncer(conn *nats.Conn) *NATSSyncer {
	settings := gobreaker.Settings{
		Name:        "locmem-sync",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("sync circuit breaker state change")
		},
	}
	return &NATSSyncer{
		conn:    conn,
		breaker: gobreaker.NewCircuitBreaker[*Memory](settings),
	}
}

// Upsert pushes one cell and returns the remote's merged copy. Returns an
// error when the breaker is open or the uplink is down; callers treat any
// error as "sync later", the local copy stays authoritative.
func (s *NATSSyncer) Upsert(ctx context.Context, deviceID string, mem Memory) (*Memory, error) {
	return s.breaker.Execute(func() (*Memory, error) {
		payload, err := json.Marshal(upsertRequest{DeviceID: deviceID, Cell: mem})
		if err != nil {
			return nil, fmt.Errorf("marshal upsert: %w", err)
		}

		msg, err := s.conn.RequestWithContext(ctx, UpsertSubject, payload)
		if err != nil {
			return nil, fmt.Errorf("upsert request: %w", err)
		}

		var merged Memory
		if err := json.Unmarshal(msg.Data, &merged); err != nil {
			return nil, fmt.Errorf("unmarshal merged cell: %w", err)
		}
		return &merged, nil
	})
}
