// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/wal"
)

// PublisherConfig configures the uplink publisher.
type PublisherConfig struct {
	// URL is the NATS server address.
	URL string `koanf:"url"`

	// RetryInterval is how often pending WAL entries are republished.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// CompactionInterval is how often confirmed WAL entries are swept.
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// DefaultPublisherConfig returns production defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:                natsgo.DefaultURL,
		RetryInterval:      30 * time.Second,
		CompactionInterval: 5 * time.Minute,
	}
}

// NewNATSPublisher creates the watermill publisher for the uplink. The
// record id doubles as the NATS message id, so redeliveries deduplicate
// server-side.
func NewNATSPublisher(cfg PublisherConfig) (message.Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("uplink disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("uplink reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create uplink publisher: %w", err)
	}
	return pub, nil
}

// Publisher writes records through the WAL and publishes them to the
// uplink. A failed publish leaves the entry pending; the retry loop
// republishes it when connectivity returns. Record never returns uplink
// errors to the caller: the local WAL copy is the durability guarantee.
type Publisher struct {
	wal       *wal.WAL
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]
	config    PublisherConfig

	mu     sync.Mutex
	closed bool
}

// NewPublisher wires the WAL and the uplink publisher together. A nil pub
// keeps records local-only: entries stay pending in the WAL until the entry
// TTL sweeps them.
func NewPublisher(w *wal.WAL, pub message.Publisher, cfg PublisherConfig) *Publisher {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = 5 * time.Minute
	}
	settings := gobreaker.Settings{
		Name:    "sink-publish",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Publisher{
		wal:       w,
		publisher: pub,
		breaker:   gobreaker.NewCircuitBreaker[any](settings),
		config:    cfg,
	}
}

// Record persists a record and attempts an immediate publish.
func (p *Publisher) Record(ctx context.Context, record *Record) error {
	if record == nil {
		return wal.ErrNilEvent
	}

	entryID, err := p.wal.Write(ctx, record)
	if err != nil {
		return fmt.Errorf("wal write: %w", err)
	}
	metrics.SinkRecords.WithLabelValues(string(record.Kind)).Inc()

	p.publishEntry(ctx, entryID, record)
	return nil
}

// publishEntry attempts one publish and confirms on success. Failures are
// recorded on the entry and swallowed.
func (p *Publisher) publishEntry(ctx context.Context, entryID string, record *Record) {
	if p.publisher == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		logging.Error().Err(err).Str("record_id", record.ID).Msg("record marshal failed")
		return
	}

	msg := message.NewMessage(record.ID, data)
	msg.Metadata.Set("kind", string(record.Kind))

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(Topic, msg)
	})
	if err != nil {
		if markErr := p.wal.MarkAttempt(ctx, entryID, err.Error()); markErr != nil {
			logging.Warn().Err(markErr).Str("entry_id", entryID).Msg("mark attempt failed")
		}
		logging.Debug().Err(err).Str("record_id", record.ID).Msg("uplink publish deferred")
		return
	}

	if err := p.wal.Confirm(ctx, entryID); err != nil {
		logging.Warn().Err(err).Str("entry_id", entryID).Msg("confirm failed")
	}
}

// Flush republishes all pending entries. Called by the retry loop and on
// a connectivity-restored signal.
func (p *Publisher) Flush(ctx context.Context) {
	if p.publisher == nil {
		return
	}

	pending, err := p.wal.GetPending(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("pending scan failed")
		return
	}

	for _, entry := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var record Record
		if err := entry.UnmarshalPayload(&record); err != nil {
			logging.Warn().Err(err).Str("entry_id", entry.ID).Msg("skipping malformed pending record")
			continue
		}
		p.publishEntry(ctx, entry.ID, &record)
	}
}

// Serve runs the retry and compaction loop. Implements suture.Service.
func (p *Publisher) Serve(ctx context.Context) error {
	p.Flush(ctx)

	retry := time.NewTicker(p.config.RetryInterval)
	defer retry.Stop()
	compact := time.NewTicker(p.config.CompactionInterval)
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C:
			p.Flush(ctx)
		case <-compact.C:
			if _, err := p.wal.Compact(ctx); err != nil {
				logging.Warn().Err(err).Msg("WAL compaction failed")
			}
		}
	}
}

// String names the service in the supervision tree.
func (p *Publisher) String() string { return "sink-publisher" }

// Close releases the uplink publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}
