// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	// DuckDB driver for the analytics store.
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/logging"
)

// MessageSource abstracts the subscriber side of the uplink so tests can
// feed messages without a broker.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
    id          VARCHAR PRIMARY KEY,
    kind        VARCHAR NOT NULL,
    device_id   VARCHAR NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    payload     JSON NOT NULL,
    received_at TIMESTAMP NOT NULL
)`

// ConsumerStats reports consumer progress.
type ConsumerStats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Consumer drains uplinked records into DuckDB. Records are upserted by
// id, so WAL redeliveries are harmless.
type Consumer struct {
	db     *sql.DB
	source MessageSource

	mu    sync.Mutex
	stats ConsumerStats
}

// NewConsumer opens (or creates) the DuckDB store at path and prepares
// the records table. An empty path opens an in-memory database.
func NewConsumer(path string, source MessageSource) (*Consumer, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if _, err := db.Exec(recordsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Consumer{db: db, source: source}, nil
}

// Serve subscribes to the records topic and processes messages until the
// context ends. Implements suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.source.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			c.handle(ctx, msg)
		}
	}
}

// String names the service in the supervision tree.
func (c *Consumer) String() string { return "sink-consumer" }

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	var record Record
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable record")
		c.markFailed()
		msg.Ack()
		return
	}

	if err := c.Upsert(ctx, &record); err != nil {
		logging.Warn().Err(err).Str("record_id", record.ID).Msg("record upsert failed")
		c.markFailed()
		msg.Nack()
		return
	}

	c.mu.Lock()
	c.stats.Processed++
	c.mu.Unlock()
	msg.Ack()
}

// Upsert inserts the record, replacing any previous delivery of the same
// id.
func (c *Consumer) Upsert(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record missing id")
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO records (id, kind, device_id, created_at, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind        = excluded.kind,
			device_id   = excluded.device_id,
			created_at  = excluded.created_at,
			payload     = excluded.payload,
			received_at = excluded.received_at`,
		record.ID, string(record.Kind), record.DeviceID,
		record.CreatedAt.UTC(), string(record.Payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", record.ID, err)
	}
	return nil
}

// Count returns how many records of the given kind are stored. An empty
// kind counts everything.
func (c *Consumer) Count(ctx context.Context, kind Kind) (int64, error) {
	var (
		n   int64
		err error
	)
	if kind == "" {
		err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	} else {
		err = c.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM records WHERE kind = ?`, string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Stats returns a copy of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) markFailed() {
	c.mu.Lock()
	c.stats.Failed++
	c.mu.Unlock()
}

// Close releases the DuckDB handle.
func (c *Consumer) Close() error {
	return c.db.Close()
}
