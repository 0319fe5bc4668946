// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package wal provides durable write-ahead logging for the event sink.
// Records are persisted to BadgerDB before the uplink publish, so nothing
// is lost while the device is offline; confirmed entries are cleaned up by
// periodic compaction.
package wal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
)

var (
	ErrClosed        = errors.New("wal: closed")
	ErrNilEvent      = errors.New("wal: nil event")
	ErrEntryNotFound = errors.New("wal: entry not found")
)

// Entry is one persisted record awaiting publish confirmation.
type Entry struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats summarizes WAL state for the status API.
type Stats struct {
	PendingCount  int64     `json:"pending_count"`
	TotalWrites   int64     `json:"total_writes"`
	TotalConfirms int64     `json:"total_confirms"`
	TotalRetries  int64     `json:"total_retries"`
	LastCompacted time.Time `json:"last_compacted"`
}

// Config configures the WAL.
type Config struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// InMemory runs without disk persistence. Tests only.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites forces fsync per write. Durable but slower.
	SyncWrites bool `koanf:"sync_writes"`

	// EntryTTL bounds how long an unconfirmed entry survives. Zero keeps
	// entries until confirmed.
	EntryTTL time.Duration `koanf:"entry_ttl"`

	// CompactionInterval is how often confirmed entries are swept.
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:         true,
		CompactionInterval: 5 * time.Minute,
	}
}

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

// WAL is the badger-backed log.
type WAL struct {
	db     *badger.DB
	config Config

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu            sync.RWMutex
	closed        bool
	lastCompacted time.Time
}

// Open creates or opens the WAL.
func Open(cfg Config) (*WAL, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("wal: path required")
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = 5 * time.Minute
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("WAL opened")
	return &WAL{db: db, config: cfg, lastCompacted: time.Now()}, nil
}

// Write persists an event before publish and returns its entry id.
func (w *WAL) Write(ctx context.Context, event interface{}) (string, error) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return "", ErrClosed
	}
	w.mu.RUnlock()

	if event == nil {
		return "", ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	key := []byte(prefixPending + entry.ID)
	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if w.config.EntryTTL > 0 {
			e = e.WithTTL(w.config.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.WALWrites.Inc()
	return entry.ID, nil
}

// Confirm marks an entry as published. The confirmed copy is removed at the
// next compaction.
func (w *WAL) Confirm(ctx context.Context, entryID string) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	w.mu.RUnlock()

	pendingKey := []byte(prefixPending + entryID)
	confirmedKey := []byte(prefixConfirmed + entryID)

	return w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get pending entry: %w", err)
		}

		var data []byte
		if err := item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		if err := txn.Set(confirmedKey, data); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		if err := txn.Delete(pendingKey); err != nil {
			return fmt.Errorf("delete pending entry: %w", err)
		}

		w.totalConfirms.Add(1)
		return nil
	})
}

// MarkAttempt records one failed publish attempt on a pending entry.
func (w *WAL) MarkAttempt(ctx context.Context, entryID, lastError string) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	w.mu.RUnlock()

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		entry.Attempts++
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err == nil {
		w.totalRetries.Add(1)
		metrics.WALRetries.Inc()
	}
	return err
}

// GetPending returns all unconfirmed entries, oldest first. Used on startup
// recovery and by the retry loop.
func (w *WAL) GetPending(ctx context.Context) ([]*Entry, error) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil, ErrClosed
	}
	w.mu.RUnlock()

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping malformed WAL entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}

	sortEntriesByAge(entries)
	metrics.WALPendingEntries.Set(float64(len(entries)))
	return entries, nil
}

// Compact removes confirmed entries. Returns how many were swept.
func (w *WAL) Compact(ctx context.Context) (int, error) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return 0, ErrClosed
	}
	w.mu.RUnlock()

	var keys [][]byte
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixConfirmed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate confirmed entries: %w", err)
	}

	removed := 0
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		err := w.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			logging.Warn().Err(err).Str("key", string(key)).Msg("WAL compaction delete failed")
			continue
		}
		removed++
	}

	w.mu.Lock()
	w.lastCompacted = time.Now()
	w.mu.Unlock()

	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("WAL compacted")
	}
	return removed, nil
}

// Stats returns WAL counters.
func (w *WAL) Stats() Stats {
	w.mu.RLock()
	lastCompacted := w.lastCompacted
	closed := w.closed
	w.mu.RUnlock()

	stats := Stats{
		TotalWrites:   w.totalWrites.Load(),
		TotalConfirms: w.totalConfirms.Load(),
		TotalRetries:  w.totalRetries.Load(),
		LastCompacted: lastCompacted,
	}
	if closed {
		return stats
	}

	_ = w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.PendingCount++
		}
		return nil
	})
	return stats
}

// Close shuts the WAL down. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.db.Close()
}

func sortEntriesByAge(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
