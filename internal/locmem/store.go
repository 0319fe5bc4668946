// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package locmem is the learned location memory: a durable mapping from
// quantized geographic cells to accumulated false-alarm and true-alarm
// counts. It is the sole negative-feedback path that lets the scorer learn
// that a spot is noisy.
//
// The local BadgerDB copy is authoritative. Remote sync is opportunistic
// and fire-and-forget; a merge takes the max of each counter so counts are
// monotonically non-decreasing across any sequence of operations.
package locmem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
)

// CellPrecision is the number of decimals a coordinate is rounded to when
// forming a cell id, roughly 11 meters. Memory keys are not portable across
// precisions, so this is fixed per deployment.
const CellPrecision = 4

// DefaultRetention is how long an untouched cell is kept before cleanup.
const DefaultRetention = 30 * 24 * time.Hour

// signatureEventLimit bounds the recent event types kept per cell.
const signatureEventLimit = 10

var (
	ErrStoreClosed = errors.New("locmem: store closed")
)

// CellID quantizes a coordinate pair into a cell key.
func CellID(lat, lng float64) string {
	return strconv.FormatFloat(round(lat), 'f', CellPrecision, 64) + "," +
		strconv.FormatFloat(round(lng), 'f', CellPrecision, 64)
}

func round(v float64) float64 {
	scale := math.Pow10(CellPrecision)
	return math.Round(v*scale) / scale
}

// SensorSignature is a running average of the motion context at alarm time,
// plus the most recent event types seen in the cell.
type SensorSignature struct {
	AccelVariance       float64  `json:"accel_variance"`
	OrientationVariance float64  `json:"orientation_variance"`
	SampleCount         int      `json:"sample_count"`
	RecentEventTypes    []string `json:"recent_event_types,omitempty"`
}

// merge folds a new observation into the running averages.
func (s *SensorSignature) merge(obs SensorSignature) {
	n := float64(s.SampleCount)
	s.AccelVariance = (s.AccelVariance*n + obs.AccelVariance) / (n + 1)
	s.OrientationVariance = (s.OrientationVariance*n + obs.OrientationVariance) / (n + 1)
	s.SampleCount++

	s.RecentEventTypes = append(s.RecentEventTypes, obs.RecentEventTypes...)
	if len(s.RecentEventTypes) > signatureEventLimit {
		s.RecentEventTypes = s.RecentEventTypes[len(s.RecentEventTypes)-signatureEventLimit:]
	}
}

// Memory is one cell's accumulated outcome history.
type Memory struct {
	CellID          string           `json:"cell_id"`
	FalseAlarmCount int64            `json:"false_alarm_count"`
	TrueAlarmCount  int64            `json:"true_alarm_count"`
	LastTriggered   time.Time        `json:"last_triggered"`
	Signature       *SensorSignature `json:"signature,omitempty"`
	Synced          bool             `json:"synced"`
}

// Total returns the combined alarm count.
func (m *Memory) Total() int64 {
	return m.FalseAlarmCount + m.TrueAlarmCount
}

// Merge takes the max of each counter against a remote copy and keeps the
// later trigger time. Counters never decrease through a merge.
func (m *Memory) Merge(remote Memory) {
	if remote.FalseAlarmCount > m.FalseAlarmCount {
		m.FalseAlarmCount = remote.FalseAlarmCount
	}
	if remote.TrueAlarmCount > m.TrueAlarmCount {
		m.TrueAlarmCount = remote.TrueAlarmCount
	}
	if remote.LastTriggered.After(m.LastTriggered) {
		m.LastTriggered = remote.LastTriggered
	}
}

// Syncer pushes a cell to the remote store keyed by (device, cell) and
// returns the merged remote copy when available. Implementations must be
// safe for concurrent use.
type Syncer interface {
	Upsert(ctx context.Context, deviceID string, mem Memory) (*Memory, error)
}

// Config configures the store.
type Config struct {
	// Path is the BadgerDB directory. Empty with InMemory unset is invalid.
	Path string `koanf:"path"`

	// InMemory runs BadgerDB without disk persistence. Tests only.
	InMemory bool `koanf:"in_memory"`

	// DeviceID keys the remote copy.
	DeviceID string `koanf:"device_id"`

	// Retention is how long untouched cells survive cleanup.
	Retention time.Duration `koanf:"retention"`

	// SyncTimeout bounds one remote upsert.
	SyncTimeout time.Duration `koanf:"sync_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Retention:   DefaultRetention,
		SyncTimeout: 5 * time.Second,
	}
}

// Store is the badger-backed cell store. Reads come from the scorer, writes
// from the confirmation and emergency state machines; writes are serialized
// per store by the update mutex because reinforcement is read-modify-write.
type Store struct {
	db     *badger.DB
	config Config
	syncer Syncer

	updateMu sync.Mutex

	closeMu sync.RWMutex
	closed  bool

	syncWG sync.WaitGroup
}

// Open creates or opens the store at the configured path. A nil syncer
// disables remote sync.
func Open(cfg Config, syncer Syncer) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("locmem: path required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 5 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{db: db, config: cfg, syncer: syncer}

	logging.Info().
		Str("path", cfg.Path).
		Str("device_id", cfg.DeviceID).
		Dur("retention", cfg.Retention).
		Msg("location memory opened")
	return s, nil
}

// Adjustment returns the learned confidence adjustment for a coordinate,
// in [-30, 0]. Unknown cells and cells with no recorded outcomes return 0.
// Cells with fewer than 3 outcomes get a gentle adjustment, established
// cells a strong one.
func (s *Store) Adjustment(lat, lng float64) int {
	mem, err := s.Get(CellID(lat, lng))
	if err != nil || mem == nil {
		return 0
	}

	total := mem.Total()
	if total == 0 {
		return 0
	}
	falseRatio := float64(mem.FalseAlarmCount) / float64(total)

	var adjustment int
	if total < 3 {
		adjustment = -int(math.Round(falseRatio * 10))
	} else {
		adjustment = -int(math.Round(falseRatio * 30))
	}
	if adjustment < -30 {
		adjustment = -30
	}
	return adjustment
}

// CellID implements the scorer's LocationAdjuster contract.
func (s *Store) CellID(lat, lng float64) string {
	return CellID(lat, lng)
}

// Hazard flagging thresholds: a cell needs at least this many confirmed
// incidents, and they must account for at least half its history.
const (
	hazardMinTrueAlarms = 2
	hazardMinTrueRatio  = 0.5
)

// Hazardous reports whether the coordinate's cell has an outcome history
// dominated by confirmed incidents. Consulted on cell entry to warn the
// rider; unknown cells are never hazardous.
func (s *Store) Hazardous(lat, lng float64) bool {
	mem, err := s.Get(CellID(lat, lng))
	if err != nil || mem == nil {
		return false
	}
	if mem.TrueAlarmCount < hazardMinTrueAlarms {
		return false
	}
	return float64(mem.TrueAlarmCount) >= hazardMinTrueRatio*float64(mem.Total())
}

// RecordFalseAlarm increments the false alarm counter for the coordinate's
// cell and kicks off a best-effort remote sync. Fire-and-forget: errors are
// logged, never returned to the caller's escalation path.
func (s *Store) RecordFalseAlarm(lat, lng float64, signature *SensorSignature) {
	s.record(lat, lng, signature, true)
}

// RecordTrueAlarm increments the true alarm counter for the coordinate's
// cell.
func (s *Store) RecordTrueAlarm(lat, lng float64, signature *SensorSignature) {
	s.record(lat, lng, signature, false)
}

func (s *Store) record(lat, lng float64, signature *SensorSignature, falseAlarm bool) {
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return
	}
	s.closeMu.RUnlock()

	cellID := CellID(lat, lng)

	s.updateMu.Lock()
	mem, err := s.getLocked(cellID)
	if err != nil {
		s.updateMu.Unlock()
		logging.Error().Err(err).Str("cell", cellID).Msg("location memory read failed")
		return
	}
	if mem == nil {
		mem = &Memory{CellID: cellID}
	}

	if falseAlarm {
		mem.FalseAlarmCount++
	} else {
		mem.TrueAlarmCount++
	}
	mem.LastTriggered = time.Now().UTC()
	mem.Synced = false
	if signature != nil {
		if mem.Signature == nil {
			mem.Signature = &SensorSignature{}
		}
		mem.Signature.merge(*signature)
	}

	err = s.putLocked(mem)
	s.updateMu.Unlock()
	if err != nil {
		logging.Error().Err(err).Str("cell", cellID).Msg("location memory write failed")
		return
	}

	logging.Debug().
		Str("cell", cellID).
		Bool("false_alarm", falseAlarm).
		Int64("false_count", mem.FalseAlarmCount).
		Int64("true_count", mem.TrueAlarmCount).
		Msg("location memory reinforced")

	s.syncAsync(*mem)
}

// Get returns the memory for a cell, or nil when unknown.
func (s *Store) Get(cellID string) (*Memory, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.getLocked(cellID)
}

func (s *Store) getLocked(cellID string) (*Memory, error) {
	var mem *Memory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cellID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var m Memory
			if err := json.Unmarshal(val, &m); err != nil {
				return fmt.Errorf("unmarshal cell: %w", err)
			}
			mem = &m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (s *Store) putLocked(mem *Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal cell: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(mem.CellID), data)
	})
}

// syncAsync pushes the cell to the remote store without blocking the
// caller. A merged remote copy folds back into the local cell.
func (s *Store) syncAsync(mem Memory) {
	if s.syncer == nil {
		return
	}

	s.syncWG.Add(1)
	go func() {
		defer s.syncWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.SyncTimeout)
		defer cancel()

		remote, err := s.syncer.Upsert(ctx, s.config.DeviceID, mem)
		if err != nil {
			// Local copy stays authoritative; the next write retries.
			metrics.SyncFailures.Inc()
			logging.Warn().Err(err).Str("cell", mem.CellID).Msg("location memory sync failed")
			return
		}

		s.updateMu.Lock()
		defer s.updateMu.Unlock()

		s.closeMu.RLock()
		closed := s.closed
		s.closeMu.RUnlock()
		if closed {
			return
		}

		current, err := s.getLocked(mem.CellID)
		if err != nil || current == nil {
			return
		}
		if remote != nil {
			current.Merge(*remote)
		}
		current.Synced = true
		if err := s.putLocked(current); err != nil {
			logging.Warn().Err(err).Str("cell", mem.CellID).Msg("location memory merge write failed")
		}
	}()
}

// Cells returns all stored cells, for the admin API.
func (s *Store) Cells() ([]*Memory, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var cells []*Memory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var m Memory
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping malformed cell")
				continue
			}
			cells = append(cells, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}

	metrics.LocationCells.Set(float64(len(cells)))
	return cells, nil
}

// Cleanup deletes cells whose last trigger is older than the retention
// window. This is the only path that removes learned history.
func (s *Store) Cleanup(now time.Time) (int, error) {
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.closeMu.RUnlock()

	cutoff := now.Add(-s.config.Retention)

	cells, err := s.Cells()
	if err != nil {
		return 0, err
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	removed := 0
	for _, mem := range cells {
		if !mem.LastTriggered.Before(cutoff) {
			continue
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(mem.CellID))
		})
		if err != nil {
			logging.Warn().Err(err).Str("cell", mem.CellID).Msg("cell cleanup failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("location memory cleanup")
	}
	return removed, nil
}

// Close waits for in-flight syncs and closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.syncWG.Wait()
	return s.db.Close()
}
