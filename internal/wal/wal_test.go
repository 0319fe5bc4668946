// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package wal

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.SyncWrites = false
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWriteConfirmCompact(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	id, err := w.Write(ctx, testEvent{ID: "r1", Kind: "risk_event"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	pending, err := w.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %v, want the written entry", pending)
	}

	var got testEvent
	if err := pending[0].UnmarshalPayload(&got); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if got.ID != "r1" {
		t.Errorf("payload id = %q", got.ID)
	}

	if err := w.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	pending, _ = w.GetPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending after confirm = %d, want 0", len(pending))
	}

	removed, err := w.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if removed != 1 {
		t.Errorf("compacted = %d, want 1", removed)
	}

	stats := w.Stats()
	if stats.TotalWrites != 1 || stats.TotalConfirms != 1 || stats.PendingCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConfirmUnknownEntry(t *testing.T) {
	w := openTestWAL(t)
	if err := w.Confirm(context.Background(), "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Confirm unknown = %v, want ErrEntryNotFound", err)
	}
}

func TestMarkAttempt(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	id, err := w.Write(ctx, testEvent{ID: "r2"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.MarkAttempt(ctx, id, "uplink down"); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}

	pending, _ := w.GetPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "uplink down" {
		t.Errorf("entry = %+v", pending[0])
	}
	if w.Stats().TotalRetries != 1 {
		t.Errorf("retries = %d, want 1", w.Stats().TotalRetries)
	}
}

func TestGetPendingOldestFirst(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := w.Write(ctx, testEvent{ID: string(rune('a' + i))}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	pending, err := w.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Fatal("entries not ordered oldest first")
		}
	}
}

func TestNilEventRejected(t *testing.T) {
	w := openTestWAL(t)
	if _, err := w.Write(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Errorf("Write(nil) = %v, want ErrNilEvent", err)
	}
}

func TestClosedWAL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.SyncWrites = false
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := w.Write(ctx, testEvent{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
	if _, err := w.GetPending(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("GetPending after close = %v, want ErrClosed", err)
	}
}
