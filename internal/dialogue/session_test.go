// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/timeutil"
)

// fakeListener drives transcripts and engine-end events by hand.
type fakeListener struct {
	mu           sync.Mutex
	starts       int
	stops        int
	startErr     error
	onTranscript func(string)
	onEnd        func(error)
}

func (f *fakeListener) Start(onTranscript func(string), onEnd func(err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.onTranscript = onTranscript
	f.onEnd = onEnd
	return nil
}

func (f *fakeListener) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeListener) hear(text string) {
	f.mu.Lock()
	cb := f.onTranscript
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (f *fakeListener) end(err error) {
	f.mu.Lock()
	cb := f.onEnd
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func newTestSession(t *testing.T) (*Session, *fakeListener, *timeutil.Fake, *outcomeRecorder) {
	t.Helper()
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	listener := &fakeListener{}
	rec := &outcomeRecorder{}
	session := NewSession(DefaultConfig(), notify.Noop{}, listener, clock, rec.record)
	return session, listener, clock, rec
}

func TestSessionClassifiesOK(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()

	clock.Advance(500 * time.Millisecond)
	if listener.starts != 1 {
		t.Fatalf("listener starts = %d, want 1 after start delay", listener.starts)
	}

	listener.hear("yes i am fine")

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeOK {
		t.Fatalf("outcomes = %v, want [ok]", got)
	}
	if !session.Done() {
		t.Error("session should be done")
	}
	if listener.stops == 0 {
		t.Error("classification should stop listening")
	}
}

func TestSessionDangerEscalates(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	listener.hear("help")

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeDanger {
		t.Fatalf("outcomes = %v, want [danger]", got)
	}
}

func TestSessionFirstClassificationWins(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	listener.hear("yes")
	listener.hear("help")

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeOK {
		t.Fatalf("outcomes = %v, want only [ok]", got)
	}
}

func TestSessionUnmatchedKeepsListening(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	listener.hear("turn left here")

	if session.Done() {
		t.Fatal("unmatched transcript must not finalize")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("outcomes = %v, want none", rec.all())
	}
}

func TestSessionHardDeadline(t *testing.T) {
	session, _, clock, rec := newTestSession(t)
	session.Start()

	// The deadline counts from Start, not from listening onset.
	clock.Advance(5 * time.Second)

	got := rec.all()
	if len(got) != 1 || got[0] != OutcomeTimeout {
		t.Fatalf("outcomes = %v, want exactly [timeout]", got)
	}

	// Later timers and engine callbacks are no-ops.
	clock.Advance(time.Minute)
	session.Cancel()
	if got := rec.all(); len(got) != 1 {
		t.Fatalf("outcomes after deadline = %v, want exactly one", got)
	}
}

func TestSessionSilenceRestartsListening(t *testing.T) {
	session, listener, clock, _ := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	// Engine ends without classifying: session restarts it.
	listener.end(nil)
	if listener.starts != 2 {
		t.Fatalf("listener starts = %d, want 2 after silent end", listener.starts)
	}
	if session.Done() {
		t.Fatal("silent engine end must not finalize")
	}
}

func TestSessionEngineErrorFinalizesTimeout(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	listener.end(errors.New("audio device lost"))

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeTimeout {
		t.Fatalf("outcomes = %v, want [timeout]", got)
	}
}

func TestSessionCancelIsIdempotent(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()
	clock.Advance(500 * time.Millisecond)

	session.Cancel()
	session.Cancel()

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeCancelled {
		t.Fatalf("outcomes = %v, want exactly [cancelled]", got)
	}

	// The deadline must not fire after cancellation.
	clock.Advance(time.Minute)
	if got := rec.all(); len(got) != 1 {
		t.Fatalf("outcomes after cancel = %v, want exactly one", got)
	}
	if listener.stops == 0 {
		t.Error("cancel should release the listening engine")
	}
}

func TestSessionCancelBeforeListening(t *testing.T) {
	session, listener, clock, rec := newTestSession(t)
	session.Start()

	// Cancel during the start delay: listening never begins.
	session.Cancel()
	clock.Advance(time.Second)

	if listener.starts != 0 {
		t.Errorf("listener starts = %d, want 0", listener.starts)
	}
	if got := rec.all(); len(got) != 1 || got[0] != OutcomeCancelled {
		t.Fatalf("outcomes = %v, want [cancelled]", got)
	}
}

func TestSessionListenerStartFailure(t *testing.T) {
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	listener := &fakeListener{startErr: errors.New("no microphone")}
	rec := &outcomeRecorder{}
	session := NewSession(DefaultConfig(), notify.Noop{}, listener, clock, rec.record)

	session.Start()
	clock.Advance(500 * time.Millisecond)

	if got := rec.all(); len(got) != 1 || got[0] != OutcomeTimeout {
		t.Fatalf("outcomes = %v, want [timeout]", got)
	}
}

// blockingSpeaker exposes the waiting speak path and records which one the
// session used.
type blockingSpeaker struct {
	mu      sync.Mutex
	direct  []string
	waited  []string
	release chan struct{}
}

func (b *blockingSpeaker) Speak(key, lang string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direct = append(b.direct, key)
}

func (b *blockingSpeaker) Vibrate(notify.Pattern) {}

func (b *blockingSpeaker) WaitSpeak(ctx context.Context, key, lang string) {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waited = append(b.waited, key)
}

func (b *blockingSpeaker) waitedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.waited...)
}

func TestSessionPromptWaitsOnPacedNotifier(t *testing.T) {
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	listener := &fakeListener{}
	rec := &outcomeRecorder{}
	speaker := &blockingSpeaker{release: make(chan struct{})}
	session := NewSession(DefaultConfig(), speaker, listener, clock, rec.record)

	session.Start()
	if len(speaker.direct) != 0 {
		t.Fatal("a waiting-capable notifier must not take the droppable path")
	}

	// The limiter frees up; the prompt still goes out.
	close(speaker.release)
	deadline := time.After(2 * time.Second)
	for len(speaker.waitedKeys()) == 0 {
		select {
		case <-deadline:
			t.Fatal("prompt never delivered through the waiting path")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := speaker.waitedKeys(); got[0] != DefaultConfig().PromptKey {
		t.Fatalf("prompt key = %q, want %q", got[0], DefaultConfig().PromptKey)
	}
}

func TestSessionPromptWaitUsesRealPacer(t *testing.T) {
	clock := timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	listener := &fakeListener{}
	rec := &outcomeRecorder{}
	inner := &recordingNotifier{}
	paced := notify.NewPaced(inner, 100, 1)
	session := NewSession(DefaultConfig(), paced, listener, clock, rec.record)

	session.Start()

	deadline := time.After(2 * time.Second)
	for len(inner.keys()) == 0 {
		select {
		case <-deadline:
			t.Fatal("paced notifier never delivered the prompt")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	spoken []string
}

func (r *recordingNotifier) Speak(key, lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spoken = append(r.spoken, key)
}

func (r *recordingNotifier) Vibrate(notify.Pattern) {}

func (r *recordingNotifier) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}
