// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/timeutil"
)

// Outcome is a session's terminal result.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeDanger    Outcome = "danger"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Session states.
type state int

const (
	stateIdle state = iota
	stateListening
	stateDone
)

// Listener is the speech engine abstraction. Start begins one listening
// attempt; the engine reports transcripts as they form and calls onEnd
// exactly once when the attempt ends. A non-nil onEnd error is
// non-recoverable; a nil error means the engine simply stopped (silence)
// and may be restarted.
type Listener interface {
	Start(onTranscript func(text string), onEnd func(err error)) error
	Stop()
}

// Config configures one confirmation session.
type Config struct {
	// PromptKey is the voice line spoken on entry.
	PromptKey string

	// Language is the rider's language override for prompt and matching.
	Language string

	// StartDelay is the pause between prompt and listening.
	StartDelay time.Duration

	// Timeout is the hard wall-clock deadline for the whole session.
	Timeout time.Duration
}

// DefaultConfig returns the standard prompt timing.
func DefaultConfig() Config {
	return Config{
		PromptKey:  "confirm.are_you_ok",
		StartDelay: 500 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// Session runs one bounded-time confirmation challenge. At most one outcome
// is ever delivered; the timeout is a hard deadline independent of engine
// events, and Cancel short-circuits to a cancelled outcome from any state.
type Session struct {
	mu sync.Mutex

	config   Config
	notifier notify.Notifier
	listener Listener
	clock    timeutil.Clock
	onDone   func(Outcome)

	state      state
	cancelled  bool
	delayTimer timeutil.Timer
	deadline   timeutil.Timer
}

// NewSession creates a session. The onDone callback receives the terminal
// outcome exactly once; it runs on a timer or engine goroutine, so it must
// hand off to the pipeline rather than block.
func NewSession(cfg Config, notifier notify.Notifier, listener Listener, clock timeutil.Clock, onDone func(Outcome)) *Session {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if clock == nil {
		clock = timeutil.Real{}
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Session{
		config:   cfg,
		notifier: notifier,
		listener: listener,
		clock:    clock,
		onDone:   onDone,
	}
}

// Start speaks the prompt, arms the hard deadline, and schedules listening
// after the start delay.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return
	}
	s.state = stateListening

	s.speakPrompt()

	s.deadline = s.clock.AfterFunc(s.config.Timeout, s.onDeadline)
	s.delayTimer = s.clock.AfterFunc(s.config.StartDelay, s.beginListening)
	s.mu.Unlock()

	logging.Debug().
		Dur("timeout", s.config.Timeout).
		Str("prompt", s.config.PromptKey).
		Msg("confirmation session started")
}

// waitSpeaker is the blocking speak path a pacing notifier offers. The
// prompt must reach the rider, so a rate-limited notifier is waited on
// rather than allowed to drop it.
type waitSpeaker interface {
	WaitSpeak(ctx context.Context, messageKey string, langOverride string)
}

// speakPrompt utters the prompt. Waiting happens off the caller's goroutine
// and gives up at the session deadline.
func (s *Session) speakPrompt() {
	ws, ok := s.notifier.(waitSpeaker)
	if !ok {
		s.notifier.Speak(s.config.PromptKey, s.config.Language)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	go func() {
		defer cancel()
		ws.WaitSpeak(ctx, s.config.PromptKey, s.config.Language)
	}()
}

func (s *Session) beginListening() {
	s.mu.Lock()
	if s.state != stateListening || s.listener == nil {
		s.mu.Unlock()
		return
	}
	listener := s.listener
	s.mu.Unlock()

	if err := listener.Start(s.onTranscript, s.onEngineEnd); err != nil {
		logging.Warn().Err(err).Msg("listening engine failed to start")
		s.finalize(OutcomeTimeout)
	}
}

// onTranscript classifies each partial or final transcript. The first
// classification wins and stops listening immediately.
func (s *Session) onTranscript(text string) {
	switch Classify(text, s.config.Language) {
	case ClassDanger:
		s.finalize(OutcomeDanger)
	case ClassOK:
		s.finalize(OutcomeOK)
	default:
		// No keyword match: keep listening until the deadline rather
		// than guess.
	}
}

// onEngineEnd handles the engine stopping on its own. Silence restarts the
// attempt; a non-recoverable error finalizes as timeout.
func (s *Session) onEngineEnd(err error) {
	s.mu.Lock()
	active := s.state == stateListening && !s.cancelled
	listener := s.listener
	s.mu.Unlock()

	if !active {
		return
	}
	if err != nil {
		logging.Warn().Err(err).Msg("listening engine error")
		s.finalize(OutcomeTimeout)
		return
	}
	if startErr := listener.Start(s.onTranscript, s.onEngineEnd); startErr != nil {
		s.finalize(OutcomeTimeout)
	}
}

func (s *Session) onDeadline() {
	s.finalize(OutcomeTimeout)
}

// Cancel short-circuits to a cancelled outcome. Idempotent; safe from any
// state, including after the session already resolved.
func (s *Session) Cancel() {
	s.finalize(OutcomeCancelled)
}

// finalize resolves the session exactly once: tears down timers and the
// listening engine, then delivers the outcome.
func (s *Session) finalize(outcome Outcome) {
	s.mu.Lock()
	if s.state == stateDone {
		s.mu.Unlock()
		return
	}
	s.state = stateDone
	if outcome == OutcomeCancelled {
		s.cancelled = true
	}
	delayTimer, deadline, listener := s.delayTimer, s.deadline, s.listener
	s.mu.Unlock()

	if delayTimer != nil {
		delayTimer.Stop()
	}
	if deadline != nil {
		deadline.Stop()
	}
	if listener != nil {
		listener.Stop()
	}

	metrics.ConfirmationOutcomes.WithLabelValues(string(outcome)).Inc()
	logging.Info().Str("outcome", string(outcome)).Msg("confirmation session resolved")

	if s.onDone != nil {
		s.onDone(outcome)
	}
}

// Done reports whether the session has resolved.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDone
}
