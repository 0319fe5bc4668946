// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package notify abstracts the rider-facing output channels: spoken prompts
// and haptic feedback. The core fires these and forgets them; a notifier must
// never propagate failures back into the detection pipeline. When the
// underlying capability is absent the package degrades to a silent no-op.
package notify

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/outrider-app/outrider/internal/logging"
)

// Pattern identifies a haptic feedback pattern. The concrete waveforms live
// in the platform layer; the core only picks which one.
type Pattern string

const (
	// PatternStandard is the default alert buzz.
	PatternStandard Pattern = "standard"

	// PatternStrong is the reinforced pattern for moderate/severe nudges
	// and high-severity alerts.
	PatternStrong Pattern = "strong"

	// PatternSOS is the strongest pattern, reserved for critical events and
	// emergency activation.
	PatternSOS Pattern = "sos"
)

// Notifier delivers voice and haptic output to the rider.
//
// Implementations must be non-blocking and must never panic or return errors
// into callers: the detector pipeline treats notification as fire-and-forget.
type Notifier interface {
	// Speak utters the phrase identified by messageKey. langOverride selects
	// a language ("en", "hi", "ta", ...); empty uses the configured default.
	Speak(messageKey string, langOverride string)

	// Vibrate plays the given haptic pattern.
	Vibrate(pattern Pattern)
}

// Noop is the silent notifier used when no voice/haptic capability exists.
type Noop struct{}

// Speak does nothing.
func (Noop) Speak(string, string) {}

// Vibrate does nothing.
func (Noop) Vibrate(Pattern) {}

// Paced wraps a Notifier with a rate limiter so bursts of detections do not
// queue up overlapping speech. Dropped utterances are logged at debug level;
// haptics pass through unthrottled since patterns are short.
type Paced struct {
	inner   Notifier
	limiter *rate.Limiter
}

// NewPaced wraps inner, allowing at most one utterance per minInterval with a
// small burst allowance.
func NewPaced(inner Notifier, perSecond float64, burst int) *Paced {
	if perSecond <= 0 {
		perSecond = 0.5 // one utterance per 2s
	}
	if burst <= 0 {
		burst = 2
	}
	return &Paced{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Speak forwards to the wrapped notifier if the limiter allows it.
func (p *Paced) Speak(messageKey string, langOverride string) {
	if !p.limiter.Allow() {
		logging.Debug().Str("key", messageKey).Msg("utterance dropped by pacing limiter")
		return
	}
	p.inner.Speak(messageKey, langOverride)
}

// Vibrate forwards unconditionally.
func (p *Paced) Vibrate(pattern Pattern) {
	p.inner.Vibrate(pattern)
}

// WaitSpeak blocks until the limiter allows an utterance or ctx is done.
// Used by the confirmation dialogue, where the prompt must not be dropped.
func (p *Paced) WaitSpeak(ctx context.Context, messageKey string, langOverride string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	p.inner.Speak(messageKey, langOverride)
}

var (
	_ Notifier = Noop{}
	_ Notifier = (*Paced)(nil)
)
