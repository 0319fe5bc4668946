// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package fatigue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/notify"
)

// NudgeCooldown is the minimum interval between advisory nudges.
const NudgeCooldown = 5 * time.Minute

// nudgeKeys maps a band to its pre-authored phrase keys. The voice
// collaborator resolves keys per language, so the same key set serves
// every supported language.
var nudgeKeys = map[Band][]string{
	BandMild: {
		"nudge.mild.stretch",
		"nudge.mild.water",
		"nudge.mild.breathe",
	},
	BandModerate: {
		"nudge.moderate.break",
		"nudge.moderate.shade",
		"nudge.moderate.slow_down",
	},
	BandSevere: {
		"nudge.severe.stop_now",
		"nudge.severe.rest_urgent",
	},
}

// Nudger emits at most one advisory nudge per cooldown window, matched to
// the rider's current band. Mild nudges are voice only; moderate and severe
// add a stronger haptic pattern.
type Nudger struct {
	mu sync.Mutex

	notifier  notify.Notifier
	cooldown  time.Duration
	lastNudge time.Time
	language  string
	rng       *rand.Rand
}

// NewNudger creates a nudger with the standard cooldown. The language
// override is passed through to the voice collaborator; empty means the
// device default.
func NewNudger(notifier notify.Notifier, language string) *Nudger {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Nudger{
		notifier: notifier,
		cooldown: NudgeCooldown,
		language: language,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // phrase selection needs no crypto rand
	}
}

// SetCooldown overrides the nudge cooldown. Used by tests and config.
func (n *Nudger) SetCooldown(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d > 0 {
		n.cooldown = d
	}
}

// SetLanguage updates the language override for subsequent nudges.
func (n *Nudger) SetLanguage(language string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.language = language
}

// OnTick evaluates the current band on the periodic tick and emits a nudge
// when the band warrants one and the cooldown has elapsed. Returns true when
// a nudge was emitted.
func (n *Nudger) OnTick(now time.Time, band Band) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if band == BandNone {
		return false
	}
	if !n.lastNudge.IsZero() && now.Sub(n.lastNudge) < n.cooldown {
		return false
	}

	keys := nudgeKeys[band]
	if len(keys) == 0 {
		return false
	}
	key := keys[n.rng.Intn(len(keys))]

	n.notifier.Speak(key, n.language)
	if band != BandMild {
		n.notifier.Vibrate(notify.PatternStrong)
	}

	n.lastNudge = now
	metrics.NudgesTotal.WithLabelValues(string(band)).Inc()
	logging.Debug().Str("band", string(band)).Str("key", key).Msg("nudge emitted")
	return true
}

// Reset clears the cooldown at ride boundaries.
func (n *Nudger) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastNudge = time.Time{}
}
