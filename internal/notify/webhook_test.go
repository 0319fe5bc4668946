// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestWebhookNotifierSend(t *testing.T) {
	var received atomic.Int64
	var lastBody atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL:  server.URL,
		Enabled:     true,
		RateLimitMs: 1,
	})

	err := n.Send(context.Background(), "risk_event", map[string]string{"type": "fall_detected"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if received.Load() != 1 {
		t.Fatalf("received = %d, want 1", received.Load())
	}

	body := lastBody.Load().(string)
	if !strings.Contains(body, `"event_type":"risk_event"`) {
		t.Errorf("payload missing event_type: %s", body)
	}
	if !strings.Contains(body, `"source":"outrider"`) {
		t.Errorf("payload missing source: %s", body)
	}
}

func TestWebhookNotifierRateLimit(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL:  server.URL,
		Enabled:     true,
		RateLimitMs: 60000,
	})

	for i := 0; i < 5; i++ {
		_ = n.Send(context.Background(), "risk_event", nil)
	}
	if received.Load() != 1 {
		t.Errorf("received = %d, want 1 (rate limited)", received.Load())
	}
}

func TestWebhookNotifierDisabled(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{WebhookURL: "http://127.0.0.1:0", Enabled: false})
	if n.Enabled() {
		t.Error("notifier should be disabled")
	}
	if err := n.Send(context.Background(), "risk_event", nil); err != nil {
		t.Errorf("disabled Send should be a no-op, got %v", err)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: server.URL, Enabled: true, RateLimitMs: 1})
	if err := n.Send(context.Background(), "risk_event", nil); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestPacedDropsBurst(t *testing.T) {
	rec := &recordingNotifier{}
	p := NewPaced(rec, 0.001, 1) // effectively one utterance then closed

	p.Speak("nudge.mild.1", "")
	p.Speak("nudge.mild.2", "")
	p.Speak("nudge.mild.3", "")

	if got := len(rec.spoken); got != 1 {
		t.Errorf("spoken = %d, want 1", got)
	}

	// Haptics are never throttled.
	p.Vibrate(PatternStrong)
	p.Vibrate(PatternStrong)
	if got := len(rec.patterns); got != 2 {
		t.Errorf("patterns = %d, want 2", got)
	}
}

type recordingNotifier struct {
	spoken   []string
	patterns []Pattern
}

func (r *recordingNotifier) Speak(key, lang string) {
	r.spoken = append(r.spoken, key)
}

func (r *recordingNotifier) Vibrate(p Pattern) {
	r.patterns = append(r.patterns, p)
}

func TestPacedDefaultRate(t *testing.T) {
	rec := &recordingNotifier{}
	// Zero arguments select the defaults: 0.5 utterances/s with burst 2.
	p := NewPaced(rec, 0, 0)

	p.Speak("alert.fall", "")
	p.Speak("alert.speed", "")
	p.Speak("alert.idle", "")

	if got := len(rec.spoken); got != 2 {
		t.Errorf("spoken = %d, want burst of 2", got)
	}
}

func TestNoopDoesNothing(t *testing.T) {
	// Must not panic.
	var n Notifier = Noop{}
	n.Speak("anything", "en")
	n.Vibrate(PatternSOS)
}
