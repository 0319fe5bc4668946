// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package dialogue

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		language   string
		want       Classification
	}{
		{"exact ok", "yes", "en", ClassOK},
		{"exact danger", "help", "en", ClassDanger},
		{"short keyword substring", "ok fine thanks", "en", ClassOK},
		{"long keyword one typo", "emergancy", "en", ClassDanger},
		{"typo token inside sentence", "there was an acident", "en", ClassDanger},
		{"danger beats ok", "no i am fine", "en", ClassDanger},
		{"unmatched stays none", "turn left at the signal", "en", ClassNone},
		{"empty transcript", "   ", "en", ClassNone},
		{"hindi ok", "haan theek hai", "hi", ClassOK},
		{"hindi danger", "bachao", "hi", ClassDanger},
		{"tamil ok", "seri", "ta", ClassOK},
		{"tamil danger", "udhavi", "ta", ClassDanger},
		{"fallback to english", "emergency", "ta", ClassDanger},
		{"region subtag stripped", "theek", "hi-IN", ClassOK},
		{"unknown language falls back", "yes", "fr", ClassOK},
		{"empty language falls back", "danger", "", ClassDanger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.transcript, tt.language); got != tt.want {
				t.Errorf("Classify(%q, %q) = %v, want %v", tt.transcript, tt.language, got, tt.want)
			}
		})
	}
}

func TestFuzzyMatchDistanceBoundary(t *testing.T) {
	// For keywords longer than four runes, distance one matches and
	// distance two does not.
	tests := []struct {
		name       string
		transcript string
		want       Classification
	}{
		{"distance zero", "danger", ClassDanger},
		{"distance one substitution", "denger", ClassDanger},
		{"distance one deletion", "dange", ClassDanger},
		{"distance one insertion", "dangerr", ClassDanger},
		{"distance two", "dengor", ClassNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.transcript, "en"); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"danger", "denger", 1},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
