// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package dialogue runs the bounded-time voice confirmation challenge: a
// spoken prompt, a listening window, and fuzzy classification of what the
// rider says into ok or danger.
package dialogue

import (
	"strings"
	"unicode/utf8"
)

// Classification is the result of matching a transcript.
type Classification int

const (
	ClassNone Classification = iota
	ClassOK
	ClassDanger
)

// lexicon holds one language's keyword sets.
type lexicon struct {
	ok     []string
	danger []string
}

// lexicons by BCP-47 primary subtag. Keywords are matched lowercased.
var lexicons = map[string]lexicon{
	"en": {
		ok:     []string{"yes", "ok", "okay", "fine", "good", "safe", "alright"},
		danger: []string{"no", "help", "danger", "emergency", "accident", "hurt", "pain"},
	},
	"hi": {
		ok:     []string{"haan", "theek", "thik", "sahi", "accha"},
		danger: []string{"nahi", "madad", "bachao", "khatra", "dard"},
	},
	"ta": {
		ok:     []string{"aamaam", "seri", "nalla", "paravala"},
		danger: []string{"illai", "udhavi", "aabathu", "vali"},
	},
}

// fallbackOrder is tried after the rider's local language.
var fallbackOrder = []string{"en", "hi", "ta"}

// shortKeywordLen is the keyword length at or below which substring
// matching applies instead of edit distance.
const shortKeywordLen = 4

// Classify matches a transcript against the lexicon for the given language,
// falling back through English, Hindi, and Tamil. Danger keywords are
// checked before ok keywords in every language, so an ambiguous utterance
// resolves toward escalation.
func Classify(transcript, language string) Classification {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return ClassNone
	}

	for _, lang := range languageOrder(language) {
		lex, ok := lexicons[lang]
		if !ok {
			continue
		}
		if matchAny(text, lex.danger) {
			return ClassDanger
		}
		if matchAny(text, lex.ok) {
			return ClassOK
		}
	}
	return ClassNone
}

func languageOrder(language string) []string {
	local := primarySubtag(language)
	order := make([]string, 0, len(fallbackOrder)+1)
	if local != "" {
		order = append(order, local)
	}
	for _, lang := range fallbackOrder {
		if lang != local {
			order = append(order, lang)
		}
	}
	return order
}

func primarySubtag(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if idx := strings.IndexAny(language, "-_"); idx > 0 {
		language = language[:idx]
	}
	return language
}

// matchAny reports whether the text matches any keyword: exact match,
// substring match for short keywords, or edit distance 1 for longer
// keywords tested against each word token.
func matchAny(text string, keywords []string) bool {
	words := strings.Fields(text)
	for _, keyword := range keywords {
		if text == keyword {
			return true
		}
		if utf8.RuneCountInString(keyword) <= shortKeywordLen {
			if strings.Contains(text, keyword) {
				return true
			}
			continue
		}
		for _, word := range words {
			if levenshtein(word, keyword) <= 1 {
				return true
			}
		}
	}
	return false
}

// levenshtein computes edit distance over runes with two rolling rows.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
