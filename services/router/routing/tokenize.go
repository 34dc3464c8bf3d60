// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"strings"
	"unicode"
)

// =============================================================================
// Tokenizer (historical booster only)
// =============================================================================
//
// The lexical scorer deliberately does NOT tokenize — it matches literal
// substrings, and several pinned behaviors depend on that. This tokenizer
// serves only the TF-IDF similarity index, where bag-of-words vectors need
// real tokens: lowercased, camelCase split, noise words removed.

// noiseWords are dropped from booster documents and queries. Kept small:
// over-aggressive stopword lists hurt short routing inputs.
var noiseWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "and": true, "or": true,
	"is": true, "it": true, "my": true, "me": true, "with": true,
	"please": true, "can": true, "you": true, "this": true, "that": true,
	"do": true, "how": true, "what": true,
}

// TokenizeCounts splits text into a term-frequency map.
//
// Splitting happens on any non-alphanumeric rune and at lowercase→uppercase
// camelCase boundaries ("parseConfig" → "parse", "config"). Single-character
// tokens and noise words are dropped. Returns nil for text with no usable
// tokens.
func TokenizeCounts(text string) map[string]int {
	if text == "" {
		return nil
	}

	var counts map[string]int
	emit := func(tok string) {
		tok = strings.ToLower(tok)
		if len(tok) < 2 || noiseWords[tok] {
			return
		}
		if counts == nil {
			counts = make(map[string]int)
		}
		counts[tok]++
	}

	var sb strings.Builder
	var prev rune
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// camelCase boundary: flush before an upper following a lower.
			if unicode.IsUpper(r) && unicode.IsLower(prev) && sb.Len() > 0 {
				emit(sb.String())
				sb.Reset()
			}
			sb.WriteRune(r)
		default:
			if sb.Len() > 0 {
				emit(sb.String())
				sb.Reset()
			}
		}
		prev = r
	}
	if sb.Len() > 0 {
		emit(sb.String())
	}
	return counts
}

// ExtractQueryTerms returns the set of unique tokens in text.
func ExtractQueryTerms(text string) map[string]bool {
	counts := TokenizeCounts(text)
	if counts == nil {
		return nil
	}
	set := make(map[string]bool, len(counts))
	for term := range counts {
		set[term] = true
	}
	return set
}
