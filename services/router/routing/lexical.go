// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import "strings"

// =============================================================================
// Lexical Scorer
// =============================================================================
//
// Scores one candidate against an input string using tiered keyword weights
// and phrase bonuses. No external state, no tokenization: matching is literal
// substring containment on lowercased, trimmed text. "find all tests" does
// NOT match keyword "find tests" — that gap is a known property of the
// matcher, and changing it is a scoring policy change, not a bug fix.

// Tier weights. All defined terms contribute their weight to the maximum
// possible score; matched terms contribute to the achieved score.
const (
	primaryWeight   = 1.0
	secondaryWeight = 0.5
	contextWeight   = 0.3

	// phraseBonus is added to the achieved score only, never the maximum,
	// so phrases can push the ratio above the keyword-only ceiling.
	phraseBonus = 0.2
)

// LexicalResult is the output of scoring one candidate.
type LexicalResult struct {
	// Score is the base-confidence-scaled match ratio in [0, 1+].
	// Callers clamp after combination; the raw ratio can exceed 1 only
	// through phrase bonuses.
	Score float64

	// MatchedTerms lists every matched keyword and phrase.
	MatchedTerms []string

	// PrimaryMatches counts matched primary-tier terms (flat-format
	// keywords all count as primary for the strong-match bonus).
	PrimaryMatches int
}

// NormalizeInput lowers and trims raw input once per routing call.
func NormalizeInput(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// ScoreLexical scores a candidate against normalized (lowercased, trimmed)
// input.
//
// Weighted-tier format: ratio = matchedWeight / maxPossibleWeight where every
// defined term contributes its tier weight to the denominator and matched
// terms to the numerator; matched phrases add a flat bonus to the numerator
// only. Legacy flat format: matchedCount / totalCount. Either ratio is then
// scaled by the candidate's base-confidence multiplier.
//
// A candidate with no terms defined, or with zero matches, scores 0 — the
// orchestrator excludes it from the call.
func ScoreLexical(normalizedInput string, c *Candidate) LexicalResult {
	var res LexicalResult
	if normalizedInput == "" {
		return res
	}

	if c.Tiers != nil {
		var matched, max float64
		for _, term := range c.Tiers.Primary {
			max += primaryWeight
			if term != "" && strings.Contains(normalizedInput, term) {
				matched += primaryWeight
				res.MatchedTerms = append(res.MatchedTerms, term)
				res.PrimaryMatches++
			}
		}
		for _, term := range c.Tiers.Secondary {
			max += secondaryWeight
			if term != "" && strings.Contains(normalizedInput, term) {
				matched += secondaryWeight
				res.MatchedTerms = append(res.MatchedTerms, term)
			}
		}
		for _, term := range c.Tiers.Context {
			max += contextWeight
			if term != "" && strings.Contains(normalizedInput, term) {
				matched += contextWeight
				res.MatchedTerms = append(res.MatchedTerms, term)
			}
		}
		for _, phrase := range c.Phrases {
			if phrase != "" && strings.Contains(normalizedInput, phrase) {
				matched += phraseBonus
				res.MatchedTerms = append(res.MatchedTerms, phrase)
			}
		}
		if max == 0 || len(res.MatchedTerms) == 0 {
			return LexicalResult{}
		}
		res.Score = (matched / max) * c.Confidence
		return res
	}

	// Legacy flat list: unweighted match ratio.
	if len(c.Flat) == 0 {
		return res
	}
	matched := 0
	for _, term := range c.Flat {
		if term != "" && strings.Contains(normalizedInput, term) {
			matched++
			res.MatchedTerms = append(res.MatchedTerms, term)
		}
	}
	if matched == 0 {
		return LexicalResult{}
	}
	// Flat keywords count as primary for bonus purposes: the legacy format
	// has no tiers to distinguish.
	res.PrimaryMatches = matched
	res.Score = (float64(matched) / float64(len(c.Flat))) * c.Confidence
	return res
}
