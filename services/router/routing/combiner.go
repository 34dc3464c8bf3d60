// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// Score Combiner
// =============================================================================

// Strong-match bonus policy. Skills declare narrow, precise keyword sets;
// agents declare broad heuristic ones that accumulate score from near-any
// input. The bonus lets a well-matched skill out-compete that baseline.
// Thresholds are empirically chosen tunables, exercised as such in tests.
const (
	// strongMatchBonus applies at ≥5 matched terms or ≥2 primary matches.
	strongMatchBonus = 0.15
	strongMatchTerms = 5
	strongMatchPrims = 2

	// goodMatchBonus applies at ≥3 matched terms or ≥1 primary match.
	goodMatchBonus = 0.10
	goodMatchTerms = 3
	goodMatchPrims = 1
)

// Combiner merges the lexical and historical signals into one confidence.
//
// # Thread Safety
//
// Value type with no state beyond the two weights; safe for concurrent use.
type Combiner struct {
	// KeywordWeight scales the lexical score.
	KeywordWeight float64

	// HistoricalWeight scales the historical score. The two weights are
	// expected to sum to 1.0 (enforced at config load).
	HistoricalWeight float64
}

// Combine returns the boosted confidence for one candidate.
//
// combined = lexical×KeywordWeight + historical×HistoricalWeight, then the
// strong-match bonus, capped at 1.0. Pure function: identical inputs always
// produce identical output.
func (c Combiner) Combine(lexical, historical float64, matchedTerms, primaryMatches int) float64 {
	combined := lexical*c.KeywordWeight + historical*c.HistoricalWeight

	switch {
	case matchedTerms >= strongMatchTerms || primaryMatches >= strongMatchPrims:
		combined += strongMatchBonus
	case matchedTerms >= goodMatchTerms || primaryMatches >= goodMatchPrims:
		combined += goodMatchBonus
	}

	if combined > 1.0 {
		combined = 1.0
	}
	if combined < 0 {
		combined = 0
	}
	return combined
}
