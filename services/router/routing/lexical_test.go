// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"math"
	"testing"
)

// =============================================================================
// ScoreLexical Tests — tiered format
// =============================================================================

func tieredCandidate(confidence float64) *Candidate {
	return &Candidate{
		Name:       "tech-debt-tracker",
		Family:     FamilySkill,
		Confidence: confidence,
		Tiers: &KeywordTiers{
			Primary:   []string{"technical debt", "tech debt"},
			Secondary: []string{"todo audit"},
			Context:   []string{"cleanup"},
		},
	}
}

func TestScoreLexical_TierWeights(t *testing.T) {
	c := tieredCandidate(1.0)
	// max = 2×1.0 + 1×0.5 + 1×0.3 = 2.8
	// input matches one primary and the context term: matched = 1.0 + 0.3
	res := ScoreLexical("pay down technical debt and do some cleanup", c)

	want := 1.3 / 2.8
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("expected score %.6f, got %.6f", want, res.Score)
	}
	if len(res.MatchedTerms) != 2 {
		t.Errorf("expected 2 matched terms, got %v", res.MatchedTerms)
	}
	if res.PrimaryMatches != 1 {
		t.Errorf("expected 1 primary match, got %d", res.PrimaryMatches)
	}
}

func TestScoreLexical_BaseConfidenceScales(t *testing.T) {
	full := ScoreLexical("technical debt", tieredCandidate(1.0))
	scaled := ScoreLexical("technical debt", tieredCandidate(0.85))

	if math.Abs(scaled.Score-full.Score*0.85) > 1e-9 {
		t.Errorf("expected confidence to scale linearly: %.6f vs %.6f×0.85", scaled.Score, full.Score)
	}
}

func TestScoreLexical_CaseInsensitive(t *testing.T) {
	c := tieredCandidate(1.0)
	inputs := []string{"TECHNICAL DEBT", "Technical Debt", "technical debt"}

	var scores []float64
	for _, in := range inputs {
		scores = append(scores, ScoreLexical(NormalizeInput(in), c).Score)
	}
	if scores[0] != scores[1] || scores[1] != scores[2] {
		t.Errorf("case should not change the score: %v", scores)
	}
	if scores[0] == 0 {
		t.Error("expected non-zero score for exact primary keyword")
	}
}

func TestScoreLexical_PhraseBonusNumeratorOnly(t *testing.T) {
	// The phrase bonus inflates the achieved weight but not the maximum,
	// so the ratio with the phrase must exceed the keyword-only ratio.
	base := &Candidate{
		Name:       "code-formatter",
		Confidence: 1.0,
		Tiers:      &KeywordTiers{Primary: []string{"reformat"}},
	}
	withPhrase := &Candidate{
		Name:       "code-formatter",
		Confidence: 1.0,
		Tiers:      &KeywordTiers{Primary: []string{"reformat"}},
		Phrases:    []string{"fix the formatting"},
	}

	input := "reformat this and fix the formatting"
	bare := ScoreLexical(input, base)
	boosted := ScoreLexical(input, withPhrase)

	// max stays 1.0; matched goes 1.0 → 1.2.
	if math.Abs(bare.Score-1.0) > 1e-9 {
		t.Errorf("expected keyword-only score 1.0, got %.6f", bare.Score)
	}
	if math.Abs(boosted.Score-1.2) > 1e-9 {
		t.Errorf("expected phrase to push the raw ratio to 1.2, got %.6f", boosted.Score)
	}
}

// TestScoreLexical_SubstringSemanticsPinned pins the literal substring
// matcher: "format my code" does NOT contain the keyword "format code", so
// that term contributes nothing. Upgrading to a tokenized matcher would be a
// scoring policy change affecting every registry, not a bug fix.
func TestScoreLexical_SubstringSemanticsPinned(t *testing.T) {
	c := &Candidate{
		Name:       "code-formatter",
		Confidence: 1.0,
		Tiers:      &KeywordTiers{Primary: []string{"format code"}},
	}

	res := ScoreLexical("format my code", c)
	if res.Score != 0 {
		t.Errorf("literal matcher must not match 'format code' in 'format my code', got %.6f", res.Score)
	}

	res = ScoreLexical("please format code now", c)
	if res.Score == 0 {
		t.Error("expected the contiguous phrase to match")
	}
}

func TestScoreLexical_NoMatchesZero(t *testing.T) {
	res := ScoreLexical("deploy the frontend", tieredCandidate(1.0))
	if res.Score != 0 || len(res.MatchedTerms) != 0 {
		t.Errorf("expected zero result, got %+v", res)
	}
}

func TestScoreLexical_NoTermsDefinedZero(t *testing.T) {
	c := &Candidate{Name: "empty", Confidence: 1.0}
	if res := ScoreLexical("anything at all", c); res.Score != 0 {
		t.Errorf("candidate with no terms must score 0, got %.6f", res.Score)
	}
}

// =============================================================================
// ScoreLexical Tests — legacy flat format
// =============================================================================

func TestScoreLexical_FlatFormatRatio(t *testing.T) {
	c := &Candidate{
		Name:       "database-migrator",
		Confidence: 0.85,
		Flat:       []string{"migration", "schema change", "alter table"},
	}

	res := ScoreLexical("write a migration for the schema change", c)

	want := (2.0 / 3.0) * 0.85
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("expected %.6f, got %.6f", want, res.Score)
	}
	// Flat keywords all count as primary for the strong-match bonus.
	if res.PrimaryMatches != 2 {
		t.Errorf("expected 2 primary matches, got %d", res.PrimaryMatches)
	}
}

func TestScoreLexical_FlatNoMatchZero(t *testing.T) {
	c := &Candidate{Name: "x", Confidence: 1.0, Flat: []string{"migration"}}
	if res := ScoreLexical("review my pull request", c); res.Score != 0 {
		t.Errorf("expected 0, got %.6f", res.Score)
	}
}

func TestNormalizeInput(t *testing.T) {
	if got := NormalizeInput("  Fix The FORMATTING  "); got != "fix the formatting" {
		t.Errorf("unexpected normalization: %q", got)
	}
}
