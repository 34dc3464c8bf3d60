// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing implements the intent routing and confidence-scoring
// engine: lexical keyword scoring, mandatory-trigger overrides, a
// TF-IDF similarity booster trained on past decisions, score combination,
// and the orchestration that turns those signals into a routing decision.
package routing

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/praxislabs/skillrouter/services/router/config"
)

// =============================================================================
// Families
// =============================================================================

// Family selects which candidate pool a routing call searches.
type Family string

const (
	// FamilySkill routes to deterministic procedures.
	FamilySkill Family = "skill"

	// FamilyAgent routes to autonomous role-based executors.
	FamilyAgent Family = "agent"
)

// =============================================================================
// Candidate (compiled form)
// =============================================================================

// KeywordTiers holds the weighted keyword tiers, lowercased at compile time.
type KeywordTiers struct {
	// Primary terms contribute weight 1.0 each.
	Primary []string

	// Secondary terms contribute weight 0.5 each.
	Secondary []string

	// Context terms contribute weight 0.3 each.
	Context []string
}

// Candidate is the compiled, immutable runtime form of a registry entry.
// All terms are lowercased and trigger patterns pre-compiled, so the scorer
// does no per-call normalization of candidate data.
//
// # Thread Safety
//
// Immutable after CompileCandidates; safe for concurrent use.
type Candidate struct {
	// Name uniquely identifies the candidate within its family.
	Name string

	// Family is the pool this candidate belongs to.
	Family Family

	// Tiers is non-nil for the weighted-tier keyword format.
	Tiers *KeywordTiers

	// Flat is the legacy untiered keyword list (nil when Tiers is set).
	Flat []string

	// Phrases each add a flat bonus to the lexical score when matched.
	Phrases []string

	// Confidence is the base-confidence multiplier in (0, 1].
	Confidence float64

	// Triggers are the compiled mandatory-trigger patterns, in declaration
	// order. Patterns that failed to compile were dropped at load time.
	Triggers []*regexp.Regexp

	// Description is free-form metadata.
	Description string

	// DefaultContext is passed through opaquely to the execution layer.
	DefaultContext map[string]any

	// Operations lists supported operation names.
	Operations []string
}

// CompileCandidates lowers registry specs into their runtime form.
//
// Invalid trigger regexes are dropped with a warning — a bad pattern disables
// that one override, never the candidate or the process (config errors are
// skip-and-continue by policy).
func CompileCandidates(specs []config.CandidateSpec, logger *slog.Logger) []Candidate {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Candidate, 0, len(specs))
	for _, spec := range specs {
		c := Candidate{
			Name:           spec.Name,
			Family:         Family(spec.Family),
			Phrases:        lowerAll(spec.Phrases),
			Confidence:     spec.Confidence,
			Description:    spec.Description,
			DefaultContext: spec.DefaultContext,
			Operations:     spec.Operations,
		}
		if spec.Keywords.Tiered() {
			c.Tiers = &KeywordTiers{
				Primary:   lowerAll(spec.Keywords.Primary),
				Secondary: lowerAll(spec.Keywords.Secondary),
				Context:   lowerAll(spec.Keywords.Context),
			}
		} else {
			c.Flat = lowerAll(spec.Keywords.Flat)
		}

		for _, pattern := range spec.MandatoryTriggers {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				logger.Warn("candidate: invalid mandatory trigger pattern, dropping",
					slog.String("candidate", spec.Name),
					slog.String("pattern", pattern),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.Triggers = append(c.Triggers, re)
		}
		out = append(out, c)
	}
	return out
}

func lowerAll(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return out
}

// =============================================================================
// Per-call scoring artifacts
// =============================================================================

// ScoredCandidate is the ephemeral per-call scoring result for one candidate.
// Created and discarded within a single routing call, never persisted.
type ScoredCandidate struct {
	// Candidate references the immutable compiled candidate.
	Candidate *Candidate

	// LexicalScore is the keyword-overlap confidence in [0, 1].
	LexicalScore float64

	// HistoricalScore is the similarity-booster confidence in [0, 1].
	// Zero when the booster is absent or cold.
	HistoricalScore float64

	// CombinedScore is the post-boost confidence in [0, 1].
	CombinedScore float64

	// MatchedTerms lists every keyword and phrase that matched the input.
	MatchedTerms []string

	// PrimaryMatches counts matched primary-tier terms.
	PrimaryMatches int
}

// =============================================================================
// Routing call types
// =============================================================================

// Request is one routing call.
type Request struct {
	// Input is the raw user text.
	Input string

	// Family selects the candidate pool to search.
	Family Family

	// Context carries optional structured hints (file paths, repo identity).
	// Passed through to the decision; the scorer itself is text-only.
	Context map[string]any
}

// State is the terminal state of the routing state machine.
type State string

const (
	// StateNoCandidates: empty input or no candidates configured.
	StateNoCandidates State = "NO_CANDIDATES"

	// StateMandatoryMatch: a trigger pattern forced the candidate.
	StateMandatoryMatch State = "MANDATORY_MATCH"

	// StateMatched: the best combined score cleared the family threshold.
	StateMatched State = "MATCHED"

	// StateNoMatch: no candidate cleared the threshold. A valid decision,
	// not an error — the caller applies its fallback policy.
	StateNoMatch State = "NO_MATCH"
)

// Alternate is one ranked runner-up in a decision.
type Alternate struct {
	// Name is the candidate name.
	Name string `json:"name"`

	// Score is the candidate's combined score.
	Score float64 `json:"score"`
}

// Decision is the output of one routing call. Ephemeral.
type Decision struct {
	// ID uniquely identifies this decision for audit correlation.
	ID string `json:"id"`

	// State is the terminal state machine state.
	State State `json:"state"`

	// Candidate is the chosen candidate, nil for NO_CANDIDATES / NO_MATCH.
	Candidate *Candidate `json:"-"`

	// Chosen is the chosen candidate's name, "" when none.
	Chosen string `json:"chosen,omitempty"`

	// CombinedScore is the winning confidence. Forced to 0 when the chosen
	// candidate is not available to the execution layer.
	CombinedScore float64 `json:"combined_score"`

	// Alternates are the top runners-up, excluding the chosen candidate.
	Alternates []Alternate `json:"alternates,omitempty"`

	// Justification is a human-readable reason, e.g. "matched 4 keywords"
	// or "mandatory trigger".
	Justification string `json:"justification"`

	// Available reports whether the execution layer can actually resolve
	// the chosen candidate.
	Available bool `json:"available"`
}

// =============================================================================
// External collaborators (narrow interfaces)
// =============================================================================

// AvailabilityChecker is the router's only collaboration with the execution
// sandbox: given a candidate name, report whether it is installed.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, family Family, name string) bool
}

// AvailabilityFunc adapts a function to the AvailabilityChecker interface.
type AvailabilityFunc func(ctx context.Context, family Family, name string) bool

// IsAvailable implements AvailabilityChecker.
func (f AvailabilityFunc) IsAvailable(ctx context.Context, family Family, name string) bool {
	return f(ctx, family, name)
}

// HistoricalBooster is the optional similarity signal. Absence (a nil
// booster) means pure lexical scoring — call sites check, they do not panic.
type HistoricalBooster interface {
	// IsReady reports whether the family has enough history to boost.
	IsReady(family Family) bool

	// Query returns the max cosine similarity in [0, 1] between the input
	// and the historical decisions labeled with candidateName.
	Query(ctx context.Context, family Family, input, candidateName string) float64
}

// =============================================================================
// Helpers
// =============================================================================

// truncateForLog bounds free text for log and span attributes.
func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
