// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/praxislabs/skillrouter/services/router/config"
	"github.com/praxislabs/skillrouter/services/router/history"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routerDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "router",
		Name:      "decision_total",
		Help:      "Routing decisions by family and terminal state",
	}, []string{"family", "state"})

	routerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skillrouter",
		Subsystem: "router",
		Name:      "latency_seconds",
		Help:      "Routing call latency",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	routerUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "router",
		Name:      "unavailable_total",
		Help:      "Decisions where the chosen candidate was not installed",
	}, []string{"family", "candidate"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var routerTracer = otel.Tracer("skillrouter.routing.orchestrator")

// =============================================================================
// Router
// =============================================================================

// Router evaluates every candidate in a family for an input and emits a
// routing decision.
//
// # Description
//
// State machine per call:
//
//	NO_CANDIDATES    — empty input or empty family pool; terminal, no choice.
//	MANDATORY_MATCH  — a trigger pattern fired; scoring skipped entirely.
//	SCORED           — lexical + historical + combined per candidate, then:
//	  MATCHED        — best combined score cleared the family threshold.
//	  NO_MATCH       — nothing cleared it; the caller falls back (e.g. from
//	                   skill routing to agent routing).
//
// Every non-empty decision with non-zero confidence appends one selection
// record for future learning — except when the chosen candidate is not
// available to the execution layer, in which case confidence is forced to 0
// so an unusable candidate can neither poison the history nor be surfaced
// as routed.
//
// # Thread Safety
//
// Safe for concurrent use: candidates and config are immutable, per-call
// state is call-local, and the collaborators guard their own state.
type Router struct {
	candidates []Candidate
	cfg        *config.RouterConfig
	combiner   Combiner

	// booster is optional: nil means pure lexical scoring.
	booster HistoricalBooster

	// store is optional: nil disables decision logging (learning off).
	store *history.Store

	// availability is optional: nil treats every candidate as installed.
	availability AvailabilityChecker

	// cache is optional: nil disables decision caching.
	cache DecisionCache

	logger *slog.Logger

	// corpusDigest memoizes the cache key prefix for this candidate set.
	corpusOnce   sync.Once
	corpusDigest string
}

// Deps are the router's optional collaborators. Any field may be nil; the
// router degrades feature-by-feature rather than failing.
type Deps struct {
	Booster      HistoricalBooster
	Store        *history.Store
	Availability AvailabilityChecker
	Cache        DecisionCache
	Logger       *slog.Logger
}

// NewRouter builds a router over an immutable candidate set.
//
// candidates come from CompileCandidates and must not be mutated afterwards.
// cfg must be a validated RouterConfig.
func NewRouter(candidates []Candidate, cfg *config.RouterConfig, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		candidates: candidates,
		cfg:        cfg,
		combiner: Combiner{
			KeywordWeight:    cfg.KeywordWeight,
			HistoricalWeight: cfg.HistoricalWeight,
		},
		booster:      deps.Booster,
		store:        deps.Store,
		availability: deps.Availability,
		cache:        deps.Cache,
		logger:       logger,
	}
}

// Candidates returns the compiled candidates for one family, in declaration
// order. The slice is freshly allocated per call; the candidate contents
// (keyword slices, compiled triggers) are shared with the router and must be
// treated as read-only.
func (r *Router) Candidates(family Family) []Candidate {
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c.Family == family {
			out = append(out, c)
		}
	}
	return out
}

// Route evaluates one request and returns a decision.
//
// Route never returns an error: "no match" and "no candidates" are decision
// states, and collaborator failures (history append, cache) only degrade
// future learning, logged as warnings.
func (r *Router) Route(ctx context.Context, req Request) *Decision {
	start := time.Now()
	ctx, span := routerTracer.Start(ctx, "routing.Router.Route")
	defer span.End()

	defer func() {
		routerLatency.Observe(time.Since(start).Seconds())
	}()

	normalized := NormalizeInput(req.Input)
	pool := r.Candidates(req.Family)

	span.SetAttributes(
		attribute.String("family", string(req.Family)),
		attribute.String("input_preview", truncateForLog(normalized, 80)),
		attribute.Int("pool_size", len(pool)),
	)

	if normalized == "" || len(pool) == 0 {
		return r.finish(span, req, &Decision{
			ID:            uuid.NewString(),
			State:         StateNoCandidates,
			Justification: "empty input or no candidates configured",
		})
	}

	// Decision cache: a replayed decision skips recompute AND history
	// logging — it must not double-train the booster.
	if r.cache != nil {
		if cached, ok := r.lookupCache(ctx, req.Family, normalized); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached
		}
	}

	// Mandatory triggers take precedence over all scoring.
	if forced, pattern := MatchMandatoryTrigger(normalized, pool); forced != nil {
		dec := &Decision{
			ID:            uuid.NewString(),
			State:         StateMandatoryMatch,
			Candidate:     forced,
			Chosen:        forced.Name,
			CombinedScore: 1.0,
			Justification: "mandatory trigger",
		}
		r.logger.Info("mandatory trigger fired",
			slog.String("candidate", forced.Name),
			slog.String("pattern", pattern),
			slog.String("input_preview", truncateForLog(normalized, 80)),
		)
		r.resolveAvailability(ctx, req, dec)
		if dec.Available {
			r.logHistory(req, dec, 0, 0)
		}
		return r.finish(span, req, dec)
	}

	// Score every candidate in the pool. Zero lexical score excludes the
	// candidate from this call entirely.
	scored := make([]ScoredCandidate, 0, len(pool))
	for i := range pool {
		c := &pool[i]
		lex := ScoreLexical(normalized, c)
		if lex.Score == 0 {
			continue
		}
		sc := ScoredCandidate{
			Candidate:      c,
			LexicalScore:   clamp01(lex.Score),
			MatchedTerms:   lex.MatchedTerms,
			PrimaryMatches: lex.PrimaryMatches,
		}
		if r.booster != nil && r.booster.IsReady(req.Family) {
			sc.HistoricalScore = r.booster.Query(ctx, req.Family, req.Input, c.Name)
		}
		sc.CombinedScore = r.combiner.Combine(
			sc.LexicalScore, sc.HistoricalScore,
			len(sc.MatchedTerms), sc.PrimaryMatches,
		)
		scored = append(scored, sc)
	}

	if len(scored) == 0 {
		return r.finish(span, req, &Decision{
			ID:            uuid.NewString(),
			State:         StateNoMatch,
			Justification: "no keyword matches",
		})
	}

	// Rank by combined score; ties resolve to declaration order (stable).
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CombinedScore > scored[j].CombinedScore
	})
	best := scored[0]

	threshold := r.cfg.Threshold(string(req.Family))
	if best.CombinedScore < threshold {
		span.SetAttributes(
			attribute.Float64("best_score", best.CombinedScore),
			attribute.Float64("threshold", threshold),
		)
		return r.finish(span, req, &Decision{
			ID:    uuid.NewString(),
			State: StateNoMatch,
			Justification: fmt.Sprintf("best score %.3f below threshold %.3f",
				best.CombinedScore, threshold),
		})
	}

	dec := &Decision{
		ID:            uuid.NewString(),
		State:         StateMatched,
		Candidate:     best.Candidate,
		Chosen:        best.Candidate.Name,
		CombinedScore: best.CombinedScore,
		Alternates:    alternates(scored[1:], r.cfg.MaxAlternates),
		Justification: fmt.Sprintf("matched %d keywords", len(best.MatchedTerms)),
	}
	r.resolveAvailability(ctx, req, dec)
	if dec.Available {
		r.logHistory(req, dec, best.LexicalScore, best.HistoricalScore)
		r.storeCache(ctx, req.Family, normalized, dec)
	}
	return r.finish(span, req, dec)
}

// resolveAvailability checks the execution layer and neutralizes the
// decision when the chosen candidate is not installed.
func (r *Router) resolveAvailability(ctx context.Context, req Request, dec *Decision) {
	dec.Available = true
	if r.availability != nil && !r.availability.IsAvailable(ctx, req.Family, dec.Chosen) {
		dec.Available = false
		dec.CombinedScore = 0
		routerUnavailableTotal.WithLabelValues(string(req.Family), dec.Chosen).Inc()
		r.logger.Warn("chosen candidate not installed, confidence forced to 0",
			slog.String("candidate", dec.Chosen),
			slog.String("family", string(req.Family)),
		)
	}
}

// logHistory appends one selection record. Storage failures are non-fatal:
// routing already decided, only future learning degrades.
func (r *Router) logHistory(req Request, dec *Decision, lexical, historical float64) {
	if r.store == nil || dec.CombinedScore == 0 {
		return
	}
	rec := history.Record{
		Timestamp:       time.Now().UTC(),
		Family:          string(req.Family),
		Input:           req.Input,
		Chosen:          dec.Chosen,
		LexicalScore:    lexical,
		HistoricalScore: historical,
		CombinedScore:   dec.CombinedScore,
	}
	if err := r.store.Append(rec); err != nil {
		r.logger.Warn("history append failed, decision not recorded",
			slog.String("candidate", dec.Chosen),
			slog.String("error", err.Error()),
		)
	}
}

// finish records terminal metrics/attributes and returns the decision.
func (r *Router) finish(span oteltrace.Span, req Request, dec *Decision) *Decision {
	routerDecisionTotal.WithLabelValues(string(req.Family), string(dec.State)).Inc()
	span.SetAttributes(
		attribute.String("state", string(dec.State)),
		attribute.String("chosen", dec.Chosen),
		attribute.Float64("combined_score", dec.CombinedScore),
		attribute.Bool("available", dec.Available),
	)
	return dec
}

// alternates converts ranked runners-up into the decision's alternate list.
func alternates(rest []ScoredCandidate, max int) []Alternate {
	if max <= 0 || len(rest) == 0 {
		return nil
	}
	if len(rest) > max {
		rest = rest[:max]
	}
	out := make([]Alternate, len(rest))
	for i, sc := range rest {
		out[i] = Alternate{Name: sc.Candidate.Name, Score: sc.CombinedScore}
	}
	return out
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
