// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/praxislabs/skillrouter/services/router/history"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	boosterRebuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "booster",
		Name:      "rebuild_total",
		Help:      "Similarity index rebuilds by family and outcome",
	}, []string{"family", "outcome"})

	boosterRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skillrouter",
		Subsystem: "booster",
		Name:      "rebuild_duration_seconds",
		Help:      "Similarity index rebuild duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	boosterColdQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "booster",
		Name:      "cold_queries_total",
		Help:      "Queries answered with 0 because the booster is cold",
	}, []string{"family"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var boosterTracer = otel.Tracer("skillrouter.routing.booster")

// =============================================================================
// Similarity Index
// =============================================================================

// simDoc is one historical decision in vector form.
type simDoc struct {
	// candidate is the name the record was labeled with.
	candidate string

	// vec is the unit-normalized TF-IDF vector of the record's input.
	vec map[string]float64
}

// similarityIndex is a TF-IDF retrieval index over one family's history.
//
// A pure function of the records it was built from; immutable after build.
// The booster publishes a new index with a single pointer swap — readers
// never observe a partially-built index.
type similarityIndex struct {
	docs []simDoc

	// idf maps term → log((N+1)/(df+1)) + 1 (Lucene-style smoothing).
	idf map[string]float64

	builtAt time.Time

	// sourceCount is the family record count at build time; staleness is
	// current count minus this.
	sourceCount int
}

// buildSimilarityIndex vectorizes records into an index. Cost is
// O(records × average input length). Records that tokenize to nothing are
// skipped but still count toward sourceCount.
func buildSimilarityIndex(records []history.Record) *similarityIndex {
	idx := &similarityIndex{
		idf:         make(map[string]float64),
		builtAt:     time.Now(),
		sourceCount: len(records),
	}
	if len(records) == 0 {
		return idx
	}

	type tokenized struct {
		candidate string
		counts    map[string]int
	}
	docs := make([]tokenized, 0, len(records))
	df := make(map[string]int)
	for _, rec := range records {
		counts := TokenizeCounts(rec.Input)
		if len(counts) == 0 {
			continue
		}
		docs = append(docs, tokenized{candidate: rec.Chosen, counts: counts})
		for term := range counts {
			df[term]++
		}
	}

	n := len(docs)
	for term, freq := range df {
		idx.idf[term] = math.Log(float64(n+1)/float64(freq+1)) + 1.0
	}

	idx.docs = make([]simDoc, 0, n)
	for _, d := range docs {
		vec := make(map[string]float64, len(d.counts))
		var norm float64
		for term, tf := range d.counts {
			w := float64(tf) * idx.idf[term]
			vec[term] = w
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for term := range vec {
			vec[term] /= norm
		}
		idx.docs = append(idx.docs, simDoc{candidate: d.candidate, vec: vec})
	}
	return idx
}

// similarity returns the max cosine similarity between the query counts and
// the docs labeled with candidate. Weights are non-negative, so the result
// is already in [0, 1] up to float error.
func (idx *similarityIndex) similarity(queryCounts map[string]int, candidate string) float64 {
	if len(queryCounts) == 0 || len(idx.docs) == 0 {
		return 0
	}

	qvec := make(map[string]float64, len(queryCounts))
	var qnorm float64
	for term, tf := range queryCounts {
		idf, known := idx.idf[term]
		if !known {
			continue
		}
		w := float64(tf) * idf
		qvec[term] = w
		qnorm += w * w
	}
	if qnorm == 0 {
		return 0
	}
	qnorm = math.Sqrt(qnorm)

	var best float64
	for _, doc := range idx.docs {
		if doc.candidate != candidate {
			continue
		}
		var dot float64
		for term, qw := range qvec {
			if dw, ok := doc.vec[term]; ok {
				dot += qw * dw
			}
		}
		score := dot / qnorm // doc.vec is pre-normalized
		if score > best {
			best = score
		}
	}
	if best > 1.0 {
		best = 1.0
	}
	return best
}

// =============================================================================
// TFIDFBooster
// =============================================================================

// TFIDFBooster answers similarity queries against past routing decisions.
//
// # Description
//
// Maintains one similarity index per family, built lazily from the history
// store once the cold-start record count is reached. Rebuilds are triggered
// automatically when enough new records accumulate, run off the request path
// in a background goroutine (deduplicated per family via singleflight), and
// published atomically. A failed rebuild keeps the last good index serving.
//
// # Thread Safety
//
// Safe for concurrent use.
type TFIDFBooster struct {
	store           *history.Store
	coldStart       int
	refreshInterval int
	logger          *slog.Logger

	group    singleflight.Group
	skillIdx atomic.Pointer[similarityIndex]
	agentIdx atomic.Pointer[similarityIndex]
}

// NewTFIDFBooster creates a booster over the given history store.
//
// store must not be nil — a deployment without history simply passes a nil
// HistoricalBooster to the router instead. Non-positive coldStart and
// refreshInterval fall back to the configured defaults (10 and 100).
func NewTFIDFBooster(store *history.Store, coldStart, refreshInterval int, logger *slog.Logger) *TFIDFBooster {
	if store == nil {
		panic("NewTFIDFBooster: store must not be nil")
	}
	if coldStart <= 0 {
		coldStart = 10
	}
	if refreshInterval <= 0 {
		refreshInterval = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TFIDFBooster{
		store:           store,
		coldStart:       coldStart,
		refreshInterval: refreshInterval,
		logger:          logger,
	}
}

// IsReady reports whether the family has reached the cold-start record
// count. Below it, Query returns 0 and scoring degrades to pure lexical.
func (b *TFIDFBooster) IsReady(family Family) bool {
	return b.store.Len(string(family)) >= b.coldStart
}

// Query returns the max cosine similarity in [0, 1] between input and the
// historical decisions labeled with candidateName in the family's scope.
//
// A stale or missing index schedules a background rebuild and answers from
// whatever is currently published (0 when nothing is). Cold start never
// errors — it returns 0.
func (b *TFIDFBooster) Query(ctx context.Context, family Family, input, candidateName string) float64 {
	if !b.IsReady(family) {
		boosterColdQueries.WithLabelValues(string(family)).Inc()
		return 0
	}

	idx := b.indexPtr(family).Load()
	if b.stale(family, idx) {
		b.rebuildAsync(family)
	}
	if idx == nil {
		boosterColdQueries.WithLabelValues(string(family)).Inc()
		return 0
	}
	return idx.similarity(TokenizeCounts(input), candidateName)
}

// Refresh synchronously rebuilds both family indexes. Used by the explicit
// refresh operation and by tests that need deterministic index state.
func (b *TFIDFBooster) Refresh(ctx context.Context) error {
	for _, family := range []Family{FamilySkill, FamilyAgent} {
		if err := ctx.Err(); err != nil {
			boosterRebuildTotal.WithLabelValues(string(family), "canceled").Inc()
			return WrapRouterError(ErrCodeIndexBuild, "index refresh canceled", err)
		}
		if err := b.rebuild(ctx, family); err != nil {
			return WrapRouterError(ErrCodeIndexBuild, "rebuild "+string(family)+" index", err)
		}
	}
	return nil
}

// indexPtr returns the atomic slot for the family. Unknown families share
// the agent slot, matching the stricter-threshold fallback elsewhere.
func (b *TFIDFBooster) indexPtr(family Family) *atomic.Pointer[similarityIndex] {
	if family == FamilySkill {
		return &b.skillIdx
	}
	return &b.agentIdx
}

// stale reports whether idx lags the store by at least refreshInterval
// records, or was never built.
func (b *TFIDFBooster) stale(family Family, idx *similarityIndex) bool {
	if idx == nil {
		return true
	}
	return b.store.Len(string(family))-idx.sourceCount >= b.refreshInterval
}

// rebuildAsync schedules a background rebuild, deduplicated per family:
// concurrent queries crossing the staleness threshold share one rebuild.
func (b *TFIDFBooster) rebuildAsync(family Family) {
	go func() {
		_, _, _ = b.group.Do(string(family), func() (any, error) {
			return nil, b.rebuild(context.Background(), family)
		})
	}()
}

// rebuild builds a fresh index from the store and publishes it atomically.
func (b *TFIDFBooster) rebuild(ctx context.Context, family Family) error {
	_, span := boosterTracer.Start(ctx, "routing.TFIDFBooster.rebuild")
	defer span.End()

	start := time.Now()
	records := b.store.Records(string(family))
	idx := buildSimilarityIndex(records)
	b.indexPtr(family).Store(idx)

	duration := time.Since(start)
	boosterRebuildTotal.WithLabelValues(string(family), "success").Inc()
	boosterRebuildDuration.Observe(duration.Seconds())
	span.SetAttributes(
		attribute.String("family", string(family)),
		attribute.Int("records", len(records)),
		attribute.Int("docs", len(idx.docs)),
		attribute.Int("vocabulary", len(idx.idf)),
	)

	b.logger.Debug("similarity index rebuilt",
		slog.String("family", string(family)),
		slog.Int("records", len(records)),
		slog.Int("vocabulary", len(idx.idf)),
		slog.Duration("duration", duration),
	)
	return nil
}

// Stats describes the published index for one family.
type BoosterStats struct {
	// Ready reports whether the cold-start threshold is met.
	Ready bool `json:"ready"`

	// Records is the current family record count in the store.
	Records int `json:"records"`

	// IndexedDocs is the number of documents in the published index.
	IndexedDocs int `json:"indexed_docs"`

	// Vocabulary is the distinct term count of the published index.
	Vocabulary int `json:"vocabulary"`

	// BuiltAt is when the published index was built (zero when none).
	BuiltAt time.Time `json:"built_at"`
}

// Stats returns observability data for the family's published index.
func (b *TFIDFBooster) Stats(family Family) BoosterStats {
	stats := BoosterStats{
		Ready:   b.IsReady(family),
		Records: b.store.Len(string(family)),
	}
	if idx := b.indexPtr(family).Load(); idx != nil {
		stats.IndexedDocs = len(idx.docs)
		stats.Vocabulary = len(idx.idf)
		stats.BuiltAt = idx.builtAt
	}
	return stats
}
