// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// DecisionCache — Routing Decision Persistence
// =============================================================================
//
// Routing is cheap but not free, and production workloads are repetitive:
// the same phrasings arrive again and again. The cache persists finished
// decisions in BadgerDB keyed by a corpus hash plus the normalized input.
//
// Design choices:
//
//	1. Corpus hash as key component: SHA256(sorted candidate specs + scoring
//	   weights). Any registry or policy change produces a different hash, so
//	   stale decisions become unreachable and expire via TTL — no explicit
//	   invalidation API.
//
//	2. Cache hits skip history logging. A replayed decision must not train
//	   the similarity booster twice; only fresh computations learn.
//
//	3. The similarity index is NOT persisted: it rebuilds from the history
//	   log in milliseconds and would go stale against new records anyway.
//
// Storage layout:
//
//	routing/dec/v1/{corpusHash}/{inputHash}  →  gob-encoded CachedDecision
//	                                            TTL: 24 hours

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	badgerstore "github.com/praxislabs/skillrouter/services/router/storage/badger"
)

// decisionCacheDefaultTTL bounds how long a cached decision is replayed.
// One day: long enough to absorb repeat traffic, short enough that booster
// learning still shifts outcomes.
const decisionCacheDefaultTTL = 24 * time.Hour

// DecisionCacheKeyPrefix is prepended to form the BadgerDB key. Versioned
// (v1) so a future format change cannot collide with old entries.
const DecisionCacheKeyPrefix = "routing/dec/v1/"

// errDecisionCacheMiss distinguishes "key absent" from a storage failure.
var errDecisionCacheMiss = errors.New("decision cache miss")

// CachedDecision is the persisted subset of a Decision. The *Candidate
// pointer is re-resolved against the live registry on load.
type CachedDecision struct {
	State         State
	Chosen        string
	CombinedScore float64
	Alternates    []Alternate
	Justification string
}

// =============================================================================
// DecisionCache Interface
// =============================================================================

// DecisionCache persists finished routing decisions between calls and
// service restarts.
//
// Implementations must be safe for concurrent use. The Router treats a nil
// DecisionCache as "caching off" and every error as a miss.
type DecisionCache interface {
	// Load retrieves a cached decision. Returns (nil, nil) on miss.
	Load(ctx context.Context, key string) (*CachedDecision, error)

	// Save persists a decision under key with the implementation's TTL.
	Save(ctx context.Context, key string, dec *CachedDecision) error
}

// =============================================================================
// BadgerDecisionCache
// =============================================================================

// BadgerDecisionCache implements DecisionCache on a BadgerDB instance.
//
// Decisions are gob-encoded; TTL is enforced by BadgerDB's native GC, so an
// expired key simply reads as a miss.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerDecisionCache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerDecisionCache creates a cache backed by db.
//
// The caller owns the DB lifecycle (opened in main, closed at shutdown).
// Pass ttl 0 for the default 24 hours. logger may be nil.
func NewBadgerDecisionCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerDecisionCache {
	if db == nil {
		panic("NewBadgerDecisionCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = decisionCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerDecisionCache{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a cached decision. Miss (absent or expired) is (nil, nil).
func (c *BadgerDecisionCache) Load(ctx context.Context, key string) (*CachedDecision, error) {
	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(DecisionCacheKeyPrefix + key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errDecisionCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errDecisionCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapRouterError(ErrCodeCache, "decision cache load", err)
	}

	var dec CachedDecision
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&dec); err != nil {
		return nil, WrapRouterError(ErrCodeCache, "decision cache decode", err)
	}
	return &dec, nil
}

// Save persists a decision with the configured TTL.
func (c *BadgerDecisionCache) Save(ctx context.Context, key string, dec *CachedDecision) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dec); err != nil {
		return WrapRouterError(ErrCodeCache, "decision cache encode", err)
	}

	err := c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry([]byte(DecisionCacheKeyPrefix+key), buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return WrapRouterError(ErrCodeCache, "decision cache save", err)
	}

	c.logger.Debug("decision cache: saved",
		slog.String("key", shortKey(key)),
		slog.String("chosen", dec.Chosen),
	)
	return nil
}

// =============================================================================
// Router cache integration
// =============================================================================

// cacheKey derives the cache key for one (family, normalized input) pair.
// The corpus hash is computed lazily once per Router.
func (r *Router) cacheKey(family Family, normalizedInput string) string {
	input := sha256.Sum256([]byte(normalizedInput))
	return r.corpusHash() + "/" + string(family) + "/" + hex.EncodeToString(input[:])
}

// lookupCache returns a replayed decision when the cache holds one whose
// chosen candidate still exists in the registry and is still installed.
// A candidate uninstalled during the TTL window reads as a miss: the fresh
// recompute neutralizes it instead of replaying a stale non-zero score.
func (r *Router) lookupCache(ctx context.Context, family Family, normalizedInput string) (*Decision, bool) {
	cached, err := r.cache.Load(ctx, r.cacheKey(family, normalizedInput))
	if err != nil {
		r.logger.Warn("decision cache load failed, treating as miss",
			slog.String("error", err.Error()))
		return nil, false
	}
	if cached == nil {
		return nil, false
	}

	var candidate *Candidate
	if cached.Chosen != "" {
		for i := range r.candidates {
			if r.candidates[i].Name == cached.Chosen && r.candidates[i].Family == family {
				candidate = &r.candidates[i]
				break
			}
		}
		if candidate == nil {
			// Registry changed under the same corpus hash should be
			// impossible; treat as a miss rather than trust it.
			return nil, false
		}
		if r.availability != nil && !r.availability.IsAvailable(ctx, family, cached.Chosen) {
			r.logger.Info("decision cache: chosen candidate no longer installed, recomputing",
				slog.String("candidate", cached.Chosen),
				slog.String("family", string(family)),
			)
			return nil, false
		}
	}

	return &Decision{
		ID:            uuid.NewString(),
		State:         cached.State,
		Candidate:     candidate,
		Chosen:        cached.Chosen,
		CombinedScore: cached.CombinedScore,
		Alternates:    cached.Alternates,
		Justification: cached.Justification,
		Available:     true,
	}, true
}

// storeCache persists a finished decision. Failures degrade to "no cache".
func (r *Router) storeCache(ctx context.Context, family Family, normalizedInput string, dec *Decision) {
	if r.cache == nil {
		return
	}
	err := r.cache.Save(ctx, r.cacheKey(family, normalizedInput), &CachedDecision{
		State:         dec.State,
		Chosen:        dec.Chosen,
		CombinedScore: dec.CombinedScore,
		Alternates:    dec.Alternates,
		Justification: dec.Justification,
	})
	if err != nil {
		r.logger.Warn("decision cache save failed",
			slog.String("error", err.Error()))
	}
}

// corpusHash computes a deterministic SHA256 over every signal that shapes
// a decision: candidate names, keywords, phrases, trigger patterns,
// confidences, and the scoring weights/thresholds. Specs are sorted so file
// ordering does not change the hash (trigger precedence does depend on
// order, but reordering also reorders the joined trigger field below).
func (r *Router) corpusHash() string {
	r.corpusOnce.Do(func() {
		specs := make([]string, 0, len(r.candidates))
		for _, c := range r.candidates {
			var kw []string
			if c.Tiers != nil {
				kw = append(kw, c.Tiers.Primary...)
				kw = append(kw, c.Tiers.Secondary...)
				kw = append(kw, c.Tiers.Context...)
			} else {
				kw = append(kw, c.Flat...)
			}
			sort.Strings(kw)

			triggers := make([]string, len(c.Triggers))
			for i, re := range c.Triggers {
				triggers[i] = re.String()
			}

			specs = append(specs, fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%.4f",
				c.Family, c.Name,
				strings.Join(kw, ","),
				strings.Join(c.Phrases, ","),
				strings.Join(triggers, ","),
				c.Confidence,
			))
		}
		sort.Strings(specs)

		h := sha256.New()
		for _, s := range specs {
			fmt.Fprintln(h, s)
		}
		fmt.Fprintf(h, "weights=%.4f/%.4f thresholds=%.4f/%.4f\n",
			r.cfg.KeywordWeight, r.cfg.HistoricalWeight,
			r.cfg.SkillThreshold, r.cfg.AgentThreshold,
		)
		r.corpusDigest = hex.EncodeToString(h.Sum(nil))
	})
	return r.corpusDigest
}

// shortKey truncates a cache key for log display.
func shortKey(k string) string {
	if len(k) > 20 {
		return k[:20] + "..."
	}
	return k
}
