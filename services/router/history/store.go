// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history persists past routing decisions as an append-only JSONL log.
//
// Each line is one independently-parseable SelectionRecord, so a torn write
// at the tail (crash mid-append, disk full) corrupts at most that one line.
// Corrupt lines are skipped on load, never fatal.
//
// The store enforces a retention cap with FIFO eviction. Eviction is logical
// and immediate (Records never returns more than the cap) but the physical
// file compaction is deferred until enough evicted lines accumulate, so a
// steady-state append stays a single O(1) file write.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	historyAppendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "history",
		Name:      "append_total",
		Help:      "Selection records appended, by family",
	}, []string{"family"})

	historyPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "history",
		Name:      "pruned_total",
		Help:      "Selection records evicted by the retention cap",
	})

	historyCorruptSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "history",
		Name:      "corrupt_skipped_total",
		Help:      "Corrupt history lines skipped on load",
	})

	historySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillrouter",
		Subsystem: "history",
		Name:      "records",
		Help:      "Selection records currently retained",
	})
)

// =============================================================================
// Record
// =============================================================================

// Record is one logged routing decision. Immutable once written.
type Record struct {
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Family scopes the record to a candidate pool ("skill" or "agent").
	Family string `json:"family"`

	// Input is the raw user text the decision was made for.
	Input string `json:"input"`

	// Chosen is the name of the selected candidate.
	Chosen string `json:"chosen"`

	// LexicalScore is the keyword-overlap confidence at decision time.
	LexicalScore float64 `json:"lexical_score"`

	// HistoricalScore is the similarity-booster confidence at decision time.
	HistoricalScore float64 `json:"historical_score"`

	// CombinedScore is the final post-boost confidence.
	CombinedScore float64 `json:"combined_score"`
}

// compactionSlack is how many logically-evicted lines may sit in the file
// before a physical rewrite. Keeps appends O(1) once the cap is reached.
const compactionSlack = 64

// renameFile is swapped by tests to exercise compaction failure recovery.
var renameFile = os.Rename

// =============================================================================
// Store
// =============================================================================

// Store is the append-only selection history log.
//
// # Thread Safety
//
// Safe for concurrent use. A single mutex serializes appends so partial
// writes never interleave.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	logger     *slog.Logger

	f       *os.File
	records []Record
	// evicted counts lines present in the file but dropped from records.
	// When it exceeds compactionSlack the file is rewritten.
	evicted int
}

// Open loads (or creates) the history log at path.
//
// Existing records are read up front; corrupt lines are counted, logged once,
// and skipped. If the file holds more than maxEntries valid records, only the
// most recent maxEntries are retained and a compaction is scheduled.
//
// maxEntries must be positive. logger may be nil.
func Open(path string, maxEntries int, logger *slog.Logger) (*Store, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("history: maxEntries must be positive, got %d", maxEntries)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}

	records, corrupt, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if corrupt > 0 {
		historyCorruptSkipped.Add(float64(corrupt))
		logger.Warn("history: skipped corrupt records on load",
			slog.Int("corrupt", corrupt),
			slog.String("path", path),
		)
	}

	evicted := 0
	if len(records) > maxEntries {
		evicted = len(records) - maxEntries
		records = records[len(records)-maxEntries:]
	}
	// Lines lost to corruption also pad the file relative to records.
	evicted += corrupt

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open for append: %w", err)
	}

	s := &Store{
		path:       path,
		maxEntries: maxEntries,
		logger:     logger,
		f:          f,
		records:    records,
		evicted:    evicted,
	}
	historySize.Set(float64(len(records)))

	if s.evicted > compactionSlack {
		if err := s.compactLocked(); err != nil {
			// Non-fatal: the log still works, just carries dead lines.
			logger.Warn("history: compaction on open failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

// readAll parses every line of the file at path. Missing file is not an error.
func readAll(path string) (records []Record, corrupt int, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("history: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if jsonErr := json.Unmarshal(line, &rec); jsonErr != nil || rec.Chosen == "" {
			corrupt++
			continue
		}
		records = append(records, rec)
	}
	if scanErr := sc.Err(); scanErr != nil {
		return nil, 0, fmt.Errorf("history: scan: %w", scanErr)
	}
	return records, corrupt, nil
}

// Append writes one record to the log and enforces the retention cap.
//
// The JSON line is written with a single Write call under the store mutex,
// so concurrent appends cannot interleave partial lines.
func (s *Store) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}

	s.records = append(s.records, rec)
	historyAppendTotal.WithLabelValues(rec.Family).Inc()

	// FIFO eviction past the cap. Logical now, physical when slack runs out.
	if over := len(s.records) - s.maxEntries; over > 0 {
		s.records = s.records[over:]
		s.evicted += over
		historyPrunedTotal.Add(float64(over))
	}
	historySize.Set(float64(len(s.records)))

	if s.evicted > compactionSlack {
		if err := s.compactLocked(); err != nil {
			s.logger.Warn("history: compaction failed, log keeps dead lines",
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Records returns a copy of the retained records, optionally filtered by
// family. Pass "" for all families.
func (s *Store) Records(family string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if family == "" || r.Family == family {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of retained records, optionally scoped by family.
func (s *Store) Len(family string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if family == "" {
		return len(s.records)
	}
	n := 0
	for _, r := range s.records {
		if r.Family == family {
			n++
		}
	}
	return n
}

// Compact rewrites the log so it contains exactly the retained records.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

// compactLocked writes retained records to a temp file then renames it over
// the log. Caller must hold s.mu.
func (s *Store) compactLocked() error {
	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("history: open temp: %w", err)
	}

	w := bufio.NewWriter(tf)
	for _, rec := range s.records {
		line, err := json.Marshal(rec)
		if err != nil {
			_ = tf.Close()
			return fmt.Errorf("history: marshal during compact: %w", err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			_ = tf.Close()
			return fmt.Errorf("history: write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tf.Close()
		return fmt.Errorf("history: flush temp: %w", err)
	}
	if err := tf.Close(); err != nil {
		return fmt.Errorf("history: close temp: %w", err)
	}

	// Swap the live append handle to the compacted file. Once the old handle
	// is closed, every failure branch must restore an append handle on
	// s.path, or the store would reject all appends until restart.
	if err := s.f.Close(); err != nil {
		s.reopenLocked()
		return fmt.Errorf("history: close old log: %w", err)
	}
	if err := renameFile(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.reopenLocked()
		return fmt.Errorf("history: rename temp: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: reopen after compact: %w", err)
	}
	s.f = f
	s.evicted = 0

	s.logger.Debug("history: compacted",
		slog.Int("records", len(s.records)),
		slog.String("path", s.path),
	)
	return nil
}

// reopenLocked restores the append handle on s.path after a failed file
// swap. Caller must hold s.mu.
func (s *Store) reopenLocked() {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("history: reopen after failed compaction",
			slog.String("error", err.Error()))
		return
	}
	s.f = f
}

// Close compacts pending evictions and closes the file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted > 0 {
		if err := s.compactLocked(); err != nil {
			s.logger.Warn("history: compaction on close failed", slog.String("error", err.Error()))
		}
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
