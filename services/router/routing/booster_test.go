// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/praxislabs/skillrouter/services/router/history"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.jsonl"), 1000, nil)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendRecords(t *testing.T, store *history.Store, family, input, chosen string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.Append(history.Record{
			Timestamp:     time.Now().UTC(),
			Family:        family,
			Input:         input,
			Chosen:        chosen,
			CombinedScore: 0.8,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestTFIDFBooster_ColdStartNotReady(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 10, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 9)

	if b.IsReady(FamilySkill) {
		t.Error("9 records is below the cold-start threshold of 10")
	}
	if got := b.Query(context.Background(), FamilySkill, "scan for security vulnerabilities", "security-scanner"); got != 0 {
		t.Errorf("cold booster must return 0, got %.6f", got)
	}
}

func TestTFIDFBooster_ExactRepeatScoresNearOne(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 10, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 12)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !b.IsReady(FamilySkill) {
		t.Fatal("12 records should clear the cold-start threshold")
	}
	got := b.Query(context.Background(), FamilySkill, "scan for security vulnerabilities", "security-scanner")
	if got < 0.999 {
		t.Errorf("exact historical repeat should score ~1.0, got %.6f", got)
	}
}

func TestTFIDFBooster_UnrelatedCandidateScoresZero(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 6)
	appendRecords(t, store, "skill", "write a database migration", "database-migrator", 6)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Similarity is scoped to the named candidate's documents: a query about
	// scanning must not pick up the migrator's history.
	got := b.Query(context.Background(), FamilySkill, "scan for security vulnerabilities", "database-migrator")
	if got != 0 {
		t.Errorf("expected 0 against disjoint vocabulary, got %.6f", got)
	}
}

func TestTFIDFBooster_PartialOverlapBetweenZeroAndOne(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	appendRecords(t, store, "skill", "scan the repo for leaked secrets", "security-scanner", 6)
	appendRecords(t, store, "skill", "generate release notes draft", "release-notes", 6)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := b.Query(context.Background(), FamilySkill, "scan the repo", "security-scanner")
	if got <= 0 || got >= 1 {
		t.Errorf("partial token overlap should land strictly between 0 and 1, got %.6f", got)
	}
}

func TestTFIDFBooster_FamiliesAreIndependent(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 8)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !b.IsReady(FamilySkill) {
		t.Error("skill family should be ready")
	}
	if b.IsReady(FamilyAgent) {
		t.Error("agent family has no history and must stay cold")
	}
	if got := b.Query(context.Background(), FamilyAgent, "scan for security vulnerabilities", "security-scanner"); got != 0 {
		t.Errorf("agent family query must not see skill history, got %.6f", got)
	}
}

func TestTFIDFBooster_QueryDeterministic(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 6)
	appendRecords(t, store, "skill", "audit dependency licenses", "security-scanner", 6)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	first := b.Query(context.Background(), FamilySkill, "audit the dependencies", "security-scanner")
	for i := 0; i < 20; i++ {
		if got := b.Query(context.Background(), FamilySkill, "audit the dependencies", "security-scanner"); got != first {
			t.Fatalf("query %d diverged: %.9f vs %.9f", i, got, first)
		}
	}
}

func TestTFIDFBooster_Stats(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	appendRecords(t, store, "skill", "scan for security vulnerabilities", "security-scanner", 6)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stats := b.Stats(FamilySkill)
	if !stats.Ready || stats.Records != 6 || stats.IndexedDocs != 6 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Vocabulary == 0 || stats.BuiltAt.IsZero() {
		t.Errorf("expected a published index, got %+v", stats)
	}
	if b.Stats(FamilyAgent).Ready {
		t.Error("agent stats should report not ready")
	}
}

func TestTFIDFBooster_RefreshCanceledContext(t *testing.T) {
	store := openTestStore(t)
	b := NewTFIDFBooster(store, 5, 100, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Refresh(ctx)
	if err == nil {
		t.Fatal("refresh with a canceled context must error")
	}
	var rerr *RouterError
	if !errors.As(err, &rerr) || rerr.Code != ErrCodeIndexBuild {
		t.Errorf("expected an index_build RouterError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause should unwrap to context.Canceled: %v", err)
	}
}
