// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(family, input, chosen string) Record {
	return Record{
		Timestamp:     time.Now().UTC(),
		Family:        family,
		Input:         input,
		Chosen:        chosen,
		LexicalScore:  0.5,
		CombinedScore: 0.6,
	}
}

func TestStore_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path, 100, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(rec("skill", "format my code", "code-formatter")))
	require.NoError(t, s.Append(rec("agent", "deploy it", "deploy-agent")))

	assert.Equal(t, 1, s.Len("skill"))
	assert.Equal(t, 1, s.Len("agent"))
	assert.Equal(t, 2, s.Len(""))

	got := s.Records("skill")
	require.Len(t, got, 1)
	assert.Equal(t, "code-formatter", got[0].Chosen)
	assert.Equal(t, "format my code", got[0].Input)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	s, err := Open(path, 100, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(rec("skill", "scan for secrets", "security-scanner")))
	require.NoError(t, s.Close())

	s, err = Open(path, 100, nil)
	require.NoError(t, err)
	defer s.Close()

	got := s.Records("skill")
	require.Len(t, got, 1)
	assert.Equal(t, "security-scanner", got[0].Chosen)
}

// Appending maxEntries+k records leaves exactly maxEntries, and they are the
// most recent k..maxEntries+k, oldest first.
func TestStore_FIFOEviction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	const max = 20
	s, err := Open(path, max, nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < max+7; i++ {
		require.NoError(t, s.Append(rec("skill", fmt.Sprintf("input %d", i), "x")))
	}

	got := s.Records("skill")
	require.Len(t, got, max)
	assert.Equal(t, "input 7", got[0].Input, "oldest retained record")
	assert.Equal(t, fmt.Sprintf("input %d", max+6), got[len(got)-1].Input, "newest record")
}

func TestStore_EvictionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	const max = 10

	s, err := Open(path, max, nil)
	require.NoError(t, err)
	for i := 0; i < max+5; i++ {
		require.NoError(t, s.Append(rec("skill", fmt.Sprintf("input %d", i), "x")))
	}
	require.NoError(t, s.Close())

	s, err = Open(path, max, nil)
	require.NoError(t, err)
	defer s.Close()

	got := s.Records("skill")
	require.Len(t, got, max)
	assert.Equal(t, "input 5", got[0].Input)
}

func TestStore_CorruptLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	s, err := Open(path, 100, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(rec("skill", "first", "a")))
	require.NoError(t, s.Append(rec("skill", "second", "b")))
	require.NoError(t, s.Close())

	// Corrupt the middle of the file: garbage JSON and a record with no
	// chosen candidate.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	mangled := lines[0] + "\n{not json}\n" + `{"family":"skill"}` + "\n" + lines[1] + "\n"
	require.NoError(t, os.WriteFile(path, []byte(mangled), 0o644))

	s, err = Open(path, 100, nil)
	require.NoError(t, err)
	defer s.Close()

	got := s.Records("skill")
	require.Len(t, got, 2, "corrupt lines are skipped, valid ones preserved")
	assert.Equal(t, "a", got[0].Chosen)
	assert.Equal(t, "b", got[1].Chosen)
}

// Compaction physically rewrites the file so its line count matches the
// retained records.
func TestStore_CompactRewritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	const max = 5
	s, err := Open(path, max, nil)
	require.NoError(t, err)

	for i := 0; i < max+30; i++ {
		require.NoError(t, s.Append(rec("skill", fmt.Sprintf("input %d", i), "x")))
	}
	require.NoError(t, s.Compact())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, max)

	// The store must keep working after the handle swap.
	require.NoError(t, s.Append(rec("skill", "after compact", "x")))
	require.NoError(t, s.Close())

	s, err = Open(path, max, nil)
	require.NoError(t, err)
	defer s.Close()
	got := s.Records("skill")
	require.Len(t, got, max)
	assert.Equal(t, "after compact", got[len(got)-1].Input)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path, 1000, nil)
	require.NoError(t, err)
	defer s.Close()

	const goroutines = 8
	const perGoroutine = 25
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = s.Append(rec("skill", fmt.Sprintf("g%d-%d", g, i), "x"))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, s.Len("skill"))

	// No interleaved partial lines: every line in the file must parse.
	records, corrupt, err := readAll(path)
	require.NoError(t, err)
	assert.Zero(t, corrupt)
	assert.Len(t, records, goroutines*perGoroutine)
}

func TestOpen_RejectsNonPositiveCap(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "h.jsonl"), 0, nil)
	assert.Error(t, err)
}

func TestStore_FailedCompactionKeepsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path, 100, nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(rec("skill", fmt.Sprintf("input %d", i), "x")))
	}

	renameFile = func(string, string) error { return errors.New("disk says no") }
	defer func() { renameFile = os.Rename }()
	require.Error(t, s.Compact())

	// The append handle was closed for the swap; a failed swap must restore
	// it, not leave the store dead until restart.
	renameFile = os.Rename
	require.NoError(t, s.Append(rec("skill", "after failure", "x")))
	assert.Equal(t, 6, s.Len("skill"))

	reopened, err := Open(path, 100, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got := reopened.Records("skill")
	require.NotEmpty(t, got)
	assert.Equal(t, "after failure", got[len(got)-1].Input)
}
