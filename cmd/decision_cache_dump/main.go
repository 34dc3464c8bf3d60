// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// decision_cache_dump inspects the router's decision cache.
//
// The cache persists finished routing decisions in BadgerDB between service
// restarts, keyed by corpus hash, family, and input hash. This tool opens
// the cache read-only and prints a human-readable summary: keys, TTL
// remaining, and each cached decision's state, chosen candidate, and score.
//
// Usage:
//
//	decision_cache_dump [--path /path/to/cache/decisions]
//
// If --path is not given, reads SKILLROUTER_CACHE_DIR from the environment,
// falling back to ~/.skillrouter/cache/decisions/.
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/praxislabs/skillrouter/services/router/routing"
)

func main() {
	pathFlag := flag.String("path", "", "Path to decision cache BadgerDB directory (overrides SKILLROUTER_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("SKILLROUTER_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".skillrouter", "cache", "decisions")
	}

	fmt.Printf("Decision cache path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The router has not cached any decisions yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		key       string
		expiresAt time.Time
		hasExpiry bool
		decision  *routing.CachedDecision
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(routing.DecisionCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var e entry
			e.key = strings.TrimPrefix(string(item.Key()), routing.DecisionCacheKeyPrefix)

			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			var dec routing.CachedDecision
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&dec); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.decision = &dec
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo cached decisions found.")
		fmt.Println("The router caches MATCHED decisions only; run some requests first.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d cached decision%s:\n", len(entries), plural(len(entries)))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		// Key layout: {corpusHash}/{family}/{inputHash}
		corpusHash, family, inputHash := splitKey(e.key)

		fmt.Printf("\n[%d] Corpus hash: %s\n", i+1, shorten(corpusHash))
		fmt.Printf("    Family:      %s\n", family)
		fmt.Printf("    Input hash:  %s\n", shorten(inputHash))

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:         no expiry set\n")
		}
		fmt.Printf("    Raw size:    %d bytes\n", e.rawSize)

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		dec := e.decision
		fmt.Printf("    State:       %s\n", dec.State)
		if dec.Chosen != "" {
			fmt.Printf("    Chosen:      %s (%.3f)\n", dec.Chosen, dec.CombinedScore)
		}
		fmt.Printf("    Reason:      %s\n", dec.Justification)
		for _, alt := range dec.Alternates {
			fmt.Printf("       alt:      %s (%.3f)\n", alt.Name, alt.Score)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d decision%s, cache path: %s\n", len(entries), plural(len(entries)), dbPath)
}

// splitKey decomposes "{corpusHash}/{family}/{inputHash}". Parts that are
// missing come back empty rather than panicking on malformed keys.
func splitKey(key string) (corpusHash, family, inputHash string) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) > 0 {
		corpusHash = parts[0]
	}
	if len(parts) > 1 {
		family = parts[1]
	}
	if len(parts) > 2 {
		inputHash = parts[2]
	}
	return
}

// shorten truncates a hex digest for display.
func shorten(s string) string {
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}

// plural returns "s" for counts other than 1.
func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "decision_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
