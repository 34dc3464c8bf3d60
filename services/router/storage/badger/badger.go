// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger wraps a BadgerDB instance behind a small transaction API.
//
// The router uses BadgerDB only for the decision cache — service
// infrastructure, not user data. The wrapper exists so callers never touch
// badger.Options directly and so transactions respect context cancellation.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config holds the knobs needed to open a cache DB.
type Config struct {
	// Path is the directory for the BadgerDB files. Created if absent.
	// Ignored when InMemory is true.
	Path string

	// InMemory opens an ephemeral DB with no disk files. Used by tests.
	InMemory bool
}

// DefaultConfig returns a Config pointing at ~/.skillrouter/cache/decisions.
//
// If the home directory cannot be resolved, falls back to a directory under
// os.TempDir(). The caller can always override Path before OpenDB.
func DefaultConfig() Config {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return Config{Path: filepath.Join(base, ".skillrouter", "cache", "decisions")}
}

// DB is an opened BadgerDB handle.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens (or creates) the BadgerDB at cfg.Path.
//
// BadgerDB's internal logger is suppressed; the caller's slog output is the
// single log stream for the service.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &DB{db: db}, nil
}

// Close flushes and closes the underlying DB.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// WithTxn runs fn inside a read-write transaction.
//
// The context is checked before the transaction starts; BadgerDB itself does
// not abort mid-transaction on cancellation, but cache transactions are
// single-key and complete in microseconds.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// RunGC triggers one round of BadgerDB value-log garbage collection.
//
// Intended to be called periodically by the owning service. A return of
// badger.ErrNoRewrite is normal and logged at debug level only.
func (d *DB) RunGC(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	err := d.db.RunValueLogGC(0.5)
	switch {
	case err == nil:
		logger.Debug("badger value log GC: rewrote a file")
	case err == dgbadger.ErrNoRewrite:
		logger.Debug("badger value log GC: nothing to rewrite")
	default:
		logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
	}
}
