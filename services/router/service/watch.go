// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces (write, chmod, rename) into a single reload.
const reloadDebounce = 250 * time.Millisecond

// WatchRegistry reloads the registry whenever the file at path changes.
//
// Blocks until ctx is cancelled. The parent directory is watched rather than
// the file itself: editors that write-and-rename (vim, atomic writers)
// replace the inode, which silently detaches a file-level watch.
//
// Reload failures keep the previous router and are logged; the watch
// continues.
func (s *Service) WatchRegistry(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("service: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("service: watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	s.logger.Info("watching registry for changes", slog.String("path", target))

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.ReloadRegistry(target); err != nil {
				s.logger.Warn("registry reload failed, keeping previous candidates",
					slog.String("error", err.Error()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("registry watcher error", slog.String("error", err.Error()))
		}
	}
}
