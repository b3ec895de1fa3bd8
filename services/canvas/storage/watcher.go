// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ResizeFunc is called with the new board length after it changes.
type ResizeFunc func(length int64)

// BoardWatcher reports board length changes made outside the service,
// typically by `canvasctl provision`.
//
// # Description
//
// The parent directory is watched rather than the file itself so that a
// board replaced by rename (as editors and some provisioning scripts do)
// keeps being tracked. Single-byte placements also produce write events;
// those are filtered out by comparing lengths.
//
// # Thread Safety
//
// Run must be called at most once. The callback runs on the watcher
// goroutine.
type BoardWatcher struct {
	board    *Board
	onResize ResizeFunc
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	lastLen  int64
}

// NewBoardWatcher starts watching the board's directory.
//
// # Outputs
//
//   - *BoardWatcher: Call Run to start delivering events and Close when done.
//   - error: Non-nil if the watch cannot be established.
func NewBoardWatcher(board *Board, onResize ResizeFunc, logger *slog.Logger) (*BoardWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	length, err := board.Len()
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create board watcher: %w", err)
	}
	dir := filepath.Dir(board.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &BoardWatcher{
		board:    board,
		onResize: onResize,
		logger:   logger,
		watcher:  w,
		lastLen:  length,
	}, nil
}

// Run delivers resize callbacks until ctx is cancelled or the watcher is
// closed.
func (bw *BoardWatcher) Run(ctx context.Context) error {
	target := filepath.Clean(bw.board.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-bw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			bw.check()
		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return nil
			}
			bw.logger.Warn("board watcher error", "error", err)
		}
	}
}

func (bw *BoardWatcher) check() {
	length, err := bw.board.Len()
	if err != nil {
		bw.logger.Warn("board watcher stat failed", "error", err)
		return
	}
	if length == bw.lastLen {
		return
	}
	bw.logger.Info("board length changed", "previous", bw.lastLen, "length", length)
	bw.lastLen = length
	if bw.onResize != nil {
		bw.onResize(length)
	}
}

// Close stops the underlying fsnotify watcher.
func (bw *BoardWatcher) Close() error {
	return bw.watcher.Close()
}
