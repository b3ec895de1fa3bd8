// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/spf13/cobra"
)

// maxBoardSize keeps every offset representable in a diff record.
const maxBoardSize = math.MaxUint32 + 1

func checkSize(size int64) error {
	if size <= 0 || size > maxBoardSize {
		return fmt.Errorf("--size must be between 1 and %d, got %d", int64(maxBoardSize), size)
	}
	return nil
}

// runProvision grows the board to opts.size. Existing pixels are kept.
func runProvision(cmd *cobra.Command, opts *options) error {
	if err := checkSize(opts.size); err != nil {
		return err
	}
	fill, err := pixels.Parse(opts.fill)
	if err != nil {
		return fmt.Errorf("--fill: %w", err)
	}

	board := storage.NewBoard(opts.boardPath)
	before, err := board.Len()
	if err != nil {
		return err
	}
	after, err := board.Provision(opts.size, fill.Byte())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if after == before {
		fmt.Fprintf(out, "%s already holds %d pixels, nothing to do\n", opts.boardPath, after)
		return nil
	}
	success(out, "%s grown from %d to %d pixels (fill %s)", opts.boardPath, before, after, fill)
	return nil
}

// replayStats summarizes a replay.
type replayStats struct {
	Applied    int64
	OutOfRange int64
	Invalid    int64
}

// samePath reports whether a and b name the same file. Existing files are
// compared by identity so links and relative spellings match.
func samePath(a, b string) bool {
	if ia, err := os.Stat(a); err == nil {
		if ib, err := os.Stat(b); err == nil {
			return os.SameFile(ia, ib)
		}
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// runReplay writes a fresh White board of opts.size pixels to opts.outPath
// and applies every diff record in log order. Records past the end of the
// board or carrying a non-pixel byte are counted and skipped.
func runReplay(cmd *cobra.Command, opts *options) error {
	if err := checkSize(opts.size); err != nil {
		return err
	}
	if samePath(opts.outPath, opts.boardPath) && !opts.force {
		return errors.New("--out is the live board; pass --force to overwrite it")
	}
	if _, err := os.Stat(opts.outPath); err == nil {
		if !opts.force {
			return fmt.Errorf("%s exists; pass --force to overwrite it", opts.outPath)
		}
		if err := os.Remove(opts.outPath); err != nil {
			return fmt.Errorf("remove %s: %w", opts.outPath, err)
		}
	}

	reader, err := storage.OpenDiffReader(opts.diffPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	stats, err := replay(reader, storage.NewBoard(opts.outPath), opts.size)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	success(out, "replayed %d records onto %s (%d pixels)", stats.Applied, opts.outPath, opts.size)
	if stats.OutOfRange > 0 || stats.Invalid > 0 {
		warning(out, "skipped %d out of range, %d invalid", stats.OutOfRange, stats.Invalid)
	}
	return nil
}

func replay(reader *storage.DiffReader, board *storage.Board, size int64) (replayStats, error) {
	var stats replayStats
	if _, err := board.Provision(size, pixels.White.Byte()); err != nil {
		return stats, err
	}
	err := reader.ForEach(func(rec storage.Record) error {
		if int64(rec.Offset) >= size {
			stats.OutOfRange++
			return nil
		}
		if _, err := pixels.Decode(rec.Color); err != nil {
			stats.Invalid++
			return nil
		}
		if err := board.WriteAt(rec.Offset, rec.Color); err != nil {
			return err
		}
		stats.Applied++
		return nil
	})
	return stats, err
}
