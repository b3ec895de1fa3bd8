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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/handlers"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/spf13/cobra"
)

// runInspect prints diff records oldest first. With --tail only the last N
// are kept in memory.
func runInspect(cmd *cobra.Command, opts *options) error {
	if opts.tail < 0 {
		return fmt.Errorf("--tail must not be negative, got %d", opts.tail)
	}
	reader, err := storage.OpenDiffReader(opts.diffPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	records, err := collect(reader, opts.tail)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		return printJSON(out, records)
	}
	printTable(out, records)
	fmt.Fprintf(out, "%d of %d records\n", len(records), reader.Count())
	return nil
}

// collect reads every record, keeping the last tail of them (all when tail
// is zero).
func collect(reader *storage.DiffReader, tail int) ([]storage.Record, error) {
	var records []storage.Record
	err := reader.ForEach(func(rec storage.Record) error {
		if tail > 0 && len(records) == tail {
			copy(records, records[1:])
			records = records[:tail-1]
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

func printTable(w io.Writer, records []storage.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTIMESTAMP_MS\tINDEX\tPIXEL")
	for _, rec := range records {
		ts := time.UnixMilli(int64(rec.TimestampMs)).UTC().Format(time.RFC3339Nano)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", ts, rec.TimestampMs, rec.Offset, colorName(rec.Color))
	}
	tw.Flush()
}

func printJSON(w io.Writer, records []storage.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		p, err := pixels.Decode(rec.Color)
		if err != nil {
			return fmt.Errorf("record at %d: %w", rec.TimestampMs, err)
		}
		entry := handlers.DiffEntry{Timestamp: rec.TimestampMs, Index: rec.Offset, Pixel: p}
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func colorName(b byte) string {
	p, err := pixels.Decode(b)
	if err != nil {
		return fmt.Sprintf("invalid(%#02x)", b)
	}
	return p.String()
}
