// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/gin-gonic/gin"
)

// MaxDiffsLimit caps the limit query parameter.
const MaxDiffsLimit = 10000

// HistoryReader answers time range queries over past placements.
type HistoryReader interface {
	Since(ctx context.Context, sinceMs uint64, limit int) ([]storage.Record, error)
}

// DiffEntry is the JSON form of one placement record.
type DiffEntry struct {
	Timestamp uint64       `json:"timestamp"`
	Index     uint32       `json:"index"`
	Pixel     pixels.Pixel `json:"pixel"`
}

// DiffsResponse is the body of GET /v1/diffs.
type DiffsResponse struct {
	Records []DiffEntry `json:"records"`
	Count   int         `json:"count"`
}

// ListDiffs serves GET /v1/diffs?since=<ms>&limit=<n>.
//
// # Description
//
// Returns placements with timestamp >= since, oldest first. The answer
// comes from the history index, so it can trail the diff file by records
// whose indexing failed.
//
// # Inputs
//
//   - history: Index to query. Nil disables the endpoint (404).
//   - metrics: Optional. Counts query failures.
//
// # Outputs
//
//   - 200 DiffsResponse; 400 for bad parameters; 404 when disabled; 500
//     when the index fails.
func ListDiffs(history HistoryReader, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if history == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "history index disabled"})
			return
		}

		since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if limit > MaxDiffsLimit {
			limit = MaxDiffsLimit
		}

		records, err := history.Since(c.Request.Context(), since, limit)
		if err != nil {
			slog.Error("history query failed", "since", since, "error", err)
			metrics.RecordHistoryError("query")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
			return
		}

		resp := DiffsResponse{Records: make([]DiffEntry, 0, len(records))}
		for _, rec := range records {
			p, err := pixels.Decode(rec.Color)
			if err != nil {
				slog.Warn("skipping history record with invalid color", "offset", rec.Offset, "error", err)
				continue
			}
			resp.Records = append(resp.Records, DiffEntry{
				Timestamp: rec.TimestampMs,
				Index:     rec.Offset,
				Pixel:     p,
			})
		}
		resp.Count = len(resp.Records)
		c.JSON(http.StatusOK, resp)
	}
}
