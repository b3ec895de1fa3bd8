// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the canvas HTTP API.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/middleware"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/placement"
	"github.com/gin-gonic/gin"
)

// maxSubmitBody bounds a placement body. A valid one is under 64 bytes.
const maxSubmitBody = 4 << 10

const textContentType = "text/plain; charset=utf-8"

// Placer is the subset of placement.Service used by the handlers.
type Placer interface {
	Submit(ctx context.Context, req placement.Request, caller netip.Addr) placement.Result
	Board(ctx context.Context) placement.Result
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetBoard serves the board bytes as plain text.
func GetBoard(svc Placer) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeResult(c, svc.Board(c.Request.Context()))
	}
}

// SubmitPlacement decodes {"pixel":"Red","index":2} and runs the placement
// for the caller stored by middleware.CallerAddress.
//
// # Outputs
//
// Plain text, status taken from the placement result. Bodies that fail to
// decode get 400 with the decode error.
func SubmitPlacement(svc Placer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := middleware.GetCaller(c)
		if !ok {
			slog.Error("submit reached without caller address", "requestId", middleware.GetRequestID(c))
			c.Data(http.StatusInternalServerError, textContentType, []byte("caller address unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSubmitBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.Data(http.StatusRequestEntityTooLarge, textContentType, []byte("request body too large"))
				return
			}
			c.Data(http.StatusBadRequest, textContentType, []byte(err.Error()))
			return
		}

		req, err := placement.ParseRequest(body)
		if err != nil {
			slog.Debug("rejected placement body",
				"requestId", middleware.GetRequestID(c),
				"error", err,
			)
			c.Data(http.StatusBadRequest, textContentType, []byte(err.Error()))
			return
		}

		writeResult(c, svc.Submit(c.Request.Context(), req, caller))
	}
}

func writeResult(c *gin.Context, res placement.Result) {
	c.Data(res.Status, textContentType, []byte(res.Message))
}
