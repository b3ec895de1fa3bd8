// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/broadcast"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/handlers"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/middleware"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators the routes hand to handlers.
//
// # Fields
//
//   - Placer: Required. Board reads and placements.
//   - History: Optional. Nil makes /v1/diffs answer 404.
//   - Hub: Optional. Nil leaves /v1/stream unregistered.
//   - Metrics: Optional. Passed to handlers that record errors.
//   - MetricsHandler: Optional. Served at /metrics when set.
//   - TrustProxies: Resolve callers with ClientIP() instead of RemoteAddr.
type Dependencies struct {
	Placer         handlers.Placer
	History        handlers.HistoryReader
	Hub            *broadcast.Hub
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	TrustProxies   bool
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.CallerAddress(deps.TrustProxies))
	{
		v1.GET("/board", handlers.GetBoard(deps.Placer))
		v1.POST("/submit", handlers.SubmitPlacement(deps.Placer))
		v1.GET("/diffs", handlers.ListDiffs(deps.History, deps.Metrics))
		if deps.Hub != nil {
			v1.GET("/stream", handlers.StreamPlacements(deps.Hub))
		}
	}
}
