// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the canvas service.
//
// # Caller Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ─► X-Request-ID (client value or new UUID)
//	   │
//	   ▼
//	CallerAddress
//	   │
//	   ├─► RemoteAddr (default), or gin ClientIP() behind trusted proxies
//	   │
//	   └─► Store netip.Addr in context
//	           │
//	           ▼
//	       Handler (retrieves via GetCaller)
//
// The caller address is the only client identity the service knows; the
// placement service derives its rate-limit key from it.
package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/identity"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	callerKey    = "canvas_caller"
	requestIDKey = "canvas_request_id"

	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
)

// =============================================================================
// Context Helpers
// =============================================================================

// GetCaller returns the caller address stored by CallerAddress.
//
// # Outputs
//
//   - netip.Addr: The caller address. Invalid if CallerAddress did not run.
//   - bool: Whether an address was present.
func GetCaller(c *gin.Context) (addr netip.Addr, ok bool) {
	if v, exists := c.Get(callerKey); exists {
		addr, ok = v.(netip.Addr)
	}
	return addr, ok
}

// GetRequestID returns the ID assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// =============================================================================
// Middleware
// =============================================================================

// RequestID tags every request with an ID, reusing a client supplied
// X-Request-ID when it is a valid UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// CallerAddress resolves the client's network address and stores it for
// handlers.
//
// # Description
//
// By default the TCP peer address is used verbatim. With trustProxies set,
// gin's ClientIP() is used, which honours X-Forwarded-For only from the
// proxies configured with engine.SetTrustedProxies.
//
// # Inputs
//
//   - trustProxies: Use ClientIP() instead of RemoteAddr.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 400 when no address can be parsed.
//
// # Thread Safety
//
// Safe for concurrent use (per-request state only).
func CallerAddress(trustProxies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Request.RemoteAddr
		if trustProxies {
			raw = c.ClientIP()
		}
		addr, err := identity.FromRemoteAddr(raw)
		if err != nil {
			slog.Warn("unparseable caller address",
				"remoteAddr", raw,
				"requestId", GetRequestID(c),
			)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown caller address"})
			return
		}
		c.Set(callerKey, addr)
		c.Next()
	}
}
