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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/broadcast"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// StreamPlacements upgrades to a WebSocket and pushes every broadcast event
// as a JSON text message.
//
// # Description
//
// The connection is write-only from the server's point of view. A reader
// goroutine consumes client frames so pongs and close frames are processed
// and ends the subscription when the client goes away. Subscribers that
// fall behind are dropped by the hub and receive a close frame with
// websocket.ClosePolicyViolation.
func StreamPlacements(hub *broadcast.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := hub.Subscribe()
		defer hub.Unsubscribe(sub)
		slog.Info("stream client connected", "subscriber", sub.ID, "remoteAddr", c.Request.RemoteAddr)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			ws.SetReadLimit(512)
			_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(streamPongWait))
			})
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if !ok {
					code, text := websocket.CloseGoingAway, "server shutting down"
					if sub.Dropped() {
						code, text = websocket.ClosePolicyViolation, "subscriber too slow"
					}
					_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
					return
				}
				if err := ws.WriteJSON(ev); err != nil {
					slog.Warn("failed to write stream event", "subscriber", sub.ID, "error", err)
					return
				}
			case <-ticker.C:
				_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				slog.Info("stream client disconnected", "subscriber", sub.ID)
				return
			}
		}
	}
}
