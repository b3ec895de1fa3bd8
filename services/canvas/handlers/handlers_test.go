// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/broadcast"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/clock"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/middleware"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/placement"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/ratelimit"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, board string) (*placement.Service, *clock.Manual) {
	t.Helper()
	dir := t.TempDir()
	boardPath := filepath.Join(dir, "board.txt")
	require.NoError(t, os.WriteFile(boardPath, []byte(board), 0o644))

	clk := clock.NewManual(1000 * time.Second)
	svc, err := placement.New(placement.Config{
		Clock:   clk,
		Limiter: ratelimit.NewMemory(ratelimit.DefaultCooldown),
		Board:   storage.NewBoard(boardPath),
		Diffs:   storage.NewDiffLog(filepath.Join(dir, "diffs.bin")),
	})
	require.NoError(t, err)
	return svc, clk
}

func newTestRouter(svc Placer) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.CallerAddress(false))
	router.GET("/health", HealthCheck)
	router.GET("/v1/board", GetBoard(svc))
	router.POST("/v1/submit", SubmitPlacement(svc))
	return router
}

func doRequest(router http.Handler, method, path, body, remote string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := doRequest(router, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

// =============================================================================
// Board / Submit Tests
// =============================================================================

func TestGetBoard_ReturnsText(t *testing.T) {
	svc, _ := newTestService(t, "0123")
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodGet, "/v1/board", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestSubmit_Scenario(t *testing.T) {
	svc, clk := newTestService(t, "0000")
	router := newTestRouter(svc)
	const remote = "198.51.100.7:40000"

	w := doRequest(router, http.MethodPost, "/v1/submit", `{"pixel":"Red","index":2}`, remote)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	clk.Set(1001 * time.Second)
	w = doRequest(router, http.MethodPost, "/v1/submit", `{"pixel":"Blue","index":0}`, "198.51.100.7:40001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Please wait 299 seconds before placing again", w.Body.String())

	w = doRequest(router, http.MethodPost, "/v1/submit", `{"pixel":"White","index":4}`, "192.0.2.1:1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Index must be less than 4", w.Body.String())

	w = doRequest(router, http.MethodGet, "/v1/board", "", "")
	assert.Equal(t, "0050", w.Body.String())
}

func TestSubmit_BadBodies(t *testing.T) {
	svc, _ := newTestService(t, "0000")
	router := newTestRouter(svc)

	for _, body := range []string{`nope`, `{"pixel":"Mauve","index":0}`, `{"index":1}`, `{"pixel":"Red","index":2}garbage`} {
		w := doRequest(router, http.MethodPost, "/v1/submit", body, "198.51.100.7:1")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w := doRequest(router, http.MethodGet, "/v1/board", "", "")
	assert.Equal(t, "0000", w.Body.String())
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	svc, _ := newTestService(t, "0000")
	router := newTestRouter(svc)

	body := `{"pixel":"Red","index":0,"pad":"` + strings.Repeat("x", maxSubmitBody) + `"}`
	w := doRequest(router, http.MethodPost, "/v1/submit", body, "198.51.100.7:1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSubmit_WithoutCallerMiddleware(t *testing.T) {
	svc, _ := newTestService(t, "0000")
	router := gin.New()
	router.POST("/v1/submit", SubmitPlacement(svc))

	w := doRequest(router, http.MethodPost, "/v1/submit", `{"pixel":"Red","index":0}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// ListDiffs Tests
// =============================================================================

type fakeHistory struct {
	records  []storage.Record
	err      error
	gotSince uint64
	gotLimit int
}

func (f *fakeHistory) Since(_ context.Context, sinceMs uint64, limit int) ([]storage.Record, error) {
	f.gotSince, f.gotLimit = sinceMs, limit
	return f.records, f.err
}

func TestListDiffs_Disabled(t *testing.T) {
	router := gin.New()
	router.GET("/v1/diffs", ListDiffs(nil, nil))

	w := doRequest(router, http.MethodGet, "/v1/diffs", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDiffs_ReturnsRecords(t *testing.T) {
	hist := &fakeHistory{records: []storage.Record{
		{TimestampMs: 1_000_000, Offset: 2, Color: '5'},
		{TimestampMs: 1_301_000, Offset: 0, Color: '='},
	}}
	router := gin.New()
	router.GET("/v1/diffs", ListDiffs(hist, nil))

	w := doRequest(router, http.MethodGet, "/v1/diffs?since=999&limit=50000", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(999), hist.gotSince)
	assert.Equal(t, MaxDiffsLimit, hist.gotLimit)

	var resp DiffsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, DiffEntry{Timestamp: 1_000_000, Index: 2, Pixel: pixels.Red}, resp.Records[0])
	assert.Equal(t, pixels.Blue, resp.Records[1].Pixel)
}

func TestListDiffs_BadParams(t *testing.T) {
	router := gin.New()
	router.GET("/v1/diffs", ListDiffs(&fakeHistory{}, nil))

	for _, q := range []string{"?since=-1", "?since=abc", "?limit=-5", "?limit=x"} {
		w := doRequest(router, http.MethodGet, "/v1/diffs"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListDiffs_IndexFailure(t *testing.T) {
	router := gin.New()
	router.GET("/v1/diffs", ListDiffs(&fakeHistory{err: errors.New("closed")}, nil))

	w := doRequest(router, http.MethodGet, "/v1/diffs", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// StreamPlacements Tests
// =============================================================================

func TestStreamPlacements_PushesEvents(t *testing.T) {
	hub := broadcast.NewHub(broadcast.Config{})
	router := gin.New()
	router.GET("/v1/stream", StreamPlacements(hub))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.OnPlacement(context.Background(), storage.Record{TimestampMs: 7, Offset: 1, Color: '3'}))
	hub.Resize(32)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "placement", ev["type"])
	assert.Equal(t, "Black", ev["pixel"])
	assert.Equal(t, float64(1), ev["index"])

	ev = nil
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "resize", ev["type"])
	assert.Equal(t, float64(32), ev["length"])

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamPlacements_UnsubscribesOnDisconnect(t *testing.T) {
	hub := broadcast.NewHub(broadcast.Config{})
	router := gin.New()
	router.GET("/v1/stream", StreamPlacements(hub))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
