// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONShapes(t *testing.T) {
	ev, err := PlacementEvent(storage.Record{TimestampMs: 1_000_000, Offset: 0, Color: '5'})
	require.NoError(t, err)
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"placement","timestamp":1000000,"index":0,"pixel":"Red"}`, string(data))

	data, err = json.Marshal(ResizeEvent(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"resize","length":0}`, string(data))
}

func TestPlacementEvent_InvalidColor(t *testing.T) {
	_, err := PlacementEvent(storage.Record{Color: 'x'})
	assert.Error(t, err)
}

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	h := NewHub(Config{})
	a := h.Subscribe()
	b := h.Subscribe()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.Len())

	require.NoError(t, h.OnPlacement(context.Background(), storage.Record{TimestampMs: 5, Offset: 3, Color: '?'}))
	h.Resize(16)

	for _, s := range []*Subscriber{a, b} {
		ev := <-s.Events()
		assert.Equal(t, EventPlacement, ev.Type)
		assert.Equal(t, uint32(3), *ev.Index)
		ev = <-s.Events()
		assert.Equal(t, EventResize, ev.Type)
		assert.Equal(t, int64(16), *ev.Length)
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewHub(Config{Buffer: 2, Metrics: metrics})
	slow := h.Subscribe()
	fast := h.Subscribe()

	for i := 0; i < 3; i++ {
		h.Resize(int64(i))
		<-fast.Events()
	}

	var got int
	for range slow.Events() {
		got++
	}
	assert.Equal(t, 2, got)
	assert.True(t, slow.Dropped())
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamSubscribers))
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(Config{})
	s := h.Subscribe()
	h.Unsubscribe(s)
	h.Unsubscribe(s)

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.False(t, s.Dropped())
	assert.Zero(t, h.Len())
}

func TestHub_RunClosesOnCancel(t *testing.T) {
	h := NewHub(Config{})
	s := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := <-s.Events()
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}
