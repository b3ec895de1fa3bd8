// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broadcast fans accepted placements and board resizes out to live
// stream subscribers.
//
// # Description
//
// Each subscriber owns a buffered channel. Publish never blocks: a
// subscriber whose buffer is full is dropped and its channel closed, so one
// stalled client cannot slow placements for everyone else.
//
// # Thread Safety
//
// Hub is safe for concurrent use.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/pixels"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// EventType tags a stream message.
type EventType string

const (
	EventPlacement EventType = "placement"
	EventResize    EventType = "resize"
)

// Event is one stream message. Placement events carry Timestamp, Index and
// Pixel; resize events carry Length.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp *uint64       `json:"timestamp,omitempty"`
	Index     *uint32       `json:"index,omitempty"`
	Pixel     *pixels.Pixel `json:"pixel,omitempty"`
	Length    *int64        `json:"length,omitempty"`
}

// PlacementEvent builds the event for an accepted placement.
func PlacementEvent(rec storage.Record) (Event, error) {
	p, err := pixels.Decode(rec.Color)
	if err != nil {
		return Event{}, fmt.Errorf("placement event: %w", err)
	}
	ts, idx := rec.TimestampMs, rec.Offset
	return Event{Type: EventPlacement, Timestamp: &ts, Index: &idx, Pixel: &p}, nil
}

// ResizeEvent builds the event for a board length change.
func ResizeEvent(length int64) Event {
	return Event{Type: EventResize, Length: &length}
}

// Subscriber receives events until it unsubscribes, falls behind, or the
// hub closes.
type Subscriber struct {
	ID string

	events  chan Event
	dropped bool
}

// Events returns the receive channel. It is closed when the subscription
// ends.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Dropped reports whether the hub removed the subscriber for falling
// behind. Only meaningful after Events is closed.
func (s *Subscriber) Dropped() bool {
	return s.dropped
}

// Config configures a Hub.
type Config struct {
	Buffer  int
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Hub tracks subscribers and delivers events.
type Hub struct {
	buffer  int
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		buffer:  cfg.Buffer,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		subs:    make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscriber's channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:     uuid.New().String(),
		events: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.events)
		return s
	}
	h.subs[s.ID] = s
	h.metrics.SubscriberJoined()
	h.logger.Debug("stream subscriber joined", "subscriber", s.ID, "subscribers", len(h.subs))
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, false)
}

func (h *Hub) removeLocked(s *Subscriber, dropped bool) {
	if _, ok := h.subs[s.ID]; !ok {
		return
	}
	delete(h.subs, s.ID)
	s.dropped = dropped
	close(s.events)
	h.metrics.SubscriberLeft(dropped)
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		select {
		case s.events <- ev:
		default:
			h.logger.Warn("dropping slow stream subscriber", "subscriber", s.ID)
			h.removeLocked(s, true)
		}
	}
}

// OnPlacement publishes an accepted placement.
func (h *Hub) OnPlacement(_ context.Context, rec storage.Record) error {
	ev, err := PlacementEvent(rec)
	if err != nil {
		return err
	}
	h.Publish(ev)
	return nil
}

// Resize publishes a board length change.
func (h *Hub) Resize(length int64) {
	h.Publish(ResizeEvent(length))
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run blocks until ctx is done and then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Close ends every subscription. Later subscribers are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, s := range h.subs {
		h.removeLocked(s, false)
	}
}
