// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package placement implements the single-pixel write pipeline.
//
// # Description
//
// A placement passes through a fixed sequence of steps:
//
//	Submit(req, caller)
//	   │
//	   ├─► clock.SinceEpoch        ──(fail)──► 500
//	   ├─► identity.Resolve
//	   ├─► board.Len bounds check  ──(fail)──► 400 "Index must be less than N"
//	   ├─► limiter.CheckAndRecord  ──(fail)──► 429 "Please wait N seconds ..."
//	   ├─► board.WriteAt           ──(fail)──► 400 / 500
//	   ├─► diffs.Append            ──(fail)──► 500
//	   └─► listeners               (errors logged only)
//	           │
//	           ▼
//	         200 "OK"
//
// Every outcome is expressed as a Result with an HTTP-style status code and
// a plain text message, so transport layers stay thin.
//
// # Thread Safety
//
// Service is safe for concurrent use. Concurrent placements at distinct
// offsets never interfere; placements at the same offset are last writer
// wins, and their diff records may land in either order.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/clock"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/identity"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/ratelimit"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.canvas.placement")

// MessageOK is the body of an accepted placement.
const MessageOK = "OK"

// Result is the outcome of a placement or board read.
type Result struct {
	Status  int
	Message string
}

// OK reports whether the result is a 200.
func (r Result) OK() bool {
	return r.Status == http.StatusOK
}

// Listener observes accepted placements. It is called after the board and
// the diff log have both been written.
type Listener interface {
	OnPlacement(ctx context.Context, rec storage.Record) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, rec storage.Record) error

// OnPlacement implements Listener.
func (f ListenerFunc) OnPlacement(ctx context.Context, rec storage.Record) error {
	return f(ctx, rec)
}

// Config wires a Service.
//
// # Fields
//
//   - Clock: Required. Source of placement timestamps.
//   - Limiter: Required. Per-identity cooldown.
//   - Board: Required. The canvas file.
//   - Diffs: Required. The append-only change log.
//   - Metrics: Optional.
//   - Logger: Optional. Defaults to slog.Default().
type Config struct {
	Clock   clock.Clock
	Limiter ratelimit.Limiter
	Board   *storage.Board
	Diffs   *storage.DiffLog
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Service runs placements and board reads.
type Service struct {
	clock   clock.Clock
	limiter ratelimit.Limiter
	board   *storage.Board
	diffs   *storage.DiffLog
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Clock == nil:
		return nil, errors.New("placement: clock is required")
	case cfg.Limiter == nil:
		return nil, errors.New("placement: limiter is required")
	case cfg.Board == nil:
		return nil, errors.New("placement: board is required")
	case cfg.Diffs == nil:
		return nil, errors.New("placement: diff log is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clock:   cfg.Clock,
		limiter: cfg.Limiter,
		board:   cfg.Board,
		diffs:   cfg.Diffs,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// AddListener registers l for every subsequent accepted placement.
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// =============================================================================
// Operations
// =============================================================================

// Submit places req.Pixel at req.Index on behalf of caller.
//
// # Inputs
//
//   - ctx: Carries the trace span and bounds the limiter round trip.
//   - req: The placement. Its Pixel must be a palette color.
//   - caller: Transport-level address of the client.
//
// # Outputs
//
//   - Result: 200 "OK"; 400 "Index must be less than N"; 429 "Please wait
//     N seconds before placing again"; or 500 with the cause and the
//     failing source location.
//
// # Limitations
//
//   - A cooldown recorded before a later I/O failure is not rolled back.
//   - If the diff append fails after the board write, the board keeps the
//     new pixel with no matching record.
func (s *Service) Submit(ctx context.Context, req Request, caller netip.Addr) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "placement.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("placement.index", int64(req.Index)),
		attribute.String("placement.pixel", req.Pixel.String()),
	)

	res, outcome := s.submit(ctx, req, caller)

	span.SetAttributes(
		attribute.Int("placement.status", res.Status),
		attribute.String("placement.outcome", string(outcome)),
	)
	if outcome == observability.OutcomeInternal {
		span.SetStatus(codes.Error, "placement failed")
	}
	s.metrics.RecordPlacement(outcome, time.Since(start).Seconds())
	return res
}

func (s *Service) submit(ctx context.Context, req Request, caller netip.Addr) (Result, observability.Outcome) {
	if err := req.Validate(); err != nil {
		return Result{Status: http.StatusBadRequest, Message: err.Error()}, observability.OutcomeBadRequest
	}

	// Step 1: timestamp
	now, err := s.clock.SinceEpoch()
	if err != nil {
		s.logger.Error("placement clock failure", "error", err)
		return internalError(err), observability.OutcomeInternal
	}

	// Step 2: identity bucket
	key := identity.Resolve(caller)

	// Step 3: bounds, before the limiter so rejected indices spend no cooldown
	length, err := s.board.Len()
	if err != nil {
		s.logger.Error("board stat failed", "error", err)
		return internalError(err), observability.OutcomeInternal
	}
	if int64(req.Index) >= length {
		return outOfBounds(length), observability.OutcomeOutOfBounds
	}

	// Step 4: cooldown
	if err := s.limiter.CheckAndRecord(ctx, key, now); err != nil {
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			s.logger.Debug("placement rate limited",
				"key", key.String(),
				"retryAfter", limited.RetryAfterSeconds(),
			)
			return Result{
				Status:  http.StatusTooManyRequests,
				Message: fmt.Sprintf("Please wait %d seconds before placing again", limited.RetryAfterSeconds()),
			}, observability.OutcomeRateLimited
		}
		s.logger.Error("rate limiter failure", "key", key.String(), "error", err)
		return internalError(err), observability.OutcomeInternal
	}

	// Step 5: board write
	c := req.Pixel.Byte()
	if err := s.writeBoard(ctx, req.Index, c); err != nil {
		var bounds *storage.BoundsError
		if errors.As(err, &bounds) {
			return outOfBounds(bounds.Length), observability.OutcomeOutOfBounds
		}
		s.logger.Error("board write failed", "index", req.Index, "error", err)
		return internalError(err), observability.OutcomeInternal
	}

	// Step 6: diff log
	rec := storage.Record{
		TimestampMs: uint64(now / time.Millisecond),
		Offset:      req.Index,
		Color:       c,
	}
	if err := s.appendDiff(ctx, rec); err != nil {
		s.logger.Error("diff append failed", "index", req.Index, "error", err)
		return internalError(err), observability.OutcomeInternal
	}

	s.logger.Debug("placement accepted",
		"key", key.String(),
		"index", req.Index,
		"pixel", req.Pixel.String(),
	)
	s.notify(ctx, rec)
	return Result{Status: http.StatusOK, Message: MessageOK}, observability.OutcomeAccepted
}

func (s *Service) writeBoard(ctx context.Context, index uint32, c byte) error {
	_, span := tracer.Start(ctx, "board.WriteAt",
		trace.WithAttributes(attribute.Int64("board.offset", int64(index))))
	defer span.End()
	if err := s.board.WriteAt(index, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "board write failed")
		return err
	}
	return nil
}

func (s *Service) appendDiff(ctx context.Context, rec storage.Record) error {
	_, span := tracer.Start(ctx, "diffs.Append",
		trace.WithAttributes(attribute.Int64("diff.timestamp_ms", int64(rec.TimestampMs))))
	defer span.End()
	if err := s.diffs.Append(rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "diff append failed")
		return err
	}
	return nil
}

func (s *Service) notify(ctx context.Context, rec storage.Record) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		if err := l.OnPlacement(ctx, rec); err != nil {
			s.logger.Warn("placement listener failed", "offset", rec.Offset, "error", err)
		}
	}
}

// Board returns the current board bytes as the message of a 200 Result, or
// a 500 Result if the file cannot be read.
func (s *Service) Board(ctx context.Context) Result {
	_, span := tracer.Start(ctx, "placement.Board")
	defer span.End()

	data, err := s.board.Read()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "board read failed")
		s.logger.Error("board read failed", "error", err)
		s.metrics.RecordBoardRead(false)
		return internalError(err)
	}
	span.SetAttributes(attribute.Int("board.length", len(data)))
	s.metrics.RecordBoardRead(true)
	return Result{Status: http.StatusOK, Message: string(data)}
}

// =============================================================================
// Result Helpers
// =============================================================================

func outOfBounds(length int64) Result {
	return Result{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Index must be less than %d", length),
	}
}

// internalError formats err with the source location of its caller.
func internalError(err error) Result {
	location := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		location = fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)), line)
	}
	return Result{
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("%v\nInternal server error at %s", err, location),
	}
}
