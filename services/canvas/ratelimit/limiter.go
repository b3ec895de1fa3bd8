// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit enforces the per-identity placement cooldown.
//
// # Description
//
// Each identity key may place at most once per cooldown window. A Limiter
// remembers the timestamp of the last accepted placement per key and
// rejects attempts that land inside the window, reporting how long the
// caller still has to wait.
//
// # Atomicity
//
// CheckAndRecord is a single check-then-act operation. Implementations must
// make the check and the record indivisible so two concurrent requests for
// the same key cannot both pass.
//
// # Backends
//
//   - Memory: process-local map under one mutex (default).
//   - Redis: shared across instances; check and record run as one script.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// DefaultCooldown is the minimum spacing between two accepted placements
// from the same identity.
const DefaultCooldown = 5 * time.Minute

// ErrRateLimited matches any *LimitedError via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// LimitedError reports a rejected attempt and the remaining wait.
type LimitedError struct {
	RetryAfter time.Duration
}

// Error implements error.
func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfterSeconds())
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds returns the remaining wait truncated to whole seconds.
func (e *LimitedError) RetryAfterSeconds() int64 {
	return int64(e.RetryAfter / time.Second)
}

// Limiter decides whether an identity may place now.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Limiter interface {
	// CheckAndRecord admits or rejects a placement for key at time now.
	//
	// # Inputs
	//
	//   - ctx: Used only by networked backends.
	//   - key: Identity bucket (see package identity).
	//   - now: Current time as a duration since the Unix epoch.
	//
	// # Outputs
	//
	//   - error: nil when admitted (now is recorded for key); a
	//     *LimitedError when key placed less than one cooldown ago;
	//     any other error when the backend failed.
	CheckAndRecord(ctx context.Context, key netip.Addr, now time.Duration) error
}

// remaining computes the wait for a key last seen at last. ok is false when
// the window has already elapsed.
func remaining(last, cooldown, now time.Duration) (time.Duration, bool) {
	until := last + cooldown
	if until > now {
		return until - now, true
	}
	return 0, false
}
