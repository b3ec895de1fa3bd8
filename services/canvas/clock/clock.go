// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock supplies placement timestamps as durations since the Unix
// epoch.
//
// Cooldown arithmetic and diff-log timestamps both use the value returned
// by SinceEpoch, so a clock that cannot produce a non-negative duration is
// a hard failure for the request rather than something to paper over.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClock is returned when the system time is unusable.
var ErrClock = errors.New("system clock unavailable")

// Clock produces the current time as a duration since the Unix epoch.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// SinceEpoch returns the elapsed time since 1970-01-01T00:00:00Z.
	//
	// # Outputs
	//
	//   - time.Duration: Non-negative duration since the epoch.
	//   - error: Wraps ErrClock if no duration since the epoch can be
	//     produced.
	SinceEpoch() (time.Duration, error)
}

// =============================================================================
// System Clock
// =============================================================================

// Config bounds what the system clock may report.
//
// # Fields
//
//   - MaxBackwardJump: Backwards steps larger than this between two reads
//     are logged and the detection baseline is reset to the new reading.
//     Zero disables jump detection. Reads never fail because of a jump.
type Config struct {
	MaxBackwardJump time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		MaxBackwardJump: 1 * time.Hour,
	}
}

// systemClock reads time.Now, rejects pre-epoch readings and reports large
// backwards steps.
type systemClock struct {
	config   Config
	now      func() time.Time
	mu       sync.Mutex
	lastGood time.Duration
}

// System returns a Clock backed by the wall clock with DefaultConfig.
func System() Clock {
	return NewSystem(DefaultConfig())
}

// NewSystem returns a Clock backed by the wall clock.
func NewSystem(cfg Config) Clock {
	return &systemClock{config: cfg, now: time.Now}
}

// SinceEpoch implements Clock.
func (c *systemClock) SinceEpoch() (time.Duration, error) {
	t := c.now()
	if t.Before(time.Unix(0, 0)) {
		return 0, fmt.Errorf("%w: time %s is before the Unix epoch",
			ErrClock, t.UTC().Format(time.RFC3339))
	}
	d := time.Duration(t.UnixNano())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxBackwardJump > 0 && c.lastGood > 0 && c.lastGood-d > c.config.MaxBackwardJump {
		// The wall clock was stepped back, e.g. by an NTP correction. The new
		// reading becomes the reference; cooldowns recorded against the old
		// one run longer by the size of the step.
		slog.Warn("clock stepped backwards, resetting jump detection",
			"backward_jump", (c.lastGood - d).String(),
			"max_allowed", c.config.MaxBackwardJump.String(),
		)
		c.lastGood = d
		return d, nil
	}
	if d > c.lastGood {
		c.lastGood = d
	}
	return d, nil
}

// =============================================================================
// Manual Clock (for testing)
// =============================================================================

// Manual is a Clock whose value is set explicitly. The zero value reads as
// the epoch itself.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
	err error
}

// NewManual returns a Manual clock reading d.
func NewManual(d time.Duration) *Manual {
	return &Manual{now: d}
}

// SinceEpoch implements Clock.
func (m *Manual) SinceEpoch() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.now, nil
}

// Set moves the clock to d.
func (m *Manual) Set(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = d
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
}

// Fail makes subsequent reads return err wrapped with ErrClock. Passing nil
// restores normal operation.
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.err = nil
		return
	}
	m.err = fmt.Errorf("%w: %v", ErrClock, err)
}
