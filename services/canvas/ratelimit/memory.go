// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"net/netip"
	"sync"
	"time"
)

// Memory is a process-local Limiter.
//
// # Description
//
// Entries live for the lifetime of the process and are never evicted, so
// memory grows with the number of distinct identity buckets seen. A
// restart forgets every cooldown.
//
// # Thread Safety
//
// One mutex covers the whole map and is held for the full check-and-record
// sequence. No I/O happens under the lock.
type Memory struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[netip.Addr]time.Duration
}

// NewMemory returns an empty in-memory limiter. A non-positive cooldown
// falls back to DefaultCooldown.
func NewMemory(cooldown time.Duration) *Memory {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Memory{
		cooldown: cooldown,
		last:     make(map[netip.Addr]time.Duration),
	}
}

// CheckAndRecord implements Limiter.
func (m *Memory) CheckAndRecord(_ context.Context, key netip.Addr, now time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[key]; ok {
		if wait, limited := remaining(last, m.cooldown, now); limited {
			return &LimitedError{RetryAfter: wait}
		}
	}
	m.last[key] = now
	return nil
}

// Cooldown returns the configured window.
func (m *Memory) Cooldown() time.Duration {
	return m.cooldown
}

// Len returns the number of tracked identity buckets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
