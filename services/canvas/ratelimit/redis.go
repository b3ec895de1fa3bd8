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
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces cooldown keys in a shared Redis.
const DefaultKeyPrefix = "canvas:cooldown:"

// checkAndRecordScript returns the remaining wait in milliseconds when the
// key is inside its window, or -1 after recording ARGV[1] as the new
// timestamp. Keys expire after one cooldown so idle buckets are reclaimed.
var checkAndRecordScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if last then
	local untilMs = tonumber(last) + cooldown
	if untilMs > now then
		return untilMs - now
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return -1
`)

// Redis is a Limiter backed by a shared Redis server, for deployments that
// run more than one canvas instance behind a load balancer.
//
// # Description
//
// Timestamps are stored with millisecond precision. The Lua script runs
// atomically on the server, which gives the same check-and-record
// guarantee as Memory's mutex across every instance.
//
// # Limitations
//
//   - Every placement costs one Redis round trip.
//   - Redis unavailability fails the placement; there is no local fallback.
type Redis struct {
	client   redis.UniversalClient
	cooldown time.Duration
	prefix   string
}

// NewRedis wraps an existing client. Empty prefix uses DefaultKeyPrefix;
// a non-positive cooldown uses DefaultCooldown.
func NewRedis(client redis.UniversalClient, cooldown time.Duration, prefix string) *Redis {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, cooldown: cooldown, prefix: prefix}
}

// CheckAndRecord implements Limiter.
func (r *Redis) CheckAndRecord(ctx context.Context, key netip.Addr, now time.Duration) error {
	res, err := checkAndRecordScript.Run(ctx, r.client,
		[]string{r.key(key)},
		strconv.FormatInt(now.Milliseconds(), 10),
		strconv.FormatInt(r.cooldown.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis cooldown check for %s: %w", key, err)
	}
	if res >= 0 {
		return &LimitedError{RetryAfter: time.Duration(res) * time.Millisecond}
	}
	return nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(addr netip.Addr) string {
	return r.prefix + addr.String()
}
