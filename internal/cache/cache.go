// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/sensorbridge/internal/telemetry"
)

const (
	// DefaultSuccessTTL matches the upstream data cadence: sensor
	// readings arrive every few minutes, so 5 minutes of staleness is
	// acceptable.
	DefaultSuccessTTL = 5 * time.Minute

	// DefaultFailureTTL is deliberately short. Caching a failure
	// prevents hammering a dying gateway, but the system must notice
	// recovery promptly.
	DefaultFailureTTL = 30 * time.Second
)

type entry struct {
	result    telemetry.FetchResult
	expiresAt time.Time
}

// ResultCache caches FetchResults by key with separate TTLs for
// success and failure. It is safe for concurrent use.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	successTTL time.Duration
	failureTTL time.Duration

	// now is replaceable for expiry tests.
	now func() time.Time
}

// New creates a ResultCache. Non-positive TTLs fall back to defaults.
func New(successTTL, failureTTL time.Duration) *ResultCache {
	if successTTL <= 0 {
		successTTL = DefaultSuccessTTL
	}
	if failureTTL <= 0 {
		failureTTL = DefaultFailureTTL
	}
	return &ResultCache{
		entries:    make(map[string]entry),
		successTTL: successTTL,
		failureTTL: failureTTL,
		now:        time.Now,
	}
}

// GetOrFetch returns the cached result for key if fresh, otherwise
// invokes fetch and caches what it returns. Concurrent callers with
// the same key share a single fetch invocation and all receive its
// result; callers with different keys never block each other beyond
// map access.
func (c *ResultCache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) telemetry.FetchResult) telemetry.FetchResult {
	if result, ok := c.lookup(key); ok {
		return result
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have populated
		// the entry between our miss and acquiring the flight.
		if result, ok := c.lookup(key); ok {
			return result, nil
		}

		result := fetch(ctx)
		c.store(key, result)
		return result, nil
	})
	_ = err // the fetch callback never returns an error; failures are results

	if shared {
		log.Printf("[cache] Shared in-flight fetch for key %q", key)
	}
	return v.(telemetry.FetchResult)
}

// Get returns the cached result for key if present and fresh.
func (c *ResultCache) Get(key string) (telemetry.FetchResult, bool) {
	return c.lookup(key)
}

// Invalidate drops the entry for key.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge removes all expired entries and returns how many were dropped.
func (c *ResultCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped int
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of entries, fresh or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) lookup(key string) (telemetry.FetchResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return telemetry.FetchResult{}, false
	}
	return e.result, true
}

func (c *ResultCache) store(key string, result telemetry.FetchResult) {
	ttl := c.successTTL
	if !result.OK() {
		ttl = c.failureTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{result: result, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
