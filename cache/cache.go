// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package cache

import (
	"sync"
	"time"
)

// TTLCache is a concurrency-safe map whose entries expire after a fixed
// duration. Expired entries are dropped lazily on read and whenever a new
// value is stored. Correctness of callers never depends on strict cache
// consistency; entries converge within one TTL.
type TTLCache struct {
	sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

type entry struct {
	value   interface{}
	expires time.Time
}

// New returns a TTLCache whose entries live for the given duration.
func New(ttl time.Duration) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key and whether it was present and
// still fresh.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.Lock()
	defer c.Unlock()

	e, found := c.entries[key]
	if !found {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value under key with a fresh expiry.
func (c *TTLCache) Set(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{value: value, expires: now.Add(c.ttl)}
}

// Delete removes a single entry.
func (c *TTLCache) Delete(key string) {
	c.Lock()
	defer c.Unlock()

	delete(c.entries, key)
}

// Flush drops every entry.
func (c *TTLCache) Flush() {
	c.Lock()
	defer c.Unlock()

	clear(c.entries)
}

// Len reports the number of entries, including any not yet reaped.
func (c *TTLCache) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.entries)
}
