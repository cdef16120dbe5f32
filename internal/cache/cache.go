// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides a bounded, process-wide key/value store with lazy
// TTL expiry.
package cache

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL  = 300 * time.Second
	DefaultSize = 10000
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// TTL is a size-bounded cache whose entries are considered stale after a
// fixed duration. Stale entries are dropped when read.
type TTL[V any] struct {
	entries *lru.Cache[string, entry[V]]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a TTL cache holding at most size entries.
func New[V any](size int, ttl time.Duration, opts ...Option) (*TTL[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	l, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &TTL[V]{entries: l, ttl: ttl, now: o.now}, nil
}

// Get returns the value for key if present and not past its TTL.
func (c *TTL[V]) Get(key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, stamped with the current time.
func (c *TTL[V]) Set(key string, value V) {
	c.entries.Add(key, entry[V]{value: value, storedAt: c.now()})
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.entries.Remove(key)
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *TTL[V]) DeletePrefix(prefix string) int {
	n := 0
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			if c.entries.Remove(k) {
				n++
			}
		}
	}
	return n
}

// Clear drops all entries.
func (c *TTL[V]) Clear() {
	c.entries.Purge()
}

// Len reports the number of stored entries, including ones not yet expired lazily.
func (c *TTL[V]) Len() int {
	return c.entries.Len()
}
