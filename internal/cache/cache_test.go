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

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clk *fakeClock) *TTL[int] {
	t.Helper()
	c, err := New[int](16, 300*time.Second, WithClock(clk.Now))
	require.NoError(t, err)
	return c
}

// TestPurpose: Validates that entries past their TTL are never served.
// Scope: Unit Test
// Security: Stale authorization results must not outlive the TTL window.
// Expected: Hit before TTL, miss at and after TTL, entry removed on read.
// Test Case ID: CCH-01
func TestTTL_LazyExpiry(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clk)

	c.Set("u1:folder:/x/", 7)
	clk.Advance(299 * time.Second)
	v, ok := c.Get("u1:folder:/x/")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	clk.Advance(time.Second)
	_, ok = c.Get("u1:folder:/x/")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// TestPurpose: Validates per-user invalidation by key prefix.
// Scope: Unit Test
// Expected: Only keys with the given prefix are removed.
// Test Case ID: CCH-02
func TestTTL_DeletePrefix(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clk)

	c.Set("u1:folder:/a/", 1)
	c.Set("u1:bucket:", 2)
	c.Set("u10:folder:/a/", 3)
	c.Set("u2:folder:/a/", 4)

	removed := c.DeletePrefix("u1:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("u1:folder:/a/")
	assert.False(t, ok)
	_, ok = c.Get("u10:folder:/a/")
	assert.True(t, ok)
	_, ok = c.Get("u2:folder:/a/")
	assert.True(t, ok)
}

// TestPurpose: Validates Delete and Clear.
// Scope: Unit Test
// Expected: Removed keys miss; Clear empties the cache.
// Test Case ID: CCH-03
func TestTTL_DeleteAndClear(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clk)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// TestPurpose: Validates the size bound.
// Scope: Unit Test
// Expected: Oldest entry is evicted once capacity is exceeded.
// Test Case ID: CCH-04
func TestTTL_Bounded(t *testing.T) {
	c, err := New[int](2, time.Minute)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
