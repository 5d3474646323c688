// Package cache provides a small TTL-bounded cache used to avoid hitting
// the network on every remote metadata lookup (spec.md C4 query_cached).
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the TTL applied when a TTL zero value is passed to [New].
const DefaultTTL = 10 * time.Minute

// CreateFunc populates a cache entry for key.
type CreateFunc[K comparable, V any] func(ctx context.Context, key K) (*V, error)

type entry[V any] struct {
	value   *V
	expires time.Time
}

// TTL is a cache that holds a value for a fixed duration before the next
// Get re-runs the create function.
//
// Concurrent Gets for the same key that miss the cache are coalesced via
// [singleflight.Group] so only one create call is in flight at a time.
// The zero value is not usable; construct with [New].
type TTL[K comparable, V any] struct {
	ttl    time.Duration
	create CreateFunc[K, V]

	mu sync.RWMutex
	m  map[K]entry[V]
	sf singleflight.Group
}

// New returns a TTL cache that calls create on a miss or expiry. A ttl of
// zero uses [DefaultTTL].
func New[K comparable, V any](ttl time.Duration, create CreateFunc[K, V]) *TTL[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[K, V]{
		ttl:    ttl,
		create: create,
		m:      make(map[K]entry[V]),
	}
}

// Get returns the cached value for key, calling the create function on a
// miss or if the cached entry has expired.
func (c *TTL[K, V]) Get(ctx context.Context, key K) (*V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	sfKey := fmt.Sprint(key)
	ch := c.sf.DoChan(sfKey, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := c.create(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.m[key] = entry[V]{value: v, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*V), nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (c *TTL[K, V]) lookup(key K) (*V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Invalidate drops the cached entry for key, if any, forcing the next Get
// to call the create function.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Clear removes all cached entries.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	c.m = make(map[K]entry[V])
	c.mu.Unlock()
}
