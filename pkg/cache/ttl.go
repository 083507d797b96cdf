// Package cache provides a generic, thread-safe TTL cache with optional
// Prometheus metrics.
package cache

import (
	"sync"
	"time"

	"github.com/c360/litesync/errors"
	"github.com/c360/litesync/metric"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a cache whose entries expire a fixed time after they were set.
// Expired entries are dropped when next touched or by Purge.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	items   map[string]entry[V]
	metrics *cacheMetrics
	now     func() time.Time
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	registry *metric.MetricsRegistry
	name     string
	now      func() time.Time
}

// WithMetrics exports hit, miss and size metrics labelled with name. A nil
// registry is ignored.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *options) {
		if registry != nil && name != "" {
			o.registry = registry
			o.name = name
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewTTL creates a cache whose entries live for ttl.
func NewTTL[V any](ttl time.Duration, opts ...Option) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl must be positive")
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	c := &TTL[V]{
		ttl:   ttl,
		items: make(map[string]entry[V]),
		now:   o.now,
	}
	if o.registry != nil {
		m, err := newCacheMetrics(o.registry, o.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the live value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		c.metrics.evicted(1, len(c.items))
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.miss()
		var zero V
		return zero, false
	}
	c.metrics.hit()
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()
	c.metrics.resized(size)
}

// Delete removes key and reports whether it was present.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()
	c.metrics.resized(size)
	return ok
}

// Purge drops every expired entry and returns how many it dropped.
func (c *TTL[V]) Purge() int {
	now := c.now()
	c.mu.Lock()
	n := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	size := len(c.items)
	c.mu.Unlock()
	if n > 0 {
		c.metrics.evicted(n, size)
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
