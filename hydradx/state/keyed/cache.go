// Package keyed holds lazily created, reference counted sync services.
package keyed

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "keyed-cache").Logger()
}

// Lifecycle is what the cache needs from a cached value
type Lifecycle interface {
	Start()
	Stop()
}

type entry[V Lifecycle] struct {
	value V
	refs  int
}

// Cache creates one value per key on first use and stops it once it is neither referenced
// by a consumer nor part of the current key set.
type Cache[K comparable, V Lifecycle] struct {
	name    string
	create  func(K) V
	mu      sync.Mutex
	entries map[K]*entry[V]
	current map[K]struct{}
	closed  bool
}

func New[K comparable, V Lifecycle](name string, create func(K) V) *Cache[K, V] {
	return &Cache[K, V]{
		name:    name,
		create:  create,
		entries: make(map[K]*entry[V]),
		current: make(map[K]struct{}),
	}
}

/*
Acquire returns the value of key, creating and starting it when needed.

Params:
  - key: the cache key

Returns:
  - V: the started value
  - func(): releases the reference, safe to call more than once
*/
func (c *Cache[K, V]) Acquire(key K) (V, func()) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		// Start must not block
		e = &entry[V]{value: c.create(key)}
		e.value.Start()
		c.entries[key] = e
		log.Debug().Str("cache", c.name).Interface("key", key).Msg("Created entry")
	}
	e.refs++
	c.mu.Unlock()

	var once sync.Once
	return e.value, func() {
		once.Do(func() { c.release(key, e) })
	}
}

func (c *Cache[K, V]) release(key K, e *entry[V]) {
	c.mu.Lock()
	e.refs--
	stale := c.evictable(key, e)
	if stale {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if stale {
		c.stop(key, e.value)
	}
}

// Use replaces the current key set, entries that fall out of it are stopped once unreferenced
func (c *Cache[K, V]) Use(keys ...K) {
	c.mu.Lock()
	c.current = make(map[K]struct{}, len(keys))
	for _, key := range keys {
		c.current[key] = struct{}{}
	}
	var stale []K
	var values []V
	for key, e := range c.entries {
		if c.evictable(key, e) {
			stale = append(stale, key)
			values = append(values, e.value)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for i := range stale {
		c.stop(stale[i], values[i])
	}
}

func (c *Cache[K, V]) evictable(key K, e *entry[V]) bool {
	if e.refs > 0 {
		return false
	}
	if c.closed {
		return true
	}
	_, current := c.current[key]
	return !current
}

// Peek returns the value of key without creating or referencing it
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Values lists every live value
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		values = append(values, e.value)
	}
	return values
}

// Close stops every entry. Values still referenced are stopped on their last release.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	c.closed = true
	c.current = make(map[K]struct{})
	var keys []K
	var values []V
	for key, e := range c.entries {
		if e.refs == 0 {
			keys = append(keys, key)
			values = append(values, e.value)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for i := range keys {
		c.stop(keys[i], values[i])
	}
}

func (c *Cache[K, V]) stop(key K, value V) {
	log.Debug().Str("cache", c.name).Interface("key", key).Msg("Stopping stale entry")
	value.Stop()
}
