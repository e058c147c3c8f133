// Package cache provides a size-aware LRU cache for fetched segment batches.
package cache

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxCost is the default cache budget, in caller-defined cost units.
const DefaultMaxCost = 1_000_000

// evictionSampleSize is how many tail entries are compared when choosing a victim.
const evictionSampleSize = 5

// LRU is a concurrency-safe LRU cache bounded by total entry cost.
// Eviction samples the least recently used entries and drops the one that is
// largest relative to how often it was read.
type LRU[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	head    *entry[V] // most recently used
	tail    *entry[V]
	maxCost int64
	cost    int64

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[V any] struct {
	key         string
	value       V
	cost        int64
	accessCount int64
	prev, next  *entry[V]
}

func (e *entry[V]) evictionScore() float64 {
	return float64(e.accessCount) / float64(max(e.cost, 1))
}

// NewLRU creates a cache holding at most maxCost units. Non-positive means DefaultMaxCost.
func NewLRU[V any](maxCost int64) *LRU[V] {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}

	return &LRU[V]{
		entries: make(map[string]*entry[V]),
		maxCost: maxCost,
	}
}

// Get returns the cached value for key.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)

		var zero V

		return zero, false
	}

	c.hits.Add(1)

	e.accessCount++
	c.moveToFront(e)

	return e.value, true
}

// Put stores value under key with the given cost. Values costing more than
// the whole cache are not stored. An existing key is replaced.
func (c *LRU[V]) Put(key string, value V, cost int64) {
	cost = max(cost, 1)
	if cost > c.maxCost {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}

	for c.cost+cost > c.maxCost && c.tail != nil {
		c.evict()
	}

	e := &entry[V]{key: key, value: value, cost: cost, accessCount: 1}
	c.entries[key] = e
	c.cost += cost
	c.addToFront(e)
}

// Delete drops key if present.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Clear removes every entry. Counters are kept.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[V])
	c.head, c.tail = nil, nil
	c.cost = 0
}

// Stats holds cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Cost    int64
	MaxCost int64
}

// HitRate returns hits over lookups, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: len(c.entries),
		Cost:    c.cost,
		MaxCost: c.maxCost,
	}
}

func (c *LRU[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}

	c.unlink(e)
	c.addToFront(e)
}

func (c *LRU[V]) addToFront(e *entry[V]) {
	e.prev = nil
	e.next = c.head

	if c.head != nil {
		c.head.prev = e
	}

	c.head = e

	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU[V]) unlink(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}

	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}

	e.prev, e.next = nil, nil
}

func (c *LRU[V]) remove(e *entry[V]) {
	c.unlink(e)
	delete(c.entries, e.key)
	c.cost -= e.cost
}

// evict drops the lowest-scoring entry among the least recently used few.
func (c *LRU[V]) evict() {
	victim := c.tail
	lowest := victim.evictionScore()

	e := victim.prev
	for i := 1; i < evictionSampleSize && e != nil; i++ {
		if score := e.evictionScore(); score < lowest {
			victim, lowest = e, score
		}

		e = e.prev
	}

	c.remove(victim)
}
