// Package cache provides a generic capacity- and time-bounded key/value
// store with LRU eviction and hit/miss accounting. It backs the document
// index cache but has no knowledge of what it stores.
package cache

import (
	"container/list"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Entry wraps one cached value with its bookkeeping.
type Entry[T any] struct {
	Data        T
	CreatedAt   time.Time
	TTL         time.Duration
	AccessCount int64
	LastAccess  time.Time
}

func (e *Entry[T]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Options configures a BoundedCache.
type Options[T any] struct {
	// Capacity is the maximum number of live entries. Inserting beyond it
	// evicts the least-recently-used entry first.
	Capacity int
	// DefaultTTL applies to Set calls that do not pass an explicit TTL.
	// Zero means entries never expire by time.
	DefaultTTL time.Duration
	// SweepInterval is how often the background sweeper removes expired
	// entries. Zero disables the sweeper.
	SweepInterval time.Duration
	// MemoryThreshold is a soft byte ceiling on the estimated footprint.
	// Exceeding it triggers an immediate sweep and raises a warning flag.
	MemoryThreshold int64
	// Sizer estimates the byte footprint of one value. Optional.
	Sizer   func(T) int64
	Logger  *log.Logger
	Metrics Metrics
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Size           int     `json:"size"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Evictions      uint64  `json:"evictions"`
	MemoryEstimate int64   `json:"memory_estimate_bytes"`
	MemoryWarning  bool    `json:"memory_warning"`
}

// BoundedCache is a thread-safe LRU+TTL cache.
type BoundedCache[T any] struct {
	mu      sync.Mutex
	opts    Options[T]
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64
	memory    int64
	warning   bool

	sweeping atomic.Bool
	done     chan struct{}
	closed   sync.Once
}

type node[T any] struct {
	key   string
	entry *Entry[T]
	size  int64
}

// New creates a cache and starts its sweeper if an interval is configured.
func New[T any](opts Options[T]) *BoundedCache[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	c := &BoundedCache[T]{
		opts:    opts,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		done:    make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go c.sweepLoop()
	}
	return c
}

// Get returns the value for key, updating recency. An expired entry is
// removed and reported as a miss.
func (c *BoundedCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		c.opts.Metrics.Miss()
		return zero, false
	}
	n := el.Value.(*node[T])
	if n.entry.expired(time.Now()) {
		c.removeLocked(el)
		c.opts.Metrics.Expire()
		c.misses++
		c.opts.Metrics.Miss()
		return zero, false
	}
	n.entry.AccessCount++
	n.entry.LastAccess = time.Now()
	c.order.MoveToFront(el)
	c.hits++
	c.opts.Metrics.Hit()
	return n.entry.Data, true
}

// Set stores value under key. An optional TTL overrides the default.
func (c *BoundedCache[T]) Set(key string, value T, ttl ...time.Duration) {
	entryTTL := c.opts.DefaultTTL
	if len(ttl) > 0 {
		entryTTL = ttl[0]
	}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	for len(c.entries) >= c.opts.Capacity {
		c.evictLocked()
	}
	now := time.Now()
	n := &node[T]{
		key:   key,
		entry: &Entry[T]{Data: value, CreatedAt: now, TTL: entryTTL, LastAccess: now},
		size:  c.estimate(key, value),
	}
	c.entries[key] = c.order.PushFront(n)
	c.memory += n.size
	overThreshold := c.opts.MemoryThreshold > 0 && c.memory > c.opts.MemoryThreshold
	if overThreshold {
		c.warning = true
	}
	c.mu.Unlock()

	if overThreshold {
		c.opts.Logger.Printf("memory estimate over threshold, sweeping expired entries")
		c.Sweep()
	}
}

// Delete removes key and reports whether it was present.
func (c *BoundedCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Has reports whether key holds a live entry. It does not update recency.
func (c *BoundedCache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	if el.Value.(*node[T]).entry.expired(time.Now()) {
		c.removeLocked(el)
		c.opts.Metrics.Expire()
		return false
	}
	return true
}

// Keys returns the keys of all live entries, most recent first.
func (c *BoundedCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*node[T]).key)
	}
	return keys
}

// Clear drops every entry and returns how many were held.
func (c *BoundedCache[T]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.memory = 0
	c.warning = false
	return n
}

// Stats returns a snapshot of counters. The memory warning latches until
// the estimate drops back under the threshold.
func (c *BoundedCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.MemoryThreshold > 0 && c.memory <= c.opts.MemoryThreshold {
		c.warning = false
	}
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:           len(c.entries),
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        rate,
		Evictions:      c.evictions,
		MemoryEstimate: c.memory,
		MemoryWarning:  c.warning,
	}
}

// Sweep removes expired entries now. Safe to call concurrently; overlapping
// calls are skipped rather than queued.
func (c *BoundedCache[T]) Sweep() int {
	if !c.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer c.sweeping.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*node[T]).entry.expired(now) {
			c.removeLocked(el)
			c.opts.Metrics.Expire()
			removed++
		}
		el = prev
	}
	return removed
}

// Close stops the background sweeper.
func (c *BoundedCache[T]) Close() {
	c.closed.Do(func() { close(c.done) })
}

func (c *BoundedCache[T]) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.opts.Logger.Printf("sweep removed %d expired entries", n)
			}
		case <-c.done:
			return
		}
	}
}

func (c *BoundedCache[T]) evictLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	n := el.Value.(*node[T])
	c.removeLocked(el)
	c.evictions++
	c.opts.Metrics.Eviction()
	c.opts.Logger.Printf("evicted %s (lru)", n.key)
}

func (c *BoundedCache[T]) removeLocked(el *list.Element) {
	n := el.Value.(*node[T])
	c.order.Remove(el)
	delete(c.entries, n.key)
	c.memory -= n.size
	if c.memory < 0 {
		c.memory = 0
	}
}

// entryOverhead approximates the fixed cost of one entry's bookkeeping.
const entryOverhead = 256

func (c *BoundedCache[T]) estimate(key string, value T) int64 {
	size := int64(len(key)) + entryOverhead
	if c.opts.Sizer != nil {
		size += c.opts.Sizer(value)
	}
	return size
}
