// Package freshness is the process-local read cache in front of the durable
// aggregate store. It is never authoritative: every entry can be rebuilt from
// the store, and cross-process entries are not coordinated.
package freshness

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxEntries        = 1024
	defaultBaseTTL           = 30 * time.Second
	defaultExtendedTTLFactor = 2.5
	defaultSmallDatasetRows  = 1000
)

// Options configures a Cache.
type Options struct {
	MaxEntries        int
	BaseTTL           time.Duration
	ExtendedTTLFactor float64
	SmallDatasetRows  int64
}

func (o Options) normalized() Options {
	n := o
	if n.MaxEntries <= 0 {
		n.MaxEntries = defaultMaxEntries
	}
	if n.BaseTTL <= 0 {
		n.BaseTTL = defaultBaseTTL
	}
	if n.ExtendedTTLFactor < 1 {
		n.ExtendedTTLFactor = defaultExtendedTTLFactor
	}
	if n.SmallDatasetRows <= 0 {
		n.SmallDatasetRows = defaultSmallDatasetRows
	}
	return n
}

// Cache is a thread-safe LRU with per-entry TTL.
// Expired entries are dropped when read; there is no sweeper goroutine.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*list.Element
	order   *list.List
	closed  bool
	gen     uint64 // bumped by every invalidation
	now     func() time.Time

	hits      uint64
	misses    uint64
	expired   uint64
	evictions uint64
}

type cacheEntry struct {
	fingerprint string
	value       any
	cachedAt    time.Time
	ttl         time.Duration
	hits        uint64
}

func (e *cacheEntry) expiredAt(now time.Time) bool {
	return now.Sub(e.cachedAt) >= e.ttl
}

// New creates an empty cache.
func New(opts Options) *Cache {
	return &Cache{
		opts:    opts.normalized(),
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the value stored under fingerprint.
// An expired entry is removed and reported as a miss.
func (c *Cache) Get(fingerprint string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.expiredAt(c.now()) {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	entry.hits++
	c.hits++
	return entry.value, true
}

// Set stores value under fingerprint for ttl, evicting the least recently used
// entry when the cache is full. A non-positive ttl uses the base TTL.
func (c *Cache) Set(fingerprint string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(fingerprint, value, ttl)
}

func (c *Cache) setLocked(fingerprint string, value any, ttl time.Duration) {
	if c.closed {
		return
	}
	if ttl <= 0 {
		ttl = c.opts.BaseTTL
	}
	now := c.now()

	if elem, ok := c.entries[fingerprint]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.cachedAt = now
		entry.ttl = ttl
		return
	}

	for c.order.Len() >= c.opts.MaxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}

	entry := &cacheEntry{fingerprint: fingerprint, value: value, cachedAt: now, ttl: ttl}
	c.entries[fingerprint] = c.order.PushFront(entry)
}

// Generation returns the invalidation counter. Take it before reading the
// source of a value and pass it to SetSizedAt.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetSizedAt is SetSized that drops the value when any invalidation ran since
// gen was taken, so a read that raced a rebuild cannot refill an evicted key.
// It reports whether the value was stored.
func (c *Cache) SetSizedAt(fingerprint string, value any, sourceRows int64, gen uint64) bool {
	ttl := c.TTLFor(sourceRows)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setLocked(fingerprint, value, ttl)
	return true
}

// SetSized stores value with a TTL chosen from the size of its source dataset.
// Results computed from fewer than SmallDatasetRows rows get the extended TTL.
func (c *Cache) SetSized(fingerprint string, value any, sourceRows int64) {
	c.Set(fingerprint, value, c.TTLFor(sourceRows))
}

// TTLFor returns the TTL SetSized would apply for sourceRows.
func (c *Cache) TTLFor(sourceRows int64) time.Duration {
	if sourceRows < c.opts.SmallDatasetRows {
		return time.Duration(float64(c.opts.BaseTTL) * c.opts.ExtendedTTLFactor)
	}
	return c.opts.BaseTTL
}

// EvictPattern removes every entry whose fingerprint contains substr and
// returns how many were removed. An empty substr removes everything.
func (c *Cache) EvictPattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Bumped even when nothing matches: a reader may be about to fill the key.
	c.gen++
	removed := 0
	for fp, elem := range c.entries {
		if strings.Contains(fp, substr) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and returns how many there were.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	n := c.order.Len()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	return n
}

// Shutdown clears the cache and turns further Sets into no-ops.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
}

// EntryStat describes one live entry.
type EntryStat struct {
	Fingerprint string        `json:"fingerprint"`
	Age         time.Duration `json:"age_ns"`
	TTL         time.Duration `json:"ttl_ns"`
	Hits        uint64        `json:"hits"`
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	EntryCount int         `json:"entry_count"`
	MaxEntries int         `json:"max_entries"`
	Hits       uint64      `json:"hits"`
	Misses     uint64      `json:"misses"`
	Expired    uint64      `json:"expired"`
	Evictions  uint64      `json:"evictions"`
	Entries    []EntryStat `json:"entries"`
}

// Stats returns counters and per-entry ages, most recently used first.
// Expired entries still in the map are reported until they are next read.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := Stats{
		EntryCount: c.order.Len(),
		MaxEntries: c.opts.MaxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Expired:    c.expired,
		Evictions:  c.evictions,
		Entries:    make([]EntryStat, 0, c.order.Len()),
	}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		s.Entries = append(s.Entries, EntryStat{
			Fingerprint: entry.fingerprint,
			Age:         now.Sub(entry.cachedAt),
			TTL:         entry.ttl,
			Hits:        entry.hits,
		})
	}
	return s
}

// Fingerprints returns the live fingerprints in sorted order.
func (c *Cache) Fingerprints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.entries))
	for fp := range c.entries {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.fingerprint)
	c.order.Remove(elem)
}
