package freshness

import (
	"fmt"
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

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(opts Options) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC)}
	c := New(opts)
	c.now = clock.Now
	return c, clock
}

func TestCache_GetBeforeAndAfterTTL(t *testing.T) {
	c, clock := newTestCache(Options{})

	c.Set("f", "v", 10*time.Second)

	clock.Advance(9 * time.Second)
	v, ok := c.Get("f")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(time.Second)
	_, ok = c.Get("f")
	assert.False(t, ok, "entry must not outlive its ttl")

	s := c.Stats()
	assert.Zero(t, s.EntryCount, "expired entry is removed on read")
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Expired)
}

func TestCache_SetSizedExtendsTTLForSmallDatasets(t *testing.T) {
	c, clock := newTestCache(Options{BaseTTL: 10 * time.Second, ExtendedTTLFactor: 3, SmallDatasetRows: 100})

	c.SetSized("small", 1, 99)
	c.SetSized("large", 2, 100)
	assert.Equal(t, 30*time.Second, c.TTLFor(99))
	assert.Equal(t, 10*time.Second, c.TTLFor(100))

	clock.Advance(15 * time.Second)
	_, ok := c.Get("small")
	assert.True(t, ok)
	_, ok = c.Get("large")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(Options{MaxEntries: 2})

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	_, _ = c.Get("a")
	c.Set("c", 3, time.Minute)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, []string{"a", "c"}, c.Fingerprints())
}

func TestCache_EvictPatternRemovesAllAndOnlyMatches(t *testing.T) {
	c, _ := newTestCache(Options{})

	day := Fingerprint("daily-activity-count/2024-03-15", nil)
	dayDim := Fingerprint("daily-activity-count/2024-03-15", map[string]string{"view": "compact"})
	dayEntity := Fingerprint("daily-activity-count/2024-03-15/ent-1", nil)
	month := Fingerprint("monthly-totals/2024-03", nil)
	for _, fp := range []string{day, dayDim, dayEntity, month} {
		c.Set(fp, fp, time.Minute)
	}

	n := c.EvictPattern(KeyPattern("daily-activity-count/2024-03-15"))
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{dayEntity, month}, c.Fingerprints())

	assert.Equal(t, 1, c.EvictPattern("monthly"))
	assert.Equal(t, 1, c.EvictPattern(""))
	assert.Empty(t, c.Fingerprints())
}

func TestCache_ClearAndShutdown(t *testing.T) {
	c, _ := newTestCache(Options{})
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Stats().EntryCount)

	c.Set("a", 1, time.Minute)
	c.Shutdown()
	c.Set("b", 2, time.Minute)
	_, ok := c.Get("b")
	assert.False(t, ok, "sets after shutdown are ignored")
	assert.Zero(t, c.Stats().EntryCount)
}

func TestCache_SetReplacesValueAndResetsAge(t *testing.T) {
	c, clock := newTestCache(Options{})

	c.Set("f", "old", 10*time.Second)
	clock.Advance(8 * time.Second)
	c.Set("f", "new", 10*time.Second)
	clock.Advance(8 * time.Second)

	v, ok := c.Get("f")
	require.True(t, ok)
	assert.Equal(t, "new", v)

	s := c.Stats()
	require.Len(t, s.Entries, 1)
	assert.Equal(t, 8*time.Second, s.Entries[0].Age)
	assert.Equal(t, uint64(1), s.Entries[0].Hits)
}

func TestCache_SetSizedAtRejectsFillsAfterInvalidation(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *Cache)
		stored     bool
	}{
		{name: "no invalidation", invalidate: func(*Cache) {}, stored: true},
		{name: "evict of an uncached key", invalidate: func(c *Cache) { c.EvictPattern(KeyPattern("monthly-totals/2024-03")) }},
		{name: "clear", invalidate: func(c *Cache) { c.Clear() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(Options{})
			fp := Fingerprint("monthly-totals/2024-03", nil)

			gen := c.Generation()
			tt.invalidate(c)
			assert.Equal(t, tt.stored, c.SetSizedAt(fp, "old", 10, gen))

			_, ok := c.Get(fp)
			assert.Equal(t, tt.stored, ok)
		})
	}

	c, _ := newTestCache(Options{})
	gen := c.Generation()
	c.EvictPattern("x")
	require.True(t, c.SetSizedAt("f", "v", 10, c.Generation()), "a fresh generation fills again")
	require.NotEqual(t, gen, c.Generation())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Options{MaxEntries: 50})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				fp := fmt.Sprintf("agg:k%d#%d", i, j%60)
				c.Set(fp, j, time.Minute)
				_, _ = c.Get(fp)
				if j%50 == 0 {
					c.EvictPattern(fmt.Sprintf("agg:k%d#", i))
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().EntryCount, 50)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("monthly-totals/2024-03", map[string]string{"a": "1", "b": "2"})
	b := Fingerprint("monthly-totals/2024-03", map[string]string{"b": "2", "a": "1"})
	other := Fingerprint("monthly-totals/2024-03", map[string]string{"a": "1", "b": "3"})

	assert.Equal(t, a, b, "option order must not matter")
	assert.NotEqual(t, a, other)
	assert.Contains(t, a, KeyPattern("monthly-totals/2024-03"))
	assert.Equal(t, "agg:monthly-totals/2024-03#", KeyPattern("monthly-totals/2024-03"))
}
