// Package cache provides the session-scoped TTL cache for reference data and
// per-identity aggregates.
//
// The cache enforces no authorization. Callers that store identity-scoped data
// must include the identity in the key.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

const defaultSweepInterval = time.Minute

type entry struct {
	data      any
	createdAt time.Time
	expiresAt time.Time
}

// Stats is a point-in-time classification of stored entries.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// Cache stores values in memory with per-entry TTLs. Expired entries are
// evicted lazily on Get and proactively by a periodic sweep.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry

	now      func() time.Time
	interval time.Duration
	log      zerolog.Logger

	lifeMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSweepInterval sets how often the sweeper runs. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.interval = d }
}

// New constructs an empty cache. Call Init to start the sweeper.
func New(log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		items:    make(map[string]entry),
		now:      time.Now,
		interval: defaultSweepInterval,
		log:      log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores data under key for ttl, overwriting any existing entry.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.items[key] = entry{data: data, createdAt: now, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Get returns the value for key. An entry past its expiry is evicted and
// reported as a miss. Reads never extend the expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the key.
		if cur, ok := c.items[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.items, key)
			metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[string]entry)
	c.mu.Unlock()
	metrics.CacheEvictionsTotal.WithLabelValues("clear").Add(float64(n))
}

// ClearPrefix removes every key that contains prefix as a substring and
// returns how many entries were removed. An empty prefix clears everything.
func (c *Cache) ClearPrefix(prefix string) int {
	c.mu.Lock()
	n := 0
	for k := range c.items {
		if strings.Contains(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	c.mu.Unlock()
	metrics.CacheEvictionsTotal.WithLabelValues("clear").Add(float64(n))
	return n
}

// Stats classifies entries against the current time without evicting.
func (c *Cache) Stats() Stats {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Total: len(c.items)}
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			s.Expired++
		} else {
			s.Active++
		}
	}
	return s
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	n := 0
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	c.mu.Unlock()
	if n > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("sweep").Add(float64(n))
		c.log.Debug().Int("evicted", n).Msg("cache sweep")
	}
	return n
}

// Init starts the periodic sweeper. Calling Init on a running cache is a
// no-op.
func (c *Cache) Init() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.stop != nil || c.interval <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.sweepLoop(c.interval, c.stop, c.done)
}

// Teardown stops the sweeper and drops all entries. The cache can be
// re-initialised with Init.
func (c *Cache) Teardown() {
	c.lifeMu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.lifeMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}

// Reset tears the cache down and starts it again with no entries.
func (c *Cache) Reset() {
	c.Teardown()
	c.Init()
}

func (c *Cache) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
