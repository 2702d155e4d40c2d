package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits    = promauto.NewCounter(prometheus.CounterOpts{Name: "workflow_cache_hits_total"})
	cacheMiss    = promauto.NewCounter(prometheus.CounterOpts{Name: "workflow_cache_miss_total"})
	cacheExpired = promauto.NewCounter(prometheus.CounterOpts{Name: "workflow_cache_expired_total"})
	cacheReaped  = promauto.NewCounter(prometheus.CounterOpts{Name: "workflow_cache_reaped_total"})
)

// State tracks how far a submission has progressed. Transitions are
// forward-only, except that re-choosing an earlier step rewinds the state
// together with the field it overwrites.
type State int

const (
	StateAdmitted State = iota
	StateTypeChosen
	StateNameChosen
	StateSubmitted
)

// Entry is the in-flight submission: everything gathered between the first
// image and the moderation decision. It lives only in memory; a process
// restart loses in-flight submissions and their members must resubmit.
type Entry struct {
	Key          Key
	GuildID      string
	Images       []string
	Participants []string // submitter first, deduplicated
	Type         string
	Name         string
	Effect       string
	State        State
	Gen          uint64
	ExpiresAt    time.Time
}

// Cache is the correlation store for in-flight submissions. All access goes
// through the engine; Take is the settlement linearization point — whichever
// settle call removes the entry owns it, every later call sees a miss.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	ttl     time.Duration
	gen     uint64
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[Key]*Entry),
		ttl:     ttl,
	}
}

// Put stores a fresh entry, stamping its generation and expiry.
func (c *Cache) Put(key Key, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	e.Key = key
	e.Gen = c.gen
	if c.ttl > 0 {
		e.ExpiresAt = time.Now().Add(c.ttl)
	}
	c.entries[key] = e
}

// Get returns a snapshot of the entry. Expired entries count as misses and
// are dropped on the spot.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		cacheMiss.Inc()
		return Entry{}, false
	}
	if c.expired(e, time.Now()) {
		delete(c.entries, key)
		cacheExpired.Inc()
		cacheMiss.Inc()
		return Entry{}, false
	}

	cacheHits.Inc()
	return *e, true
}

// Update mutates the entry under the cache lock. Returns false when the key
// is gone (settled, expired, or never admitted).
func (c *Cache) Update(key Key, fn func(*Entry)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		cacheMiss.Inc()
		return false
	}
	if c.expired(e, time.Now()) {
		delete(c.entries, key)
		cacheExpired.Inc()
		cacheMiss.Inc()
		return false
	}

	cacheHits.Inc()
	fn(e)
	return true
}

// Take removes and returns the entry in one step. Two racing settlement
// attempts cannot both win: the second finds nothing.
func (c *Cache) Take(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		cacheMiss.Inc()
		return Entry{}, false
	}
	delete(c.entries, key)

	if c.expired(e, time.Now()) {
		cacheExpired.Inc()
		cacheMiss.Inc()
		return Entry{}, false
	}

	cacheHits.Inc()
	return *e, true
}

// Reap sweeps out entries whose TTL elapsed before now and returns how many
// it removed. Abandoned flows (member never finished choosing, moderator
// never acted) are reclaimed here.
func (c *Cache) Reap(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			n++
		}
	}
	if n > 0 {
		cacheReaped.Add(float64(n))
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.ttl > 0 && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
