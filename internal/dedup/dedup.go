// Package dedup provides a TTL-bounded set of processed event IDs.
// Membership is best-effort within the TTL window, not a durability
// guarantee: entries may be evicted early under the capacity bound.
package dedup

import (
	"sync"
	"time"
)

const (
	// DefaultTTL matches the platform's webhook retry window.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds memory under event floods.
	DefaultMaxEntries = 2000
)

type entry struct {
	id      string
	expires time.Time
}

// Guard is a concurrency-safe check-and-mark set for event IDs.
type Guard struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	seen    map[string]time.Time
	order   []entry // insertion order, for oldest-first eviction
	nowFunc func() time.Time
}

// NewGuard creates a guard with the given TTL and capacity; zero values
// pick the defaults.
func NewGuard(ttl time.Duration, maxEntries int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Guard{
		ttl:     ttl,
		max:     maxEntries,
		seen:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// SeenOrMark atomically checks membership and, when absent, inserts the ID
// with the TTL. Returns true when the ID was newly marked: exactly one
// caller for a given ID observes true, even under a race.
func (g *Guard) SeenOrMark(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	g.expire(now)

	if exp, ok := g.seen[id]; ok && now.Before(exp) {
		return false
	}

	if len(g.seen) >= g.max {
		g.evictOldest()
	}

	exp := now.Add(g.ttl)
	g.seen[id] = exp
	g.order = append(g.order, entry{id: id, expires: exp})
	return true
}

// expire drops entries whose TTL elapsed. order is sorted by insertion and
// the TTL is constant, so expired entries sit at the front.
func (g *Guard) expire(now time.Time) {
	i := 0
	for ; i < len(g.order) && !now.Before(g.order[i].expires); i++ {
		if exp, ok := g.seen[g.order[i].id]; ok && exp.Equal(g.order[i].expires) {
			delete(g.seen, g.order[i].id)
		}
	}
	g.order = g.order[i:]
}

func (g *Guard) evictOldest() {
	if len(g.order) == 0 {
		return
	}
	oldest := g.order[0]
	g.order = g.order[1:]
	if exp, ok := g.seen[oldest.id]; ok && exp.Equal(oldest.expires) {
		delete(g.seen, oldest.id)
	}
}

// Len reports the current number of live entries.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expire(g.nowFunc())
	return len(g.seen)
}
