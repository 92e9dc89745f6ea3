package ratelimit

import (
	"sync"
	"time"
)

// Default policies for the auth endpoints
const (
	LoginLimit    = 5
	RefreshLimit  = 20
	DefaultWindow = time.Minute
)

// Limiter is a sliding window counter keyed by an arbitrary string,
// in practice the client IP. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time

	// injected in tests
	now func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   map[string][]time.Time{},
		now:    time.Now,
	}
}

// Allow reports whether another request for the key fits into the window
// and records it if so. Rejected requests are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.hits[key], now.Add(-l.window))

	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}

	l.hits[key] = append(recent, now)
	return true
}

// Sweep drops keys with no hits inside the window. Callers should run it
// periodically, otherwise the map grows with every distinct key seen.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := l.now().Add(-l.window)
	for key, hits := range l.hits {
		recent := prune(hits, deadline)
		if len(recent) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = recent
	}
}

// Keep hits after the deadline. Hits are appended in time order, so it is
// enough to find the first survivor.
func prune(hits []time.Time, deadline time.Time) []time.Time {
	for i, hit := range hits {
		if hit.After(deadline) {
			return hits[i:]
		}
	}
	return nil
}
