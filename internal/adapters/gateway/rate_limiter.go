package gateway

import (
	"sync"
	"time"
)

// SlidingLimiter is a per-key sliding-window counter. Chat traffic and
// control traffic use separate instances so a talkative client cannot
// starve its own control ops.
type SlidingLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewSlidingLimiter(limit int, interval time.Duration) *SlidingLimiter {
	return &SlidingLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records one attempt for key and reports whether it fits inside the
// window.
func (l *SlidingLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.interval)

	attempts := l.history[key]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.limit {
		l.history[key] = fresh
		return false
	}

	fresh = append(fresh, now)
	l.history[key] = fresh
	return true
}

// Forget drops a key's history, called when its connection goes away.
func (l *SlidingLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.history, key)
	l.mu.Unlock()
}
