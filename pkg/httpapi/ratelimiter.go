package httpapi

import (
	"sync"
	"time"
)

// RateLimiter tracks request timestamps per client key over a sliding
// one-minute window. A limit of zero or less disables limiting.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	hits    map[string][]time.Time
	stopCh  chan struct{}
	stopped bool
}

// NewRateLimiter creates a limiter allowing perMinute requests per key.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		limit:  perMinute,
		window: time.Minute,
		hits:   make(map[string][]time.Time),
		stopCh: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from key may proceed and records it
// when it may.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := rl.prune(key, now)
	if len(recent) >= rl.limit {
		return false
	}
	rl.hits[key] = append(recent, now)
	return true
}

// RetryAfter returns how long until the oldest recorded request for key
// leaves the window.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.prune(key, time.Now())
	if len(recent) == 0 {
		return 0
	}
	wait := rl.window - time.Since(recent[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// prune drops entries older than the window. Caller holds the lock.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	recent := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if now.Sub(t) < rl.window {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(rl.hits, key)
		return nil
	}
	rl.hits[key] = recent
	return recent
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key := range rl.hits {
				rl.prune(key, now)
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.stopped {
		rl.stopped = true
		close(rl.stopCh)
	}
}
