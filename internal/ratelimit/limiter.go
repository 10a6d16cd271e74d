// Package ratelimit provides an in-memory, per-key token-bucket limiter with
// opportunistic garbage collection of idle buckets.
//
// It backs both the per-user update limit of the bot and the HTTP rate-limit
// middleware. The limiter is process-local.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter implements a per-key token-bucket rate limiter.
//
// Buckets are created on demand. Idle buckets are evicted after a TTL during
// lookups to keep memory bounded. Safe for concurrent use.
type Limiter struct {
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// New constructs a Limiter with the given tokens-per-second and burst size.
// burst values <= 0 are coerced to 1; rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether an event for key may happen now and consumes a token
// if so. A nil Limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	return l.get(key).AllowN(l.now(), 1)
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// get returns (and touches) the limiter for key, creating it if absent.
// Idle entries are swept every 5000 lookups, before the requested key is
// touched, so a stale bucket can be evicted even when it is the one fetched.
func (l *Limiter) get(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupN++
	if l.cleanupN >= 5000 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.cleanupN = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
