package provider

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default credential attempt budget per email: a burst of 5, then one every 12s.
const (
	DefaultAttemptRate  = rate.Limit(5.0 / 60.0)
	DefaultAttemptBurst = 5

	limiterIdleTTL = 30 * time.Minute
)

type emailLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AttemptLimiter throttles credential sign-in attempts per email address.
type AttemptLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*emailLimiter
	lastSweep time.Time
}

func NewAttemptLimiter(limit rate.Limit, burst int) *AttemptLimiter {
	return &AttemptLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*emailLimiter),
	}
}

// Allow reports whether another attempt for key may be made at now.
func (l *AttemptLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	el, ok := l.limiters[key]
	if !ok {
		el = &emailLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = el
	}
	el.lastAccess = now
	return el.limiter.AllowN(now, 1)
}

// Reset forgets the attempts made for key.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of tracked keys.
func (l *AttemptLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *AttemptLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for key, el := range l.limiters {
		if now.Sub(el.lastAccess) > limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
}
