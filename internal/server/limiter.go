package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"persona-chat/internal/config"
)

// contactLimiter keeps one token bucket per contact. A nil limiter allows
// everything. Buckets idle long enough to have refilled are swept, since a
// fresh bucket behaves the same.
type contactLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
	limiters  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newContactLimiter(cfg config.RateLimitConfig) *contactLimiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(cfg.PerMinute / 60)
	return &contactLimiter{
		limit:     limit,
		burst:     burst,
		idleAfter: time.Duration(float64(burst) / float64(limit) * float64(time.Second)),
		now:       time.Now,
		limiters:  make(map[string]*limiterEntry),
	}
}

func (l *contactLimiter) Allow(contact string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		l.sweep(now)
	}

	entry, ok := l.limiters[contact]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[contact] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *contactLimiter) sweep(now time.Time) {
	for contact, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleAfter {
			delete(l.limiters, contact)
		}
	}
	l.lastSweep = now
}

func (l *contactLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
