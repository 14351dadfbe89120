// Package server implements a token bucket rate limiter for per-user
// throttling that protects the message API from abuse.
package server

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration, now func() time.Time) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: now(),
		now:       now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

// idleFor reports how long the bucket has gone without a check.
func (rl *rateLimiter) idleFor(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastCheck)
}

const minSweepInterval = time.Minute

// userLimiters hands out one bucket per user id, created lazily. A bucket
// left alone for a full refill interval is back at capacity, which is the
// state a new bucket starts in, so idle buckets are dropped on a periodic
// sweep.
type userLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*rateLimiter
	cfg       RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newUserLimiters(cfg RateLimitConfig) *userLimiters {
	return &userLimiters{
		limiters: make(map[string]*rateLimiter),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (u *userLimiters) sweepInterval() time.Duration {
	if u.cfg.RefillInterval > minSweepInterval {
		return u.cfg.RefillInterval
	}
	return minSweepInterval
}

// sweepLocked drops buckets idle for at least one refill interval.
// Callers must hold u.mu.
func (u *userLimiters) sweepLocked(now time.Time) {
	if u.lastSweep.IsZero() {
		u.lastSweep = now
		return
	}
	if now.Sub(u.lastSweep) < u.sweepInterval() {
		return
	}
	u.lastSweep = now

	idle := u.cfg.RefillInterval
	if idle <= 0 {
		idle = time.Second
	}
	for id, rl := range u.limiters {
		if rl.idleFor(now) >= idle {
			delete(u.limiters, id)
		}
	}
}

func (u *userLimiters) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.limiters)
}

func (u *userLimiters) allow(userID string) bool {
	u.mu.Lock()
	u.sweepLocked(u.now())
	rl, ok := u.limiters[userID]
	if !ok {
		rl = newRateLimiter(u.cfg.Burst, u.cfg.RefillInterval, u.now)
		u.limiters[userID] = rl
	}
	u.mu.Unlock()

	return rl.allow()
}
