// Package ratelimit throttles authentication attempts so one-time
// codes cannot be brute forced within their validity window.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket for a single key.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a keyed token-bucket limiter. Keys are typically client
// IPs or usernames; each key gets its own bucket.
type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter allowing a burst of capacity attempts
// per key, refilling at refillRate attempts per second. Buckets idle
// longer than ttl are dropped on the next sweep.
func NewLimiter(capacity int, refillRate float64, ttl time.Duration, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		capacity:   float64(capacity),
		refillRate: refillRate,
		ttl:        ttl,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether an attempt for key may proceed, consuming one
// token when it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) > 0 && l.ttl > 0 {
			l.sweep(now)
		}
		b = &bucket{tokens: l.capacity, lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens = minFloat(l.capacity, b.tokens+elapsed*l.refillRate)
		b.lastSeen = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Reset restores the bucket for key to full capacity, used when an
// attempt succeeds so legitimate users are not penalized afterwards.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// ActiveKeys returns the number of tracked buckets.
func (l *Limiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle longer than the ttl. Caller holds the lock.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
