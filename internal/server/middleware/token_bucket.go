// token_bucket.go - In-process rate limiting for single-replica deployments.
package middleware

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a simple token bucket rate limiter
type TokenBucket struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(maxTokens int, refillRate int, refillPeriod time.Duration) *TokenBucket {
	return newTokenBucket(maxTokens, refillRate, refillPeriod, time.Now)
}

func newTokenBucket(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if refills := int(now.Sub(tb.lastRefill) / tb.refillPeriod); refills > 0 {
		tb.tokens += refills * tb.refillRate
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(refills) * tb.refillPeriod)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (tb *TokenBucket) Tokens() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}

// LocalLimiter keeps one TokenBucket per key in process memory. It is the
// fallback when Redis is not configured.
type LocalLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*TokenBucket
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewLocalLimiter allows bursts of maxTokens per key, refilled by refillRate
// tokens every refillPeriod.
func NewLocalLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets:      make(map[string]*TokenBucket),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow implements Limiter. It never returns an error.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.maxTokens, l.refillRate, l.refillPeriod, l.now)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

// Reset forgets every bucket.
func (l *LocalLimiter) Reset() {
	l.mu.Lock()
	l.buckets = make(map[string]*TokenBucket)
	l.mu.Unlock()
}
