package bridge

import (
	"sync"
	"time"
)

// TokenBucket implements a simple token bucket rate limiter.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a token bucket with the given rate and burst capacity.
func NewTokenBucket(attemptsPerMinute, burstSize int) *TokenBucket {
	rate := float64(attemptsPerMinute) / 60.0
	return &TokenBucket{
		tokens:     float64(burstSize),
		maxTokens:  float64(burstSize),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
}

// Take consumes a token if one is available.
func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Available reports whether a token could be taken without consuming one.
func (tb *TokenBucket) Available() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens >= 1.0
}

// authLimiter throttles failed token guesses. Successful requests are
// free; each authentication failure burns a bucket token, and once the
// bucket runs dry every authenticated endpoint answers RateLimited until
// it refills. Loopback-only does not make a brute force impossible, just
// local.
type authLimiter struct {
	bucket  *TokenBucket
	enabled bool
}

func newAuthLimiter(enabled bool, attemptsPerMinute, burstSize int) *authLimiter {
	return &authLimiter{
		bucket:  NewTokenBucket(attemptsPerMinute, burstSize),
		enabled: enabled,
	}
}

// allow reports whether an auth attempt may proceed right now.
func (l *authLimiter) allow() bool {
	if !l.enabled {
		return true
	}
	return l.bucket.Available()
}

// failed records a failed attempt.
func (l *authLimiter) failed() {
	if !l.enabled {
		return
	}
	l.bucket.Take()
}
