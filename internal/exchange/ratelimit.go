package exchange

import (
	"context"
	"sync"
	"time"
)

// Request categories with distinct CLOB rate limits.
const (
	CategoryOrder  = "order"
	CategoryCancel = "cancel"
	CategoryRead   = "read"
)

// tokenBucket is a simple refilling token bucket.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64 // tokens per second
	last     time.Time
}

func newTokenBucket(capacity, rate float64) *tokenBucket {
	return &tokenBucket{
		capacity: capacity,
		tokens:   capacity,
		rate:     rate,
		last:     time.Now(),
	}
}

// take removes one token, returning the wait duration if none is available.
func (b *tokenBucket) take() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	deficit := 1 - b.tokens
	b.tokens--
	return time.Duration(deficit / b.rate * float64(time.Second))
}

// RateLimiter throttles outgoing CLOB requests per category so bursts of
// order submissions do not trip the venue's HTTP 429 responses.
type RateLimiter struct {
	buckets map[string]*tokenBucket
}

// NewRateLimiter creates a limiter with the venue's published limits,
// kept slightly under the documented ceilings.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*tokenBucket{
			CategoryOrder:  newTokenBucket(4, 4),   // ~500 orders / 10s ceiling
			CategoryCancel: newTokenBucket(8, 8),   // cancels are cheaper
			CategoryRead:   newTokenBucket(10, 10), // status and balance reads
		},
	}
}

// Wait blocks until a token is available for the category or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, category string) error {
	bucket, ok := r.buckets[category]
	if !ok {
		return nil
	}

	delay := bucket.take()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
