// Package admission decides whether inbound work may proceed: a
// continuous-refill token bucket primitive and a two-tier controller
// that meters each identity against its own bucket and a shared global
// bucket.
package admission

import (
	"context"
	"sync"
	"time"
)

// Bucket is a continuously refilling token bucket. Tokens accrue at
// refillRate per second up to capacity, with fractional amounts tracked
// so refill is linear rather than stepped.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	last       time.Time

	now func() time.Time
}

// NewBucket creates a full bucket. Non-positive capacity or refillRate
// falls back to 1.
func NewBucket(capacity, refillRate float64) *Bucket {
	return newBucketAt(capacity, refillRate, time.Now)
}

func newBucketAt(capacity, refillRate float64, now func() time.Time) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		last:       now(),
		now:        now,
	}
}

// TryConsume refills the bucket for the time elapsed since the last
// operation and, if at least n tokens are present, takes n and reports
// true. On refusal the refilled count is kept but nothing is consumed.
// n = 0 admits without touching any state.
func (b *Bucket) TryConsume(n float64) bool {
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Available reports the token count as of now without consuming or
// committing the refill.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peekLocked()
}

// TimeUntil reports how long until n tokens would be obtainable, zero
// when they already are. State is not mutated.
func (b *Bucket) TimeUntil(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	missing := n - b.peekLocked()
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

// Wait blocks until one token can be consumed, then consumes it.
// Request-serving paths use TryConsume and fail fast; Wait exists for
// batch and background callers. Returns the context error if ctx ends
// first.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		missing := 1 - b.tokens
		d := time.Duration(missing / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		if d < time.Millisecond {
			d = time.Millisecond
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refillLocked advances tokens by elapsed*refillRate, clamped to
// capacity. Caller holds mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// peekLocked returns the refilled count as of now without writing it
// back. Caller holds mu.
func (b *Bucket) peekLocked() float64 {
	elapsed := b.now().Sub(b.last).Seconds()
	if elapsed <= 0 {
		return b.tokens
	}
	t := b.tokens + elapsed*b.refillRate
	if t > b.capacity {
		t = b.capacity
	}
	return t
}
