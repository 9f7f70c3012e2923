// Package tokenbucket implements the per-tier rate limiter. Buckets are
// owned exclusively by the scheduler ("accessed only from the
// scheduler; no locking required") so this package does no internal
// synchronization and performs no suspension — every operation is pure
// in-process arithmetic.
package tokenbucket

import (
	"math"
	"time"
)

// Bucket is one tier's rate-limiter state.
type Bucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens/second
	lastRefill time.Time

	minFloor float64 // autothrottle never reduces capacity below this
}

// New creates a bucket at full capacity. capacity is the per-minute
// allowance; refill_rate is derived as capacity/60.
func New(capacity float64, minFloor float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: capacity / 60,
		lastRefill: time.Now(),
		minFloor:   minFloor,
	}
}

func (b *Bucket) advance(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		b.lastRefill = now
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryConsume advances the refill clock, then atomically (single-writer)
// subtracts n iff at least n tokens are available.
func (b *Bucket) TryConsume(n float64) bool {
	b.advance(time.Now())
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// ETA returns the number of seconds until TryConsume(n) would succeed,
// or 0 if it would succeed right now.
func (b *Bucket) ETA(n float64) float64 {
	b.advance(time.Now())
	if b.tokens >= n {
		return 0
	}
	if b.refillRate <= 0 {
		return -1 // never refills
	}
	return (n - b.tokens) / b.refillRate
}

// Throttle reduces capacity by factor, never below minFloor, and clamps
// current tokens to the new capacity.
func (b *Bucket) Throttle(factor float64) {
	b.advance(time.Now())
	floored := math.Floor(b.capacity * (1 - factor))
	newCap := floored
	if newCap < b.minFloor {
		newCap = b.minFloor
	}
	b.capacity = newCap
	b.refillRate = b.capacity / 60
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Capacity returns the bucket's current capacity.
func (b *Bucket) Capacity() float64 {
	return b.capacity
}

// Tokens returns the bucket's current token count (after advancing the
// refill clock).
func (b *Bucket) Tokens() float64 {
	b.advance(time.Now())
	return b.tokens
}

// Group owns one Bucket per deep tier.
type Group struct {
	buckets map[string]*Bucket
}

// NewGroup builds a Group with the default per-tier allowances.
func NewGroup(standard, premium, enterprise float64, minFloor float64) *Group {
	return &Group{
		buckets: map[string]*Bucket{
			"STANDARD":   New(standard, minFloor),
			"PREMIUM":    New(premium, minFloor),
			"ENTERPRISE": New(enterprise, minFloor),
		},
	}
}

// Get returns the bucket for a tier, or nil if the tier has none
// (LITE_ONLY is never subject to rate limits).
func (g *Group) Get(tier string) *Bucket {
	return g.buckets[tier]
}

// ThrottleAll applies Throttle(factor) to every bucket in the group.
func (g *Group) ThrottleAll(factor float64) {
	for _, b := range g.buckets {
		b.Throttle(factor)
	}
}
