package websocket

import (
	"sync"
	"time"

	"syncdeck/pkg/types"
)

// RateLimiter implements per-connection token buckets.
// ARCHITECTURAL DISCOVERY: Token buckets chosen over fixed windows to
// tolerate legitimate bursts (a tutorial step fanning out several
// updates at once) while bounding sustained abuse.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket // connection ID -> bucket
	capacity   float64
	refillRate float64 // tokens per second
	threshold  int     // violations before the caller should disconnect
}

// bucket tracks token state for a single connection.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	violations int
}

// NewRateLimiter creates a rate limiter with the given bucket shape.
func NewRateLimiter(capacity int, refillRate float64, violationThreshold int) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   float64(capacity),
		refillRate: refillRate,
		threshold:  violationThreshold,
	}
}

// Track initializes token state for a connection: full capacity, now as
// the last refill instant.
func (rl *RateLimiter) Track(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.buckets[connID] = &bucket{
		tokens:     rl.capacity,
		lastRefill: time.Now(),
	}
}

// Untrack frees token state for a connection.
func (rl *RateLimiter) Untrack(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, connID)
}

// Allow refills elapsed*refillRate tokens (capped at capacity) and then
// tries to consume one. A denied message counts as a violation;
// ThresholdHit is a signal for the caller to disconnect, never an
// action taken here.
func (rl *RateLimiter) Allow(connID string) types.RateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[connID]
	if !exists {
		// Untracked connections are denied outright; registration always
		// precedes message flow
		return types.RateDecision{Allowed: false, Violations: 0, ThresholdHit: false}
	}

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.refillRate
	if b.tokens > rl.capacity {
		b.tokens = rl.capacity
	}
	b.lastRefill = now

	if b.tokens < 1 {
		b.violations++
		return types.RateDecision{
			Allowed:      false,
			Violations:   b.violations,
			ThresholdHit: b.violations >= rl.threshold,
		}
	}

	b.tokens--
	return types.RateDecision{
		Allowed:      true,
		Violations:   b.violations,
		ThresholdHit: false,
	}
}
