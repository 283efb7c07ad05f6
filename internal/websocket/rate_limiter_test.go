package websocket

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRateLimiter_UntrackedConnectionDenied(t *testing.T) {
	limiter := NewRateLimiter(20, 10, 5)

	decision := limiter.Allow("unknown")
	if decision.Allowed {
		t.Error("Untracked connection should be denied")
	}
}

func TestRateLimiter_BurstUpToCapacity(t *testing.T) {
	limiter := NewRateLimiter(20, 10, 5)
	limiter.Track("conn-1")

	// A 25-message burst with capacity 20: first 20 allowed, rest denied
	allowed, denied := 0, 0
	for i := 0; i < 25; i++ {
		if limiter.Allow("conn-1").Allowed {
			allowed++
		} else {
			denied++
		}
	}

	if allowed != 20 {
		t.Errorf("Expected 20 allowed, got %d", allowed)
	}
	if denied != 5 {
		t.Errorf("Expected 5 denied, got %d", denied)
	}
}

func TestRateLimiter_RegainsTokensAfterRefill(t *testing.T) {
	limiter := NewRateLimiter(2, 10, 5)
	limiter.Track("conn-1")

	limiter.Allow("conn-1")
	limiter.Allow("conn-1")
	if limiter.Allow("conn-1").Allowed {
		t.Fatal("Bucket should be empty after draining capacity")
	}

	// At 10 tokens/s one token returns after 100ms
	time.Sleep(150 * time.Millisecond)
	if !limiter.Allow("conn-1").Allowed {
		t.Error("Expected a token after refill interval")
	}
}

func TestRateLimiter_ViolationThreshold(t *testing.T) {
	limiter := NewRateLimiter(1, 0.001, 3)
	limiter.Track("conn-1")

	limiter.Allow("conn-1") // consumes the only token

	var violations int
	var thresholdHit bool
	for i := 0; i < 3; i++ {
		decision := limiter.Allow("conn-1")
		violations = decision.Violations
		thresholdHit = decision.ThresholdHit
	}

	if violations != 3 {
		t.Errorf("Expected 3 violations, got %d", violations)
	}
	if !thresholdHit {
		t.Error("Third violation should hit the threshold")
	}
}

// For any capacity and burst size, exactly min(burst, capacity) messages
// pass when no meaningful refill can occur during the burst.
func TestRateLimiter_BurstProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("burst admits exactly min(burst, capacity)", prop.ForAll(
		func(capacity, burst int) bool {
			limiter := NewRateLimiter(capacity, 0.0001, 5)
			limiter.Track("conn-1")

			allowed := 0
			for i := 0; i < burst; i++ {
				if limiter.Allow("conn-1").Allowed {
					allowed++
				}
			}

			expected := burst
			if capacity < burst {
				expected = capacity
			}
			return allowed == expected
		},
		gen.IntRange(1, 100),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

func TestRateLimiter_UntrackFreesState(t *testing.T) {
	limiter := NewRateLimiter(5, 1, 3)
	limiter.Track("conn-1")
	limiter.Untrack("conn-1")

	if limiter.Allow("conn-1").Allowed {
		t.Error("Untracked connection should be denied after Untrack")
	}
}
