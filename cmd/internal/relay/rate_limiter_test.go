package relay

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d unexpectedly limited", i)
		}
	}
	if rl.Allow(now.Add(3 * time.Second)) {
		t.Fatalf("fourth event within window must be limited")
	}

	// The first event ages out of the window; one slot opens.
	later := now.Add(61 * time.Second)
	if !rl.Allow(later) {
		t.Fatalf("event after window expiry must be allowed")
	}
	if rl.Allow(later) {
		t.Fatalf("window must still be saturated")
	}
}

func TestRateLimiterInvalidConfigFallsBack(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d unexpectedly limited under defaults", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("default limit must apply")
	}
}
