package chat

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("expected first two requests allowed")
	}
	if rl.Allow("u1") {
		t.Fatal("expected third request rejected")
	}
	if !rl.Allow("u2") {
		t.Fatal("expected other user unaffected")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u1") {
		t.Fatal("expected request allowed after window")
	}

	now = now.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	remaining := len(rl.requests)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected all keys evicted, got %d", remaining)
	}
}
