package server

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		if !rl.Allow("p1") {
			t.Fatalf("message %d denied under the limit", i+1)
		}
	}
	if rl.Allow("p1") {
		t.Error("message over the limit allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 30*time.Millisecond)

	rl.Allow("p1")
	rl.Allow("p1")
	if rl.Allow("p1") {
		t.Fatal("third message inside the window allowed")
	}

	time.Sleep(40 * time.Millisecond)
	if !rl.Allow("p1") {
		t.Error("message denied after the window expired")
	}
}

func TestRateLimiter_PerPlayerBudgets(t *testing.T) {
	// Why: one chatty connection must not starve the others.
	rl := NewRateLimiter(1, time.Second)

	rl.Allow("p1")
	if rl.Allow("p1") {
		t.Error("p1 exceeded its budget")
	}
	if !rl.Allow("p2") {
		t.Error("p2 denied by p1's traffic")
	}
}

func TestRateLimiter_ForgetReleasesHistory(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	rl.Allow("p1")
	rl.Forget("p1")
	if !rl.Allow("p1") {
		t.Error("history survived Forget")
	}
}
