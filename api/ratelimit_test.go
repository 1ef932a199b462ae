package api

import (
	"testing"
	"time"
)

func TestRateLimiterTiers(t *testing.T) {
	rl := newRateLimiter(RateLimits{
		Extraction: RateLimit{MaxRequests: 2, Window: time.Minute},
		General:    RateLimit{MaxRequests: 5, Window: time.Minute},
	})

	// Browser-backed endpoint hits the tight cap.
	for i := 0; i < 2; i++ {
		if !rl.allow("u1", "/api/v1/points/p1/refresh") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if rl.allow("u1", "/api/v1/points/p1/refresh") {
		t.Fatal("third extraction request should be blocked")
	}

	// The extraction tier is shared across browser-backed paths.
	if rl.allow("u1", "/api/v1/accounts/login") {
		t.Fatal("login shares the extraction budget")
	}

	// The general tier is untouched.
	if !rl.allow("u1", "/api/v1/points") {
		t.Fatal("general endpoint should still pass")
	}

	// Other callers are unaffected.
	if !rl.allow("u2", "/api/v1/points/p1/refresh") {
		t.Fatal("other caller should have a fresh budget")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := newRateLimiter(RateLimits{
		Extraction: RateLimit{MaxRequests: 1, Window: 10 * time.Millisecond},
	})

	if !rl.allow("u1", "/api/v1/connectors/c1/refresh") {
		t.Fatal("first request should pass")
	}
	if rl.allow("u1", "/api/v1/connectors/c1/refresh") {
		t.Fatal("second request inside window should be blocked")
	}

	time.Sleep(20 * time.Millisecond)
	if !rl.allow("u1", "/api/v1/connectors/c1/refresh") {
		t.Fatal("budget should reset after the window")
	}
}
