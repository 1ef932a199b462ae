package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimit caps requests per caller inside a rolling window.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimits splits the surface in two tiers: browser-backed endpoints
// (login, refresh, info) each cost a Chrome launch and get a tight cap;
// everything else gets a loose one.
type RateLimits struct {
	Extraction RateLimit
	General    RateLimit
}

// DefaultRateLimits returns the production caps.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Extraction: RateLimit{MaxRequests: 30, Window: time.Minute},
		General:    RateLimit{MaxRequests: 300, Window: time.Minute},
	}
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// rateLimiter tracks per-user, per-tier buckets in memory. Buckets are
// garbage collected lazily on access; the map stays small because keys
// are (user, tier), not paths.
type rateLimiter struct {
	limits  RateLimits
	buckets sync.Map
}

func newRateLimiter(limits RateLimits) *rateLimiter {
	return &rateLimiter{limits: limits}
}

// isExtraction reports whether the path reaches a browser-backed handler.
func isExtraction(path string) bool {
	return strings.HasSuffix(path, "/refresh") ||
		strings.HasSuffix(path, "/info") ||
		strings.HasSuffix(path, "/login")
}

func (rl *rateLimiter) allow(user, path string) bool {
	tier, limit := "general", rl.limits.General
	if isExtraction(path) {
		tier, limit = "extraction", rl.limits.Extraction
	}
	if limit.MaxRequests <= 0 {
		return true
	}

	now := time.Now()
	val, _ := rl.buckets.LoadOrStore(user+"\x00"+tier, &bucket{})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(limit.Window)
	}
	b.count++
	return b.count <= limit.MaxRequests
}

// middleware enforces the caps. Runs after requireUser, so the caller
// identity is always present.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.allow(userFrom(r.Context()), r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}
