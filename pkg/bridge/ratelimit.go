package bridge

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polisai/polis-rest/pkg/config"
	"github.com/polisai/polis-rest/pkg/domain"
)

// BodyRateLimited is written with 429 when a domain exhausts its bucket.
const BodyRateLimited = "Error: rate limit exceeded"

// RateLimiter keeps one token bucket per served domain. Domains without a
// configured limit are never throttled.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the provided per-domain limits.
func NewRateLimiter(limits map[string]config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
	rl.Configure(limits)
	return rl
}

// Configure replaces the per-domain limits. Buckets of domains that keep a
// limit retain their tokens.
func (rl *RateLimiter) Configure(limits map[string]config.RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	next := make(map[string]*tokenBucket, len(limits))
	for name, cfg := range limits {
		key := normalizeDomain(name)
		if bucket, ok := rl.buckets[key]; ok {
			bucket.configure(cfg, now)
			next[key] = bucket
			continue
		}
		next[key] = newTokenBucket(cfg, now)
	}
	rl.buckets = next
}

// Allow takes one token from the domain's bucket. It reports the bucket limit
// and the whole tokens left after the attempt.
func (rl *RateLimiter) Allow(domainName string) (allowed bool, limit, remaining int) {
	rl.mu.RLock()
	bucket, ok := rl.buckets[normalizeDomain(domainName)]
	now := rl.now()
	rl.mu.RUnlock()

	if !ok {
		return true, 0, 0
	}
	return bucket.take(now)
}

// Stats returns the current state of every bucket.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	stats := make(map[string]RateLimitStats, len(rl.buckets))
	for name, bucket := range rl.buckets {
		stats[name] = bucket.stats(now)
	}
	return stats
}

// Middleware throttles requests by the served domain stored in the request
// context. onReject runs before the 429 reply is written and may be nil.
func (rl *RateLimiter) Middleware(next http.Handler, onReject func(r *http.Request, domainName string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served := domain.ServedDomain(r.Context())
		allowed, limit, remaining := rl.Allow(served)
		if limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !allowed {
			if onReject != nil {
				onReject(r, served)
			}
			w.Header().Set("Retry-After", "1")
			Outcome{Status: http.StatusTooManyRequests, Body: BodyRateLimited}.Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitStats exposes the current state of a bucket.
type RateLimitStats struct {
	Limit     int     `json:"limit"`
	BurstSize int     `json:"burstSize"`
	Available float64 `json:"available"`
}

type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(cfg config.RateLimitConfig, now time.Time) *tokenBucket {
	tb := &tokenBucket{lastRefill: now}
	tb.rate, tb.capacity = bucketShape(cfg)
	tb.tokens = tb.capacity
	return tb
}

func bucketShape(cfg config.RateLimitConfig) (rate, capacity float64) {
	rps := max(cfg.RequestsPerSecond, 1)
	burst := cfg.Burst
	if burst <= 0 {
		burst = rps
	}
	return float64(rps), float64(burst)
}

func (tb *tokenBucket) configure(cfg config.RateLimitConfig, now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	oldCapacity := tb.capacity
	tb.rate, tb.capacity = bucketShape(cfg)
	if tb.capacity > oldCapacity {
		tb.tokens += tb.capacity - oldCapacity
	}
	tb.tokens = min(tb.tokens, tb.capacity)
}

func (tb *tokenBucket) take(now time.Time) (bool, int, int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	allowed := tb.tokens >= 1
	if allowed {
		tb.tokens--
	}
	return allowed, int(tb.rate), int(math.Floor(tb.tokens))
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.tokens+elapsed*tb.rate, tb.capacity)
	tb.lastRefill = now
}

func (tb *tokenBucket) stats(now time.Time) RateLimitStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	return RateLimitStats{
		Limit:     int(tb.rate),
		BurstSize: int(tb.capacity),
		Available: tb.tokens,
	}
}

// rateLimitKey is the label used for rate-limited requests without a domain.
func rateLimitKey(domainName string) string {
	if strings.TrimSpace(domainName) == "" {
		return "-"
	}
	return domainName
}
