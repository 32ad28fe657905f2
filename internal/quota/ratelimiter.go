// Package quota limits how often clients may start migration runs.
package quota

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/internal/auth"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

// RateLimiter is a per-client token bucket limiter.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rpm     int
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter allows each client rpm requests per minute. rpm=0 means
// unlimited.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rpm:     rpm,
		now:     time.Now,
	}
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.rpm > 0
}

// refill must be called with mu held.
func (rl *RateLimiter) refill(key string) *tokenBucket {
	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.rpm), lastRefill: now}
		rl.buckets[key] = bucket
		return bucket
	}
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens = math.Min(float64(rl.rpm), bucket.tokens+elapsed*float64(rl.rpm)/60.0)
	bucket.lastRefill = now
	return bucket
}

// Allow reports whether a request from key may proceed and takes a token if
// so.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.refill(key)
	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// RetryAfter returns the number of seconds until key has a token again.
func (rl *RateLimiter) RetryAfter(key string) int {
	if !rl.Enabled() {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.refill(key)
	if bucket.tokens >= 1 {
		return 0
	}
	secs := (1 - bucket.tokens) * 60.0 / float64(rl.rpm)
	return int(math.Ceil(secs))
}

// Prune drops buckets unused for longer than idle.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	if !rl.Enabled() {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	cutoff := rl.now().Add(-idle)
	for key, b := range rl.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// ClientKey identifies the caller: the token subject when authenticated,
// the remote host otherwise.
func ClientKey(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over the limit with 429 Too Many Requests. A
// nil or unlimited limiter returns next unchanged.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !rl.Allow(key) {
			metrics.RecordRateLimitHit()
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(key)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  http.StatusTooManyRequests,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
