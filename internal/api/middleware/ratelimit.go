package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// Limit defines rate limit parameters.
type Limit struct {
	Requests int           // Number of requests allowed
	Window   time.Duration // Time window for the limit
}

// DefaultTriggerLimit allows a handful of manual job triggers per client.
func DefaultTriggerLimit() Limit {
	return Limit{Requests: 10, Window: time.Hour}
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// RateLimiter is a fixed-window, per-client limiter held in memory. The worker
// runs as a single instance, so no shared store is needed.
type RateLimiter struct {
	limit Limit
	log   *logger.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(limit Limit, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Default()
	}
	return &RateLimiter{
		limit:   limit,
		log:     log.WithComponent("rate_limiter"),
		now:     time.Now,
		entries: make(map[string]*rateLimitEntry),
	}
}

// increment bumps the counter for key and drops expired entries.
func (rl *RateLimiter) increment(key string) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, e := range rl.entries {
		if now.After(e.expiresAt) {
			delete(rl.entries, k)
		}
	}

	entry, ok := rl.entries[key]
	if !ok {
		rl.entries[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(rl.limit.Window)}
		return 1
	}
	entry.count++
	return entry.count
}

// Middleware returns a rate limiting middleware scoped by limitType.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientID(r)
			count := rl.increment(limitType + ":" + clientID)

			remaining := max(rl.limit.Requests-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", int(rl.limit.Window.Seconds())))

			if count > int64(rl.limit.Requests) {
				rl.log.Warn("rate limit exceeded",
					"client_id", clientID,
					"limit_type", limitType,
					"count", count,
					"limit", rl.limit.Requests,
				)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.limit.Window.Seconds())))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID extracts a unique client identifier from the request.
func clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
