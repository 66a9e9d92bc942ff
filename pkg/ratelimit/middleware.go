package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
)

// Config tunes the login throttle.
type Config struct {
	// Capacity is the burst of attempts allowed per client.
	Capacity int
	// RefillRate is attempts regained per second.
	RefillRate float64
	// BucketTTL is how long idle clients stay tracked.
	BucketTTL time.Duration
}

// DefaultConfig allows 10 attempts with one regained every 6 seconds,
// which caps a single client at roughly the number of guesses a
// six-digit code space makes harmless.
func DefaultConfig() Config {
	return Config{
		Capacity:   10,
		RefillRate: 1.0 / 6.0,
		BucketTTL:  time.Hour,
	}
}

// Middleware throttles requests per client IP.
type Middleware struct {
	limiter *Limiter
}

// NewMiddleware creates a login throttle middleware.
func NewMiddleware(config Config) *Middleware {
	return &Middleware{
		limiter: NewLimiter(config.Capacity, config.RefillRate, config.BucketTTL),
	}
}

// Handler rejects over-limit requests with 429 before they reach the
// authentication flow.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !m.limiter.Allow(ip) {
			slog.Warn("Login attempt rate limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]string{"error": "too many attempts, try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Reset restores the attempt budget for a client, called after a
// successful authentication so legitimate users who fumbled a few
// codes are not locked out of their next login.
func (m *Middleware) Reset(key string) {
	m.limiter.Reset(key)
}

// ClientIP extracts the client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
