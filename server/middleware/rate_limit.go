package middleware

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
)

// RateLimiter provides per-key token bucket rate limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*limiterEntry

	every   time.Duration
	burst   int
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing one request per every, with the given burst.
// Keys idle for longer than ten minutes are forgotten.
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		limits:  make(map[string]*limiterEntry),
		every:   every,
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// NewChatRateLimiter returns the limiter applied to chat endpoints:
// one generation every three seconds per user, with a burst of 10.
func NewChatRateLimiter() *RateLimiter {
	return NewRateLimiter(3*time.Second, 10)
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if entry, ok := rl.limits[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	rl.evictIdleLocked(now)
	limiter := rate.NewLimiter(rate.Every(rl.every), rl.burst)
	rl.limits[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func (rl *RateLimiter) evictIdleLocked(now time.Time) {
	for key, entry := range rl.limits {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limits, key)
		}
	}
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Middleware rejects requests over the limit with RATE_LIMIT_EXCEEDED.
// Requests for which keyFunc returns an empty key are not limited.
func (rl *RateLimiter) Middleware(keyFunc func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFunc(c)
			if key != "" && !rl.Allow(key) {
				return apierrors.RateLimitExceeded("too many chat requests, please slow down")
			}
			return next(c)
		}
	}
}
