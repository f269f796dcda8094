package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SharedLimiter is a rate limit shared between dashboard instances, such as
// the Redis token bucket.
type SharedLimiter interface {
	AllowAction(ctx context.Context, userID uuid.UUID, action string, rate int, burst int) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	limiters map[uuid.UUID]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	shared   SharedLimiter
	log      *slog.Logger
}

func NewRateLimiter(rps int, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[uuid.UUID]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    rps * 2,
		log:      log.With("component", "ratelimit"),
	}
}

// WithShared makes the limiter consult shared first; the in-process limiter
// is used when shared errors.
func (rl *RateLimiter) WithShared(shared SharedLimiter) *RateLimiter {
	rl.shared = shared
	return rl
}

func (rl *RateLimiter) getLimiter(userID uuid.UUID) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[userID]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[userID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether userID may perform action now.
func (rl *RateLimiter) Allow(ctx context.Context, userID uuid.UUID, action string) bool {
	if rl.shared != nil {
		ok, err := rl.shared.AllowAction(ctx, userID, action, int(rl.rate), rl.burst)
		if err == nil {
			return ok
		}
		rl.log.Warn("shared rate limit unavailable, using local limiter", "error", err)
	}
	return rl.getLimiter(userID).Allow()
}

// Cleanup drops limiters idle for longer than idle, every interval, until
// ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.prune(now.Add(-idle))
			}
		}
	}()
}

func (rl *RateLimiter) prune(before time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, entry := range rl.limiters {
		if entry.lastSeen.Before(before) {
			delete(rl.limiters, id)
		}
	}
}

// RateLimitMiddleware limits requests per user. action names the bucket.
func RateLimitMiddleware(rl *RateLimiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get(UserIDKey)
		if !exists {
			c.Next()
			return
		}

		uid, ok := userID.(uuid.UUID)
		if !ok {
			c.Next()
			return
		}

		if !rl.Allow(c.Request.Context(), uid, action) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
