// ratelimit.go enforces per-identity fixed-window rate limits backed by the
// shared Redis counter store, and a separate GCRA throttle for the
// unauthenticated auth endpoints.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/smp-platform/access-gateway/internal/config"
	"github.com/smp-platform/access-gateway/internal/telemetry"
)

// RateLimiter counts requests per identity in fixed windows. The counter for
// window W is the Redis key rl:{identity}:{W.start.unix}; it is created by the
// first INCR of the window and expires after twice the window length, so stale
// windows self-clean without a sweeper.
type RateLimiter struct {
	rdb       *redis.Client
	limit     int
	window    time.Duration
	opTimeout time.Duration
	failOpen  bool
}

// NewRateLimiter creates a limiter over the given counter store.
func NewRateLimiter(rdb *redis.Client, cfg *config.Config) *RateLimiter {
	limit := cfg.RateLimit.DefaultRPM
	if limit <= 0 {
		limit = 60
	}
	window := cfg.RateLimit.Window()
	if window <= 0 {
		window = time.Minute
	}
	opTimeout := cfg.Redis.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}

	return &RateLimiter{
		rdb:       rdb,
		limit:     limit,
		window:    window,
		opTimeout: opTimeout,
		failOpen:  cfg.RateLimit.FailOpen,
	}
}

// Result is one rate limit decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the end of the current window, when a fresh counter starts.
	Reset time.Time
}

// Allow counts one request for the identity against the given per-window
// limit (0 means the configured default) and reports whether it fits in the
// current window. A rejected request still consumed its increment: the window
// stays saturated rather than reopening as rejected traffic retries. Errors
// indicate the counter store is unreachable; the caller applies the
// fail-open/fail-closed policy.
func (rl *RateLimiter) Allow(ctx context.Context, identity string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = rl.limit
	}

	windowStart := time.Now().Truncate(rl.window)
	key := fmt.Sprintf("rl:%s:%d", identity, windowStart.Unix())

	ctx, cancel := context.WithTimeout(ctx, rl.opTimeout)
	defer cancel()

	count, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		// First request of the window owns the TTL. Twice the window length
		// keeps the counter alive through the whole window regardless of
		// truncation skew.
		if err := rl.rdb.Expire(ctx, key, 2*rl.window).Err(); err != nil {
			return nil, fmt.Errorf("failed to set rate counter expiry: %w", err)
		}
	}

	return &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: max(0, limit-int(count)),
		Reset:     windowStart.Add(rl.window),
	}, nil
}

// FailOpen reports the configured counter-store outage policy.
func (rl *RateLimiter) FailOpen() bool {
	return rl.failOpen
}

// RateLimitMiddleware meters the authenticated identity resolved by
// RequireAuth. Every gated response carries the X-RateLimit-* headers; a 429
// additionally carries Retry-After. When the counter store is unreachable the
// request is denied with 503 unless the limiter is configured to fail open.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := Principal(c)
		if !ok {
			// No identity, nothing to meter. RequireAuth runs first on every
			// metered route, so this only happens on misgrouped routes.
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), principal.RateLimitKey(), c.GetInt(RateLimitRPMKey))
		if err != nil {
			telemetry.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
			if limiter.FailOpen() {
				slog.Warn("rate limit store unreachable, failing open", "error", err)
				c.Next()
				return
			}
			slog.Error("rate limit store unreachable, failing closed", "error", err)
			c.Set(DeniedReasonKey, "rate_limit_store_unavailable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if !res.Allowed {
			telemetry.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
			retryAfter := retryAfterSeconds(time.Until(res.Reset))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Set(DeniedReasonKey, "rate_limit_exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		telemetry.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

// AuthThrottle returns the per-IP throttle for the unauthenticated signup and
// login endpoints. It uses GCRA rather than the fixed window of the metered
// identities: human login traffic is bursty, and GCRA admits a short burst
// while holding the long-run rate, which blunts credential stuffing without
// locking out a user who fat-fingers a password twice.
func AuthThrottle(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(rdb)
	limit := redis_rate.Limit{
		Rate:   cfg.RateLimit.AuthRPM,
		Burst:  cfg.RateLimit.AuthBurst,
		Period: time.Minute,
	}
	opTimeout := cfg.Redis.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	failOpen := cfg.RateLimit.FailOpen

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), opTimeout)
		res, err := limiter.Allow(ctx, "throttle:auth:"+c.ClientIP(), limit)
		cancel()

		if err != nil {
			telemetry.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
			if failOpen {
				slog.Warn("auth throttle store unreachable, failing open", "error", err)
				c.Next()
				return
			}
			slog.Error("auth throttle store unreachable, failing closed", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
			})
			return
		}

		if res.Allowed == 0 {
			telemetry.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
			retryAfter := retryAfterSeconds(res.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Set(DeniedReasonKey, "auth_throttled")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many attempts",
				"retry_after": retryAfter,
			})
			return
		}

		telemetry.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

// retryAfterSeconds rounds a wait duration up to whole seconds, minimum 1.
func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
