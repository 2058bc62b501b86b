package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func limiterConfig(rpm, windowSeconds int, failOpen bool) *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:       true,
			DefaultRPM:    rpm,
			WindowSeconds: windowSeconds,
			FailOpen:      failOpen,
			AuthRPM:       10,
			AuthBurst:     5,
		},
		Redis: config.RedisConfig{OpTimeout: 500 * time.Millisecond},
	}
}

// alignToWindow sleeps until just past the next window boundary so that a
// burst of fast requests cannot straddle two windows.
func alignToWindow(window time.Duration) {
	next := time.Now().Truncate(window).Add(window)
	time.Sleep(time.Until(next) + 5*time.Millisecond)
}

// rateLimitRouter wires RateLimitMiddleware behind a stub that plants the
// given principal, standing in for RequireAuth.
func rateLimitRouter(limiter *RateLimiter, principal *auth.Principal, rpm int) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(PrincipalKey, principal)
		c.Set(RateLimitRPMKey, rpm)
	})
	r.Use(RateLimitMiddleware(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doGet(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func userPrincipal() *auth.Principal {
	return &auth.Principal{Kind: auth.PrincipalUser, UserID: "u1", Email: "alice@example.com"}
}

// ---------------------------------------------------------------------------
// RateLimiter.Allow: window semantics
// ---------------------------------------------------------------------------

func TestRateLimiterAllow_CountsDownRemaining(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	alignToWindow(time.Second)

	for i, wantRemaining := range []int{2, 1, 0} {
		res, err := rl.Allow(context.Background(), "user:u1", 0)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Errorf("request %d not allowed, want allowed", i+1)
		}
		if res.Limit != 3 {
			t.Errorf("request %d: Limit = %d, want 3", i+1, res.Limit)
		}
		if res.Remaining != wantRemaining {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, res.Remaining, wantRemaining)
		}
	}
}

func TestRateLimiterAllow_RejectsOverLimit(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(2, 1, false))
	alignToWindow(time.Second)

	for i := 0; i < 2; i++ {
		if _, err := rl.Allow(context.Background(), "user:u1", 0); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}

	res, err := rl.Allow(context.Background(), "user:u1", 0)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Error("request over the limit was allowed")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if !res.Reset.After(time.Now()) {
		t.Errorf("Reset = %v, want in the future", res.Reset)
	}
}

func TestRateLimiterAllow_FreshWindowResets(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(2, 1, false))
	alignToWindow(time.Second)

	for i := 0; i < 3; i++ {
		if _, err := rl.Allow(context.Background(), "user:u1", 0); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}

	// Cross into the next window; the counter starts over.
	alignToWindow(time.Second)

	res, err := rl.Allow(context.Background(), "user:u1", 0)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !res.Allowed {
		t.Error("first request of a fresh window was rejected")
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", res.Remaining)
	}
}

// A rejected request still consumed its increment, so a saturated window
// cannot be reopened by hammering it.
func TestRateLimiterAllow_RejectedRequestsKeepCounting(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(2, 1, false))
	alignToWindow(time.Second)

	for i := 0; i < 5; i++ {
		if _, err := rl.Allow(context.Background(), "user:u1", 0); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}

	key := "rl:user:u1:" + strconv.FormatInt(time.Now().Truncate(time.Second).Unix(), 10)
	count, err := mr.Get(key)
	if err != nil {
		t.Fatalf("counter key %q missing: %v", key, err)
	}
	if count != "5" {
		t.Errorf("counter = %s, want 5", count)
	}
}

func TestRateLimiterAllow_CounterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	alignToWindow(time.Second)

	if _, err := rl.Allow(context.Background(), "user:u1", 0); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	key := "rl:user:u1:" + strconv.FormatInt(time.Now().Truncate(time.Second).Unix(), 10)
	if ttl := mr.TTL(key); ttl != 2*time.Second {
		t.Errorf("counter TTL = %v, want 2s (twice the window)", ttl)
	}
}

func TestRateLimiterAllow_PerIdentityIsolation(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(1, 1, false))
	alignToWindow(time.Second)

	if _, err := rl.Allow(context.Background(), "user:u1", 0); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	res, err := rl.Allow(context.Background(), "user:u1", 0)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Error("u1 over the limit was allowed")
	}

	other, err := rl.Allow(context.Background(), "apikey:k1", 0)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !other.Allowed {
		t.Error("a saturated identity starved an unrelated one")
	}
}

func TestRateLimiterAllow_ExplicitLimitOverridesDefault(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(60, 1, false))
	alignToWindow(time.Second)

	res, err := rl.Allow(context.Background(), "apikey:k1", 2)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Limit != 2 {
		t.Errorf("Limit = %d, want 2 (org override)", res.Limit)
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", res.Remaining)
	}
}

func TestRateLimiterAllow_StoreDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	mr.Close()

	res, err := rl.Allow(context.Background(), "user:u1", 0)
	if err == nil {
		t.Fatal("Allow with the store down returned no error")
	}
	if res != nil {
		t.Errorf("result = %+v, want nil on store error", res)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, &config.Config{})

	if rl.limit != 60 {
		t.Errorf("limit = %d, want 60", rl.limit)
	}
	if rl.window != time.Minute {
		t.Errorf("window = %v, want 1m", rl.window)
	}
	if rl.opTimeout != 500*time.Millisecond {
		t.Errorf("opTimeout = %v, want 500ms", rl.opTimeout)
	}
	if rl.FailOpen() {
		t.Error("FailOpen() = true, want false by default")
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func TestRateLimitMiddleware_HeadersOnAllowed(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	r := rateLimitRouter(rl, userPrincipal(), 0)
	alignToWindow(time.Second)

	w := doGet(r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Errorf("X-RateLimit-Limit = %q, want 3", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("X-RateLimit-Remaining = %q, want 2", got)
	}
	reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset %q is not unix seconds: %v", w.Header().Get("X-RateLimit-Reset"), err)
	}
	if reset < time.Now().Unix() {
		t.Errorf("X-RateLimit-Reset = %d, want current or future time", reset)
	}
}

func TestRateLimitMiddleware_RejectsWith429(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(2, 1, false))
	r := rateLimitRouter(rl, userPrincipal(), 0)
	alignToWindow(time.Second)

	for i := 0; i < 2; i++ {
		if w := doGet(r); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doGet(r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body %q is not JSON: %v", w.Body.String(), err)
	}
	if body.Error != "Rate limit exceeded" {
		t.Errorf("error = %q, want %q", body.Error, "Rate limit exceeded")
	}
	if body.RetryAfter < 1 {
		t.Errorf("retry_after = %d, want >= 1", body.RetryAfter)
	}
	if got := w.Header().Get("Retry-After"); got != strconv.Itoa(body.RetryAfter) {
		t.Errorf("Retry-After header = %q, body retry_after = %d, want equal", got, body.RetryAfter)
	}
}

func TestRateLimitMiddleware_OrgOverrideApplies(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(60, 1, false))
	key := &auth.Principal{Kind: auth.PrincipalAPIKey, KeyID: "k1", OrgID: "org-1"}
	r := rateLimitRouter(rl, key, 1)
	alignToWindow(time.Second)

	if w := doGet(r); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}

	w := doGet(r)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 under the org override", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", got)
	}
}

func TestRateLimitMiddleware_FailClosed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	r := rateLimitRouter(rl, userPrincipal(), 0)
	mr.Close()

	w := doGet(r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if msg := errorBody(t, w); msg != "Service temporarily unavailable" {
		t.Errorf("error = %q, want %q", msg, "Service temporarily unavailable")
	}
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, true))
	r := rateLimitRouter(rl, userPrincipal(), 0)
	mr.Close()

	w := doGet(r)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (fail open)", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Errorf("X-RateLimit-Limit = %q, want unset when uncounted", got)
	}
}

func TestRateLimitMiddleware_NoPrincipalPassesThrough(t *testing.T) {
	mr, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, limiterConfig(3, 1, false))
	mr.Close() // any counter traffic would produce a 503

	r := gin.New()
	r.Use(RateLimitMiddleware(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for unauthenticated route", w.Code)
	}
}

// ---------------------------------------------------------------------------
// AuthThrottle
// ---------------------------------------------------------------------------

func authThrottleRouter(rdb *redis.Client, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(AuthThrottle(rdb, cfg))
	r.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doLogin(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestAuthThrottle_AllowsWithinBurst(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := limiterConfig(60, 60, false)
	cfg.RateLimit.AuthRPM = 10
	cfg.RateLimit.AuthBurst = 3
	r := authThrottleRouter(rdb, cfg)

	for i := 0; i < 3; i++ {
		if w := doLogin(r); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200: %s", i+1, w.Code, w.Body.String())
		}
	}
}

func TestAuthThrottle_RejectsOverBurst(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := limiterConfig(60, 60, false)
	cfg.RateLimit.AuthRPM = 1
	cfg.RateLimit.AuthBurst = 2
	r := authThrottleRouter(rdb, cfg)

	for i := 0; i < 2; i++ {
		if w := doLogin(r); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doLogin(r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if msg := errorBody(t, w); msg != "Too many attempts" {
		t.Errorf("error = %q, want %q", msg, "Too many attempts")
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on throttled response")
	}
}

func TestAuthThrottle_FailClosed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := limiterConfig(60, 60, false)
	r := authThrottleRouter(rdb, cfg)
	mr.Close()

	w := doLogin(r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuthThrottle_FailOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := limiterConfig(60, 60, true)
	r := authThrottleRouter(rdb, cfg)
	mr.Close()

	w := doLogin(r)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (fail open)", w.Code)
	}
}

// ---------------------------------------------------------------------------
// retryAfterSeconds
// ---------------------------------------------------------------------------

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		wait time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1200 * time.Millisecond, 2},
		{2 * time.Second, 2},
	}

	for _, tc := range cases {
		if got := retryAfterSeconds(tc.wait); got != tc.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tc.wait, got, tc.want)
		}
	}
}
