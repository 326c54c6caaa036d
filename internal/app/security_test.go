package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestIPRateLimiterAllow(t *testing.T) {
	ctx := context.Background()
	l := NewIPRateLimiter(2, 0)
	if !l.Allow(ctx, "k") || !l.Allow(ctx, "k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow(ctx, "k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow(ctx, "other") {
		t.Fatalf("keys must be counted separately")
	}
}

func TestIPRateLimiterWindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow(ctx, "k") {
		t.Fatalf("first request should pass")
	}
	if l.Allow(ctx, "k") {
		t.Fatalf("second request in window should be blocked")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow(ctx, "k") {
		t.Fatalf("request after window should pass")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisRateLimiterAllow(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisRateLimiter(rdb, "test", 2, time.Minute, nil)
	fixed := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	if !l.Allow(ctx, "1.2.3.4") || !l.Allow(ctx, "1.2.3.4") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow(ctx, "1.2.3.4") {
		t.Fatalf("third request should be blocked")
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("counter key should expire within the window, ttl=%s", ttl)
	}

	l.now = func() time.Time { return fixed.Add(time.Minute) }
	if !l.Allow(ctx, "1.2.3.4") {
		t.Fatalf("next window should start a fresh counter")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisRateLimiter(rdb, "", 1, time.Minute, nil)
	mr.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "k") {
			t.Fatalf("limiter must allow requests while redis is unreachable")
		}
	}
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	mw := RateLimitMiddleware(NewIPRateLimiter(1, time.Minute))
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		next.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, w.Code)
		}
	}

	// Same IP from another port shares the bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:6666"
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same ip, got %d", w.Code)
	}
}

func TestCSRFMiddlewareEnforced(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answers", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareRejectsMissingToken(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answers", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
