package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/logger"

	"github.com/redis/go-redis/v9"
)

const csrfCookieName = "studyquiz_csrf"
const csrfHeaderName = "X-CSRF-Token"

// RateLimiter reports whether one more request under key fits the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type rateBucket struct {
	Count      int
	WindowEnds time.Time
}

// IPRateLimiter is a fixed-window limiter local to this process.
type IPRateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	store  map[string]rateBucket
	now    func() time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:    max,
		window: window,
		store:  make(map[string]rateBucket),
		now:    time.Now,
	}
}

func (l *IPRateLimiter) Allow(_ context.Context, key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store[key]
	if now.After(b.WindowEnds) {
		b = rateBucket{Count: 0, WindowEnds: now.Add(l.window)}
	}
	if b.Count >= l.max {
		l.store[key] = b
		return false
	}
	b.Count++
	l.store[key] = b
	return true
}

// RedisRateLimiter shares fixed-window counters across instances. Redis
// failures let the request through.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
	log    *logger.Logger
	now    func() time.Time
}

func NewRedisRateLimiter(rdb redis.UniversalClient, prefix string, max int, window time.Duration, log *logger.Logger) *RedisRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "studyquiz:ratelimit"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRateLimiter{rdb: rdb, prefix: prefix, max: max, window: window, log: log, now: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	slot := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	n, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		l.log.Warn("rate limit check failed", "key", key, "error", err)
		return true
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.log.Warn("rate limit expire failed", "key", key, "error", err)
		}
	}
	return n <= int64(l.max)
}

func RateLimitMiddleware(l RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + "|" + r.Method + "|" + r.URL.Path
			if !l.Allow(r.Context(), key) {
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CSRFMiddleware(enforced bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enforced {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			c, err := r.Cookie(csrfCookieName)
			if err != nil || strings.TrimSpace(c.Value) == "" {
				apiresp.WriteError(w, r, http.StatusForbidden, "csrf token missing")
				return
			}
			h := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if h == "" || h != c.Value {
				apiresp.WriteError(w, r, http.StatusForbidden, "csrf token invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
