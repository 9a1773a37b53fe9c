package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"q360/internal/requestctx"
	"q360/internal/transport/http/api"
	"q360/internal/transport/http/shared"
)

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*windowLimiter)

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(l *windowLimiter) {
		if fn != nil {
			l.keyFn = fn
		}
	}
}

// RateLimit allows limit requests per key in each fixed window. The key is the
// authenticated actor, or the client IP for anonymous calls.
func RateLimit(limit int, window time.Duration, opts ...RateLimitOption) func(http.Handler) http.Handler {
	l := newWindowLimiter("api", limit, window)
	for _, opt := range opts {
		opt(l)
	}
	return l.middleware(nil)
}

// SensitiveMutationRateLimit gives calibration mutations (adjust, finalize, bulk finalize,
// recalculate) their own per-actor budget of half the base limit.
func SensitiveMutationRateLimit(baseLimit int, window time.Duration) func(http.Handler) http.Handler {
	return newWindowLimiter("calibration", max(baseLimit/2, 1), window).middleware(isCalibrationMutation)
}

type windowCount struct {
	count int
	reset time.Time
}

type windowLimiter struct {
	name   string
	limit  int
	window time.Duration
	keyFn  RateLimitKeyFunc

	mu        sync.Mutex
	counts    map[string]*windowCount
	nextSweep time.Time
}

func newWindowLimiter(name string, limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		name:   name,
		limit:  limit,
		window: window,
		keyFn:  actorOrIPKey,
		counts: map[string]*windowCount{},
	}
}

// middleware limits requests for which applies returns true; a nil applies limits all.
func (l *windowLimiter) middleware(applies func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.limit <= 0 || (applies != nil && !applies(r)) {
				next.ServeHTTP(w, r)
				return
			}
			key := l.keyFn(r)
			if key == "" {
				key = clientIP(r)
			}
			remaining, resetIn, allowed := l.take(key, time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(max(resetIn, 1)))
				zap.S().Warnw("rate limit exceeded",
					"limiter", l.name,
					"key", key,
					"method", r.Method,
					"path", r.URL.Path,
					"requestId", GetRequestID(r.Context()),
				)
				api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// take counts one request against key and reports the remaining budget and the seconds
// until the window resets.
func (l *windowLimiter) take(key string, now time.Time) (int, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, c := range l.counts {
			if now.After(c.reset) {
				delete(l.counts, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	c, ok := l.counts[key]
	if !ok || now.After(c.reset) {
		c = &windowCount{reset: now.Add(l.window)}
		l.counts[key] = c
	}
	c.count++
	return max(l.limit-c.count, 0), ceilSeconds(c.reset.Sub(now)), c.count <= l.limit
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.TenantID + ":" + user.UserID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := requestctx.From(r.Context()).ClientIP; ip != "" {
		return ip
	}
	return shared.ClientIP(r)
}

// calibrationMutations lists the sensitive write routes under /api/v1; "*" matches one id.
var calibrationMutations = [][]string{
	{"evaluations", "results", "*", "adjust"},
	{"evaluations", "results", "*", "finalize"},
	{"evaluations", "campaigns", "*", "finalize"},
	{"evaluations", "campaigns", "*", "recalculate"},
}

func isCalibrationMutation(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1"), "/"), "/")
	for _, pattern := range calibrationMutations {
		if matchSegments(pattern, segments) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return true
}
