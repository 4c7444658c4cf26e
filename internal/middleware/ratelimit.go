package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// window counts one caller's requests inside a fixed interval.
type window struct {
	used  int
	reset time.Time
}

type fixedWindowLimiter struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
}

// allow records a request for key and returns how long to wait when the key
// is over its limit.
func (l *fixedWindowLimiter) allow(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	if t.Sub(l.lastPrune) > l.per {
		for k, w := range l.windows {
			if t.After(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastPrune = t
	}

	w := l.windows[key]
	if w == nil || t.After(w.reset) {
		w = &window{reset: t.Add(l.per)}
		l.windows[key] = w
	}
	if w.used >= l.limit {
		return w.reset.Sub(t), false
	}
	w.used++
	return 0, true
}

// RateLimit caps job submissions at limit per interval for each caller.
// Authenticated callers are keyed by subject, anonymous ones by client IP.
// A non-positive limit disables the check.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	l := &fixedWindowLimiter{limit: limit, per: per, now: now, windows: map[string]*window{}, lastPrune: now()}
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wait, ok := l.allow(callerKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + ClientIP(r)
}
