package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/homedesign/portal-gateway/internal/http/response"
)

type windowState struct {
	hits []time.Time
}

// RateLimiter is a local fixed-window limiter keyed per client IP. It
// protects the login endpoint against credential stuffing; everything else
// passes through the backend's own limits.
type RateLimiter struct {
	mu      sync.Mutex
	store   map[string]*windowState
	limit   int
	window  time.Duration
	cleanup time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:   make(map[string]*windowState),
		limit:   limit,
		window:  window,
		cleanup: time.Now().Add(time.Minute),
	}
}

func (l *RateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, st := range l.store {
			if len(st.hits) == 0 || now.Sub(st.hits[len(st.hits)-1]) > l.window {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(time.Minute)
	}

	st, ok := l.store[key]
	if !ok {
		st = &windowState{}
		l.store[key] = st
	}
	cutoff := now.Add(-l.window)
	kept := st.hits[:0]
	for _, hit := range st.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	st.hits = kept
	if len(st.hits) >= l.limit {
		return false
	}
	st.hits = append(st.hits, now)
	return true
}

func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := clientIP(r)
			if !l.allow(key, time.Now()) {
				w.Header().Set("Retry-After", l.window.String())
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
