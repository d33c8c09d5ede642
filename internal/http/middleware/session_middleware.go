package middleware

import (
	"context"
	"net/http"

	"github.com/homedesign/portal-gateway/internal/security"
)

type contextKey string

const sessionIDContextKey contextKey = "session_id"

// SessionID resolves the signed session cookie once per request and stashes
// the session ID in the context. A missing or invalid cookie leaves the
// request anonymous; the guard decides what that means per route.
func SessionID(cookies *security.CookieManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := cookies.Read(r)
			ctx := context.WithValue(r.Context(), sessionIDContextKey, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDContextKey).(string)
	return sid
}

// WithSessionID is a test helper for handlers that expect the middleware to
// have run.
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sid)
}
