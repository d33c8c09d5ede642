package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit logs a security-relevant transition (login, logout, forced session
// teardown, role denial) with enough request context to reconstruct who did
// what from the log stream alone.
func Audit(r *http.Request, event string, attrs ...any) {
	fields := make([]any, 0, 10+len(attrs))
	fields = append(fields,
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"request_id", chimiddleware.GetReqID(r.Context()),
	)
	fields = append(fields, attrs...)
	slog.InfoContext(r.Context(), "audit", fields...)
}
