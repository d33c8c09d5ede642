package middleware

import (
	"net/http"
	"net/url"

	"github.com/homedesign/portal-gateway/internal/domain"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/response"
	"github.com/homedesign/portal-gateway/internal/observability"
)

// RequireView gates a browser-facing view. The guard's decision maps to
// navigation: RedirectToLogin becomes a 302 to the login view carrying the
// originally requested path in ?next=, RedirectToHome a 302 to the landing
// view.
func RequireView(g *guard.Guard, loginPath, homePath string, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := SessionIDFromContext(r.Context())
			decision := g.Authorize(r.Context(), sid, r.URL.Path, roles)
			switch decision.Kind {
			case guard.Allow:
				next.ServeHTTP(w, r)
			case guard.RedirectToLogin:
				target := loginPath
				// The guard decides on the path alone, but the remembered
				// location keeps the query string so login returns to the
				// exact view state that was interrupted.
				if next := r.URL.RequestURI(); decision.Next != "" && next != homePath {
					target += "?next=" + url.QueryEscape(next)
				}
				http.Redirect(w, r, target, http.StatusFound)
			case guard.RedirectToHome:
				observability.Audit(r, "view_role_denied", "session_id", sid)
				http.Redirect(w, r, homePath, http.StatusFound)
			}
		})
	}
}

// RequireSession gates API calls. Unlike views, an API caller gets a plain
// 401 instead of a redirect; the browser code handles navigation.
func RequireSession(g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := SessionIDFromContext(r.Context())
			if !g.IsAuthenticated(r.Context(), sid) {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
