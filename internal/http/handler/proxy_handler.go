package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/middleware"
	"github.com/homedesign/portal-gateway/internal/http/response"
	"github.com/homedesign/portal-gateway/internal/observability"
)

// NewBackendProxy passes marketplace resource requests through to the
// backend with the session's bearer token attached. Payloads are opaque:
// nothing is decoded, rewritten, or repaired on the way through. A 401 from
// the backend tears the gateway session down before the status reaches the
// browser, so the next navigation lands on the login view.
func NewBackendProxy(target *url.URL, g *guard.Guard) http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			sid := middleware.SessionIDFromContext(pr.In.Context())
			if sess := g.Lookup(pr.In.Context(), sid); sess.Authenticated() {
				pr.Out.Header.Set("Authorization", "Bearer "+sess.Token)
			} else {
				pr.Out.Header.Del("Authorization")
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			ctx := resp.Request.Context()
			if resp.StatusCode == http.StatusUnauthorized {
				sid := middleware.SessionIDFromContext(ctx)
				g.Invalidate(ctx, sid)
				observability.RecordProxyRequest(ctx, "credential_invalid")
				return nil
			}
			observability.RecordProxyRequest(ctx, "forwarded")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.WarnContext(r.Context(), "backend proxy failed", "path", r.URL.Path, "error", err)
			observability.RecordProxyRequest(r.Context(), "backend_unreachable")
			response.Error(w, r, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "backend is unreachable", nil)
		},
	}
	return proxy
}
