package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/homedesign/portal-gateway/internal/security"
)

func TestSessionIDMiddlewareResolvesCookie(t *testing.T) {
	cookies := security.NewCookieManager("portal_session", strings.Repeat("k", 32), time.Hour, false)
	sid := cookies.NewSessionID()

	rr := httptest.NewRecorder()
	if err := cookies.Set(rr, sid); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}

	var got string
	SessionID(cookies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionIDFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)

	if got != sid {
		t.Fatalf("resolved sid %q, want %q", got, sid)
	}
}

func TestSessionIDMiddlewareAnonymousWithoutCookie(t *testing.T) {
	cookies := security.NewCookieManager("portal_session", strings.Repeat("k", 32), time.Hour, false)

	var got string
	SessionID(cookies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionIDFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got != "" {
		t.Fatalf("expected empty sid, got %q", got)
	}
}
