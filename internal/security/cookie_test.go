package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newManagerForTest(ttl time.Duration) *CookieManager {
	return NewCookieManager("portal_session", strings.Repeat("k", 32), ttl, false)
}

func requestWithCookies(t *testing.T, rr *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestCookieRoundTrip(t *testing.T) {
	m := newManagerForTest(time.Hour)
	sid := m.NewSessionID()

	rr := httptest.NewRecorder()
	if err := m.Set(rr, sid); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := m.Read(requestWithCookies(t, rr)); got != sid {
		t.Fatalf("Read = %q, want %q", got, sid)
	}
}

func TestReadMissingCookie(t *testing.T) {
	m := newManagerForTest(time.Hour)
	if got := m.Read(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Fatalf("expected empty sid, got %q", got)
	}
}

func TestReadTamperedCookie(t *testing.T) {
	m := newManagerForTest(time.Hour)
	rr := httptest.NewRecorder()
	if err := m.Set(rr, m.NewSessionID()); err != nil {
		t.Fatalf("set: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		c.Value += "x"
		req.AddCookie(c)
	}
	if got := m.Read(req); got != "" {
		t.Fatalf("tampered cookie must read as anonymous, got %q", got)
	}
}

func TestReadRejectsCookieSignedWithOtherSecret(t *testing.T) {
	issuer := NewCookieManager("portal_session", strings.Repeat("a", 32), time.Hour, false)
	verifier := newManagerForTest(time.Hour)

	rr := httptest.NewRecorder()
	if err := issuer.Set(rr, issuer.NewSessionID()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := verifier.Read(requestWithCookies(t, rr)); got != "" {
		t.Fatalf("foreign signature must read as anonymous, got %q", got)
	}
}

func TestReadExpiredCookie(t *testing.T) {
	m := newManagerForTest(-time.Minute)
	rr := httptest.NewRecorder()
	if err := m.Set(rr, m.NewSessionID()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := m.Read(requestWithCookies(t, rr)); got != "" {
		t.Fatalf("expired cookie must read as anonymous, got %q", got)
	}
}

func TestClearExpiresCookie(t *testing.T) {
	m := newManagerForTest(time.Hour)
	rr := httptest.NewRecorder()
	m.Clear(rr)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}
