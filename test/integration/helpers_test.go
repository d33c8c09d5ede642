package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/homedesign/portal-gateway/internal/backend"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/handler"
	"github.com/homedesign/portal-gateway/internal/http/router"
	"github.com/homedesign/portal-gateway/internal/security"
	"github.com/homedesign/portal-gateway/internal/session"
)

// marketplaceStub plays the upstream marketplace backend: envelope-wrapped
// auth endpoints plus a generic /api surface for proxy tests.
type marketplaceStub struct {
	role        string
	rejectLogin atomic.Bool
	rejectMe    atomic.Bool
	meDown      atomic.Bool
	meCalls     atomic.Int64
	server      *httptest.Server
}

func newMarketplaceStub(t *testing.T, role string) *marketplaceStub {
	t.Helper()
	stub := &marketplaceStub{role: role}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if stub.rejectLogin.Load() {
			writeEnvelope(w, 401, "用户名或密码错误", nil)
			return
		}
		writeEnvelope(w, 200, "ok", map[string]any{
			"token": "backend-token-1",
			"user":  map[string]any{"id": 11, "username": "zhang", "role": stub.role},
		})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		stub.meCalls.Add(1)
		if stub.meDown.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if stub.rejectMe.Load() || r.Header.Get("Authorization") != "Bearer backend-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(w, 200, "ok", map[string]any{"id": 11, "username": "zhang", "role": stub.role})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, "ok", nil)
	})
	mux.HandleFunc("GET /api/cases", func(w http.ResponseWriter, r *http.Request) {
		if stub.rejectMe.Load() || r.Header.Get("Authorization") != "Bearer backend-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(w, 200, "ok", []map[string]any{{"id": 1, "title": "minimal loft"}})
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "data": data})
}

// newGateway wires a full gateway over the given store and backend and
// serves it from an httptest server.
func newGateway(t *testing.T, store session.Store, backendURL string) string {
	t.Helper()
	client := backend.NewClient(backendURL)
	g := guard.New(store, client, time.Hour, "/login")
	cookies := security.NewCookieManager("portal_session", strings.Repeat("k", 32), time.Hour, false)

	target, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	mux := router.NewRouter(router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(g, client, cookies, "/"),
		BackendProxy:      handler.NewBackendProxy(target, g),
		Guard:             g,
		Cookies:           cookies,
		LoginPath:         "/login",
		HomePath:          "/",
		LoginRateLimitRPM: 1000,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newRedisSessionStore(t *testing.T) (*miniredis.Miniredis, session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, session.NewRedisStore(client, "portal_session")
}

// newBrowser behaves like the browser in front of the gateway: cookies
// persist, redirects stay visible.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doLogin(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	resp, err := client.Post(baseURL+"/api/auth/login", "application/json",
		bytes.NewReader([]byte(`{"username":"zhang","password":"secret"}`)))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login answered %d", resp.StatusCode)
	}
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	_ = resp.Body.Close()
	return resp, buf.String()
}

func assertRedirect(t *testing.T, resp *http.Response, wantPrefix string) {
	t.Helper()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, wantPrefix) {
		t.Fatalf("redirect to %q, want prefix %q", loc, wantPrefix)
	}
}
