package router

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/homedesign/portal-gateway/internal/backend"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/handler"
	"github.com/homedesign/portal-gateway/internal/security"
	"github.com/homedesign/portal-gateway/internal/session"
)

func newGatewayForTest(t *testing.T, backendHandler http.Handler) (*httptest.Server, *http.Client) {
	t.Helper()

	backendSrv := httptest.NewServer(backendHandler)
	t.Cleanup(backendSrv.Close)

	store := session.NewInMemoryStore()
	client := backend.NewClient(backendSrv.URL)
	g := guard.New(store, client, time.Hour, "/login")
	cookies := security.NewCookieManager("portal_session", strings.Repeat("k", 32), time.Hour, false)

	target, err := url.Parse(backendSrv.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}

	gateway := httptest.NewServer(NewRouter(Dependencies{
		AuthHandler:       handler.NewAuthHandler(g, client, cookies, "/"),
		BackendProxy:      handler.NewBackendProxy(target, g),
		Guard:             g,
		Cookies:           cookies,
		LoginPath:         "/login",
		HomePath:          "/",
		LoginRateLimitRPM: 100,
	}))
	t.Cleanup(gateway.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	httpClient := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return gateway, httpClient
}

func stubBackend(userJSON string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"token":"tok-1","user":` + userJSON + `}}`))
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200}`))
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":` + userJSON + `}`))
	})
	return mux
}

func login(t *testing.T, gateway *httptest.Server, client *http.Client) {
	t.Helper()
	resp, err := client.Post(gateway.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"lin","password":"pw"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
}

func TestAnonymousNavigationRedirectsToLoginWithNext(t *testing.T) {
	gateway, client := newGatewayForTest(t, stubBackend(`{"id":1,"username":"lin","role":"USER"}`))

	resp, err := client.Get(gateway.URL + "/designer/cases")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?next=%2Fdesigner%2Fcases" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestLoginViewRendersForAnonymous(t *testing.T) {
	gateway, client := newGatewayForTest(t, stubBackend(`{"id":1,"username":"lin","role":"USER"}`))

	resp, err := client.Get(gateway.URL + "/login")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login view must render for anonymous, got %d", resp.StatusCode)
	}
}

func TestUserRoleDeniedAdminViewGoesHome(t *testing.T) {
	gateway, client := newGatewayForTest(t, stubBackend(`{"id":1,"username":"lin","role":"USER"}`))
	login(t, gateway, client)

	resp, err := client.Get(gateway.URL + "/admin")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("role mismatch must go home, got %q", loc)
	}
}

func TestDesignerReachesDesignerViews(t *testing.T) {
	gateway, client := newGatewayForTest(t, stubBackend(`{"id":2,"username":"mei","role":"DESIGNER"}`))
	login(t, gateway, client)

	for _, path := range []string{"/", "/cases", "/designer-dashboard", "/designer/cases"} {
		resp, err := client.Get(gateway.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp, err := client.Get(gateway.URL + "/admin")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("designer must not reach admin, got %d", resp.StatusCode)
	}
}

func TestProxyAttachesBearerTokenAndPassesPayloadThrough(t *testing.T) {
	mux := http.NewServeMux()
	var seenAuth string
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"token":"tok-1","user":{"id":1,"username":"lin","role":"USER"}}}`))
	})
	mux.HandleFunc("GET /api/cases", func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"code":200,"data":[{"id":1,"images":"[\"a.jpg\"]"}]}`))
	})
	gateway, client := newGatewayForTest(t, mux)
	login(t, gateway, client)

	resp, err := client.Get(gateway.URL + "/api/cases")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if seenAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer token on proxied request, got %q", seenAuth)
	}
	buf := make([]byte, 1024)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != `{"code":200,"data":[{"id":1,"images":"[\"a.jpg\"]"}]}` {
		t.Fatalf("payload must pass through byte-for-byte, got %s", got)
	}
}

func TestProxy401TearsSessionDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"token":"tok-1","user":{"id":1,"username":"lin","role":"USER"}}}`))
	})
	mux.HandleFunc("GET /api/cases", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	gateway, client := newGatewayForTest(t, mux)
	login(t, gateway, client)

	resp, err := client.Get(gateway.URL + "/api/cases")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// The very next navigation must land on login.
	resp, err = client.Get(gateway.URL + "/cases")
	if err != nil {
		t.Fatalf("get view: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(resp.Header.Get("Location"), "/login") {
		t.Fatalf("expected login redirect after credential teardown, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestLogoutWithBackendDownStillClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"token":"tok-1","user":{"id":2,"username":"mei","role":"DESIGNER"}}}`))
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	gateway, client := newGatewayForTest(t, mux)
	login(t, gateway, client)

	resp, err := client.Post(gateway.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout must always succeed locally, got %d", resp.StatusCode)
	}

	resp, err = client.Get(gateway.URL + "/profile")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected anonymous redirect after logout, got %d", resp.StatusCode)
	}
}

func TestAnonymousAPIAccessGets401(t *testing.T) {
	gateway, client := newGatewayForTest(t, stubBackend(`{"id":1,"username":"lin","role":"USER"}`))

	resp, err := client.Get(gateway.URL + "/api/cases")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous API call, got %d", resp.StatusCode)
	}
}
