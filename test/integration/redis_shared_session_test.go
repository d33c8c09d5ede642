package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homedesign/portal-gateway/internal/session"
)

// Two gateway instances sharing one Redis must agree on every session: a
// login on one opens gates on the other, and a teardown anywhere closes
// them everywhere.
func TestSessionSharedAcrossGatewayInstances(t *testing.T) {
	stub := newMarketplaceStub(t, "USER")
	mr, storeA := newRedisSessionStore(t)

	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })
	storeB := session.NewRedisStore(clientB, "portal_session")

	gatewayA := newGateway(t, storeA, stub.server.URL)
	gatewayB := newGateway(t, storeB, stub.server.URL)
	browser := newBrowser(t)

	doLogin(t, browser, gatewayA)

	// both instances sign cookies with the same secret, and the jar keys
	// by host, so the cookie from A reaches B on its own
	resp, _ := get(t, browser, gatewayB+"/favorites")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("instance B answered %d for a session created on A", resp.StatusCode)
	}

	// logout on B tears the shared record down for A too
	logoutResp, err := browser.Post(gatewayB+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout on B: %v", err)
	}
	_ = logoutResp.Body.Close()

	resp, _ = get(t, browser, gatewayA+"/favorites")
	assertRedirect(t, resp, "/login")
}

func TestExpiredRedisSessionReadsAsAnonymous(t *testing.T) {
	stub := newMarketplaceStub(t, "USER")
	mr, store := newRedisSessionStore(t)
	baseURL := newGateway(t, store, stub.server.URL)
	browser := newBrowser(t)
	doLogin(t, browser, baseURL)

	mr.FastForward(2 * time.Hour)

	resp, _ := get(t, browser, baseURL+"/favorites")
	assertRedirect(t, resp, "/login")
}
