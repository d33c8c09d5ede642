// Package guard owns the gateway's session state: it is the only writer of
// the session store and the component that decides, per navigation, whether
// a view renders, redirects to login, or redirects home.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/homedesign/portal-gateway/internal/backend"
	"github.com/homedesign/portal-gateway/internal/domain"
	"github.com/homedesign/portal-gateway/internal/observability"
	"github.com/homedesign/portal-gateway/internal/session"
)

type DecisionKind string

const (
	Allow           DecisionKind = "allow"
	RedirectToLogin DecisionKind = "redirect_login"
	RedirectToHome  DecisionKind = "redirect_home"
)

// Decision is the outcome of Authorize. Next carries the originally
// requested path when the decision is RedirectToLogin, so the login flow can
// return there after success.
type Decision struct {
	Kind DecisionKind
	Next string
}

// ErrReauthenticationRequired signals that the cached credential is no
// longer usable and the caller must send the user back to login.
var ErrReauthenticationRequired = errors.New("reauthentication required")

// AuthClient is the slice of the backend client the guard depends on.
type AuthClient interface {
	Login(ctx context.Context, creds backend.Credentials) (*backend.LoginResult, error)
	Me(ctx context.Context, token string) ([]byte, error)
	Logout(ctx context.Context, token string) error
}

type Guard struct {
	store      session.Store
	client     AuthClient
	sessionTTL time.Duration
	loginPath  string
	refresh    singleflight.Group
}

func New(store session.Store, client AuthClient, sessionTTL time.Duration, loginPath string) *Guard {
	if loginPath == "" {
		loginPath = "/login"
	}
	return &Guard{store: store, client: client, sessionTTL: sessionTTL, loginPath: loginPath}
}

// load reads the persisted session and resolves corruption in the same
// synchronous check that discovers it: a half-present or unparseable record
// is cleared atomically and reported as absent.
func (g *Guard) load(ctx context.Context, sid string) *domain.Session {
	if sid == "" {
		return nil
	}
	rec, err := g.store.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			slog.WarnContext(ctx, "session store read failed", "error", err)
		}
		return nil
	}
	if rec.Token == "" || len(rec.User) == 0 {
		g.clear(ctx, sid, "half_present")
		return nil
	}
	user, err := domain.ParseUser(rec.User)
	if err != nil {
		g.clear(ctx, sid, "corrupt_user")
		return nil
	}
	return &domain.Session{ID: sid, Token: rec.Token, User: user, Record: rec.User}
}

func (g *Guard) clear(ctx context.Context, sid, reason string) {
	if err := g.store.Delete(ctx, sid); err != nil {
		slog.WarnContext(ctx, "session clear failed", "reason", reason, "error", err)
		return
	}
	observability.RecordSessionTeardown(ctx, reason)
}

// Lookup returns the current well-formed session, or nil when anonymous.
// Read-only: callers needing the credential (request proxying) go through
// here instead of touching the store.
func (g *Guard) Lookup(ctx context.Context, sid string) *domain.Session {
	return g.load(ctx, sid)
}

// IsAuthenticated reports whether a well-formed session exists. It never
// fails: parse errors read as "not authenticated" and self-heal by clearing
// the stored pair.
func (g *Guard) IsAuthenticated(ctx context.Context, sid string) bool {
	return g.load(ctx, sid).Authenticated()
}

// Authorize is the pure, synchronous routing decision. The login view
// always renders so login never redirects to itself; an empty role set
// admits any authenticated user; a role mismatch sends the user home.
func (g *Guard) Authorize(ctx context.Context, sid, path string, requiredRoles []domain.Role) Decision {
	if path == g.loginPath {
		observability.RecordGuardDecision(ctx, string(Allow), "login_view")
		return Decision{Kind: Allow}
	}
	sess := g.load(ctx, sid)
	if !sess.Authenticated() {
		observability.RecordGuardDecision(ctx, string(RedirectToLogin), "anonymous")
		return Decision{Kind: RedirectToLogin, Next: path}
	}
	if len(requiredRoles) > 0 && !sess.User.Role.In(requiredRoles) {
		observability.RecordGuardDecision(ctx, string(RedirectToHome), "role_mismatch")
		return Decision{Kind: RedirectToHome}
	}
	observability.RecordGuardDecision(ctx, string(Allow), "authorized")
	return Decision{Kind: Allow}
}

// Login authenticates against the backend and persists the returned session
// atomically, overwriting any prior session for this sid. Nothing is
// persisted on failure; the backend's message travels back to the caller.
func (g *Guard) Login(ctx context.Context, sid string, creds backend.Credentials) (*domain.Session, error) {
	result, err := g.client.Login(ctx, creds)
	if err != nil {
		observability.RecordAuthLogin(ctx, "failure")
		return nil, err
	}
	user, err := domain.ParseUser(result.User)
	if err != nil {
		observability.RecordAuthLogin(ctx, "corrupt_payload")
		return nil, err
	}
	rec := session.Record{Token: result.Token, User: result.User}
	if err := g.store.Put(ctx, sid, rec, g.sessionTTL); err != nil {
		observability.RecordAuthLogin(ctx, "store_error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success")
	return &domain.Session{ID: sid, Token: result.Token, User: user, Record: result.User}, nil
}

// Logout notifies the backend best-effort and then clears the local session
// unconditionally. It is idempotent and never reports the network failure:
// local state must not be left stale because the backend was unreachable.
func (g *Guard) Logout(ctx context.Context, sid string) {
	if sid == "" {
		return
	}
	rec, err := g.store.Get(ctx, sid)
	if err == nil && rec.Token != "" {
		if err := g.client.Logout(ctx, rec.Token); err != nil {
			slog.InfoContext(ctx, "backend logout failed, clearing locally", "error", err)
		}
	}
	g.clear(ctx, sid, "logout")
	observability.RecordAuthLogout(ctx, "success")
}

// Invalidate clears the session without a backend round trip. Used when the
// backend has already rejected the credential on some other call, so there
// is nothing left to notify.
func (g *Guard) Invalidate(ctx context.Context, sid string) {
	if sid == "" {
		return
	}
	g.clear(ctx, sid, "credential_invalid")
}

// Supersede clears the session a new login replaces. Login overwrites any
// prior session unconditionally; with rotated session IDs the old record
// must be cleared explicitly or it stays usable until its TTL runs out.
func (g *Guard) Supersede(ctx context.Context, sid string) {
	if sid == "" {
		return
	}
	g.clear(ctx, sid, "superseded")
}

// RefreshUser re-fetches the current-user record and overwrites the cached
// copy, keeping the token. A 401 tears the whole session down. A transient
// failure falls back to the cached user when one parses; without a usable
// cache the session is cleared and ErrReauthenticationRequired returned.
// Concurrent refreshes for the same session share one backend round trip;
// a caller whose context is cancelled discards the shared result.
func (g *Guard) RefreshUser(ctx context.Context, sid string) (*domain.User, error) {
	if sid == "" {
		return nil, ErrReauthenticationRequired
	}
	ch := g.refresh.DoChan(sid, func() (any, error) {
		// The flight outlives any single caller: detach so the first
		// caller navigating away cannot cancel a refresh another view
		// still needs.
		return g.doRefresh(context.WithoutCancel(ctx), sid)
	})
	select {
	case <-ctx.Done():
		// The initiating view went away; the shared flight finishes on
		// its own and its result is discarded here.
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.User), nil
	}
}

func (g *Guard) doRefresh(ctx context.Context, sid string) (*domain.User, error) {
	rec, err := g.store.Get(ctx, sid)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "no_session")
		return nil, ErrReauthenticationRequired
	}
	if rec.Token == "" {
		g.clear(ctx, sid, "half_present")
		observability.RecordAuthRefresh(ctx, "no_session")
		return nil, ErrReauthenticationRequired
	}

	raw, err := g.client.Me(ctx, rec.Token)
	if err != nil {
		if errors.Is(err, backend.ErrCredentialInvalid) {
			g.clear(ctx, sid, "credential_invalid")
			observability.RecordAuthRefresh(ctx, "credential_invalid")
			return nil, ErrReauthenticationRequired
		}
		return g.refreshFallback(ctx, sid, rec, err)
	}

	user, err := domain.ParseUser(raw)
	if err != nil {
		return g.refreshFallback(ctx, sid, rec, err)
	}
	if err := g.store.Put(ctx, sid, session.Record{Token: rec.Token, User: raw}, g.sessionTTL); err != nil {
		return g.refreshFallback(ctx, sid, rec, err)
	}
	observability.RecordAuthRefresh(ctx, "success")
	return user, nil
}

// refreshFallback keeps the UI usable across transient failures: the cached
// user stands in when it still parses, otherwise the session cannot be
// trusted and is cleared entirely.
func (g *Guard) refreshFallback(ctx context.Context, sid string, rec *session.Record, cause error) (*domain.User, error) {
	cached, parseErr := domain.ParseUser(rec.User)
	if parseErr == nil {
		slog.WarnContext(ctx, "user refresh failed, serving cached record", "error", cause)
		observability.RecordAuthRefresh(ctx, "cache_fallback")
		return cached, nil
	}
	g.clear(ctx, sid, "refresh_failed_no_fallback")
	observability.RecordAuthRefresh(ctx, "teardown")
	return nil, ErrReauthenticationRequired
}
