package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/homedesign/portal-gateway/internal/backend"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/middleware"
	"github.com/homedesign/portal-gateway/internal/http/response"
	"github.com/homedesign/portal-gateway/internal/observability"
	"github.com/homedesign/portal-gateway/internal/security"
)

type AuthHandler struct {
	guard    *guard.Guard
	client   *backend.Client
	cookies  *security.CookieManager
	homePath string
}

func NewAuthHandler(g *guard.Guard, client *backend.Client, cookies *security.CookieManager, homePath string) *AuthHandler {
	if homePath == "" {
		homePath = "/"
	}
	return &AuthHandler{guard: g, client: client, cookies: cookies, homePath: homePath}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates against the backend and establishes the gateway
// session. The session ID is rotated on every successful login, and the
// remembered ?next= path is echoed back so the browser returns where the
// guard interrupted it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed login request", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username and password are required", nil)
		return
	}

	sid := h.cookies.NewSessionID()
	sess, err := h.guard.Login(r.Context(), sid, backend.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		var apiErr *backend.APIError
		switch {
		case errors.As(err, &apiErr):
			observability.Audit(r, "login_rejected", "username", req.Username)
			response.Error(w, r, http.StatusUnauthorized, "LOGIN_REJECTED", apiErr.Message, nil)
		case errors.Is(err, backend.ErrCredentialInvalid):
			observability.Audit(r, "login_rejected", "username", req.Username)
			response.Error(w, r, http.StatusUnauthorized, "LOGIN_REJECTED", "invalid username or password", nil)
		default:
			response.Error(w, r, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "login is temporarily unavailable", nil)
		}
		return
	}
	// The rotated ID replaces whatever session the browser carried in; the
	// old record must not outlive the login that superseded it.
	if prev := middleware.SessionIDFromContext(r.Context()); prev != "" && prev != sid {
		h.guard.Supersede(r.Context(), prev)
	}
	if err := h.cookies.Set(w, sid); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to establish session", nil)
		return
	}

	observability.Audit(r, "login_success", "username", sess.User.Username, "role", sess.User.Role.String())
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user": sess.User,
		"next": h.safeNext(r.URL.Query().Get("next")),
	})
}

// Logout tears the session down. The backend call inside the guard is best
// effort; this handler always clears the cookie and always answers 200.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	h.guard.Logout(r.Context(), sid)
	h.cookies.Clear(w)
	observability.Audit(r, "logout", "session_id", sid)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me refreshes and returns the current user record. On a transient backend
// failure the cached record is served; when the credential is gone the
// session cookie goes with it.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	user, err := h.guard.RefreshUser(r.Context(), sid)
	if err != nil {
		if errors.Is(err, guard.ErrReauthenticationRequired) {
			h.cookies.Clear(w)
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session is no longer valid", nil)
			return
		}
		response.Error(w, r, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "could not load user", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

// Register passes the registration payload to the backend untouched.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body", nil)
		return
	}
	data, err := h.client.Register(r.Context(), body)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			response.Error(w, r, http.StatusUnprocessableEntity, "REGISTRATION_REJECTED", apiErr.Message, nil)
			return
		}
		response.Error(w, r, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "registration is temporarily unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, json.RawMessage(data))
}

// ChangePassword forwards the password change for the authenticated session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	sess := h.guard.Lookup(r.Context(), sid)
	if !sess.Authenticated() {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body", nil)
		return
	}
	if err := h.client.ChangePassword(r.Context(), sess.Token, body); err != nil {
		if errors.Is(err, backend.ErrCredentialInvalid) {
			h.guard.Invalidate(r.Context(), sid)
			h.cookies.Clear(w)
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session is no longer valid", nil)
			return
		}
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			response.Error(w, r, http.StatusUnprocessableEntity, "PASSWORD_REJECTED", apiErr.Message, nil)
			return
		}
		response.Error(w, r, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "password change is temporarily unavailable", nil)
		return
	}
	observability.Audit(r, "password_changed", "session_id", sid)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

// safeNext keeps the post-login redirect on this site: relative paths only,
// no protocol-relative escapes.
func (h *AuthHandler) safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return h.homePath
	}
	return next
}
