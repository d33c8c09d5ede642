// Package security issues and verifies the gateway's session cookie. The
// cookie carries only a signed session ID; the backend credential never
// leaves the server side and stays opaque throughout.
package security

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type CookieManager struct {
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewCookieManager(name, secret string, ttl time.Duration, secure bool) *CookieManager {
	return &CookieManager{name: name, secret: []byte(secret), ttl: ttl, secure: secure}
}

// NewSessionID mints a fresh session identifier. Login rotates the ID so a
// pre-login cookie can never be fixed onto an authenticated session.
func (m *CookieManager) NewSessionID() string {
	return uuid.NewString()
}

func (m *CookieManager) sign(sid string) (string, error) {
	claims := sessionClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "portal-gateway",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *CookieManager) parse(raw string) (string, error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer("portal-gateway"))
	if err != nil {
		return "", err
	}
	if !tok.Valid || claims.SessionID == "" {
		return "", errors.New("invalid session cookie")
	}
	return claims.SessionID, nil
}

// Set writes the signed cookie for sid onto the response.
func (m *CookieManager) Set(w http.ResponseWriter, sid string) error {
	signed, err := m.sign(sid)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read extracts the session ID from the request cookie. A missing, expired
// or tampered cookie reads as "" and the request proceeds as anonymous.
func (m *CookieManager) Read(r *http.Request) string {
	cookie, err := r.Cookie(m.name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	sid, err := m.parse(cookie.Value)
	if err != nil {
		return ""
	}
	return sid
}

// Clear expires the cookie on the client.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
