package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrCredentialInvalid is returned whenever the backend answers HTTP 401,
// on any endpoint. The guard reacts by tearing the session down.
var ErrCredentialInvalid = errors.New("backend rejected credential")

// APIError carries the backend's envelope-level failure. The marketplace
// backend answers HTTP 200 with {code,message,data} and code 200 meaning
// success; anything else is a business failure with a user-facing message.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the raw outcome of a successful login: the opaque bearer
// token plus the user record exactly as the backend serialized it.
type LoginResult struct {
	Token string
	User  []byte
}

// Client talks to the marketplace backend's auth surface. It holds no
// session state of its own.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithOTelTransport wraps the outbound transport with otelhttp so backend
// round trips show up in traces.
func WithOTelTransport() Option {
	return func(c *Client) {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http.Transport = otelhttp.NewTransport(base)
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token and user record. A rejected
// credential surfaces as *APIError carrying the backend's message; the
// session is not touched on any failure path.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", creds)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Token string          `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode login payload: %w", err)
	}
	if payload.Token == "" || len(payload.User) == 0 {
		return nil, fmt.Errorf("login payload missing token or user")
	}
	return &LoginResult{Token: payload.Token, User: payload.User}, nil
}

// Me fetches the current-user record for the given token, returned as raw
// bytes so the caller persists exactly what the backend sent.
func (c *Client) Me(ctx context.Context, token string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/auth/me", token, nil)
}

// Logout notifies the backend. Callers treat failures as non-fatal.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil)
	return err
}

// Register creates an account. The result is the backend's response data,
// passed through opaque.
func (c *Client) Register(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/auth/register", "", body)
}

// ChangePassword updates the authenticated account's password.
func (c *Client) ChangePassword(ctx context.Context, token string, body json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, "/api/auth/password", token, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrCredentialInvalid
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("backend request %s %s: unexpected status %s", method, path, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode backend envelope: %w", err)
	}
	if env.Code != http.StatusOK {
		if env.Code == http.StatusUnauthorized {
			return nil, ErrCredentialInvalid
		}
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}
