package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newBackendForTest(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL)
}

func TestLoginSuccess(t *testing.T) {
	client := newBackendForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode credentials: %v", err)
		}
		if creds.Username != "lin" || creds.Password != "secret" {
			t.Fatalf("unexpected credentials: %+v", creds)
		}
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":{"token":"tok-1","user":{"id":1,"username":"lin","role":"USER"}}}`))
	})

	result, err := client.Login(context.Background(), Credentials{Username: "lin", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token != "tok-1" {
		t.Fatalf("unexpected token %q", result.Token)
	}
	if string(result.User) != `{"id":1,"username":"lin","role":"USER"}` {
		t.Fatalf("user record must pass through verbatim, got %s", result.User)
	}
}

func TestLoginRejectedCredentialSurfacesBackendMessage(t *testing.T) {
	client := newBackendForTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"message":"bad username or password"}`))
	})

	_, err := client.Login(context.Background(), Credentials{Username: "lin", Password: "wrong"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "bad username or password" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestHTTP401MapsToCredentialInvalid(t *testing.T) {
	client := newBackendForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := client.Me(context.Background(), "stale-token"); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestEnvelope401MapsToCredentialInvalid(t *testing.T) {
	client := newBackendForTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":401,"message":"token expired"}`))
	})

	if _, err := client.Me(context.Background(), "stale-token"); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestMeSendsBearerToken(t *testing.T) {
	client := newBackendForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"id":1,"username":"lin","role":"USER"}}`))
	})

	raw, err := client.Me(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if string(raw) != `{"id":1,"username":"lin","role":"USER"}` {
		t.Fatalf("unexpected user payload %s", raw)
	}
}

func TestNetworkErrorIsNotCredentialInvalid(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL)

	_, err := client.Me(context.Background(), "tok-1")
	if err == nil {
		t.Fatal("expected network error")
	}
	if errors.Is(err, ErrCredentialInvalid) {
		t.Fatal("network failures must stay distinct from credential rejection")
	}
}
