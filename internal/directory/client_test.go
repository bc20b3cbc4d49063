package directory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger), WithRetry(0, time.Millisecond, time.Millisecond)}, opts...)
	c, err := New(srv.URL+"/api/", opts...)
	require.NoError(t, err)
	return c
}

func TestFindByIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/users/user@changefirst.com", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username": "testUsername", "email": "bob@123.com"}`))
	}))
	defer srv.Close()

	user, err := newTestClient(t, srv).FindByIdentifier(context.Background(), "user@changefirst.com")
	require.NoError(t, err)
	require.Equal(t, "testUsername", user.Username)
	require.Equal(t, "bob@123.com", user.Email)
}

func TestFindByIdentifierEscapesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/a%2Fb%20c", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"username": "ab"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FindByIdentifier(context.Background(), "a/b c")
	require.NoError(t, err)
}

func TestFindByIdentifierNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FindByIdentifier(context.Background(), "ghost")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestFindByIdentifierMissingUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email": "bob@123.com"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FindByIdentifier(context.Background(), "bob")
	require.Error(t, err)
	require.False(t, errors.Is(err, identity.ErrNotFound))
}

func TestFindByIdentifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"username": "testUsername"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	user, err := c.FindByIdentifier(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "testUsername", user.Username)
	require.EqualValues(t, 3, calls.Load())
}

func TestFindByIdentifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FindByIdentifier(context.Background(), "bob")
	require.ErrorContains(t, err, "status 502")
	require.ErrorContains(t, err, "upstream exploded")
}

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/users/testUsername/credentials", r.URL.Path)
		var body struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "password", body.Type)
		switch body.Value {
		case "password":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.ValidateCredentials(context.Background(), "testUsername", "password"))
	require.ErrorIs(t, c.ValidateCredentials(context.Background(), "testUsername", "nope"), identity.ErrInvalidCredentials)
}

func TestValidateCredentialsUnknownUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := newTestClient(t, srv).ValidateCredentials(context.Background(), "ghost", "password")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestTokenSourceAddsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer directory-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"username": "testUsername"}`))
	}))
	defer srv.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "directory-token"})
	_, err := newTestClient(t, srv, WithTokenSource(ts)).FindByIdentifier(context.Background(), "bob")
	require.NoError(t, err)
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost.com", "ftp://example.com", "http://"} {
		_, err := New(raw)
		require.Error(t, err, raw)
	}
}
