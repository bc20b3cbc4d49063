package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tailscale-portfolio/rest-user-federation/internal/config"
)

func TestNewFromConfigClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "cc-token", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer idp.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"username": "testUsername"}`))
	}))
	defer api.Close()

	c, err := NewFromConfig(context.Background(), config.Remote{
		URL:          api.URL,
		ClientID:     "broker",
		ClientSecret: "shh",
		TokenURL:     idp.URL,
		Timeout:      5 * time.Second,
	}, quietLogger)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.FindByIdentifier(context.Background(), "bob")
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, tokenCalls.Load())
}

func TestNewFromConfigStaticToken(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer static", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"username": "testUsername"}`))
	}))
	defer api.Close()

	c, err := NewFromConfig(context.Background(), config.Remote{URL: api.URL, Token: "static", Timeout: time.Second}, quietLogger)
	require.NoError(t, err)
	_, err = c.FindByIdentifier(context.Background(), "bob")
	require.NoError(t, err)
}
