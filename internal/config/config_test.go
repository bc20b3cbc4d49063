package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func parseMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: "FEDERATION_", Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parseMap(map[string]string{
		"FEDERATION_REMOTE_URL": "http://localhost.com",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "master", cfg.DefaultRealm)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, "data/federation.db", cfg.DBPath)
	require.Equal(t, 2, cfg.Remote.Retries)
	require.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	require.Equal(t, 8*time.Hour, cfg.SessionTTL)
	require.Equal(t, "federation:read", cfg.Admin.Scope)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := parseMap(map[string]string{
		"FEDERATION_REMOTE_URL":           "https://directory.example.com/api",
		"FEDERATION_REMOTE_CLIENT_ID":     "broker",
		"FEDERATION_REMOTE_CLIENT_SECRET": "shh",
		"FEDERATION_REMOTE_TOKEN_URL":     "https://idp.example.com/token",
		"FEDERATION_REMOTE_SCOPES":        "users:read users:verify",
		"FEDERATION_STORE":                "memory",
		"FEDERATION_LOG_LEVEL":            "debug",
		"FEDERATION_ADMIN_ISSUER":         "https://idp.example.com/",
		"FEDERATION_ADMIN_AUDIENCE":       "federation-admin",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"users:read", "users:verify"}, cfg.Remote.Scopes)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, "federation-admin", cfg.Admin.Audience)

	lvl, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing remote url": {},
		"relative remote url": {
			"FEDERATION_REMOTE_URL": "localhost.com",
		},
		"unknown store": {
			"FEDERATION_REMOTE_URL": "http://localhost.com",
			"FEDERATION_STORE":      "postgres",
		},
		"client id without secret": {
			"FEDERATION_REMOTE_URL":       "http://localhost.com",
			"FEDERATION_REMOTE_CLIENT_ID": "broker",
		},
		"admin issuer without audience": {
			"FEDERATION_REMOTE_URL":   "http://localhost.com",
			"FEDERATION_ADMIN_ISSUER": "https://idp.example.com/",
		},
		"bad log level": {
			"FEDERATION_REMOTE_URL": "http://localhost.com",
			"FEDERATION_LOG_LEVEL":  "loud",
		},
		"negative retries": {
			"FEDERATION_REMOTE_URL":     "http://localhost.com",
			"FEDERATION_REMOTE_RETRIES": "-1",
		},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseMap(vars)
			require.Error(t, err)
		})
	}
}
