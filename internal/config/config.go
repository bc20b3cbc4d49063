// Package config loads broker and CLI settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Remote describes how to reach the remote user directory.
type Remote struct {
	URL          string        `env:"URL,required"`
	Token        string        `env:"TOKEN"`
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	TokenURL     string        `env:"TOKEN_URL"`
	Scopes       []string      `env:"SCOPES" envSeparator:" "`
	Retries      int           `env:"RETRIES" envDefault:"2"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Admin configures bearer-token protection of the admin API. Leaving Issuer empty disables it.
type Admin struct {
	Issuer     string `env:"ISSUER"`
	Audience   string `env:"AUDIENCE"`
	Scope      string `env:"SCOPE" envDefault:"federation:read"`
	RolesClaim string `env:"ROLES_CLAIM"`
}

type Config struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8080"`
	DefaultRealm  string        `env:"DEFAULT_REALM" envDefault:"master"`
	Store         string        `env:"STORE" envDefault:"sqlite"`
	DBPath        string        `env:"DB_PATH" envDefault:"data/federation.db"`
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`

	Remote Remote `envPrefix:"REMOTE_"`
	Admin  Admin  `envPrefix:"ADMIN_"`
}

// Load parses FEDERATION_* variables and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: "FEDERATION_"})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	u, err := url.Parse(c.Remote.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FEDERATION_REMOTE_URL must be an absolute http(s) url, got %q", c.Remote.URL)
	}
	if strings.TrimSpace(c.DefaultRealm) == "" {
		return errors.New("FEDERATION_DEFAULT_REALM must not be empty")
	}
	switch c.Store {
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("FEDERATION_DB_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("FEDERATION_STORE must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Store)
	}
	if c.Remote.ClientID != "" && (c.Remote.ClientSecret == "" || c.Remote.TokenURL == "") {
		return errors.New("FEDERATION_REMOTE_CLIENT_SECRET and FEDERATION_REMOTE_TOKEN_URL are required with FEDERATION_REMOTE_CLIENT_ID")
	}
	if c.Admin.Issuer != "" && c.Admin.Audience == "" {
		return errors.New("FEDERATION_ADMIN_AUDIENCE is required when FEDERATION_ADMIN_ISSUER is set")
	}
	if c.Remote.Retries < 0 {
		return errors.New("FEDERATION_REMOTE_RETRIES must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a textual level onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return lvl, fmt.Errorf("FEDERATION_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
