package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tailscale-portfolio/rest-user-federation/internal/config"
	"github.com/tailscale-portfolio/rest-user-federation/internal/directory"
	"github.com/tailscale-portfolio/rest-user-federation/internal/federation"
	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
	"github.com/tailscale-portfolio/rest-user-federation/internal/userstore"
)

type options struct {
	login    string
	password string
	realm    string
	fixture  string
	dbPath   string
	memory   bool
	list     bool
	verbose  bool
	timeout  time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.login, "login", "", "Login identifier (username or email) to resolve")
	flag.StringVar(&opts.password, "password", "", "Validate this password against the remote directory after resolving")
	flag.StringVar(&opts.realm, "realm", "", "Realm for the local user (defaults to FEDERATION_DEFAULT_REALM or master)")
	flag.StringVar(&opts.fixture, "fixture", "", "Serve remote accounts from a JSON fixture instead of FEDERATION_REMOTE_URL")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite database path (defaults to FEDERATION_DB_PATH)")
	flag.BoolVar(&opts.memory, "memory", false, "Use an in-memory local store")
	flag.BoolVar(&opts.list, "list", false, "List local users in the realm instead of resolving")
	flag.BoolVar(&opts.verbose, "v", false, "Log reconciliation events to stderr")
	flag.DurationVar(&opts.timeout, "timeout", 20*time.Second, "Timeout for directory and store calls")
	flag.Parse()

	if opts.login == "" && !opts.list {
		fmt.Fprintln(os.Stderr, "Provide --login or --list to execute an action.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fedctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dir, cfg, err := buildDirectory(ctx, opts, logger)
	if err != nil {
		return err
	}

	realm := strings.TrimSpace(opts.realm)
	if realm == "" {
		realm = cfg.DefaultRealm
	}
	if realm == "" {
		realm = "master"
	}

	store, closeStore, err := buildStore(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.list {
		users, err := store.List(ctx, realm)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"realm": realm, "users": users})
	}

	reconciler, err := federation.NewReconciler(dir, store, federation.WithLogger(logger))
	if err != nil {
		return err
	}

	var user *identity.LocalUser
	if opts.password != "" {
		user, err = reconciler.Authenticate(ctx, realm, opts.login, opts.password)
	} else {
		user, err = reconciler.ResolveUser(ctx, opts.login, realm)
	}
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("no remote account matches %q", opts.login)
		}
		return err
	}
	return printJSON(out, map[string]any{"user": user, "authenticated": opts.password != ""})
}

func buildDirectory(ctx context.Context, opts options, logger *slog.Logger) (identity.Directory, config.Config, error) {
	if opts.fixture != "" {
		data, err := os.ReadFile(opts.fixture)
		if err != nil {
			return nil, config.Config{}, fmt.Errorf("read fixture: %w", err)
		}
		dir, err := identity.NewStaticDirectory(data)
		if err != nil {
			return nil, config.Config{}, err
		}
		return dir, config.Config{Store: config.StoreSQLite, DBPath: "data/federation.db"}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, fmt.Errorf("configuration error: %w", err)
	}
	dir, err := directory.NewFromConfig(ctx, cfg.Remote, logger)
	if err != nil {
		return nil, cfg, err
	}
	return dir, cfg, nil
}

func buildStore(ctx context.Context, opts options, cfg config.Config) (userstore.Store, func(), error) {
	if opts.memory || (opts.dbPath == "" && cfg.Store == config.StoreMemory) {
		return userstore.NewMemoryStore(), func() {}, nil
	}
	path := opts.dbPath
	if path == "" {
		path = cfg.DBPath
	}
	store, err := userstore.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
