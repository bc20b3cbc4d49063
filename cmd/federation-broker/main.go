package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tailscale-portfolio/rest-user-federation/internal/config"
	"github.com/tailscale-portfolio/rest-user-federation/internal/directory"
	"github.com/tailscale-portfolio/rest-user-federation/internal/federation"
	"github.com/tailscale-portfolio/rest-user-federation/internal/oidcauth"
	"github.com/tailscale-portfolio/rest-user-federation/internal/session"
	"github.com/tailscale-portfolio/rest-user-federation/internal/userstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("federation broker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.SessionSecret == "" {
		return errors.New("FEDERATION_SESSION_SECRET is required")
	}

	logger.Info("starting federation broker",
		"listen", cfg.ListenAddr,
		"remote_url", cfg.Remote.URL,
		"store", cfg.Store,
		"default_realm", cfg.DefaultRealm,
		"admin_api", cfg.Admin.Issuer != "",
	)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dir, err := directory.NewFromConfig(ctx, cfg.Remote, logger)
	if err != nil {
		return err
	}

	reconciler, err := federation.NewReconciler(dir, store, federation.WithLogger(logger))
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, false)
	if err != nil {
		return err
	}

	srv := &server{
		logger:       logger,
		reconciler:   reconciler,
		store:        store,
		sessions:     sessions,
		defaultRealm: cfg.DefaultRealm,
	}

	if cfg.Admin.Issuer != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		validator, err := oidcauth.NewValidator(initCtx, cfg.Admin.Issuer, cfg.Admin.Audience, oidcauth.WithRolesClaim(cfg.Admin.RolesClaim))
		if err != nil {
			return fmt.Errorf("initialise admin validator: %w", err)
		}
		srv.admin = validator
		srv.adminScopes = []string{cfg.Admin.Scope}
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (userstore.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		return userstore.NewMemoryStore(), func() {}, nil
	}
	store, err := userstore.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
