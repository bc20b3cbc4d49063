// Package federation resolves login identifiers against a remote directory and keeps a local shadow
// user for every remote account that signs in.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
	"github.com/tailscale-portfolio/rest-user-federation/internal/userstore"
)

// ErrCredentialsUnsupported is returned by Authenticate when the directory cannot validate credentials.
var ErrCredentialsUnsupported = errors.New("federation: directory does not validate credentials")

// Option configures the Reconciler.
type Option func(r *Reconciler)

// WithLogger sets the logger used for reconciliation events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// Reconciler maps remote identities onto local users. It holds no mutable state and is safe for
// concurrent use; duplicate creation races are left to the store.
type Reconciler struct {
	directory identity.Directory
	store     userstore.Store
	logger    *slog.Logger
}

// NewReconciler wires a reconciler to its remote directory and local store.
func NewReconciler(directory identity.Directory, store userstore.Store, opts ...Option) (*Reconciler, error) {
	if directory == nil {
		return nil, errors.New("federation: directory is required")
	}
	if store == nil {
		return nil, errors.New("federation: store is required")
	}
	r := &Reconciler{
		directory: directory,
		store:     store,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// ResolveUser returns the local user for loginID in realm, creating it from the remote record when
// none exists yet. The local username is always the remote username, never loginID itself.
// Existing local users are returned untouched.
func (r *Reconciler) ResolveUser(ctx context.Context, loginID, realm string) (*identity.LocalUser, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" {
		return nil, fmt.Errorf("federation: empty login id: %w", identity.ErrNotFound)
	}

	remote, err := r.directory.FindByIdentifier(ctx, loginID)
	if err != nil {
		return nil, fmt.Errorf("federation: remote lookup %q: %w", loginID, err)
	}
	if remote == nil || remote.Username == "" {
		return nil, fmt.Errorf("federation: remote record for %q has no username", loginID)
	}

	local, err := r.store.FindByUsername(ctx, realm, remote.Username)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, userstore.ErrNotFound) {
		return nil, fmt.Errorf("federation: local lookup %q: %w", remote.Username, err)
	}

	local, err = r.store.Create(ctx, realm, remote.Username)
	if err != nil {
		return nil, fmt.Errorf("federation: create local user %q: %w", remote.Username, err)
	}
	r.logger.InfoContext(ctx, "local user created",
		"realm", realm,
		"username", remote.Username,
		"login_id", loginID,
		"user_id", local.ID,
	)

	if remote.Email == "" {
		return local, nil
	}
	if !identity.ValidEmail(remote.Email) {
		r.logger.DebugContext(ctx, "dropping malformed remote email", "realm", realm, "username", remote.Username)
		return local, nil
	}

	updated, err := r.store.SetEmail(ctx, realm, remote.Username, remote.Email)
	if err != nil {
		return nil, fmt.Errorf("federation: set email for %q: %w", remote.Username, err)
	}
	return updated, nil
}

// Authenticate resolves loginID and validates password against the remote directory.
func (r *Reconciler) Authenticate(ctx context.Context, realm, loginID, password string) (*identity.LocalUser, error) {
	validator, ok := r.directory.(identity.CredentialValidator)
	if !ok {
		return nil, ErrCredentialsUnsupported
	}

	user, err := r.ResolveUser(ctx, loginID, realm)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("federation: empty password for %q: %w", user.Username, identity.ErrInvalidCredentials)
	}
	if err := validator.ValidateCredentials(ctx, user.Username, password); err != nil {
		return nil, fmt.Errorf("federation: validate credentials for %q: %w", user.Username, err)
	}
	return user, nil
}
