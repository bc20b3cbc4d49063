// Package userstore persists local shadow users created for remote identities.
//
// Records are scoped by realm and unique on (realm, username). Implementations arbitrate concurrent
// creation of the same username by returning ErrDuplicate to the loser.
package userstore

import (
	"context"
	"errors"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

var (
	// ErrNotFound is returned when no local user exists for a username.
	ErrNotFound = errors.New("userstore: user not found")

	// ErrDuplicate is returned when a user with the same realm and username already exists.
	ErrDuplicate = errors.New("userstore: user already exists")
)

// Store is the local user store consulted and written during login.
type Store interface {
	FindByUsername(ctx context.Context, realm, username string) (*identity.LocalUser, error)
	Create(ctx context.Context, realm, username string) (*identity.LocalUser, error)
	SetEmail(ctx context.Context, realm, username, email string) (*identity.LocalUser, error)
	List(ctx context.Context, realm string) ([]identity.LocalUser, error)
}
