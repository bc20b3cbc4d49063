package identity

import (
	"context"
	"errors"
)

// Directory abstracts the remote system that owns user identities. Implementations either call the
// remote REST API or serve static fixtures when offline.
type Directory interface {
	FindByIdentifier(ctx context.Context, id string) (*RemoteUser, error)
}

// CredentialValidator checks a password against the remote directory. A nil error means the
// credential was accepted.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, username, password string) error
}

var (
	// ErrNotFound is returned when no remote account matches an identifier.
	ErrNotFound = errors.New("identity: user not found")

	// ErrInvalidCredentials is returned when the remote directory rejects a credential.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)
