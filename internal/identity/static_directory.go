package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// StaticDirectory serves remote accounts from a JSON fixture for local development and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	accounts []staticAccount
}

type staticAccount struct {
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// NewStaticDirectory parses the provided JSON payload and stores accounts in memory. Password
// hashes must be bcrypt.
func NewStaticDirectory(data []byte) (*StaticDirectory, error) {
	type doc struct {
		Users []staticAccount `json:"users"`
	}
	var parsed doc
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("identity: parse fixture: %w", err)
	}

	dir := &StaticDirectory{
		accounts: make([]staticAccount, 0, len(parsed.Users)),
	}
	seen := make(map[string]struct{}, len(parsed.Users))
	for _, a := range parsed.Users {
		if a.Username == "" {
			return nil, errors.New("identity: fixture contains user without username")
		}
		key := strings.ToLower(a.Username)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("identity: fixture contains duplicate username %q", a.Username)
		}
		seen[key] = struct{}{}
		dir.accounts = append(dir.accounts, a)
	}
	return dir, nil
}

// FindByIdentifier returns the first account whose username or email matches id.
func (d *StaticDirectory) FindByIdentifier(_ context.Context, id string) (*RemoteUser, error) {
	acct, ok := d.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &RemoteUser{Username: acct.Username, Email: acct.Email}, nil
}

// ValidateCredentials compares password against the fixture's bcrypt hash for username.
func (d *StaticDirectory) ValidateCredentials(_ context.Context, username, password string) error {
	acct, ok := d.lookup(username)
	if !ok {
		return ErrNotFound
	}
	if acct.PasswordHash == "" || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("identity: compare password: %w", err)
	}
	return nil
}

func (d *StaticDirectory) lookup(id string) (staticAccount, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return staticAccount{}, false
	}
	for _, a := range d.accounts {
		if strings.EqualFold(a.Username, id) || (a.Email != "" && strings.EqualFold(a.Email, id)) {
			return a, true
		}
	}
	return staticAccount{}, false
}
