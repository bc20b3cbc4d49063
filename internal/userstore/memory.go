package userstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

type userKey struct {
	realm    string
	username string
}

// MemoryStore keeps local users in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[userKey]identity.LocalUser
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[userKey]identity.LocalUser),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindByUsername(_ context.Context, realm, username string) (*identity.LocalUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userKey{realm, username}]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) Create(_ context.Context, realm, username string) (*identity.LocalUser, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("userstore: username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{realm, username}
	if _, ok := s.users[key]; ok {
		return nil, ErrDuplicate
	}
	now := s.now()
	u := identity.LocalUser{
		ID:        uuid.NewString(),
		Realm:     realm,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[key] = u
	return &u, nil
}

func (s *MemoryStore) SetEmail(_ context.Context, realm, username, email string) (*identity.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{realm, username}
	u, ok := s.users[key]
	if !ok {
		return nil, ErrNotFound
	}
	u.Email = email
	u.UpdatedAt = s.now()
	s.users[key] = u
	return &u, nil
}

// List returns the realm's users ordered by username.
func (s *MemoryStore) List(_ context.Context, realm string) ([]identity.LocalUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.LocalUser, 0, len(s.users))
	for k, u := range s.users {
		if k.realm == realm {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b identity.LocalUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}
