package identity

import "time"

// RemoteUser is the canonical account record returned by the remote directory. A fresh value is
// produced for every lookup.
type RemoteUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// LocalUser is the shadow record persisted locally for a remote identity.
type LocalUser struct {
	ID        string    `json:"id"`
	Realm     string    `json:"realm"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
