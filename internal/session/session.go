// Package session issues the signed cookie handed out after a successful federated login.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

const (
	CookieName = "_federation_session"
	cookieKey  = "session"
)

// Data is the payload stored in the session cookie.
type Data struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Realm    string    `json:"realm"`
	IssuedAt time.Time `json:"issued_at"`
}

// Manager encodes and decodes session cookies.
type Manager struct {
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager builds a Manager from secret. The secret doubles as the encryption key, truncated to 32
// bytes, so it must be at least 32 bytes long.
func NewManager(secret string, ttl time.Duration, secure bool) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errors.New("session: secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}

	hashKey := []byte(secret)
	blockKey := hashKey[:32]
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl.Seconds()))

	return &Manager{
		codec:  codec,
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}, nil
}

// Issue writes a session cookie for user.
func (m *Manager) Issue(w http.ResponseWriter, user *identity.LocalUser) error {
	data := Data{
		UserID:   user.ID,
		Username: user.Username,
		Realm:    user.Realm,
		IssuedAt: m.now().UTC(),
	}
	encoded, err := m.codec.Encode(cookieKey, data)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  data.IssuedAt.Add(m.ttl),
	})
	return nil
}

// Read decodes the session from r's cookie.
func (m *Manager) Read(r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}
	var data Data
	if err := m.codec.Decode(cookieKey, cookie.Value, &data); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &data, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
}
