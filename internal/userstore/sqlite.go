package userstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists local users in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("userstore: storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("userstore: create data dir: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("userstore: open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: apply schema: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) FindByUsername(ctx context.Context, realm, username string) (*identity.LocalUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, realm, username, email, created_at, updated_at
		FROM local_users
		WHERE realm = ? AND username = ?
	`, realm, username)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userstore: find %q: %w", username, err)
	}
	return u, nil
}

func (s *SQLiteStore) Create(ctx context.Context, realm, username string) (*identity.LocalUser, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("userstore: username is required")
	}

	now := s.now()
	u := identity.LocalUser{
		ID:        uuid.NewString(),
		Realm:     realm,
		Username:  username,
		CreatedAt: now.Truncate(time.Millisecond),
		UpdatedAt: now.Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_users (id, realm, username, email, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, u.ID, u.Realm, u.Username, toMillis(now), toMillis(now))
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("userstore: create %q: %w", username, err)
	}
	return &u, nil
}

func (s *SQLiteStore) SetEmail(ctx context.Context, realm, username, email string) (*identity.LocalUser, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE local_users SET email = ?, updated_at = ?
		WHERE realm = ? AND username = ?
	`, nullString(email), toMillis(s.now()), realm, username)
	if err != nil {
		return nil, fmt.Errorf("userstore: set email for %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("userstore: set email for %q: %w", username, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.FindByUsername(ctx, realm, username)
}

// List returns the realm's users ordered by username.
func (s *SQLiteStore) List(ctx context.Context, realm string) ([]identity.LocalUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, realm, username, email, created_at, updated_at
		FROM local_users
		WHERE realm = ?
		ORDER BY username
	`, realm)
	if err != nil {
		return nil, fmt.Errorf("userstore: list realm %q: %w", realm, err)
	}
	defer rows.Close()

	var out []identity.LocalUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("userstore: scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userstore: list realm %q: %w", realm, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*identity.LocalUser, error) {
	var (
		u         identity.LocalUser
		email     sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Realm, &u.Username, &email, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
