// Package sqlite implements a durable token store on an embedded SQLite
// database. Tokens are stored as JSON payloads keyed by ID with their
// expiry alongside, so purging never needs to decode payloads.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"selectcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.TokenStore = (*Store)(nil)

// Store persists selection tokens in a single SQLite table.
type Store struct {
	db    *sql.DB
	path  string
	nowFn func() time.Time
}

// NewStore opens (or creates) the database at path and ensures the tokens
// table exists. An empty path defaults to ./selectcore.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "selectcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create tokens table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS tokens_expires_at ON tokens(expires_at)`); err != nil {
		return nil, fmt.Errorf("create expiry index: %w", err)
	}
	return &Store{db: db, path: path, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

// SetClock overrides the time source, for expiry tests.
func (s *Store) SetClock(now func() time.Time) { s.nowFn = now }

// Create inserts the encoded token. Tokens are immutable; a duplicate ID
// is a store error, not an upsert.
func (s *Store) Create(ctx context.Context, token domain.SelectionToken) error {
	payload, err := domain.EncodeToken(token)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens(id, payload, created_at, expires_at) VALUES(?,?,?,?)`,
		token.ID, payload, token.CreatedAt.Unix(), token.ExpiresAt.Unix())
	if err != nil {
		return domain.StoreUnavailableError{Op: "create", Err: err}
	}
	return nil
}

// Resolve loads and decodes the token, distinguishing expired from
// unknown. Expired rows are deleted on first observation.
func (s *Store) Resolve(ctx context.Context, id string) (domain.SelectionToken, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM tokens WHERE id = ?`, id).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SelectionToken{}, domain.TokenNotFoundError{Token: id}
	}
	if err != nil {
		return domain.SelectionToken{}, domain.StoreUnavailableError{Op: "resolve", Err: err}
	}
	if expiry := time.Unix(expiresAt, 0).UTC(); s.nowFn().After(expiry) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
		return domain.SelectionToken{}, domain.TokenExpiredError{Token: id, ExpiredAt: expiry}
	}
	return domain.DecodeToken(payload)
}

// Invalidate deletes the token row; idempotent.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id); err != nil {
		return domain.StoreUnavailableError{Op: "invalidate", Err: err}
	}
	return nil
}

// PurgeExpired deletes every row past its expiry. This is the operational
// safety valve bounding table growth; run it periodically.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, s.nowFn().Unix())
	if err != nil {
		return 0, domain.StoreUnavailableError{Op: "purge", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreUnavailableError{Op: "purge", Err: err}
	}
	return int(n), nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }
