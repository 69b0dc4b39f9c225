// Package postgres implements the shared token store for multi-instance
// deployments: tokens are keys into an external arena, not in-process
// references, so any instance can resolve a token any other issued.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"selectcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.TokenStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenTokenStore defaults while
	// allowing overrides via env.
	defaultDSN = "postgres://localhost/selectcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists selection tokens in a Postgres table.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls
// back to defaultDSN) and ensures the tokens table exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTokensTable(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func ensureTokensTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure tokens table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS tokens_expires_at ON tokens(expires_at)`); err != nil {
		return fmt.Errorf("ensure expiry index: %w", err)
	}
	return nil
}

// SetClock overrides the time source, for expiry tests.
func (s *Store) SetClock(now func() time.Time) { s.nowFn = now }

// Create inserts the encoded token.
func (s *Store) Create(ctx context.Context, token domain.SelectionToken) error {
	payload, err := domain.EncodeToken(token)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens(id, payload, created_at, expires_at) VALUES($1,$2,$3,$4)`,
		token.ID, payload, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return domain.StoreUnavailableError{Op: "create", Err: err}
	}
	return nil
}

// Resolve loads and decodes the token, distinguishing expired from
// unknown. Expired rows are deleted on first observation.
func (s *Store) Resolve(ctx context.Context, id string) (domain.SelectionToken, error) {
	var payload []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM tokens WHERE id = $1`, id).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SelectionToken{}, domain.TokenNotFoundError{Token: id}
	}
	if err != nil {
		return domain.SelectionToken{}, domain.StoreUnavailableError{Op: "resolve", Err: err}
	}
	if s.nowFn().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, id)
		return domain.SelectionToken{}, domain.TokenExpiredError{Token: id, ExpiredAt: expiresAt.UTC()}
	}
	return domain.DecodeToken(payload)
}

// Invalidate deletes the token row; idempotent.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, id); err != nil {
		return domain.StoreUnavailableError{Op: "invalidate", Err: err}
	}
	return nil
}

// PurgeExpired deletes every row past its expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < $1`, s.nowFn())
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

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
