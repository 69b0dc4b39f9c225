package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"selectcore/pkg/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleToken(id string, ttl time.Duration) domain.SelectionToken {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.SelectionToken{
		ID:        id,
		Filter:    domain.FilterDescriptor{Constraints: []domain.Constraint{{Field: "status", Op: domain.OpEq, Value: "open"}}},
		Selection: domain.NewAll("skip"),
		Basis:     domain.PinnedBasis(3),
		SingleUse: true,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestRoundTripPreservesTuple(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	token := sampleToken("t1", time.Hour)
	if err := store.Create(ctx, token); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Resolve(ctx, "t1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != token.ID || !got.SingleUse || got.Basis != token.Basis {
		t.Fatalf("resolved = %+v", got)
	}
	if got.Selection.Mode() != domain.ModeAll || len(got.Selection.ActiveIDs()) != 1 {
		t.Fatalf("selection lost: %+v", got.Selection)
	}
	if len(got.Filter.Constraints) != 1 {
		t.Fatalf("filter lost: %+v", got.Filter)
	}
}

func TestDuplicateCreateFails(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, sampleToken("t1", time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	var unavailable domain.StoreUnavailableError
	if err := store.Create(ctx, sampleToken("t1", time.Hour)); !errors.As(err, &unavailable) {
		t.Fatalf("expected StoreUnavailableError on duplicate, got %v", err)
	}
}

func TestResolveDistinguishesExpiredFromUnknown(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	var notFound domain.TokenNotFoundError
	if _, err := store.Resolve(ctx, "missing"); !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError, got %v", err)
	}

	if err := store.Create(ctx, sampleToken("t1", time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })

	var expired domain.TokenExpiredError
	if _, err := store.Resolve(ctx, "t1"); !errors.As(err, &expired) {
		t.Fatalf("expected TokenExpiredError, got %v", err)
	}
	// the expired row was deleted on observation
	if _, err := store.Resolve(ctx, "t1"); !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError after purge, got %v", err)
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, sampleToken("t1", time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Invalidate(ctx, "t1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := store.Invalidate(ctx, "t1"); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, sampleToken("live", time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, sampleToken("dead", time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.SetClock(func() time.Time { return time.Now().UTC().Add(30 * time.Minute) })
	purged, err := store.PurgeExpired(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("purged = %d err = %v", purged, err)
	}
	if _, err := store.Resolve(ctx, "live"); err != nil {
		t.Fatalf("live token should survive purge: %v", err)
	}
}

// noRowCountDriver is a database/sql driver whose exec results cannot
// report an affected-row count, mirroring drivers without that facility.
type noRowCountDriver struct{}

func (noRowCountDriver) Open(string) (driver.Conn, error) { return noRowCountConn{}, nil }

type noRowCountConn struct{}

func (noRowCountConn) Prepare(string) (driver.Stmt, error) { return noRowCountStmt{}, nil }
func (noRowCountConn) Close() error { return nil }
func (noRowCountConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

type noRowCountStmt struct{}

func (noRowCountStmt) Close() error { return nil }
func (noRowCountStmt) NumInput() int { return -1 }
func (noRowCountStmt) Exec([]driver.Value) (driver.Result, error) {
	return noRowCountResult{}, nil
}
func (noRowCountStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("query unsupported")
}

type noRowCountResult struct{}

func (noRowCountResult) LastInsertId() (int64, error) { return 0, nil }
func (noRowCountResult) RowsAffected() (int64, error) {
	return 0, errors.New("row count unavailable")
}

func TestPurgeExpiredSurfacesRowCountError(t *testing.T) {
	sql.Register("sqlite-no-row-count", noRowCountDriver{})
	db, err := sql.Open("sqlite-no-row-count", "ignored")
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	store := &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}

	if _, err := store.PurgeExpired(context.Background()); err == nil {
		t.Fatalf("expected purge error")
	} else {
		var unavailable domain.StoreUnavailableError
		if !errors.As(err, &unavailable) || unavailable.Op != "purge" {
			t.Fatalf("err = %v", err)
		}
	}
}
