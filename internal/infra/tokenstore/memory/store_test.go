package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"selectcore/pkg/domain"
)

func newToken(id string, ttl time.Duration, now time.Time) domain.SelectionToken {
	return domain.SelectionToken{
		ID:        id,
		Selection: domain.NewManual("a"),
		Basis:     domain.LiveBasis(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestCreateResolveRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Create(ctx, newToken("t1", time.Minute, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	token, err := store.Resolve(ctx, "t1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if token.ID != "t1" || token.Selection.Mode() != domain.ModeManual {
		t.Fatalf("resolved token = %+v", token)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	store := NewStore()
	var notFound domain.TokenNotFoundError
	if _, err := store.Resolve(context.Background(), "missing"); !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError, got %v", err)
	}
}

func TestResolveExpiredToken(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })

	if err := store.Create(ctx, newToken("t1", time.Minute, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

	var expired domain.TokenExpiredError
	if _, err := store.Resolve(ctx, "t1"); !errors.As(err, &expired) {
		t.Fatalf("expected TokenExpiredError, got %v", err)
	}
	// Expired tokens are dropped on observation; later resolves see not found.
	var notFound domain.TokenNotFoundError
	if _, err := store.Resolve(ctx, "t1"); !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError after expiry purge, got %v", err)
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.Create(ctx, newToken("t1", time.Minute, time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Invalidate(ctx, "t1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := store.Invalidate(ctx, "t1"); err != nil {
		t.Fatalf("second invalidate must be a no-op, got %v", err)
	}
	var notFound domain.TokenNotFoundError
	if _, err := store.Resolve(ctx, "t1"); !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })

	_ = store.Create(ctx, newToken("live", time.Hour, now))
	_ = store.Create(ctx, newToken("dead1", time.Minute, now))
	_ = store.Create(ctx, newToken("dead2", time.Minute, now))

	store.SetClock(func() time.Time { return now.Add(10 * time.Minute) })
	purged, err := store.PurgeExpired(ctx)
	if err != nil || purged != 2 {
		t.Fatalf("purged = %d err = %v", purged, err)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d", store.Len())
	}
}
