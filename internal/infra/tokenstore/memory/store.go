// Package memory implements an in-process token store for tests and
// single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"selectcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.TokenStore = (*Store)(nil)

// Store keeps tokens in a mutex-guarded map. Entries are only ever
// inserted and deleted; token contents are never mutated in place.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]domain.SelectionToken
	nowFn  func() time.Time
}

// NewStore constructs an empty in-memory token store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]domain.SelectionToken),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// Create persists the token under its ID.
func (s *Store) Create(_ context.Context, token domain.SelectionToken) error {
	s.mu.Lock()
	s.tokens[token.ID] = token
	s.mu.Unlock()
	return nil
}

// Resolve returns the token, distinguishing expired from unknown. Expired
// entries are removed on first observation.
func (s *Store) Resolve(_ context.Context, id string) (domain.SelectionToken, error) {
	s.mu.RLock()
	token, ok := s.tokens[id]
	now := s.nowFn()
	s.mu.RUnlock()
	if !ok {
		return domain.SelectionToken{}, domain.TokenNotFoundError{Token: id}
	}
	if token.Expired(now) {
		s.mu.Lock()
		delete(s.tokens, id)
		s.mu.Unlock()
		return domain.SelectionToken{}, domain.TokenExpiredError{Token: id, ExpiredAt: token.ExpiresAt}
	}
	return token, nil
}

// Invalidate removes the token; unknown IDs are a no-op.
func (s *Store) Invalidate(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
	return nil
}

// PurgeExpired sweeps every expired entry.
func (s *Store) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	removed := 0
	for id, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the live entry count, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
