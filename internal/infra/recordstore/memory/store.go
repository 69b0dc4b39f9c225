// Package memory implements an in-memory record store with snapshot
// pinning. It backs tests and single-instance deployments; production
// collections live in an external store that satisfies the same
// interface.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"selectcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.RecordStore = (*Store)(nil)

// view is one immutable state of the collection: the record map plus the
// stable (created_at, id) iteration order.
type view struct {
	records map[domain.RecordID]domain.Record
	order   []domain.RecordID
}

// Store holds the live collection and any pinned snapshots.
type Store struct {
	mu        sync.RWMutex
	schema    domain.Schema
	live      view
	snapshots map[domain.SnapshotVersion]view
	nextPin   domain.SnapshotVersion
	nowFn     func() time.Time

	// readErr, when set, makes the next cursor pull fail. Test hook for
	// mid-stream interruption behavior.
	readErr error
}

// NewStore constructs an empty store over the given schema.
func NewStore(schema domain.Schema) *Store {
	return &Store{
		schema:    schema,
		live:      view{records: make(map[domain.RecordID]domain.Record)},
		snapshots: make(map[domain.SnapshotVersion]view),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for deterministic ordering in tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// SetReadError makes the next cursor pull fail with err. Test hook.
func (s *Store) SetReadError(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// Schema describes the filterable fields.
func (s *Store) Schema() domain.Schema { return s.schema }

// Put inserts or replaces a record, keeping the iteration order stable.
func (s *Store) Put(record domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.nowFn()
	}
	if _, exists := s.live.records[record.ID]; !exists {
		s.live.order = append(s.live.order, record.ID)
	}
	s.live.records[record.ID] = record
	s.reorderLocked()
}

// Delete removes a record from the live set. Pinned snapshots keep their
// own copies; resolution against a pin still skips deleted records.
func (s *Store) Delete(id domain.RecordID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live.records[id]; !ok {
		return false
	}
	delete(s.live.records, id)
	for i, candidate := range s.live.order {
		if candidate == id {
			s.live.order = append(s.live.order[:i], s.live.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the live record for id.
func (s *Store) Get(id domain.RecordID) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.live.records[id]
	return r, ok
}

// Len reports the live record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live.records)
}

func (s *Store) reorderLocked() {
	records := s.live.records
	sort.Slice(s.live.order, func(i, j int) bool {
		a, b := records[s.live.order[i]], records[s.live.order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Pin captures the current live state as a new snapshot version.
func (s *Store) Pin(_ context.Context) (domain.SnapshotVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPin++
	cloned := view{
		records: make(map[domain.RecordID]domain.Record, len(s.live.records)),
		order:   append([]domain.RecordID(nil), s.live.order...),
	}
	for id, r := range s.live.records {
		cloned.records[id] = r
	}
	s.snapshots[s.nextPin] = cloned
	return s.nextPin, nil
}

// DropSnapshot prunes a pinned version; later resolutions against it fail
// with SnapshotNotFoundError.
func (s *Store) DropSnapshot(v domain.SnapshotVersion) {
	s.mu.Lock()
	delete(s.snapshots, v)
	s.mu.Unlock()
}

func (s *Store) viewFor(basis domain.SnapshotBasis) (view, error) {
	switch basis.Kind {
	case domain.BasisLive, "":
		return s.live, nil
	case domain.BasisPinned:
		snap, ok := s.snapshots[basis.Version]
		if !ok {
			return view{}, domain.SnapshotNotFoundError{Version: basis.Version}
		}
		return snap, nil
	default:
		return view{}, domain.SnapshotUnsupportedError{Basis: basis.Kind}
	}
}

// Matches tests one ID against the filter under the basis. Under a pin the
// record must both match the pinned view and still exist live.
func (s *Store) Matches(_ context.Context, filter domain.FilterDescriptor, basis domain.SnapshotBasis, id domain.RecordID) (bool, error) {
	if err := filter.Validate(s.schema); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.viewFor(basis)
	if err != nil {
		return false, err
	}
	record, ok := v.records[id]
	if !ok {
		return false, nil
	}
	if basis.Kind == domain.BasisPinned {
		if _, live := s.live.records[id]; !live {
			return false, nil
		}
	}
	return filter.Matches(record.Fields), nil
}

// Count returns the number of matching records under the basis, applying
// the same liveness rule as Evaluate.
func (s *Store) Count(_ context.Context, filter domain.FilterDescriptor, basis domain.SnapshotBasis) (int, error) {
	if err := filter.Validate(s.schema); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.viewFor(basis)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range v.order {
		if basis.Kind == domain.BasisPinned {
			if _, live := s.live.records[id]; !live {
				continue
			}
		}
		if filter.Matches(v.records[id].Fields) {
			n++
		}
	}
	return n, nil
}

// Evaluate opens a batch cursor over matching IDs in (created_at, id)
// order. Pinned bases match and order against the pin but skip records
// deleted from the live set, so downstream attempted counts reflect live
// state.
func (s *Store) Evaluate(_ context.Context, filter domain.FilterDescriptor, basis domain.SnapshotBasis, batchSize int) (domain.RecordCursor, error) {
	if err := filter.Validate(s.schema); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	s.mu.RLock()
	_, err := s.viewFor(basis)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &cursor{store: s, filter: filter, basis: basis, batchSize: batchSize}, nil
}

// cursor walks the view's order lazily with keyset pagination: each pull
// resumes strictly after the last emitted (created_at, id) key rather than
// at a saved index. Under a live basis the order slice compacts when
// records are deleted between pulls (a delete bulk action does exactly
// that); an index-based resume would skip the shifted records.
type cursor struct {
	store     *Store
	filter    domain.FilterDescriptor
	basis     domain.SnapshotBasis
	batchSize int

	started bool
	lastAt  time.Time
	lastID  domain.RecordID
	closed  bool
}

func (c *cursor) Next(ctx context.Context) ([]domain.RecordID, error) {
	if c.closed {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	if err := c.store.readErr; err != nil {
		c.store.readErr = nil
		c.store.mu.Unlock()
		return nil, domain.ResolutionInterruptedError{Err: err}
	}
	c.store.mu.Unlock()

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	v, err := c.store.viewFor(c.basis)
	if err != nil {
		return nil, domain.ResolutionInterruptedError{Err: err}
	}
	var batch []domain.RecordID
	for _, id := range v.order {
		record := v.records[id]
		if c.started && !c.after(record) {
			continue
		}
		if c.basis.Kind == domain.BasisPinned {
			if _, live := c.store.live.records[id]; !live {
				continue
			}
		}
		if !c.filter.Matches(record.Fields) {
			continue
		}
		batch = append(batch, id)
		c.started = true
		c.lastAt = record.CreatedAt
		c.lastID = id
		if len(batch) == c.batchSize {
			break
		}
	}
	return batch, nil
}

// after reports whether record sorts strictly after the last emitted key.
func (c *cursor) after(record domain.Record) bool {
	if !record.CreatedAt.Equal(c.lastAt) {
		return record.CreatedAt.After(c.lastAt)
	}
	return record.ID > c.lastID
}

func (c *cursor) Close() error {
	c.closed = true
	return nil
}
