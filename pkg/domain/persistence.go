package domain

import "context"

// TokenStore is the keyed store behind selection tokens. Tokens are
// immutable once created; implementations only ever insert and delete, so
// no locking beyond the backing store's per-key atomicity is required.
type TokenStore interface {
	// Create persists the token under its ID. Failures surface as
	// StoreUnavailableError.
	Create(ctx context.Context, token SelectionToken) error
	// Resolve returns the bound tuple, distinguishing TokenExpiredError
	// from TokenNotFoundError.
	Resolve(ctx context.Context, id string) (SelectionToken, error)
	// Invalidate removes the token early (e.g. single-use consumption).
	// Idempotent: unknown IDs are not an error.
	Invalidate(ctx context.Context, id string) error
	// PurgeExpired removes tokens past their TTL, returning the count
	// removed. Stores with native TTL support may make this a no-op.
	PurgeExpired(ctx context.Context) (int, error)
	// Close releases backing resources.
	Close() error
}

// RecordCursor is a pull-based batch iterator over matching record IDs.
// Batches arrive in the store's stable sort order. A cursor is not
// restartable; resolve again to re-stream.
type RecordCursor interface {
	// Next returns the next batch, or (nil, nil) once the stream is
	// exhausted. Mid-stream store failures surface as
	// ResolutionInterruptedError.
	Next(ctx context.Context) ([]RecordID, error)
	// Close releases the cursor. Safe to call more than once.
	Close() error
}

// RecordStore is the external record collection selections resolve
// against. Implementations must emit IDs in a stable sort order so that
// pagination and exclusion application agree across calls.
type RecordStore interface {
	// Schema describes the filterable fields.
	Schema() Schema
	// Evaluate streams IDs matching the filter under the given basis in
	// batches of at most batchSize.
	Evaluate(ctx context.Context, filter FilterDescriptor, basis SnapshotBasis, batchSize int) (RecordCursor, error)
	// Matches tests one ID against the filter under the basis. Used for
	// manual-mode validation, which never needs a full stream.
	Matches(ctx context.Context, filter FilterDescriptor, basis SnapshotBasis, id RecordID) (bool, error)
	// Count returns the matching total under the basis; feeds estimates.
	Count(ctx context.Context, filter FilterDescriptor, basis SnapshotBasis) (int, error)
	// Pin captures the current state as a reusable snapshot version.
	Pin(ctx context.Context) (SnapshotVersion, error)
}
