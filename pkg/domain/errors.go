package domain

import (
	"fmt"
	"time"
)

// TokenNotFoundError is returned when a token was never issued or has
// already been removed. UIs should treat it as a programming or bookmarking
// error, not a retry prompt.
type TokenNotFoundError struct {
	Token string
}

func (e TokenNotFoundError) Error() string {
	return fmt.Sprintf("selection token %s not found", e.Token)
}

// TokenExpiredError is returned for a known token past its TTL. It is kept
// distinct from TokenNotFoundError so callers can say "selection expired,
// please reselect".
type TokenExpiredError struct {
	Token     string
	ExpiredAt time.Time
}

func (e TokenExpiredError) Error() string {
	return fmt.Sprintf("selection token %s expired at %s", e.Token, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// StoreUnavailableError wraps a transient backing-store failure. Callers
// may retry with backoff.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("token store unavailable during %s: %v", e.Op, e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }

// ResolutionInterruptedError reports a mid-stream failure of the record
// source. Records already emitted before the interruption are final;
// executors must not silently restart the whole operation.
type ResolutionInterruptedError struct {
	Emitted int
	Err     error
}

func (e ResolutionInterruptedError) Error() string {
	return fmt.Sprintf("resolution interrupted after %d records: %v", e.Emitted, e.Err)
}

func (e ResolutionInterruptedError) Unwrap() error { return e.Err }

// ActionError classifies a per-record failure of a caller-supplied bulk
// action. Kind becomes the failure kind on the result's item list; actions
// returning plain errors are classified as "error".
type ActionError struct {
	Kind string
	Err  error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("action failed (%s): %v", e.Kind, e.Err)
}

func (e ActionError) Unwrap() error { return e.Err }

// SnapshotUnsupportedError is returned by record stores that cannot serve
// the requested snapshot basis.
type SnapshotUnsupportedError struct {
	Basis BasisKind
}

func (e SnapshotUnsupportedError) Error() string {
	return fmt.Sprintf("record store does not support %s snapshot basis", e.Basis)
}

// SnapshotNotFoundError is returned when a pinned version is unknown,
// typically because it was pruned.
type SnapshotNotFoundError struct {
	Version SnapshotVersion
}

func (e SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot version %d not found", e.Version)
}
