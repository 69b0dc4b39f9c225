package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion identifies a pinned point-in-time view of the record
// store. Versions are store-scoped and monotonically increasing.
type SnapshotVersion uint64

// BasisKind discriminates live vs pinned resolution.
type BasisKind string

const (
	// BasisLive re-evaluates the filter against current data at resolve
	// time. Two resolutions of the same live token may differ; that is a
	// documented non-guarantee, not a bug.
	BasisLive BasisKind = "live"
	// BasisPinned fixes resolution to a snapshot version. Matching and
	// ordering follow the pin; records deleted from the live set after
	// the pin are still skipped during streaming, so attempted counts
	// reflect live state.
	BasisPinned BasisKind = "pinned"
)

// SnapshotBasis states which view of the data a token resolves against.
type SnapshotBasis struct {
	Kind    BasisKind       `json:"kind"`
	Version SnapshotVersion `json:"version,omitempty"`
}

// LiveBasis returns a live snapshot basis.
func LiveBasis() SnapshotBasis { return SnapshotBasis{Kind: BasisLive} }

// PinnedBasis returns a basis fixed to the given version.
func PinnedBasis(v SnapshotVersion) SnapshotBasis {
	return SnapshotBasis{Kind: BasisPinned, Version: v}
}

// SelectionToken binds an opaque identifier to an immutable (filter,
// selection, basis) tuple. Tokens are never updated in place; concurrent
// resolves are plain reads.
type SelectionToken struct {
	ID        string           `json:"id"`
	Filter    FilterDescriptor `json:"filter"`
	Selection Selection        `json:"-"`
	Basis     SnapshotBasis    `json:"basis"`
	SingleUse bool             `json:"single_use"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired reports whether the token's TTL has elapsed at the given time.
func (t SelectionToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// NewTokenID produces an unguessable token identifier from a
// cryptographically random source. Token IDs are capability handles;
// sequential or timestamp-derived IDs would be guessable.
func NewTokenID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// tokenEnvelope is the wire form of a SelectionToken; the selection rides
// along as its own envelope.
type tokenEnvelope struct {
	ID        string           `json:"id"`
	Filter    FilterDescriptor `json:"filter"`
	Selection json.RawMessage  `json:"selection"`
	Basis     SnapshotBasis    `json:"basis"`
	SingleUse bool             `json:"single_use"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// EncodeToken serializes a token for storage.
func EncodeToken(t SelectionToken) ([]byte, error) {
	sel, err := EncodeSelection(t.Selection)
	if err != nil {
		return nil, fmt.Errorf("encode token %s: %w", t.ID, err)
	}
	return json.Marshal(tokenEnvelope{
		ID:        t.ID,
		Filter:    t.Filter,
		Selection: sel,
		Basis:     t.Basis,
		SingleUse: t.SingleUse,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	})
}

// DecodeToken reverses EncodeToken.
func DecodeToken(data []byte) (SelectionToken, error) {
	var env tokenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return SelectionToken{}, fmt.Errorf("decode token: %w", err)
	}
	sel, err := DecodeSelection(env.Selection)
	if err != nil {
		return SelectionToken{}, err
	}
	return SelectionToken{
		ID:        env.ID,
		Filter:    env.Filter,
		Selection: sel,
		Basis:     env.Basis,
		SingleUse: env.SingleUse,
		CreatedAt: env.CreatedAt,
		ExpiresAt: env.ExpiresAt,
	}, nil
}
