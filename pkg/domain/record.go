// Package domain defines the core value types of the selection resolution
// service: filter descriptors, selection states, selection tokens, bulk
// operation results, and the store interfaces they are persisted through.
package domain

import "time"

// RecordID identifies a single record in the backing record store.
type RecordID string

// FieldKind describes the value type a record field holds. Filter
// constraints are validated against the kind before evaluation.
type FieldKind string

// Supported field kinds for filter validation.
const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldTime   FieldKind = "time"
)

// Schema maps field names to their kinds for a record collection.
type Schema map[string]FieldKind

// Record is a store-agnostic view of a single record: an identifier, a
// flat field map, and a creation timestamp that anchors the stable sort
// order (created_at, id) used by resolution.
type Record struct {
	ID        RecordID       `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}
