package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Mode discriminates the two selection variants.
type Mode string

const (
	// ModeManual selects exactly the explicitly included records.
	ModeManual Mode = "manual"
	// ModeAll selects every record matching the filter except the
	// explicitly excluded ones.
	ModeAll Mode = "all"
)

// Selection is the sum type over the two selection variants. It is a value
// type: every mutation returns a new Selection and never aliases the
// receiver's sets, so states can be attached to immutable tokens safely.
//
// The manual/all split is deliberately modeled as two concrete variants
// rather than one struct carrying both sets; the inactive set cannot exist,
// let alone leak across a mode switch.
type Selection interface {
	// Mode reports which variant this is.
	Mode() Mode
	// Toggle flips membership of id in the variant's active set and
	// returns the resulting state. It is idempotent when applied twice.
	Toggle(id RecordID) Selection
	// IsSelected reports whether id is selected. matches tests id against
	// the active filter descriptor; it is only consulted in all mode,
	// where selection is relative to the filter rather than absolute.
	IsSelected(id RecordID, matches func(RecordID) bool) bool
	// EstimatedCount derives an advisory selected-record count from the
	// caller-supplied matching total. The total may be stale; the final
	// attempted count of a bulk execution is authoritative.
	EstimatedCount(matchingTotal int) int
	// ActiveIDs returns the variant's active set in sorted order.
	ActiveIDs() []RecordID

	sealed()
}

// NewSelection returns the initial state: manual mode, nothing selected.
func NewSelection() Selection { return Manual{} }

// SelectAllMatching transitions to all mode. Both sets reset; preserving
// either across the switch would silently change its meaning.
func SelectAllMatching(Selection) Selection { return All{} }

// ClearAll transitions back to an empty manual selection.
func ClearAll(Selection) Selection { return Manual{} }

// Manual is the include-list variant.
type Manual struct {
	included map[RecordID]struct{}
}

// NewManual builds a manual selection from explicit includes.
func NewManual(ids ...RecordID) Manual {
	m := Manual{}
	for _, id := range ids {
		m = m.Toggle(id).(Manual)
	}
	return m
}

// Mode returns ModeManual.
func (Manual) Mode() Mode { return ModeManual }

// Toggle flips membership of id in the include set.
func (m Manual) Toggle(id RecordID) Selection {
	next := cloneIDSet(m.included)
	if _, ok := next[id]; ok {
		delete(next, id)
	} else {
		next[id] = struct{}{}
	}
	return Manual{included: next}
}

// IsSelected reports include-set membership; the filter is irrelevant for
// explicit includes.
func (m Manual) IsSelected(id RecordID, _ func(RecordID) bool) bool {
	_, ok := m.included[id]
	return ok
}

// EstimatedCount is exact for manual selections.
func (m Manual) EstimatedCount(int) int { return len(m.included) }

// ActiveIDs returns the included IDs in sorted order.
func (m Manual) ActiveIDs() []RecordID { return sortedIDs(m.included) }

func (Manual) sealed() {}

// All is the everything-matching-minus-exclusions variant.
type All struct {
	excluded map[RecordID]struct{}
}

// NewAll builds an all-mode selection with the given exclusions.
func NewAll(excluded ...RecordID) All {
	a := All{}
	for _, id := range excluded {
		a = a.Toggle(id).(All)
	}
	return a
}

// Mode returns ModeAll.
func (All) Mode() Mode { return ModeAll }

// Toggle flips membership of id in the exclude set.
func (a All) Toggle(id RecordID) Selection {
	next := cloneIDSet(a.excluded)
	if _, ok := next[id]; ok {
		delete(next, id)
	} else {
		next[id] = struct{}{}
	}
	return All{excluded: next}
}

// IsSelected holds when id matches the filter and is not excluded.
func (a All) IsSelected(id RecordID, matches func(RecordID) bool) bool {
	if matches == nil || !matches(id) {
		return false
	}
	_, excluded := a.excluded[id]
	return !excluded
}

// EstimatedCount subtracts the exclusions from the supplied matching total,
// clamped at zero since the total may already be stale.
func (a All) EstimatedCount(matchingTotal int) int {
	n := matchingTotal - len(a.excluded)
	if n < 0 {
		return 0
	}
	return n
}

// ActiveIDs returns the excluded IDs in sorted order.
func (a All) ActiveIDs() []RecordID { return sortedIDs(a.excluded) }

// Excludes reports whether id is explicitly excluded.
func (a All) Excludes(id RecordID) bool {
	_, ok := a.excluded[id]
	return ok
}

func (All) sealed() {}

func cloneIDSet(in map[RecordID]struct{}) map[RecordID]struct{} {
	out := make(map[RecordID]struct{}, len(in)+1)
	for id := range in {
		out[id] = struct{}{}
	}
	return out
}

func sortedIDs(in map[RecordID]struct{}) []RecordID {
	out := make([]RecordID, 0, len(in))
	for id := range in {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// selectionEnvelope is the wire form of a Selection: the discriminant plus
// the active set only.
type selectionEnvelope struct {
	Mode Mode       `json:"mode"`
	IDs  []RecordID `json:"ids,omitempty"`
}

// EncodeSelection serializes a selection to its JSON envelope. IDs are
// emitted sorted so equal states encode identically.
func EncodeSelection(s Selection) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("selection is nil")
	}
	return json.Marshal(selectionEnvelope{Mode: s.Mode(), IDs: s.ActiveIDs()})
}

// DecodeSelection reverses EncodeSelection.
func DecodeSelection(data []byte) (Selection, error) {
	var env selectionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	switch env.Mode {
	case ModeManual:
		return NewManual(env.IDs...), nil
	case ModeAll:
		return NewAll(env.IDs...), nil
	default:
		return nil, fmt.Errorf("decode selection: unknown mode %q", env.Mode)
	}
}
