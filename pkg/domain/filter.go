package domain

import (
	"fmt"
	"strings"
	"time"
)

// Operator identifies a single comparison applied by a filter constraint.
type Operator string

// Supported constraint operators. Range operators apply to number and time
// fields; Contains applies to string fields; In applies to string and
// number fields.
const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Constraint is one (field, operator, value) predicate. For OpIn, Values
// carries the membership set and Value is ignored; for every other
// operator Value carries the single comparison operand.
type Constraint struct {
	Field  string   `json:"field"`
	Op     Operator `json:"op"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// FilterDescriptor is an immutable conjunctive predicate over record
// fields. Evaluating the same descriptor against the same snapshot always
// yields the same matching set; the descriptor itself performs no I/O.
type FilterDescriptor struct {
	Constraints []Constraint `json:"constraints"`
}

// InvalidFilterError reports a constraint that references an unknown field
// or pairs an operator with an incompatible field kind.
type InvalidFilterError struct {
	Field  string
	Op     Operator
	Reason string
}

func (e InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter constraint on %q (%s): %s", e.Field, e.Op, e.Reason)
}

// operatorKinds lists the field kinds each operator accepts.
var operatorKinds = map[Operator][]FieldKind{
	OpEq:       {FieldString, FieldNumber, FieldBool, FieldTime},
	OpNe:       {FieldString, FieldNumber, FieldBool, FieldTime},
	OpGt:       {FieldNumber, FieldTime},
	OpGte:      {FieldNumber, FieldTime},
	OpLt:       {FieldNumber, FieldTime},
	OpLte:      {FieldNumber, FieldTime},
	OpIn:       {FieldString, FieldNumber},
	OpContains: {FieldString},
}

// Validate checks every constraint against the schema. The first offending
// constraint is reported as an InvalidFilterError.
func (f FilterDescriptor) Validate(schema Schema) error {
	for _, c := range f.Constraints {
		kind, ok := schema[c.Field]
		if !ok {
			return InvalidFilterError{Field: c.Field, Op: c.Op, Reason: "unknown field"}
		}
		allowed, known := operatorKinds[c.Op]
		if !known {
			return InvalidFilterError{Field: c.Field, Op: c.Op, Reason: "unknown operator"}
		}
		supported := false
		for _, k := range allowed {
			if k == kind {
				supported = true
				break
			}
		}
		if !supported {
			return InvalidFilterError{Field: c.Field, Op: c.Op, Reason: fmt.Sprintf("operator not applicable to %s field", kind)}
		}
		if c.Op == OpIn && len(c.Values) == 0 {
			return InvalidFilterError{Field: c.Field, Op: c.Op, Reason: "in operator requires a value set"}
		}
	}
	return nil
}

// Matches evaluates the conjunction against a single record's fields.
// Callers are expected to have validated the descriptor first; constraints
// on absent fields never match.
func (f FilterDescriptor) Matches(fields map[string]any) bool {
	for _, c := range f.Constraints {
		value, ok := fields[c.Field]
		if !ok {
			return false
		}
		if !c.matches(value) {
			return false
		}
	}
	return true
}

func (c Constraint) matches(value any) bool {
	switch c.Op {
	case OpEq:
		return compareEqual(value, c.Value)
	case OpNe:
		return !compareEqual(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareOrder(value, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		for _, candidate := range c.Values {
			if compareEqual(value, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		haystack, hok := value.(string)
		needle, nok := c.Value.(string)
		return hok && nok && strings.Contains(haystack, needle)
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	if at, aok := asTime(a); aok {
		bt, bok := asTime(b)
		return bok && at.Equal(bt)
	}
	return a == b
}

// compareOrder returns -1/0/1 when both operands are orderable as numbers
// or times, and false otherwise.
func compareOrder(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	at, aok := asTime(a)
	bt, bok := asTime(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case at.Before(bt):
		return -1, true
	case at.After(bt):
		return 1, true
	default:
		return 0, true
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// Clone returns a deep copy so attached descriptors stay immutable even if
// the caller mutates its own slices afterwards.
func (f FilterDescriptor) Clone() FilterDescriptor {
	if len(f.Constraints) == 0 {
		return FilterDescriptor{}
	}
	cloned := make([]Constraint, len(f.Constraints))
	copy(cloned, f.Constraints)
	for i := range cloned {
		if len(cloned[i].Values) > 0 {
			cloned[i].Values = append([]any(nil), cloned[i].Values...)
		}
	}
	return FilterDescriptor{Constraints: cloned}
}
