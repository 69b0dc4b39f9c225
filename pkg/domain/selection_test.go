package domain

import (
	"testing"
)

func TestManualToggleIdempotence(t *testing.T) {
	sel := NewSelection()
	if sel.Mode() != ModeManual {
		t.Fatalf("expected manual mode, got %s", sel.Mode())
	}
	once := sel.Toggle("a")
	if !once.IsSelected("a", nil) {
		t.Fatalf("expected a selected after toggle")
	}
	twice := once.Toggle("a")
	if twice.IsSelected("a", nil) {
		t.Fatalf("expected a deselected after second toggle")
	}
	if len(twice.ActiveIDs()) != 0 {
		t.Fatalf("expected empty active set, got %v", twice.ActiveIDs())
	}
}

func TestToggleDoesNotAliasPriorState(t *testing.T) {
	base := NewManual("a", "b")
	next := base.Toggle("c")
	if next.IsSelected("c", nil) != true {
		t.Fatalf("expected c in next")
	}
	if base.IsSelected("c", nil) {
		t.Fatalf("toggle mutated the prior state")
	}
}

func TestAllModeSelection(t *testing.T) {
	matches := func(id RecordID) bool { return id != "nomatch" }

	sel := SelectAllMatching(NewManual("x", "y"))
	if sel.Mode() != ModeAll {
		t.Fatalf("expected all mode")
	}
	if len(sel.ActiveIDs()) != 0 {
		t.Fatalf("mode switch leaked ids: %v", sel.ActiveIDs())
	}
	if !sel.IsSelected("x", matches) {
		t.Fatalf("expected matching record selected in all mode")
	}
	if sel.IsSelected("nomatch", matches) {
		t.Fatalf("non-matching record must not be selected")
	}

	excluded := sel.Toggle("x")
	if excluded.IsSelected("x", matches) {
		t.Fatalf("excluded record must not be selected")
	}
	restored := excluded.Toggle("x")
	if !restored.IsSelected("x", matches) {
		t.Fatalf("re-toggle must restore selection")
	}
}

func TestClearAllResetsToEmptyManual(t *testing.T) {
	sel := ClearAll(NewAll("a", "b"))
	if sel.Mode() != ModeManual {
		t.Fatalf("expected manual after clear")
	}
	if len(sel.ActiveIDs()) != 0 {
		t.Fatalf("clear leaked exclusions: %v", sel.ActiveIDs())
	}
}

func TestEstimatedCount(t *testing.T) {
	cases := []struct {
		name  string
		sel   Selection
		total int
		want  int
	}{
		{"manual ignores total", NewManual("a", "b", "c"), 100, 3},
		{"all subtracts exclusions", NewAll("a", "b"), 10, 8},
		{"all clamps at zero", NewAll("a", "b", "c"), 2, 0},
		{"empty all", All{}, 7, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sel.EstimatedCount(tc.total); got != tc.want {
				t.Fatalf("estimate = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSelectionEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Selection{
		NewManual(),
		NewManual("b", "a"),
		NewAll(),
		NewAll("z", "m"),
	}
	for _, sel := range cases {
		encoded, err := EncodeSelection(sel)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := DecodeSelection(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Mode() != sel.Mode() {
			t.Fatalf("mode mismatch: %s vs %s", decoded.Mode(), sel.Mode())
		}
		want := sel.ActiveIDs()
		got := decoded.ActiveIDs()
		if len(want) != len(got) {
			t.Fatalf("active ids mismatch: %v vs %v", got, want)
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("active ids mismatch: %v vs %v", got, want)
			}
		}
	}
}

func TestDecodeSelectionRejectsUnknownMode(t *testing.T) {
	if _, err := DecodeSelection([]byte(`{"mode":"partial"}`)); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if _, err := DecodeSelection([]byte(`not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEncodeSelectionDeterministic(t *testing.T) {
	a, err := EncodeSelection(NewManual("c", "a", "b"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := EncodeSelection(NewManual("b", "c", "a"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("equal states encoded differently: %s vs %s", a, b)
	}
}
