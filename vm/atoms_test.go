package vm

import "testing"

func TestAtomInterning(t *testing.T) {
	tab := NewAtomTable()
	a := tab.Intern("length")
	if b := tab.Intern("length"); a != b {
		t.Errorf("Expected the same atom, got %s and %s", a, b)
	}
	if tab.Name(a) != "length" {
		t.Errorf("Expected name length, got %q", tab.Name(a))
	}
	if _, ok := tab.Lookup("missing"); ok {
		t.Error("Expected Lookup not to intern")
	}
	n := tab.Len()
	tab.Intern("other")
	if tab.Len() != n+1 {
		t.Errorf("Expected %d atoms, got %d", n+1, tab.Len())
	}
	if tab.KeyHash(a) != StringHash("length") {
		t.Error("Expected atom keys to hash by their string")
	}
}

func TestSymbolsAreDistinct(t *testing.T) {
	tab := NewAtomTable()
	s1 := tab.NewSymbol("tag")
	s2 := tab.NewSymbol("tag")
	if s1 == s2 {
		t.Error("Expected two symbols with one description to differ")
	}
	if tab.SymbolDescription(s2) != "tag" {
		t.Errorf("Expected description tag, got %q", tab.SymbolDescription(s2))
	}
	if tab.KeyHash(s1) == tab.KeyHash(s2) {
		t.Error("Expected symbols to hash by identity")
	}
}

func TestArrayIndexAtoms(t *testing.T) {
	tab := NewAtomTable()
	tests := []struct {
		name string
		idx  uint32
		ok   bool
	}{
		{"0", 0, true},
		{"17", 17, true},
		{"4294967294", 4294967294, true},
		{"4294967295", 0, false},
		{"017", 0, false},
		{"-1", 0, false},
		{"", 0, false},
		{"x1", 0, false},
	}
	for _, tt := range tests {
		idx, ok := tab.ArrayIndex(tab.Intern(tt.name))
		if ok != tt.ok || idx != tt.idx {
			t.Errorf("ArrayIndex(%q): expected (%d, %v), got (%d, %v)", tt.name, tt.idx, tt.ok, idx, ok)
		}
	}
	if _, ok := tab.ArrayIndex(FromInt(3)); ok {
		t.Error("Expected non-atoms to be rejected")
	}
}
