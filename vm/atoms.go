package vm

import (
	"strconv"
	"sync"
)

// ---------------------------------------------------------------------------
// AtomTable: interned property keys
// ---------------------------------------------------------------------------

// AtomTable interns strings used as property keys and owns symbol identities.
// Atoms and symbols live outside the managed heap, so keys never move and
// their hashes are stable for the lifetime of the VM.
type AtomTable struct {
	mu      sync.RWMutex
	byName  map[string]uint32
	names   []string
	hashes  []uint32
	symbols []symbolEntry
}

type symbolEntry struct {
	description string
	hash        uint32
}

// NewAtomTable creates an empty atom table. Atom 0 is the empty string.
func NewAtomTable() *AtomTable {
	t := &AtomTable{byName: make(map[string]uint32)}
	t.Intern("")
	return t
}

// Intern returns the atom for s, creating it if needed.
func (t *AtomTable) Intern(s string) Value {
	t.mu.RLock()
	id, ok := t.byName[s]
	t.mu.RUnlock()
	if ok {
		return FromAtomID(id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byName[s]; ok {
		return FromAtomID(id)
	}
	id = uint32(len(t.names))
	t.names = append(t.names, s)
	t.hashes = append(t.hashes, StringHash(s))
	t.byName[s] = id
	return FromAtomID(id)
}

// Lookup returns the atom for s without creating one.
func (t *AtomTable) Lookup(s string) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[s]
	if !ok {
		return Undefined, false
	}
	return FromAtomID(id), true
}

// Name returns the string an atom was interned from.
func (t *AtomTable) Name(atom Value) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.names[atom.AtomID()]
}

// Len returns the number of interned atoms.
func (t *AtomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// NewSymbol creates a fresh symbol with the given description.
func (t *AtomTable) NewSymbol(description string) Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uint32(len(t.symbols))
	// Symbols hash by identity; mix the id so neighbours spread out.
	h := id*0x9E3779B1 ^ 0x5bd1e995
	t.symbols = append(t.symbols, symbolEntry{description: description, hash: h})
	return FromSymbolID(id)
}

// SymbolDescription returns the description a symbol was created with.
func (t *AtomTable) SymbolDescription(sym Value) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.symbols[sym.SymbolID()].description
}

// KeyHash returns the hash of a property key: the string hash code for atoms
// and the identity hash for symbols.
func (t *AtomTable) KeyHash(key Value) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch {
	case key.IsAtom():
		return t.hashes[key.AtomID()]
	case key.IsSymbol():
		return t.symbols[key.SymbolID()].hash
	case key.IsSmallInt():
		return IntegerHash(key.SmallInt())
	default:
		return uint32(uint64(key)) ^ uint32(uint64(key)>>32)
	}
}

// ArrayIndex reports whether an atom spells a canonical array index
// ("0", "17", but not "017" or "-1").
func (t *AtomTable) ArrayIndex(key Value) (uint32, bool) {
	if !key.IsAtom() {
		return 0, false
	}
	s := t.Name(key)
	if s == "" || len(s) > 10 || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0xFFFFFFFF {
		return 0, false
	}
	return uint32(n), true
}

// StringHash is the string hash code used for atom keys (h = 31*h + c).
func StringHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// IntegerHash spreads an integer key for number dictionaries.
func IntegerHash(n int64) uint32 {
	x := uint64(n)
	x = (x ^ (x >> 33)) * 0xff51afd7ed558ccd
	x ^= x >> 33
	return uint32(x)
}
