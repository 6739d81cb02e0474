package vm

import (
	"fmt"
	"math"
)

// Value represents a JavaScript value using NaN-boxing.
//
// All values are 64-bit words. Non-float values are encoded in the NaN space
// using the quiet NaN prefix and tag bits to distinguish types.
//
// Encoding scheme:
//   - Float: Native IEEE 754 double (if not a tagged NaN, it's a float)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Object: Quiet NaN + tagObject + 48-bit heap address
//   - Atom: Quiet NaN + tagAtom + interned string ID
//   - Symbol: Quiet NaN + tagSymbol + symbol ID
//   - Special: Quiet NaN + tagSpecial + special value ID
//
// Raw machine words written by the heap (sizes, free-list links, hidden
// class IDs) never carry the quiet NaN prefix, so they always decode as
// floats and are never mistaken for heap references.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for address/int/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000 // Heap object address
	tagInt     uint64 = 0x0002000000000000 // 48-bit signed integer
	tagSpecial uint64 = 0x0003000000000000 // undefined, null, booleans, hole, exception
	tagAtom    uint64 = 0x0004000000000000 // Interned string
	tagSymbol  uint64 = 0x0005000000000000 // Symbol

	intSignBit    uint64 = 0x0000800000000000
	intSignExtend uint64 = 0xFFFF000000000000
)

// Special value payloads
const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
	specialHole      uint64 = 4
	specialException uint64 = 5
)

// Pre-defined special values.
//
// Hole marks "not found here, try the next strategy" and empty element
// slots. Exception marks "a JS exception is pending on the VM".
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)
	Hole      Value = Value(nanBits | tagSpecial | specialHole)
	Exception Value = Value(nanBits | tagSpecial | specialException)
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat returns true if v represents a float64 value.
func (v Value) IsFloat() bool {
	bits := uint64(v)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}
	if bits&0x000FFFFFFFFFFFFF == 0 {
		// +Inf or -Inf
		return true
	}
	if (bits & nanBits) != nanBits {
		return true
	}
	return bits&tagMask == 0
}

func (v Value) hasTag(tag uint64) bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tag)
}

// IsSmallInt returns true if v represents a small integer.
func (v Value) IsSmallInt() bool { return v.hasTag(tagInt) }

// IsNumber returns true for floats and small integers.
func (v Value) IsNumber() bool { return v.IsSmallInt() || v.IsFloat() }

// IsHeapObject returns true if v refers to an object in the managed heap.
func (v Value) IsHeapObject() bool { return v.hasTag(tagObject) }

// IsAtom returns true if v is an interned string.
func (v Value) IsAtom() bool { return v.hasTag(tagAtom) }

// IsSymbol returns true if v is a symbol.
func (v Value) IsSymbol() bool { return v.hasTag(tagSymbol) }

// IsPropertyKey returns true if v can be used as a named property key.
func (v Value) IsPropertyKey() bool { return v.IsAtom() || v.IsSymbol() }

// IsSpecial returns true for undefined, null, booleans, hole and exception.
func (v Value) IsSpecial() bool { return v.hasTag(tagSpecial) }

func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }
func (v Value) IsHole() bool      { return v == Hole }
func (v Value) IsException() bool { return v == Exception }
func (v Value) IsBool() bool      { return v == True || v == False }

// IsUndefinedOrNull returns true for undefined and null.
func (v Value) IsUndefinedOrNull() bool { return v == Undefined || v == Null }

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// Float64 returns v as a float64. Small integers are widened.
func (v Value) Float64() float64 {
	if v.IsSmallInt() {
		return float64(v.SmallInt())
	}
	if !v.IsFloat() {
		panic("Value.Float64: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat64 creates a Value from a float64. Integral values in the small
// int range are canonicalized to SmallInt so that equal numbers compare equal.
func FromFloat64(f float64) Value {
	if i := int64(f); float64(i) == f && i <= MaxSmallInt && i >= MinSmallInt && !(f == 0 && math.Signbit(f)) {
		return FromSmallInt(i)
	}
	return Value(math.Float64bits(f))
}

// SmallInt returns v as an int64.
// Panics if v is not a small integer.
func (v Value) SmallInt() int64 {
	if !v.IsSmallInt() {
		panic("Value.SmallInt: not a small integer")
	}
	payload := uint64(v) & payloadMask
	if (payload & intSignBit) != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromSmallInt creates a Value from an int64.
// Panics if n is outside the SmallInt range.
func FromSmallInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromSmallInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// FromInt is shorthand for FromSmallInt(int64(n)).
func FromInt(n int) Value { return FromSmallInt(int64(n)) }

// FromBool converts a Go bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Heap references, atoms and symbols
// ---------------------------------------------------------------------------

// Address returns the heap address v refers to.
// Panics if v is not a heap object.
func (v Value) Address() Address {
	if !v.IsHeapObject() {
		panic("Value.Address: not a heap object")
	}
	return Address(uint64(v) & payloadMask)
}

// FromAddress creates a heap reference Value.
func FromAddress(addr Address) Value {
	return Value(nanBits | tagObject | (uint64(addr) & payloadMask))
}

// AtomID returns the interned string ID encoded in v.
func (v Value) AtomID() uint32 {
	if !v.IsAtom() {
		panic("Value.AtomID: not an atom")
	}
	return uint32(uint64(v) & payloadMask)
}

// FromAtomID creates an atom Value.
func FromAtomID(id uint32) Value {
	return Value(nanBits | tagAtom | uint64(id))
}

// SymbolID returns the symbol ID encoded in v.
func (v Value) SymbolID() uint32 {
	if !v.IsSymbol() {
		panic("Value.SymbolID: not a symbol")
	}
	return uint32(uint64(v) & payloadMask)
}

// FromSymbolID creates a symbol Value.
func FromSymbolID(id uint32) Value {
	return Value(nanBits | tagSymbol | uint64(id))
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// String returns a debug representation of v. It does not dereference heap
// objects.
func (v Value) String() string {
	switch {
	case v == Undefined:
		return "undefined"
	case v == Null:
		return "null"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v == Hole:
		return "<hole>"
	case v == Exception:
		return "<exception>"
	case v.IsSmallInt():
		return fmt.Sprintf("%d", v.SmallInt())
	case v.IsHeapObject():
		return fmt.Sprintf("<object %#x>", uint64(v.Address()))
	case v.IsAtom():
		return fmt.Sprintf("<atom %d>", v.AtomID())
	case v.IsSymbol():
		return fmt.Sprintf("<symbol %d>", v.SymbolID())
	default:
		return fmt.Sprintf("%g", math.Float64frombits(uint64(v)))
	}
}
