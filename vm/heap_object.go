package vm

import "fmt"

// JSType is the kind of a heap object, recorded in its hidden class.
type JSType uint8

const (
	TypeInvalid JSType = iota
	TypeFreeObject
	TypeTaggedArray
	TypeNameDictionary
	TypeNumberDictionary
	TypeMachineCode
	TypePropertyBox
	TypeAccessorData
	TypeInternalAccessor

	// Everything from here on is a JS object with the common
	// [header][properties][elements] prefix.
	TypeObject
	TypeArray
	TypeFunction
	TypeError
	TypeGlobalObject
	TypeSpecialContainer
)

var jsTypeNames = [...]string{
	TypeInvalid:          "invalid",
	TypeFreeObject:       "free-object",
	TypeTaggedArray:      "tagged-array",
	TypeNameDictionary:   "name-dictionary",
	TypeNumberDictionary: "number-dictionary",
	TypeMachineCode:      "machine-code",
	TypePropertyBox:      "property-box",
	TypeAccessorData:     "accessor-data",
	TypeInternalAccessor: "internal-accessor",
	TypeObject:           "object",
	TypeArray:            "array",
	TypeFunction:         "function",
	TypeError:            "error",
	TypeGlobalObject:     "global-object",
	TypeSpecialContainer: "special-container",
}

func (t JSType) String() string {
	if int(t) < len(jsTypeNames) {
		return jsTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// IsJSObject reports whether objects of this type carry properties.
func (t JSType) IsJSObject() bool { return t >= TypeObject }

// IsTaggedArray reports whether the type uses the [header][length][values]
// layout.
func (t JSType) IsTaggedArray() bool {
	return t == TypeTaggedArray || t == TypeNameDictionary || t == TypeNumberDictionary
}

// Reserved hidden class IDs. Free objects have fixed classes so the sweeper
// and heap walkers can recognize them without the class table.
const (
	invalidClassID        uint32 = 0
	freeObjectNoneFieldID uint32 = 1 // 8 bytes, header only
	freeObjectOneFieldID  uint32 = 2 // 16 bytes, header + size
	freeObjectTwoFieldID  uint32 = 3 // >= 24 bytes, header + size + next
	firstDynamicClassID   uint32 = 4
)

// forwardBit marks a header word that holds a forwarding address instead of
// a class ID. The result never carries the quiet NaN prefix.
const forwardBit uint64 = 1 << 63

// Word offsets shared by all JS objects.
const (
	headerOffset     = 0
	propertiesOffset = 1 * WordSize
	elementsOffset   = 2 * WordSize

	// jsObjectHeaderWords is the word count of the common prefix.
	jsObjectHeaderWords = 3

	// The type-specific word following the common prefix.
	arrayLengthOffset    = 3 * WordSize
	functionNativeOffset = 3 * WordSize
	errorKindOffset      = 3 * WordSize
	containerCountOffset = 3 * WordSize
)

// Tagged array layout.
const (
	arrayLengthWord   = 1 * WordSize
	arrayDataOffset   = 2 * WordSize
	taggedArrayHeader = 2
)

// Machine code layout: [header][byte length][stub id][payload...].
const (
	codeByteLengthOffset = 1 * WordSize
	codeStubIDOffset     = 2 * WordSize
	codePayloadOffset    = 3 * WordSize
)

// Property box and accessor layouts.
const (
	boxValueOffset       = 1 * WordSize
	accessorGetter       = 1 * WordSize
	accessorSetter       = 2 * WordSize
	propertyBoxSize      = 2 * WordSize
	accessorDataSize     = 3 * WordSize
	internalAccessorSize = 3 * WordSize
)

// Free object layout.
const (
	freeSizeOffset   = 1 * WordSize
	freeNextOffset   = 2 * WordSize
	minFreeListSize  = 3 * WordSize
	freeOneFieldSize = 2 * WordSize
)

func isForwarded(header uint64) bool { return header&forwardBit != 0 }

func forwardingAddress(header uint64) Address { return Address(header &^ forwardBit) }

func classIDOf(header uint64) uint32 { return uint32(header) }

func isFreeObjectID(id uint32) bool {
	return id == freeObjectNoneFieldID || id == freeObjectOneFieldID || id == freeObjectTwoFieldID
}

// writeFreeObject formats [addr, addr+size) as a free object. Ranges of at
// least minFreeListSize carry a next link.
func writeFreeObject(r *Region, addr Address, size int, next Address) {
	switch {
	case size == WordSize:
		r.Store(addr, uint64(freeObjectNoneFieldID))
	case size == freeOneFieldSize:
		r.Store(addr, uint64(freeObjectOneFieldID))
		r.Store(addr+freeSizeOffset, uint64(size))
	default:
		r.Store(addr, uint64(freeObjectTwoFieldID))
		r.Store(addr+freeSizeOffset, uint64(size))
		r.Store(addr+freeNextOffset, uint64(next))
	}
}

// fillFreeRange covers [start, end) with free objects without linking them
// into any list.
func fillFreeRange(r *Region, start, end Address) {
	if end > start {
		writeFreeObject(r, start, int(end-start), 0)
	}
}

func freeObjectSize(r *Region, addr Address, id uint32) int {
	if id == freeObjectNoneFieldID {
		return WordSize
	}
	return int(r.Load(addr + freeSizeOffset))
}

func freeObjectNext(r *Region, addr Address) Address {
	return Address(r.Load(addr + freeNextOffset))
}

func setFreeObjectNext(r *Region, addr, next Address) {
	r.Store(addr+freeNextOffset, uint64(next))
}
