package vm

import (
	"math/bits"
	"sort"
)

// ---------------------------------------------------------------------------
// NameDictionary / NumberDictionary: open-addressed heap hash tables
// ---------------------------------------------------------------------------

// A dictionary is a tagged array:
//
//	[entry count][deleted count][next order][key value details]*capacity
//
// Capacity is a power of two. An empty key slot holds Hole and ends a probe;
// a deleted entry's key becomes Undefined, which a probe steps over. Name
// dictionaries key by atom or symbol, number dictionaries by small integer
// index. Details carry the property attributes, including the enumeration
// order.
const (
	dictEntryCountIndex   = 0
	dictDeletedCountIndex = 1
	dictNextOrderIndex    = 2
	dictHeaderSize        = 3
	dictEntrySize         = 3

	minDictionaryCapacity = 8
	maxDictionaryOrder    = 1<<attrOrderBits - 1
)

type dictEntry struct {
	index int
	key   Value
	value Value
	attr  PropertyAttributes
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// newDictionary allocates an empty dictionary of type t.
func (vm *VM) newDictionary(t JSType, capacity int) Value {
	capacity = max(nextPowerOfTwo(capacity), minDictionaryCapacity)
	hc := vm.nameDictionaryClass
	if t == TypeNumberDictionary {
		hc = vm.numberDictionaryClass
	}
	d := vm.newTaggedArrayOf(hc, dictHeaderSize+capacity*dictEntrySize, Hole, vm.heap.AllocateYoungOrHugeObject)
	if d.IsException() {
		return d
	}
	vm.TaggedArraySet(d, dictEntryCountIndex, FromInt(0))
	vm.TaggedArraySet(d, dictDeletedCountIndex, FromInt(0))
	vm.TaggedArraySet(d, dictNextOrderIndex, FromInt(0))
	return d
}

func (vm *VM) dictHeader(d Value, i int) int {
	return int(vm.TaggedArrayGet(d, i).SmallInt())
}

func (vm *VM) setDictHeader(d Value, i, n int) {
	vm.TaggedArraySet(d, i, FromInt(n))
}

func (vm *VM) dictCapacity(d Value) int {
	return (vm.TaggedArrayLength(d) - dictHeaderSize) / dictEntrySize
}

// DictionaryEntryCount returns the number of live entries of d.
func (vm *VM) DictionaryEntryCount(d Value) int {
	return vm.dictHeader(d, dictEntryCountIndex)
}

func dictKeyIndex(entry int) int { return dictHeaderSize + entry*dictEntrySize }

func (vm *VM) dictKey(d Value, entry int) Value {
	return vm.TaggedArrayGet(d, dictKeyIndex(entry))
}

func (vm *VM) dictValue(d Value, entry int) Value {
	return vm.TaggedArrayGet(d, dictKeyIndex(entry)+1)
}

func (vm *VM) dictAttr(d Value, entry int) PropertyAttributes {
	return AttributesFromValue(vm.TaggedArrayGet(d, dictKeyIndex(entry)+2))
}

func (vm *VM) setDictValue(d Value, entry int, v Value) {
	vm.TaggedArraySet(d, dictKeyIndex(entry)+1, v)
}

func (vm *VM) setDictAttr(d Value, entry int, attr PropertyAttributes) {
	vm.TaggedArraySet(d, dictKeyIndex(entry)+2, attr.Value())
}

// FindEntryFromNameDictionary returns the entry holding key, or -1.
func (vm *VM) FindEntryFromNameDictionary(d, key Value) int {
	return vm.findDictEntry(d, key)
}

// findDictEntry probes from the key's hash with a growing step until it
// meets key or an empty slot.
func (vm *VM) findDictEntry(d, key Value) int {
	capacity := vm.dictCapacity(d)
	mask := capacity - 1
	entry := int(vm.atoms.KeyHash(key)) & mask
	for count := 1; count <= capacity; count++ {
		k := vm.dictKey(d, entry)
		if k == Hole {
			return -1
		}
		if k == key {
			return entry
		}
		entry = (entry + count) & mask
	}
	return -1
}

// findInsertionEntry returns the first empty or deleted slot on key's probe
// sequence. The table must have room.
func (vm *VM) findInsertionEntry(d, key Value) int {
	capacity := vm.dictCapacity(d)
	mask := capacity - 1
	entry := int(vm.atoms.KeyHash(key)) & mask
	for count := 1; ; count++ {
		if k := vm.dictKey(d, entry); k == Hole || k == Undefined {
			return entry
		}
		entry = (entry + count) & mask
	}
}

// dictPut stores key -> value with attr, updating an existing entry in
// place. It returns the dictionary, which is a new one if the table had to
// grow, or Exception.
func (vm *VM) dictPut(d, key, value Value, attr PropertyAttributes) Value {
	if entry := vm.findDictEntry(d, key); entry >= 0 {
		vm.setDictValue(d, entry, value)
		vm.setDictAttr(d, entry, attr.SetDictionaryOrder(vm.dictAttr(d, entry).DictionaryOrder()))
		return d
	}
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hValue := vm.NewHandle(value)
	d = vm.ensureDictCapacity(d, 1)
	if d.IsException() {
		return d
	}
	vm.dictInsert(d, key, hValue.Get(), attr)
	return d
}

// dictInsert adds a new entry. The key must be absent and the table must
// have room.
func (vm *VM) dictInsert(d, key, value Value, attr PropertyAttributes) int {
	entry := vm.findInsertionEntry(d, key)
	if vm.dictKey(d, entry) == Undefined {
		vm.setDictHeader(d, dictDeletedCountIndex, vm.dictHeader(d, dictDeletedCountIndex)-1)
	}
	order := vm.dictHeader(d, dictNextOrderIndex)
	i := dictKeyIndex(entry)
	vm.TaggedArraySet(d, i, key)
	vm.TaggedArraySet(d, i+1, value)
	vm.TaggedArraySet(d, i+2, attr.SetDictionaryOrder(order).Value())
	vm.setDictHeader(d, dictNextOrderIndex, order+1)
	vm.setDictHeader(d, dictEntryCountIndex, vm.dictHeader(d, dictEntryCountIndex)+1)
	return entry
}

// dictRemove deletes an entry, leaving a tombstone.
func (vm *VM) dictRemove(d Value, entry int) {
	i := dictKeyIndex(entry)
	vm.TaggedArraySet(d, i, Undefined)
	vm.TaggedArraySet(d, i+1, Hole)
	vm.TaggedArraySet(d, i+2, Hole)
	vm.setDictHeader(d, dictEntryCountIndex, vm.dictHeader(d, dictEntryCountIndex)-1)
	vm.setDictHeader(d, dictDeletedCountIndex, vm.dictHeader(d, dictDeletedCountIndex)+1)
}

// ensureDictCapacity makes room for extra insertions, rehashing into a new
// table once live and deleted entries would pass three quarters of the
// capacity or the enumeration order would overflow.
func (vm *VM) ensureDictCapacity(d Value, extra int) Value {
	capacity := vm.dictCapacity(d)
	n := vm.dictHeader(d, dictEntryCountIndex)
	deleted := vm.dictHeader(d, dictDeletedCountIndex)
	order := vm.dictHeader(d, dictNextOrderIndex)
	if (n+deleted+extra)*4 <= capacity*3 && order+extra <= maxDictionaryOrder {
		return d
	}
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hOld := vm.NewHandle(d)
	nd := vm.newDictionary(vm.classOf(d).objType, (n+extra)*2)
	if nd.IsException() {
		return nd
	}
	for _, e := range vm.dictEntries(hOld.Get()) {
		vm.dictInsert(nd, e.key, e.value, e.attr)
	}
	return nd
}

// dictEntries returns the live entries of d in enumeration order.
func (vm *VM) dictEntries(d Value) []dictEntry {
	capacity := vm.dictCapacity(d)
	entries := make([]dictEntry, 0, vm.dictHeader(d, dictEntryCountIndex))
	for i := 0; i < capacity; i++ {
		k := vm.dictKey(d, i)
		if k == Hole || k == Undefined {
			continue
		}
		entries = append(entries, dictEntry{index: i, key: k, value: vm.dictValue(d, i), attr: vm.dictAttr(d, i)})
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].attr.DictionaryOrder() < entries[b].attr.DictionaryOrder()
	})
	return entries
}
