package vm

import "fmt"

// ---------------------------------------------------------------------------
// Object factory
// ---------------------------------------------------------------------------

// In-object property budgets of the built-in JS classes. Plain objects use
// ObjectOptions.InlineProperties. The array budget includes the length
// accessor slot.
const (
	functionInlineProperties = 4
	arrayInlineProperties    = 3
	errorInlineProperties    = 4
)

// allocFunc is one of the heap's allocation entry points.
type allocFunc func(size int) Address

// classOf returns the hidden class of the heap object v.
func (vm *VM) classOf(v Value) *HiddenClass {
	addr := v.Address()
	id := classIDOf(vm.heap.ReadWord(addr, headerOffset))
	hc := vm.classes.Get(id)
	if hc == nil {
		vm.heap.Fatal(fmt.Errorf("%w: object %#x has unknown class %d", ErrCorruptedHeap, uint64(addr), id))
	}
	return hc
}

// ClassOf returns the hidden class of v, or nil if v is not a heap object.
func (vm *VM) ClassOf(v Value) *HiddenClass {
	if !v.IsHeapObject() {
		return nil
	}
	return vm.classOf(v)
}

// setHClass points obj at hc. The class is stamped with the current epoch
// so a marking cycle that already scanned obj keeps it.
func (vm *VM) setHClass(obj Value, hc *HiddenClass) {
	vm.heap.WriteWord(obj.Address(), headerOffset, uint64(hc.id))
	hc.markEpoch.Store(vm.heap.Epoch())
}

// pinClass keeps hc registered through a collection triggered by the next
// allocation, before any object refers to it.
func (vm *VM) pinClass(hc *HiddenClass) {
	hc.markEpoch.Store(vm.heap.Epoch() + 1)
}

func (vm *VM) initHeader(addr Address, hc *HiddenClass) {
	vm.heap.WriteWord(addr, headerOffset, uint64(hc.id))
	hc.markEpoch.Store(vm.heap.Epoch())
}

// ---------------------------------------------------------------------------
// Tagged arrays
// ---------------------------------------------------------------------------

// newTaggedArrayOf allocates a tagged array of class hc with n slots set to
// fill. fill must not be a heap object.
func (vm *VM) newTaggedArrayOf(hc *HiddenClass, n int, fill Value, alloc allocFunc) Value {
	addr := alloc((taggedArrayHeader + n) * WordSize)
	if addr == 0 {
		return Exception
	}
	r := vm.heap.regionOf(addr)
	vm.initHeader(addr, hc)
	r.Store(addr+arrayLengthWord, uint64(n))
	for i := 0; i < n; i++ {
		r.Store(addr+arrayDataOffset+Address(i*WordSize), uint64(fill))
	}
	return FromAddress(addr)
}

func (vm *VM) newTaggedArray(n int, alloc allocFunc) Value {
	return vm.newTaggedArrayOf(vm.taggedArrayClass, n, Undefined, alloc)
}

// NewTaggedArray allocates a young tagged array of n undefined slots.
func (vm *VM) NewTaggedArray(n int) Value {
	return vm.newTaggedArray(n, vm.heap.AllocateYoungOrHugeObject)
}

// NewOldTaggedArray allocates a tagged array directly in the old space.
func (vm *VM) NewOldTaggedArray(n int) Value {
	return vm.newTaggedArray(n, vm.heap.AllocateOldOrHugeObject)
}

// TaggedArrayLength returns the slot count of a tagged array or dictionary.
func (vm *VM) TaggedArrayLength(arr Value) int {
	return int(vm.heap.ReadWord(arr.Address(), arrayLengthWord))
}

func taggedArraySlot(i int) Address {
	return arrayDataOffset + Address(i*WordSize)
}

// TaggedArrayGet returns slot i of arr.
func (vm *VM) TaggedArrayGet(arr Value, i int) Value {
	return vm.heap.ReadValue(arr.Address(), taggedArraySlot(i))
}

// TaggedArraySet stores v into slot i of arr.
func (vm *VM) TaggedArraySet(arr Value, i int, v Value) {
	vm.heap.SetValueWithBarrier(arr.Address(), taggedArraySlot(i), v)
}

// copyTaggedArray returns a young copy of src resized to n slots, padding
// with fill.
func (vm *VM) copyTaggedArray(src Value, n int, fill Value) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hSrc := vm.NewHandle(src)
	dst := vm.newTaggedArrayOf(vm.classOf(src), n, fill, vm.heap.AllocateYoungOrHugeObject)
	if dst.IsException() {
		return dst
	}
	src = hSrc.Get()
	m := min(n, vm.TaggedArrayLength(src))
	for i := 0; i < m; i++ {
		vm.TaggedArraySet(dst, i, vm.TaggedArrayGet(src, i))
	}
	return dst
}

// ---------------------------------------------------------------------------
// JS objects
// ---------------------------------------------------------------------------

// newJSObject allocates an object of class hc with empty properties and
// elements and undefined in every other slot.
func (vm *VM) newJSObject(hc *HiddenClass) Value {
	vm.pinClass(hc)
	addr := vm.heap.AllocateYoungOrHugeObject(hc.objectSize)
	if addr == 0 {
		return Exception
	}
	r := vm.heap.regionOf(addr)
	vm.initHeader(addr, hc)
	empty := vm.emptyArray
	r.Store(addr+propertiesOffset, uint64(empty))
	r.Store(addr+elementsOffset, uint64(empty))
	for off := Address(jsObjectHeaderWords * WordSize); off < Address(hc.objectSize); off += WordSize {
		r.Store(addr+off, uint64(Undefined))
	}
	return FromAddress(addr)
}

// NewObject creates an empty plain object inheriting from Object.prototype.
func (vm *VM) NewObject() Value {
	return vm.newJSObject(vm.objectClass)
}

// NewObjectWithClass creates an object of a class obtained earlier, for
// example from a transition.
func (vm *VM) NewObjectWithClass(hc *HiddenClass) Value {
	return vm.newJSObject(hc)
}

// NewObjectWithProto creates an empty plain object whose prototype is
// proto, an object or null.
func (vm *VM) NewObjectWithProto(proto Value) Value {
	if proto == vm.objectPrototype {
		return vm.NewObject()
	}
	if proto.IsHeapObject() {
		vm.OptimizeAsPrototype(proto)
	}
	return vm.newJSObject(vm.TransitionProto(vm.objectClass, proto))
}

func (vm *VM) getProperties(obj Value) Value {
	return vm.heap.ReadValue(obj.Address(), propertiesOffset)
}

func (vm *VM) setProperties(obj, props Value) {
	vm.heap.SetValueWithBarrier(obj.Address(), propertiesOffset, props)
}

func (vm *VM) getElements(obj Value) Value {
	return vm.heap.ReadValue(obj.Address(), elementsOffset)
}

func (vm *VM) setElements(obj, elements Value) {
	vm.heap.SetValueWithBarrier(obj.Address(), elementsOffset, elements)
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// NewArray creates a JS array of the given length with no elements.
func (vm *VM) NewArray(length uint32) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	arr := vm.newJSObject(vm.arrayClass)
	if arr.IsException() {
		return arr
	}
	hArr := vm.NewHandle(arr)
	vm.heap.SetValueWithBarrier(arr.Address(), vm.arrayClass.inlineSlotOffset(0), vm.arrayLengthAccessor)
	vm.setArrayLength(arr, length)
	if length > 0 && !vm.ShouldTransToDict(0, length-1) {
		elements := vm.newTaggedArrayOf(vm.taggedArrayClass, int(length), Hole, vm.heap.AllocateYoungOrHugeObject)
		if elements.IsException() {
			return elements
		}
		vm.setElements(hArr.Get(), elements)
	}
	return hArr.Get()
}

// NewArrayFrom creates a JS array holding values.
func (vm *VM) NewArrayFrom(values ...Value) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	handles := make([]Handle, len(values))
	for i, v := range values {
		handles[i] = vm.NewHandle(v)
	}
	arr := vm.NewArray(uint32(len(values)))
	if arr.IsException() {
		return arr
	}
	elements := vm.getElements(arr)
	for i, h := range handles {
		vm.TaggedArraySet(elements, i, h.Get())
	}
	return arr
}

// ArrayLength returns the length of a JS array.
func (vm *VM) ArrayLength(arr Value) uint32 {
	return uint32(vm.heap.ReadValue(arr.Address(), arrayLengthOffset).SmallInt())
}

func (vm *VM) setArrayLength(arr Value, n uint32) {
	vm.heap.WriteWord(arr.Address(), arrayLengthOffset, uint64(FromSmallInt(int64(n))))
}

// ---------------------------------------------------------------------------
// Functions, boxes and accessors
// ---------------------------------------------------------------------------

// NewFunction creates a callable object backed by a Go function.
func (vm *VM) NewFunction(name string, fn NativeFunc) Value {
	id := vm.RegisterNative(name, fn)
	scope := vm.OpenHandleScope()
	defer scope.Close()
	f := vm.newJSObject(vm.functionClass)
	if f.IsException() {
		return f
	}
	vm.heap.WriteWord(f.Address(), functionNativeOffset, uint64(FromSmallInt(int64(id))))
	hF := vm.NewHandle(f)
	attr := NewAttributes(false, false, true)
	if vm.DefineOwnProperty(f, vm.keys.name, vm.atoms.Intern(name), attr).IsException() {
		return Exception
	}
	return hF.Get()
}

func (vm *VM) allocateFixed(hc *HiddenClass, size int) Address {
	addr := vm.heap.AllocateYoungOrHugeObject(size)
	if addr != 0 {
		vm.initHeader(addr, hc)
	}
	return addr
}

// NewPropertyBox creates a global variable cell holding v.
func (vm *VM) NewPropertyBox(v Value) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hV := vm.NewHandle(v)
	addr := vm.allocateFixed(vm.propertyBoxClass, propertyBoxSize)
	if addr == 0 {
		return Exception
	}
	vm.heap.SetValueWithBarrier(addr, boxValueOffset, hV.Get())
	return FromAddress(addr)
}

// BoxValue returns the value held by a property box. Hole marks a deleted
// global.
func (vm *VM) BoxValue(box Value) Value {
	return vm.heap.ReadValue(box.Address(), boxValueOffset)
}

func (vm *VM) setBoxValue(box, v Value) {
	vm.heap.SetValueWithBarrier(box.Address(), boxValueOffset, v)
}

// NewAccessorData creates a getter/setter pair. Either may be undefined.
func (vm *VM) NewAccessorData(getter, setter Value) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hGet, hSet := vm.NewHandle(getter), vm.NewHandle(setter)
	addr := vm.allocateFixed(vm.accessorDataClass, accessorDataSize)
	if addr == 0 {
		return Exception
	}
	vm.heap.SetValueWithBarrier(addr, accessorGetter, hGet.Get())
	vm.heap.SetValueWithBarrier(addr, accessorSetter, hSet.Get())
	return FromAddress(addr)
}

// newInternalAccessor creates an accessor implemented by two natives. It
// holds no heap references.
func (vm *VM) newInternalAccessor(getter, setter int) Value {
	addr := vm.heap.AllocateNonMovableOrHugeObject(internalAccessorSize)
	if addr == 0 {
		return Exception
	}
	vm.initHeader(addr, vm.internalAccessorClass)
	vm.heap.WriteWord(addr, accessorGetter, uint64(FromSmallInt(int64(getter))))
	vm.heap.WriteWord(addr, accessorSetter, uint64(FromSmallInt(int64(setter))))
	return FromAddress(addr)
}
