package vm

import "math"

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// NativeFunc implements a callable object in Go. It returns Exception after
// throwing.
type NativeFunc func(vm *VM, this Value, args []Value) Value

type nativeEntry struct {
	name string
	fn   NativeFunc
}

// IDs of the natives registered during bootstrap, in registration order.
const (
	nativeArrayLengthGetter = iota
	nativeArrayLengthSetter
)

func (vm *VM) registerBuiltinNatives() {
	vm.RegisterNative("get length", arrayLengthGetter)
	vm.RegisterNative("set length", arrayLengthSetter)
}

// RegisterNative adds fn to the native table and returns its ID.
func (vm *VM) RegisterNative(name string, fn NativeFunc) int {
	vm.natives = append(vm.natives, nativeEntry{name: name, fn: fn})
	return len(vm.natives) - 1
}

// IsCallable reports whether v is a function object.
func (vm *VM) IsCallable(v Value) bool {
	return v.IsHeapObject() && vm.classOf(v).IsCallable()
}

// Call invokes fn with the given receiver and arguments.
func (vm *VM) Call(fn, this Value, args ...Value) Value {
	if !vm.IsCallable(fn) {
		return vm.ThrowTypeError("%s is not a function", vm.describe(fn))
	}
	id := vm.heap.ReadValue(fn.Address(), functionNativeOffset).SmallInt()
	return vm.callNative(int(id), this, args)
}

func (vm *VM) callNative(id int, this Value, args []Value) Value {
	if id < 0 || id >= len(vm.natives) {
		return vm.ThrowTypeError("unknown native function %d", id)
	}
	return vm.natives[id].fn(vm, this, args)
}

// ---------------------------------------------------------------------------
// Array length
// ---------------------------------------------------------------------------

func arrayLengthGetter(vm *VM, this Value, _ []Value) Value {
	if !this.IsHeapObject() || !vm.classOf(this).IsJSArray() {
		return Undefined
	}
	return FromInt(int(vm.ArrayLength(this)))
}

func arrayLengthSetter(vm *VM, this Value, args []Value) Value {
	if !this.IsHeapObject() || !vm.classOf(this).IsJSArray() {
		return Undefined
	}
	v := Undefined
	if len(args) > 0 {
		v = args[0]
	}
	n, ok := toArrayLength(v)
	if !ok {
		return vm.ThrowRangeError("invalid array length")
	}
	vm.truncateElements(this, n)
	vm.setArrayLength(this, n)
	return Undefined
}

// toArrayLength converts v to a valid array length.
func toArrayLength(v Value) (uint32, bool) {
	if !v.IsNumber() {
		return 0, false
	}
	f := v.Float64()
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, false
	}
	return uint32(f), true
}

// truncateElements drops every element at index n or above.
func (vm *VM) truncateElements(arr Value, n uint32) {
	old := vm.ArrayLength(arr)
	if n >= old {
		return
	}
	elements := vm.getElements(arr)
	if vm.classOf(arr).IsDictionaryElement() {
		for _, e := range vm.dictEntries(elements) {
			if uint32(e.key.SmallInt()) >= n {
				vm.dictRemove(elements, e.index)
			}
		}
		return
	}
	end := min(int(old), vm.TaggedArrayLength(elements))
	for i := int(n); i < end; i++ {
		vm.TaggedArraySet(elements, i, Hole)
	}
}
