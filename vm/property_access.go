package vm

import (
	"math"
	"slices"
)

// ---------------------------------------------------------------------------
// Generic property access
// ---------------------------------------------------------------------------

// These are the paths every inline cache miss falls back to. They return the
// result, or Exception after throwing. Integer-like keys address elements.

// propertyLookup is the outcome of a named lookup along a prototype chain.
type propertyLookup struct {
	found  bool
	holder Value
	hc     *HiddenClass
	attr   PropertyAttributes
	// index is the layout index in fast mode or the dictionary entry.
	index int
	// value is the slot content: the accessor object for accessors and the
	// unboxed value for globals.
	value Value
	// box is the property box of a global, or Undefined.
	box   Value
	depth int
}

// lookupOwnNamed looks key up among holder's own named properties.
func (vm *VM) lookupOwnNamed(holder Value, hc *HiddenClass, key Value) (propertyLookup, bool) {
	if hc.IsDictionaryMode() {
		dict := vm.getProperties(holder)
		entry := vm.findDictEntry(dict, key)
		if entry < 0 {
			return propertyLookup{}, false
		}
		l := propertyLookup{found: true, holder: holder, hc: hc, attr: vm.dictAttr(dict, entry),
			index: entry, value: vm.dictValue(dict, entry), box: Undefined}
		if hc.IsGlobalObject() {
			l.box = l.value
			if l.value = vm.BoxValue(l.box); l.value == Hole {
				return propertyLookup{}, false
			}
		}
		return l, true
	}
	i := vm.ownLayoutIndex(hc, key)
	if i < 0 {
		return propertyLookup{}, false
	}
	attr := hc.layout.Attr(i)
	return propertyLookup{found: true, holder: holder, hc: hc, attr: attr, index: i,
		value: vm.getPropertyValue(holder, hc, attr), box: Undefined}, true
}

// lookupNamed walks the prototype chain from the heap object start.
func (vm *VM) lookupNamed(start, key Value) propertyLookup {
	holder := start
	for depth := 0; holder.IsHeapObject(); depth++ {
		hc := vm.classOf(holder)
		if l, ok := vm.lookupOwnNamed(holder, hc, key); ok {
			l.depth = depth
			return l
		}
		holder = hc.proto
	}
	return propertyLookup{holder: Null, box: Undefined}
}

// storeFound overwrites the data property found by l.
func (vm *VM) storeFound(l propertyLookup, value Value) {
	switch {
	case l.box != Undefined:
		vm.setBoxValue(l.box, value)
	case l.hc.IsDictionaryMode():
		vm.setDictValue(vm.getProperties(l.holder), l.index, value)
	default:
		vm.setPropertyValue(l.holder, l.hc, l.attr, value)
	}
}

// lookupStart returns the object a lookup on receiver starts at: the
// receiver itself, or Object.prototype for primitives.
func (vm *VM) lookupStart(receiver, key Value) Value {
	switch {
	case receiver.IsHeapObject():
		return receiver
	case receiver.IsUndefinedOrNull():
		return vm.ThrowTypeError("cannot read property %s of %s", vm.describe(key), receiver)
	}
	return vm.objectPrototype
}

// toPropertyKey normalizes key into an element index or a name.
func (vm *VM) toPropertyKey(key Value) (name Value, index uint32, isIndex bool) {
	switch {
	case key.IsSmallInt():
		if n := key.SmallInt(); n >= 0 && n < math.MaxUint32 {
			return Undefined, uint32(n), true
		}
	case key.IsFloat():
		if f := key.Float64(); f >= 0 && f < math.MaxUint32 && f == math.Trunc(f) {
			return Undefined, uint32(f), true
		}
	case key.IsAtom():
		if i, ok := vm.atoms.ArrayIndex(key); ok {
			return Undefined, i, true
		}
		return key, 0, false
	case key.IsSymbol():
		return key, 0, false
	}
	return vm.atoms.Intern(vm.describe(key)), 0, false
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// callGetter runs the getter of accessor with receiver as this. Internal
// accessors call their native directly.
func (vm *VM) callGetter(receiver, accessor Value) Value {
	getter := vm.heap.ReadValue(accessor.Address(), accessorGetter)
	if vm.classOf(accessor).objType == TypeInternalAccessor {
		return vm.callNative(int(getter.SmallInt()), receiver, nil)
	}
	if getter.IsUndefined() {
		return Undefined
	}
	return vm.Call(getter, receiver)
}

// callSetter runs the setter of accessor. It returns Undefined or Exception.
func (vm *VM) callSetter(receiver, accessor, value Value) Value {
	setter := vm.heap.ReadValue(accessor.Address(), accessorSetter)
	var r Value
	switch {
	case vm.classOf(accessor).objType == TypeInternalAccessor:
		r = vm.callNative(int(setter.SmallInt()), receiver, []Value{value})
	case setter.IsUndefined():
		return vm.ThrowTypeError("cannot set a property that has only a getter")
	default:
		r = vm.Call(setter, receiver, value)
	}
	if r.IsException() {
		return r
	}
	return Undefined
}

// DefineAccessor defines key on obj as an accessor property.
func (vm *VM) DefineAccessor(obj, key, getter, setter Value, enumerable, configurable bool) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj := vm.NewHandle(obj)
	acc := vm.NewAccessorData(getter, setter)
	if acc.IsException() {
		return acc
	}
	return vm.DefineOwnProperty(hObj.Get(), key, acc, AccessorAttributes(enumerable, configurable))
}

// ---------------------------------------------------------------------------
// Named access
// ---------------------------------------------------------------------------

// GetPropertyByName returns receiver[key], walking the prototype chain.
func (vm *VM) GetPropertyByName(receiver, key Value) Value {
	if index, ok := vm.atoms.ArrayIndex(key); ok {
		return vm.GetPropertyByIndex(receiver, index)
	}
	start := vm.lookupStart(receiver, key)
	if start.IsException() {
		return start
	}
	l := vm.lookupNamed(start, key)
	switch {
	case !l.found:
		return Undefined
	case l.attr.IsAccessor():
		return vm.callGetter(receiver, l.value)
	}
	return l.value
}

// SetPropertyByName performs receiver[key] = value. An inherited setter
// runs; an inherited data property is shadowed by a new own one.
func (vm *VM) SetPropertyByName(receiver, key, value Value) Value {
	if index, ok := vm.atoms.ArrayIndex(key); ok {
		return vm.SetPropertyByIndex(receiver, index, value)
	}
	if !receiver.IsHeapObject() {
		return vm.ThrowTypeError("cannot set property %s of %s", vm.describe(key), vm.describe(receiver))
	}
	l := vm.lookupNamed(receiver, key)
	if l.found {
		switch {
		case l.attr.IsAccessor():
			return vm.callSetter(receiver, l.value, value)
		case !l.attr.IsWritable():
			return vm.ThrowTypeError("cannot assign to read only property %s", vm.describe(key))
		case l.depth == 0:
			vm.storeFound(l, value)
			return Undefined
		}
	}
	return vm.AddPropertyByName(receiver, key, value, DefaultAttributes())
}

// SetPropertyByNameWithOwn stores into an own property of receiver, adding
// it if missing, without consulting the prototype chain.
func (vm *VM) SetPropertyByNameWithOwn(receiver, key, value Value) Value {
	if index, ok := vm.atoms.ArrayIndex(key); ok {
		return vm.DefineOwnProperty(receiver, FromInt(int(index)), value, DefaultAttributes())
	}
	if !receiver.IsHeapObject() {
		return vm.ThrowTypeError("cannot set property %s of %s", vm.describe(key), vm.describe(receiver))
	}
	if l, ok := vm.lookupOwnNamed(receiver, vm.classOf(receiver), key); ok {
		switch {
		case l.attr.IsAccessor():
			return vm.callSetter(receiver, l.value, value)
		case !l.attr.IsWritable():
			return vm.ThrowTypeError("cannot assign to read only property %s", vm.describe(key))
		}
		vm.storeFound(l, value)
		return Undefined
	}
	return vm.AddPropertyByName(receiver, key, value, DefaultAttributes())
}

// AddPropertyByName adds a new own property to receiver.
func (vm *VM) AddPropertyByName(receiver, key, value Value, attr PropertyAttributes) Value {
	if !receiver.IsHeapObject() {
		return vm.ThrowTypeError("cannot add property %s to %s", vm.describe(key), vm.describe(receiver))
	}
	if !vm.classOf(receiver).IsExtensible() {
		return vm.ThrowTypeError("cannot add property %s, object is not extensible", vm.describe(key))
	}
	if index, ok := vm.atoms.ArrayIndex(key); ok {
		return vm.setElement(receiver, index, value, attr)
	}
	return vm.addPropertyToObject(receiver, key, value, attr)
}

// ---------------------------------------------------------------------------
// Indexed access
// ---------------------------------------------------------------------------

// GetPropertyByIndex returns receiver[index].
func (vm *VM) GetPropertyByIndex(receiver Value, index uint32) Value {
	holder := vm.lookupStart(receiver, FromInt(int(index)))
	if holder.IsException() {
		return holder
	}
	for holder.IsHeapObject() {
		hc := vm.classOf(holder)
		if hc.IsSpecialContainer() {
			return vm.getContainerElement(holder, index)
		}
		if v, attr := vm.getOwnElement(holder, hc, index); v != Hole {
			if attr.IsAccessor() {
				return vm.callGetter(receiver, v)
			}
			return v
		}
		holder = hc.proto
	}
	return Undefined
}

// SetPropertyByIndex performs receiver[index] = value.
func (vm *VM) SetPropertyByIndex(receiver Value, index uint32, value Value) Value {
	if !receiver.IsHeapObject() {
		return vm.ThrowTypeError("cannot set element %d of %s", index, vm.describe(receiver))
	}
	for holder := receiver; holder.IsHeapObject(); {
		hc := vm.classOf(holder)
		if hc.IsSpecialContainer() {
			if holder == receiver {
				return vm.setContainerElement(holder, index, value)
			}
			break
		}
		v, attr := vm.getOwnElement(holder, hc, index)
		if v != Hole {
			switch {
			case attr.IsAccessor():
				return vm.callSetter(receiver, v, value)
			case !attr.IsWritable():
				return vm.ThrowTypeError("cannot assign to read only element %d", index)
			case holder == receiver:
				vm.writeOwnElement(holder, hc, index, value)
				return Undefined
			}
			break
		}
		holder = hc.proto
	}
	if !vm.classOf(receiver).IsExtensible() {
		return vm.ThrowTypeError("cannot add element %d, object is not extensible", index)
	}
	return vm.setElement(receiver, index, value, DefaultAttributes())
}

// writeOwnElement overwrites an existing element.
func (vm *VM) writeOwnElement(obj Value, hc *HiddenClass, index uint32, value Value) {
	elements := vm.getElements(obj)
	if hc.IsDictionaryElement() {
		vm.setDictValue(elements, vm.findDictEntry(elements, FromInt(int(index))), value)
		return
	}
	vm.TaggedArraySet(elements, int(index), value)
}

// ---------------------------------------------------------------------------
// Keyed access
// ---------------------------------------------------------------------------

// GetPropertyByValue returns receiver[key] for a key of any type.
func (vm *VM) GetPropertyByValue(receiver, key Value) Value {
	name, index, isIndex := vm.toPropertyKey(key)
	if isIndex {
		return vm.GetPropertyByIndex(receiver, index)
	}
	return vm.GetPropertyByName(receiver, name)
}

// SetPropertyByValue performs receiver[key] = value for a key of any type.
func (vm *VM) SetPropertyByValue(receiver, key, value Value) Value {
	name, index, isIndex := vm.toPropertyKey(key)
	if isIndex {
		return vm.SetPropertyByIndex(receiver, index, value)
	}
	return vm.SetPropertyByName(receiver, name, value)
}

// ---------------------------------------------------------------------------
// Definition and deletion
// ---------------------------------------------------------------------------

// DefineOwnProperty creates or redefines an own property of obj with the
// given attributes. Changing the attributes of an existing fast property
// moves obj to dictionary mode.
func (vm *VM) DefineOwnProperty(obj, key, value Value, attr PropertyAttributes) Value {
	if !obj.IsHeapObject() {
		return vm.ThrowTypeError("cannot define property %s on %s", vm.describe(key), vm.describe(obj))
	}
	name, index, isIndex := vm.toPropertyKey(key)
	hc := vm.classOf(obj)
	if isIndex {
		return vm.defineOwnElement(obj, hc, index, value, attr)
	}
	l, ok := vm.lookupOwnNamed(obj, hc, name)
	if !ok {
		if !hc.IsExtensible() {
			return vm.ThrowTypeError("cannot define property %s, object is not extensible", vm.describe(name))
		}
		return vm.addPropertyToObject(obj, name, value, attr)
	}
	if !vm.canRedefine(l.attr, l.value, attr, value) {
		return vm.ThrowTypeError("cannot redefine property %s", vm.describe(name))
	}
	if l.attr.Metadata() == attr.Metadata() {
		vm.storeFound(l, value)
		return Undefined
	}

	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj, hValue := vm.NewHandle(obj), vm.NewHandle(value)
	if !hc.IsDictionaryMode() {
		if vm.TransitionToDictionary(obj).IsException() {
			return Exception
		}
		obj = hObj.Get()
		hc = vm.classOf(obj)
	}
	stored := hValue.Get()
	if hc.IsGlobalObject() {
		// Caches holding the old box assumed the old attributes.
		if stored = vm.NewPropertyBox(stored); stored.IsException() {
			return stored
		}
		obj = hObj.Get()
	}
	dict := vm.getProperties(obj)
	entry := vm.findDictEntry(dict, name)
	old := vm.dictAttr(dict, entry)
	if hc.IsGlobalObject() {
		vm.setBoxValue(vm.dictValue(dict, entry), Hole)
	}
	vm.setDictValue(dict, entry, stored)
	vm.setDictAttr(dict, entry, attr.SetIsInlinedProps(false).SetOffset(0).SetDictionaryOrder(old.DictionaryOrder()))
	if hc.IsPrototype() {
		vm.NoticeThroughChain(hc)
	}
	return Undefined
}

// canRedefine applies the rules for non-configurable properties.
func (vm *VM) canRedefine(old PropertyAttributes, oldValue Value, attr PropertyAttributes, value Value) bool {
	if old.IsConfigurable() {
		return true
	}
	if old.Metadata() != attr.Metadata() {
		return false
	}
	return old.IsAccessor() || old.IsWritable() || oldValue == value
}

func (vm *VM) defineOwnElement(obj Value, hc *HiddenClass, index uint32, value Value, attr PropertyAttributes) Value {
	if hc.IsSpecialContainer() {
		return vm.setContainerElement(obj, index, value)
	}
	old, oldAttr := vm.getOwnElement(obj, hc, index)
	if old == Hole {
		if !hc.IsExtensible() {
			return vm.ThrowTypeError("cannot define element %d, object is not extensible", index)
		}
	} else if !vm.canRedefine(oldAttr, old, attr, value) {
		return vm.ThrowTypeError("cannot redefine element %d", index)
	}
	return vm.setElement(obj, index, value, attr)
}

// DeleteProperty removes an own property of obj. It returns True, or
// Exception when the property is not configurable. Deleting a named
// property of a fast-mode object moves it to dictionary mode.
func (vm *VM) DeleteProperty(obj, key Value) Value {
	if !obj.IsHeapObject() {
		if obj.IsUndefinedOrNull() {
			return vm.ThrowTypeError("cannot delete property %s of %s", vm.describe(key), obj)
		}
		return True
	}
	name, index, isIndex := vm.toPropertyKey(key)
	hc := vm.classOf(obj)
	if isIndex {
		if hc.IsSpecialContainer() {
			return vm.ThrowTypeError("cannot delete element %d of a fixed container", index)
		}
		v, attr := vm.getOwnElement(obj, hc, index)
		if v == Hole {
			return True
		}
		if !attr.IsConfigurable() {
			return vm.ThrowTypeError("cannot delete element %d", index)
		}
		vm.deleteElement(obj, hc, index)
		return True
	}

	l, ok := vm.lookupOwnNamed(obj, hc, name)
	if !ok {
		return True
	}
	if !l.attr.IsConfigurable() {
		return vm.ThrowTypeError("cannot delete property %s", vm.describe(name))
	}
	if !hc.IsDictionaryMode() {
		scope := vm.OpenHandleScope()
		defer scope.Close()
		hObj := vm.NewHandle(obj)
		if vm.TransitionToDictionary(obj).IsException() {
			return Exception
		}
		obj = hObj.Get()
		hc = vm.classOf(obj)
	}
	dict := vm.getProperties(obj)
	entry := vm.findDictEntry(dict, name)
	if hc.IsGlobalObject() {
		vm.setBoxValue(vm.dictValue(dict, entry), Hole)
	}
	vm.dictRemove(dict, entry)
	if hc.IsPrototype() {
		vm.NoticeThroughChain(hc)
	}
	return True
}

// HasOwnProperty reports whether obj has an own property key.
func (vm *VM) HasOwnProperty(obj, key Value) bool {
	if !obj.IsHeapObject() {
		return false
	}
	name, index, isIndex := vm.toPropertyKey(key)
	hc := vm.classOf(obj)
	if isIndex {
		if hc.IsSpecialContainer() {
			return index < uint32(vm.ContainerLength(obj))
		}
		v, _ := vm.getOwnElement(obj, hc, index)
		return v != Hole
	}
	_, ok := vm.lookupOwnNamed(obj, hc, name)
	return ok
}

// ---------------------------------------------------------------------------
// Extensibility and prototypes
// ---------------------------------------------------------------------------

// PreventExtensions makes obj non-extensible.
func (vm *VM) PreventExtensions(obj Value) Value {
	if !obj.IsHeapObject() {
		return False
	}
	hc := vm.classOf(obj)
	if !hc.IsExtensible() {
		return True
	}
	var newHC *HiddenClass
	if hc.IsDictionaryMode() {
		newHC = vm.cloneHClass(hc)
		newHC.setFlag(hclassExtensible, false)
	} else {
		newHC = vm.TransitionExtension(hc)
	}
	vm.setHClass(obj, newHC)
	if hc.IsPrototype() {
		vm.NotifyHClassChanged(hc, newHC)
	}
	return True
}

// IsExtensible reports whether properties can be added to obj.
func (vm *VM) IsExtensible(obj Value) bool {
	return obj.IsHeapObject() && vm.classOf(obj).IsExtensible()
}

// GetPrototypeOf returns the prototype of obj.
func (vm *VM) GetPrototypeOf(obj Value) Value {
	if !obj.IsHeapObject() {
		return Null
	}
	return vm.classOf(obj).proto
}

// SetPrototypeOf replaces the prototype of obj with proto, an object or
// null. Inline caches depending on obj's old chain are invalidated.
func (vm *VM) SetPrototypeOf(obj, proto Value) Value {
	if !obj.IsHeapObject() {
		return vm.ThrowTypeError("cannot set the prototype of %s", vm.describe(obj))
	}
	if !proto.IsHeapObject() && proto != Null {
		return vm.ThrowTypeError("object prototype may only be an object or null")
	}
	hc := vm.classOf(obj)
	if hc.proto == proto {
		return True
	}
	if !hc.IsExtensible() {
		return vm.ThrowTypeError("cannot set the prototype of a non-extensible object")
	}
	for p := proto; p.IsHeapObject(); p = vm.classOf(p).proto {
		if p == obj {
			return vm.ThrowTypeError("cyclic prototype chain")
		}
	}
	if proto.IsHeapObject() {
		vm.OptimizeAsPrototype(proto)
	}
	newHC := vm.TransitionProto(hc, proto)
	vm.setHClass(obj, newHC)
	if hc.IsPrototype() {
		vm.NotifyHClassChanged(hc, newHC)
	}
	return True
}

// ---------------------------------------------------------------------------
// Enumeration
// ---------------------------------------------------------------------------

// OwnPropertyKeys returns obj's own keys: element indices in ascending
// order as atoms, then names in insertion order.
func (vm *VM) OwnPropertyKeys(obj Value) []Value {
	keys := vm.ownElementKeys(obj)
	hc := vm.classOf(obj)
	if hc.IsDictionaryMode() {
		for _, e := range vm.dictEntries(vm.getProperties(obj)) {
			keys = append(keys, e.key)
		}
		return keys
	}
	for i := 0; i < hc.numProps; i++ {
		keys = append(keys, hc.layout.Key(i))
	}
	return keys
}

// EnumerableOwnNames returns the enumerable own string-keyed names of obj,
// cached on its class in fast mode.
func (vm *VM) EnumerableOwnNames(obj Value) []Value {
	hc := vm.classOf(obj)
	if !hc.IsDictionaryMode() {
		if cached := hc.EnumCache(); cached != nil {
			return cached
		}
	}
	names := []Value{}
	if hc.IsDictionaryMode() {
		for _, e := range vm.dictEntries(vm.getProperties(obj)) {
			if e.key.IsAtom() && e.attr.IsEnumerable() {
				names = append(names, e.key)
			}
		}
		return names
	}
	for i := 0; i < hc.numProps; i++ {
		if k := hc.layout.Key(i); k.IsAtom() && hc.layout.Attr(i).IsEnumerable() {
			names = append(names, k)
		}
	}
	hc.SetEnumCache(names)
	return names
}

func (vm *VM) ownElementKeys(obj Value) []Value {
	hc := vm.classOf(obj)
	var keys []Value
	add := func(i int) { keys = append(keys, vm.atoms.Intern(FromInt(i).String())) }
	if hc.IsSpecialContainer() {
		for i := 0; i < vm.ContainerLength(obj); i++ {
			add(i)
		}
		return keys
	}
	elements := vm.getElements(obj)
	if hc.IsDictionaryElement() {
		entries := vm.dictEntries(elements)
		idx := make([]int, 0, len(entries))
		for _, e := range entries {
			idx = append(idx, int(e.key.SmallInt()))
		}
		slices.Sort(idx)
		for _, i := range idx {
			add(i)
		}
		return keys
	}
	for i := 0; i < vm.TaggedArrayLength(elements); i++ {
		if vm.TaggedArrayGet(elements, i) != Hole {
			add(i)
		}
	}
	return keys
}
