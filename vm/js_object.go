package vm

// ---------------------------------------------------------------------------
// Property and element storage of JS objects
// ---------------------------------------------------------------------------

// ObjectOptions tunes object storage.
type ObjectOptions struct {
	// InlineProperties is the in-object property budget of plain objects.
	InlineProperties int
	// MinPropertiesLength is the capacity of a first out-of-line array.
	MinPropertiesLength int
	// PropertiesGrowSize is added to a full out-of-line array.
	PropertiesGrowSize int
	// MaxFastProperties is the property count at which objects switch to
	// dictionary mode. At most MaxFastPropertiesCapacity.
	MaxFastProperties int

	MinElementsLength int
	// MaxElementGap is the index distance past capacity that always moves
	// elements into a dictionary.
	MaxElementGap uint32
	// MinElementGap is the distance below which elements always grow.
	MinElementGap uint32
	// FastElementsFactor bounds the gap relative to the capacity between
	// the two.
	FastElementsFactor uint32
}

func DefaultObjectOptions() ObjectOptions {
	return ObjectOptions{
		InlineProperties:    9,
		MinPropertiesLength: 4,
		PropertiesGrowSize:  4,
		MaxFastProperties:   MaxFastPropertiesCapacity,
		MinElementsLength:   4,
		MaxElementGap:       1024,
		MinElementGap:       256,
		FastElementsFactor:  8,
	}
}

// ComputePropertyCapacity returns the size of the out-of-line array that
// replaces a full one of capacity old.
func (vm *VM) ComputePropertyCapacity(old int) int {
	o := vm.options.Objects
	if old == 0 {
		return o.MinPropertiesLength
	}
	return min(old+o.PropertiesGrowSize, o.MaxFastProperties)
}

// ComputeElementCapacity returns the elements capacity for length slots.
func (vm *VM) ComputeElementCapacity(length uint32) uint32 {
	return max(length+length>>1, uint32(vm.options.Objects.MinElementsLength))
}

// ShouldTransToDict reports whether writing index into fast elements of the
// given capacity should switch them to a number dictionary instead of
// growing them.
func (vm *VM) ShouldTransToDict(capacity, index uint32) bool {
	if index < capacity {
		return false
	}
	o := vm.options.Objects
	gap := index - capacity
	if gap >= o.MaxElementGap {
		return true
	}
	if gap < o.MinElementGap {
		return false
	}
	return gap > capacity*o.FastElementsFactor
}

// ---------------------------------------------------------------------------
// Property slots
// ---------------------------------------------------------------------------

// getPropertyValue reads the slot described by attr in a fast-mode object.
func (vm *VM) getPropertyValue(obj Value, hc *HiddenClass, attr PropertyAttributes) Value {
	if attr.IsInlinedProps() {
		return vm.heap.ReadValue(obj.Address(), hc.inlineSlotOffset(attr.Offset()))
	}
	return vm.TaggedArrayGet(vm.getProperties(obj), attr.Offset())
}

func (vm *VM) setPropertyValue(obj Value, hc *HiddenClass, attr PropertyAttributes, v Value) {
	if attr.IsInlinedProps() {
		vm.heap.SetValueWithBarrier(obj.Address(), hc.inlineSlotOffset(attr.Offset()), v)
		return
	}
	vm.TaggedArraySet(vm.getProperties(obj), attr.Offset(), v)
}

// ownLayoutIndex returns the layout index of key in a fast-mode class.
func (vm *VM) ownLayoutIndex(hc *HiddenClass, key Value) int {
	if hc.numProps == 0 {
		return -1
	}
	return hc.layout.FindElementWithCache(&vm.propertiesCache, hc, key, vm.atoms.KeyHash(key), hc.numProps)
}

// addPropertyToObject appends key to obj, which must not have it. It moves
// obj along a class transition, growing the out-of-line array or switching
// to dictionary mode as needed. It returns Undefined or Exception.
func (vm *VM) addPropertyToObject(obj, key, value Value, attr PropertyAttributes) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj, hValue := vm.NewHandle(obj), vm.NewHandle(value)

	hc := vm.classOf(obj)
	if !hc.IsDictionaryMode() && hc.numProps >= vm.options.Objects.MaxFastProperties {
		if vm.TransitionToDictionary(obj).IsException() {
			return Exception
		}
		hc = vm.classOf(hObj.Get())
	}
	if hc.IsDictionaryMode() {
		return vm.addDictionaryProperty(hObj.Get(), hc, key, hValue.Get(), attr)
	}

	if index := hc.numProps - hc.inlinedProps; index >= 0 {
		props := vm.getProperties(hObj.Get())
		if capacity := vm.TaggedArrayLength(props); index >= capacity {
			grown := vm.copyTaggedArray(props, vm.ComputePropertyCapacity(capacity), Undefined)
			if grown.IsException() {
				return grown
			}
			vm.setProperties(hObj.Get(), grown)
		}
	}
	obj = hObj.Get()
	hc = vm.classOf(obj)
	newHC, attr := vm.AddPropertyToHClass(hc, key, attr)
	vm.setPropertyValue(obj, newHC, attr, hValue.Get())
	vm.setHClass(obj, newHC)
	if hc.IsPrototype() {
		vm.NotifyHClassChanged(hc, newHC)
	}
	return Undefined
}

// addDictionaryProperty adds key to a dictionary-mode object. Global object
// properties live in property boxes.
func (vm *VM) addDictionaryProperty(obj Value, hc *HiddenClass, key, value Value, attr PropertyAttributes) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj := vm.NewHandle(obj)
	if hc.IsGlobalObject() {
		value = vm.NewPropertyBox(value)
		if value.IsException() {
			return value
		}
	}
	dict := vm.dictPut(vm.getProperties(hObj.Get()), key, value, attr)
	if dict.IsException() {
		return dict
	}
	vm.setProperties(hObj.Get(), dict)
	if hc.IsPrototype() {
		vm.NoticeThroughChain(hc)
	}
	return Undefined
}

// TransitionToDictionary moves obj's properties into a NameDictionary and
// obj onto a dictionary-mode class. There is no way back.
func (vm *VM) TransitionToDictionary(obj Value) Value {
	hc := vm.classOf(obj)
	if hc.IsDictionaryMode() {
		return Undefined
	}
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj := vm.NewHandle(obj)
	dict := vm.newDictionary(TypeNameDictionary, hc.numProps*2)
	if dict.IsException() {
		return dict
	}
	obj = hObj.Get()
	for i := 0; i < hc.numProps; i++ {
		attr := hc.layout.Attr(i)
		v := vm.getPropertyValue(obj, hc, attr)
		vm.dictInsert(dict, hc.layout.Key(i), v, attr.SetIsInlinedProps(false).SetOffset(0))
	}
	for i := 0; i < hc.inlinedProps; i++ {
		vm.heap.WriteWord(obj.Address(), hc.inlineSlotOffset(i), uint64(Undefined))
	}
	newHC := vm.TransitionToDictionaryClass(hc)
	vm.setProperties(obj, dict)
	vm.setHClass(obj, newHC)
	if hc.IsPrototype() {
		vm.NotifyHClassChanged(hc, newHC)
	}
	vm.log.Debugf("object %#x moved to dictionary mode with %d properties", uint64(obj.Address()), hc.numProps)
	return Undefined
}

// OptimizeAsPrototype gives obj a private class flagged as a prototype, so
// changes to it are reported to the inline caches of objects inheriting
// from it.
func (vm *VM) OptimizeAsPrototype(obj Value) {
	hc := vm.classOf(obj)
	if hc.IsPrototype() {
		return
	}
	var c *HiddenClass
	if hc.IsDictionaryMode() {
		c = vm.cloneHClass(hc)
	} else {
		c = vm.CopyAllHClass(hc)
	}
	c.setFlag(hclassIsPrototype, true)
	vm.setHClass(obj, c)
}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// getOwnElement returns the element at index, or Hole if obj has none.
// Accessor elements are returned as their accessor object along with their
// attributes.
func (vm *VM) getOwnElement(obj Value, hc *HiddenClass, index uint32) (Value, PropertyAttributes) {
	elements := vm.getElements(obj)
	if hc.IsDictionaryElement() {
		entry := vm.findDictEntry(elements, FromInt(int(index)))
		if entry < 0 {
			return Hole, 0
		}
		return vm.dictValue(elements, entry), vm.dictAttr(elements, entry)
	}
	if int(index) >= vm.TaggedArrayLength(elements) {
		return Hole, 0
	}
	return vm.TaggedArrayGet(elements, int(index)), DefaultAttributes()
}

// setElement stores value at index, growing the elements or moving them to
// a number dictionary. JS array lengths follow. It returns Undefined or
// Exception.
func (vm *VM) setElement(obj Value, index uint32, value Value, attr PropertyAttributes) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj, hValue := vm.NewHandle(obj), vm.NewHandle(value)

	hc := vm.classOf(obj)
	if !hc.IsDictionaryElement() {
		elements := vm.getElements(obj)
		capacity := uint32(vm.TaggedArrayLength(elements))
		switch {
		case index < capacity && attr == DefaultAttributes():
			vm.TaggedArraySet(elements, int(index), value)
			vm.updateArrayLength(obj, hc, index)
			return Undefined
		case attr == DefaultAttributes() && !vm.ShouldTransToDict(capacity, index):
			grown := vm.copyTaggedArray(elements, int(vm.ComputeElementCapacity(index+1)), Hole)
			if grown.IsException() {
				return grown
			}
			obj = hObj.Get()
			vm.TaggedArraySet(grown, int(index), hValue.Get())
			vm.setElements(obj, grown)
			vm.updateArrayLength(obj, hc, index)
			return Undefined
		}
		if vm.transitionToDictionaryElements(obj).IsException() {
			return Exception
		}
		obj = hObj.Get()
		hc = vm.classOf(obj)
	}
	dict := vm.dictPut(vm.getElements(obj), FromInt(int(index)), hValue.Get(), attr)
	if dict.IsException() {
		return dict
	}
	obj = hObj.Get()
	vm.setElements(obj, dict)
	vm.updateArrayLength(obj, hc, index)
	return Undefined
}

func (vm *VM) updateArrayLength(obj Value, hc *HiddenClass, index uint32) {
	if hc.IsJSArray() && index >= vm.ArrayLength(obj) {
		vm.setArrayLength(obj, index+1)
	}
}

// transitionToDictionaryElements moves fast elements into a number
// dictionary.
func (vm *VM) transitionToDictionaryElements(obj Value) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	hObj := vm.NewHandle(obj)
	elements := vm.getElements(obj)
	n := vm.TaggedArrayLength(elements)
	live := 0
	for i := 0; i < n; i++ {
		if vm.TaggedArrayGet(elements, i) != Hole {
			live++
		}
	}
	dict := vm.newDictionary(TypeNumberDictionary, live*2)
	if dict.IsException() {
		return dict
	}
	obj = hObj.Get()
	elements = vm.getElements(obj)
	for i := 0; i < n; i++ {
		if v := vm.TaggedArrayGet(elements, i); v != Hole {
			vm.dictInsert(dict, FromInt(i), v, DefaultAttributes())
		}
	}
	hc := vm.classOf(obj)
	newHC := vm.TransitionToDictionaryElementsClass(hc)
	vm.setElements(obj, dict)
	vm.setHClass(obj, newHC)
	if hc.IsPrototype() {
		vm.NotifyHClassChanged(hc, newHC)
	}
	return Undefined
}

// deleteElement removes the element at index.
func (vm *VM) deleteElement(obj Value, hc *HiddenClass, index uint32) {
	elements := vm.getElements(obj)
	if hc.IsDictionaryElement() {
		if entry := vm.findDictEntry(elements, FromInt(int(index))); entry >= 0 {
			vm.dictRemove(elements, entry)
		}
		return
	}
	if int(index) < vm.TaggedArrayLength(elements) {
		vm.TaggedArraySet(elements, int(index), Hole)
	}
}
