package vm

// ---------------------------------------------------------------------------
// Inline cache entry points
// ---------------------------------------------------------------------------

// Every entry point takes the ProfileTypeInfo of the calling function and
// the slot index of the access site. A nil info means the code runs
// without profiling; the access then goes straight to the generic path.
//
// Handlers return Hole when they do not apply (stale chain, missing
// capacity, emptied box); the access then counts as a miss and takes the
// generic path, which also updates the slot.

func (vm *VM) icHit(s *ICSlot) {
	s.Hits++
	vm.icStats.Hits.Add(1)
}

func (vm *VM) icMiss(s *ICSlot, kind ICKind, slot int) {
	s.Misses++
	vm.icStats.Misses.Add(1)
	if vm.slowPathHook != nil {
		vm.slowPathHook(kind, slot)
	}
}

// recordHandler stores h for hc in s, by key when keyed.
func (vm *VM) recordHandler(kind ICKind, slot int, s *ICSlot, hc *HiddenClass, key Value, h *Handler, keyed bool) {
	old := s.state
	var now ICState
	if keyed {
		now = s.UpdateKeyed(key, hc, h, vm.options.IC.PolyCapacity)
	} else {
		now = s.Update(hc, h, vm.options.IC.PolyCapacity)
	}
	if now != old {
		vm.log.Debugf("%s slot %d: %s -> %s (%s)", kind, slot, old, now, h)
	}
}

// ---------------------------------------------------------------------------
// Named loads
// ---------------------------------------------------------------------------

// LoadICByName returns receiver[key] for an atom or symbol key.
func (vm *VM) LoadICByName(info *ProfileTypeInfo, slot int, receiver, key Value) Value {
	if info == nil {
		return vm.GetPropertyByName(receiver, key)
	}
	s := info.Slot(slot)
	if receiver.IsHeapObject() {
		if h := s.Lookup(vm.classOf(receiver)); h != nil {
			if r := vm.loadWithHandler(receiver, h); r != Hole {
				vm.icHit(s)
				return r
			}
		}
	}
	vm.icMiss(s, LoadICByNameKind, slot)
	if receiver.IsHeapObject() && s.state != ICMegamorphic {
		if h := vm.UpdateLoadHandler(receiver, key); h != nil {
			vm.recordHandler(LoadICByNameKind, slot, s, vm.classOf(receiver), key, h, false)
		}
	}
	return vm.GetPropertyByName(receiver, key)
}

// UpdateLoadHandler computes the handler loading key from objects of
// receiver's class, or nil when such loads cannot be cached. It runs no
// getters.
func (vm *VM) UpdateLoadHandler(receiver, key Value) *Handler {
	if _, ok := vm.atoms.ArrayIndex(key); ok {
		return nil
	}
	hc := vm.classOf(receiver)
	if hc.IsSpecialContainer() || !hc.objType.IsJSObject() {
		return nil
	}
	l := vm.lookupNamed(receiver, key)
	switch {
	case !l.found:
		if hc.IsDictionaryMode() {
			return nil
		}
		return nonExistentHandler(vm.EnableProtoChangeMarker(hc))
	case l.depth == 0:
		if hc.IsGlobalObject() && !l.attr.IsAccessor() {
			return boxHandler(l.box)
		}
		if hc.IsDictionaryMode() {
			return nil
		}
		return fieldHandler(hc, l.attr)
	case hc.IsDictionaryMode() || l.hc.IsDictionaryMode():
		return nil
	}
	return prototypeHandler(l.holder, fieldHandler(l.hc, l.attr), vm.EnableProtoChangeMarker(hc))
}

// loadWithHandler performs a load through h, walking into prototype
// holders. It returns Hole when h no longer applies.
func (vm *VM) loadWithHandler(receiver Value, h *Handler) Value {
	holder := receiver
	for {
		switch h.Kind {
		case HandlerField:
			return vm.loadField(holder, h)
		case HandlerAccessor:
			return vm.callGetter(receiver, vm.loadField(holder, h))
		case HandlerNonExistent:
			if h.stale() {
				return Hole
			}
			return Undefined
		case HandlerPrototypeWrapped:
			if h.stale() {
				return Hole
			}
			holder, h = h.Holder, h.Inner
		case HandlerPropertyBox:
			return vm.BoxValue(h.Box)
		default:
			return Hole
		}
	}
}

// ---------------------------------------------------------------------------
// Named stores
// ---------------------------------------------------------------------------

// StoreICByName performs receiver[key] = value for an atom or symbol key.
func (vm *VM) StoreICByName(info *ProfileTypeInfo, slot int, receiver, key, value Value) Value {
	if info == nil {
		return vm.SetPropertyByName(receiver, key, value)
	}
	s := info.Slot(slot)
	if receiver.IsHeapObject() {
		if h := s.Lookup(vm.classOf(receiver)); h != nil {
			if r := vm.storeWithHandler(receiver, h, value); r != Hole {
				vm.icHit(s)
				return r
			}
		}
	}
	vm.icMiss(s, StoreICByNameKind, slot)
	if !receiver.IsHeapObject() || s.state == ICMegamorphic {
		return vm.SetPropertyByName(receiver, key, value)
	}
	return vm.UpdateStoreHandler(StoreICByNameKind, slot, s, receiver, key, value, false)
}

// UpdateStoreHandler performs the store on the generic path and records
// the handler that repeats it for objects of receiver's class: the own
// field or accessor, an inherited setter, or the transition the store
// took. Globals are cached through their property box; other
// dictionary-mode receivers and prototypes are not cached.
func (vm *VM) UpdateStoreHandler(kind ICKind, slot int, s *ICSlot, receiver, key, value Value, keyed bool) Value {
	hc := vm.classOf(receiver)
	if _, ok := vm.atoms.ArrayIndex(key); ok || !hc.objType.IsJSObject() {
		return vm.SetPropertyByName(receiver, key, value)
	}
	if hc.IsGlobalObject() {
		if l, ok := vm.lookupOwnNamed(receiver, hc, key); ok && !l.attr.IsAccessor() && l.attr.IsWritable() {
			vm.recordHandler(kind, slot, s, hc, key, boxHandler(l.box), keyed)
		}
		return vm.SetPropertyByName(receiver, key, value)
	}
	if hc.IsDictionaryMode() || hc.IsPrototype() || hc.IsSpecialContainer() {
		return vm.SetPropertyByName(receiver, key, value)
	}
	l := vm.lookupNamed(receiver, key)
	switch {
	case l.found && l.depth == 0:
		if l.attr.IsAccessor() || l.attr.IsWritable() {
			vm.recordHandler(kind, slot, s, hc, key, fieldHandler(hc, l.attr), keyed)
		}
		return vm.SetPropertyByName(receiver, key, value)
	case l.found && l.attr.IsAccessor():
		if !l.hc.IsDictionaryMode() {
			h := prototypeHandler(l.holder, fieldHandler(l.hc, l.attr), vm.EnableProtoChangeMarker(hc))
			vm.recordHandler(kind, slot, s, hc, key, h, keyed)
		}
		return vm.SetPropertyByName(receiver, key, value)
	case l.found && !l.attr.IsWritable():
		return vm.SetPropertyByName(receiver, key, value)
	}

	scope := vm.OpenHandleScope()
	defer scope.Close()
	hReceiver := vm.NewHandle(receiver)
	if r := vm.SetPropertyByName(receiver, key, value); r.IsException() {
		return r
	}
	newHC := vm.classOf(hReceiver.Get())
	if newHC == hc || newHC.IsDictionaryMode() || newHC.numProps != hc.numProps+1 ||
		newHC.layout.Key(newHC.numProps-1) != key {
		return Undefined
	}
	attr := newHC.layout.Attr(newHC.numProps - 1)
	vm.recordHandler(kind, slot, s, hc, key, transitionHandler(newHC, attr, vm.EnableProtoChangeMarker(hc)), keyed)
	return Undefined
}

// storeWithHandler performs a store through h. It returns Hole when h no
// longer applies.
func (vm *VM) storeWithHandler(receiver Value, h *Handler, value Value) Value {
	holder := receiver
	for {
		switch h.Kind {
		case HandlerField:
			vm.storeField(holder, h, value)
			return Undefined
		case HandlerAccessor:
			return vm.callSetter(receiver, vm.loadField(holder, h), value)
		case HandlerTransition:
			return vm.storeTransition(receiver, h, value)
		case HandlerPrototypeWrapped:
			if h.stale() {
				return Hole
			}
			holder, h = h.Holder, h.Inner
		case HandlerPropertyBox:
			if vm.BoxValue(h.Box) == Hole {
				return Hole
			}
			vm.setBoxValue(h.Box, value)
			return Undefined
		default:
			return Hole
		}
	}
}

// storeTransition adds a property through a cached transition, growing the
// out-of-line array when the new slot is past its end.
func (vm *VM) storeTransition(receiver Value, h *Handler, value Value) Value {
	newHC := h.NewClass
	if newHC.IsDropped() || h.stale() {
		return Hole
	}
	if !h.Inlined {
		props := vm.getProperties(receiver)
		if capacity := vm.TaggedArrayLength(props); h.Offset >= capacity {
			grown := vm.ComputePropertyCapacity(capacity)
			if h.Offset >= grown {
				return Hole
			}
			scope := vm.OpenHandleScope()
			defer scope.Close()
			hReceiver, hValue := vm.NewHandle(receiver), vm.NewHandle(value)
			vm.pinClass(newHC)
			props = vm.copyTaggedArray(props, grown, Undefined)
			if props.IsException() {
				return props
			}
			if newHC.IsDropped() {
				return Hole
			}
			receiver, value = hReceiver.Get(), hValue.Get()
			vm.setProperties(receiver, props)
		}
	}
	vm.storeField(receiver, h, value)
	vm.setHClass(receiver, newHC)
	return Undefined
}

// ---------------------------------------------------------------------------
// Keyed access
// ---------------------------------------------------------------------------

// LoadICByValue returns receiver[key] for a key of any type. Index keys
// use element handlers; name keys use a keyed slot.
func (vm *VM) LoadICByValue(info *ProfileTypeInfo, slot int, receiver, key Value) Value {
	if info == nil {
		return vm.GetPropertyByValue(receiver, key)
	}
	s := info.Slot(slot)
	name, index, isIndex := vm.toPropertyKey(key)
	if receiver.IsHeapObject() {
		hc := vm.classOf(receiver)
		var r Value = Hole
		if isIndex {
			if h := s.Lookup(hc); h != nil {
				r = vm.loadElement(receiver, h, index)
			}
		} else if h := s.LookupKeyed(hc, name); h != nil {
			r = vm.loadWithHandler(receiver, h)
		}
		if r != Hole {
			vm.icHit(s)
			return r
		}
	}
	vm.icMiss(s, LoadICByValueKind, slot)
	if receiver.IsHeapObject() && s.state != ICMegamorphic {
		hc := vm.classOf(receiver)
		if isIndex {
			if h := vm.UpdateElementHandler(receiver); h != nil {
				vm.recordHandler(LoadICByValueKind, slot, s, hc, key, h, false)
			}
		} else if h := vm.UpdateLoadHandler(receiver, name); h != nil {
			vm.recordHandler(LoadICByValueKind, slot, s, hc, name, h, true)
		}
	}
	if isIndex {
		return vm.GetPropertyByIndex(receiver, index)
	}
	return vm.GetPropertyByName(receiver, name)
}

// StoreICByValue performs receiver[key] = value for a key of any type.
func (vm *VM) StoreICByValue(info *ProfileTypeInfo, slot int, receiver, key, value Value) Value {
	if info == nil {
		return vm.SetPropertyByValue(receiver, key, value)
	}
	s := info.Slot(slot)
	name, index, isIndex := vm.toPropertyKey(key)
	if receiver.IsHeapObject() {
		hc := vm.classOf(receiver)
		var r Value = Hole
		if isIndex {
			if h := s.Lookup(hc); h != nil {
				r = vm.ICStoreElement(receiver, index, value, h)
			}
		} else if h := s.LookupKeyed(hc, name); h != nil {
			r = vm.storeWithHandler(receiver, h, value)
		}
		if r != Hole {
			vm.icHit(s)
			return r
		}
	}
	vm.icMiss(s, StoreICByValueKind, slot)
	if !receiver.IsHeapObject() || s.state == ICMegamorphic {
		return vm.SetPropertyByValue(receiver, key, value)
	}
	if !isIndex {
		return vm.UpdateStoreHandler(StoreICByValueKind, slot, s, receiver, name, value, true)
	}
	if h := vm.UpdateElementHandler(receiver); h != nil {
		vm.recordHandler(StoreICByValueKind, slot, s, vm.classOf(receiver), key, h, false)
	}
	return vm.SetPropertyByIndex(receiver, index, value)
}

// UpdateElementHandler returns the element handler for receiver's class,
// or nil when its elements are not fast.
func (vm *VM) UpdateElementHandler(receiver Value) *Handler {
	hc := vm.classOf(receiver)
	if hc.IsDictionaryElement() || hc.IsSpecialContainer() || !hc.objType.IsJSObject() {
		return nil
	}
	return elementHandler(hc.IsJSArray())
}

// loadElement reads a fast element. Holes and indices past the backing
// store miss, so the generic path can consult the prototype chain.
func (vm *VM) loadElement(receiver Value, h *Handler, index uint32) Value {
	if h.Kind != HandlerElement {
		return Hole
	}
	elements := vm.getElements(receiver)
	if int(index) >= vm.TaggedArrayLength(elements) {
		return Hole
	}
	return vm.TaggedArrayGet(elements, int(index))
}

// ICStoreElement writes a fast element through h. It returns Hole when the
// backing store is too small, or when filling a hole could be observed by
// a non-extensible receiver or by elements on the prototype chain. Writes
// past the length of a JS array extend it.
func (vm *VM) ICStoreElement(receiver Value, index uint32, value Value, h *Handler) Value {
	if h.Kind != HandlerElement {
		return Hole
	}
	elements := vm.getElements(receiver)
	if int(index) >= vm.TaggedArrayLength(elements) {
		return Hole
	}
	if vm.TaggedArrayGet(elements, int(index)) == Hole {
		hc := vm.classOf(receiver)
		if !hc.IsExtensible() || vm.protoChainHasElements(hc.proto) {
			return Hole
		}
	}
	vm.TaggedArraySet(elements, int(index), value)
	if h.IsJSArray && index >= vm.ArrayLength(receiver) {
		vm.setArrayLength(receiver, index+1)
	}
	return Undefined
}

// protoChainHasElements reports whether any object from p up may hold an
// element or has its own index semantics.
func (vm *VM) protoChainHasElements(p Value) bool {
	for p.IsHeapObject() {
		hc := vm.classOf(p)
		if hc.IsSpecialContainer() {
			return true
		}
		elements := vm.getElements(p)
		if hc.IsDictionaryElement() {
			if vm.DictionaryEntryCount(elements) > 0 {
				return true
			}
		} else if vm.TaggedArrayLength(elements) > 0 {
			return true
		}
		p = hc.proto
	}
	return false
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// TryLoadGlobalICByName reads the global variable key, throwing a
// ReferenceError when it is not defined. The slot caches the variable's
// property box.
func (vm *VM) TryLoadGlobalICByName(info *ProfileTypeInfo, slot int, key Value) Value {
	if info == nil {
		return vm.TryLoadGlobalByName(key)
	}
	s := info.Slot(slot)
	if s.state == ICGlobal {
		if v := vm.BoxValue(s.box); v != Hole {
			vm.icHit(s)
			return v
		}
	}
	vm.icMiss(s, LoadGlobalICKind, slot)
	if s.state == ICUninitialized || s.state == ICGlobal {
		if box, attr := vm.globalBox(key); box != Hole && !attr.IsAccessor() {
			vm.setGlobalSlot(LoadGlobalICKind, slot, s, box)
		}
	}
	return vm.TryLoadGlobalByName(key)
}

// TryStoreGlobalICByName assigns the existing global variable key,
// throwing a ReferenceError when it is not defined. Only writable data
// variables are cached.
func (vm *VM) TryStoreGlobalICByName(info *ProfileTypeInfo, slot int, key, value Value) Value {
	if info == nil {
		return vm.TryStoreGlobalByName(key, value)
	}
	s := info.Slot(slot)
	if s.state == ICGlobal && vm.BoxValue(s.box) != Hole {
		vm.setBoxValue(s.box, value)
		vm.icHit(s)
		return Undefined
	}
	vm.icMiss(s, StoreGlobalICKind, slot)
	if s.state == ICUninitialized || s.state == ICGlobal {
		if box, attr := vm.globalBox(key); box != Hole && !attr.IsAccessor() && attr.IsWritable() {
			vm.setGlobalSlot(StoreGlobalICKind, slot, s, box)
		}
	}
	return vm.TryStoreGlobalByName(key, value)
}

func (vm *VM) setGlobalSlot(kind ICKind, slot int, s *ICSlot, box Value) {
	if s.state != ICGlobal {
		vm.log.Debugf("%s slot %d: %s -> %s", kind, slot, s.state, ICGlobal)
	}
	s.SetGlobal(box)
}
