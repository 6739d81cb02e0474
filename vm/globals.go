package vm

// ---------------------------------------------------------------------------
// Global variables
// ---------------------------------------------------------------------------

// The global object is in dictionary mode from the start and each of its
// properties lives in a PropertyBox. Inline caches hold on to the box, so a
// global can change value without invalidating them; deleting a global
// empties its box with Hole, which every holder of the box sees.

// globalBox returns the property box of key on the global object and its
// attributes, or Hole.
func (vm *VM) globalBox(key Value) (Value, PropertyAttributes) {
	dict := vm.getProperties(vm.globalObject)
	entry := vm.findDictEntry(dict, key)
	if entry < 0 {
		return Hole, 0
	}
	box := vm.dictValue(dict, entry)
	if vm.BoxValue(box) == Hole {
		return Hole, 0
	}
	return box, vm.dictAttr(dict, entry)
}

// TryLoadGlobalByName reads a global variable, throwing a ReferenceError if
// it is not defined on the global object or its prototypes.
func (vm *VM) TryLoadGlobalByName(key Value) Value {
	l := vm.lookupNamed(vm.globalObject, key)
	switch {
	case !l.found:
		return vm.ThrowReferenceError("%s is not defined", vm.describe(key))
	case l.attr.IsAccessor():
		return vm.callGetter(vm.globalObject, l.value)
	}
	return l.value
}

// LoadGlobalVar reads a global variable, yielding undefined when it does
// not exist, as typeof does.
func (vm *VM) LoadGlobalVar(key Value) Value {
	return vm.GetPropertyByName(vm.globalObject, key)
}

// StoreGlobalVar declares or assigns a global variable.
func (vm *VM) StoreGlobalVar(key, value Value) Value {
	box, attr := vm.globalBox(key)
	if box == Hole {
		return vm.AddPropertyByName(vm.globalObject, key, value, DefaultAttributes())
	}
	if attr.IsAccessor() {
		return vm.callSetter(vm.globalObject, vm.BoxValue(box), value)
	}
	if !attr.IsWritable() {
		return vm.ThrowTypeError("assignment to constant variable %s", vm.describe(key))
	}
	vm.setBoxValue(box, value)
	return Undefined
}

// TryStoreGlobalByName assigns an existing global variable, throwing a
// ReferenceError if it is not defined.
func (vm *VM) TryStoreGlobalByName(key, value Value) Value {
	if box, _ := vm.globalBox(key); box == Hole {
		if l := vm.lookupNamed(vm.globalObject, key); !l.found {
			return vm.ThrowReferenceError("%s is not defined", vm.describe(key))
		}
		return vm.SetPropertyByName(vm.globalObject, key, value)
	}
	return vm.StoreGlobalVar(key, value)
}

// DeleteGlobalVar deletes a configurable global variable.
func (vm *VM) DeleteGlobalVar(key Value) Value {
	return vm.DeleteProperty(vm.globalObject, key)
}
