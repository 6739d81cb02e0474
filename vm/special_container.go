package vm

// ---------------------------------------------------------------------------
// Special containers
// ---------------------------------------------------------------------------

// A special container is a fixed-capacity list with its own index
// semantics: reads past the count yield undefined, writes may only replace
// an element or append one while there is capacity. Indexed access always
// takes the runtime path; element inline caches never cache containers.

// NewSpecialContainer creates an empty container with room for capacity
// elements.
func (vm *VM) NewSpecialContainer(capacity int) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	c := vm.newJSObject(vm.specialContainerClass)
	if c.IsException() {
		return c
	}
	vm.heap.WriteWord(c.Address(), containerCountOffset, uint64(FromInt(0)))
	hC := vm.NewHandle(c)
	elements := vm.newTaggedArrayOf(vm.taggedArrayClass, capacity, Hole, vm.heap.AllocateYoungOrHugeObject)
	if elements.IsException() {
		return elements
	}
	vm.setElements(hC.Get(), elements)
	return hC.Get()
}

// ContainerLength returns the element count of a container.
func (vm *VM) ContainerLength(c Value) int {
	return int(vm.heap.ReadValue(c.Address(), containerCountOffset).SmallInt())
}

// ContainerCapacity returns the maximum element count of a container.
func (vm *VM) ContainerCapacity(c Value) int {
	return vm.TaggedArrayLength(vm.getElements(c))
}

func (vm *VM) getContainerElement(c Value, index uint32) Value {
	if int(index) >= vm.ContainerLength(c) {
		return Undefined
	}
	return vm.TaggedArrayGet(vm.getElements(c), int(index))
}

func (vm *VM) setContainerElement(c Value, index uint32, value Value) Value {
	n := vm.ContainerLength(c)
	switch {
	case int(index) < n:
	case int(index) == n && n < vm.ContainerCapacity(c):
		vm.heap.WriteWord(c.Address(), containerCountOffset, uint64(FromInt(n+1)))
	default:
		return vm.ThrowRangeError("container index %d out of range (length %d, capacity %d)",
			index, n, vm.ContainerCapacity(c))
	}
	vm.TaggedArraySet(vm.getElements(c), int(index), value)
	return Undefined
}
