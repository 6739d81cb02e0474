package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Snapshot space objects
// ---------------------------------------------------------------------------

// ErrNotSnapshotable reports a value that cannot be stored in the snapshot
// space: symbols (process-local identities) and heap objects other than
// tagged arrays.
var ErrNotSnapshotable = errors.New("value cannot live in the snapshot space")

// IsSnapshotObject reports whether v is an object in the snapshot space.
func (vm *VM) IsSnapshotObject(v Value) bool {
	if !v.IsHeapObject() {
		return false
	}
	r := vm.heap.regionAllocator.RegionOf(v.Address())
	return r != nil && r.InSnapshotSpace()
}

// NewSnapshotArray allocates a tagged array of n undefined slots in the
// snapshot space. Its slots may only be set to primitives, atoms and other
// snapshot objects.
func (vm *VM) NewSnapshotArray(n int) Value {
	return vm.newTaggedArray(n, vm.heap.AllocateSnapshotSpace)
}

// CopyToSnapshot deep-copies the tagged-array tree rooted at v into the
// snapshot space and returns the copy. Primitives, atoms and snapshot
// objects are returned unchanged; shared and cyclic references are
// preserved. Snapshot allocation never collects, so no handles are needed.
func (vm *VM) CopyToSnapshot(v Value) (Value, error) {
	copies := make(map[Address]Value)
	var walk func(v Value) (Value, error)
	walk = func(v Value) (Value, error) {
		switch {
		case v.IsSymbol():
			return Undefined, fmt.Errorf("%w: symbol %s", ErrNotSnapshotable, vm.describe(v))
		case !v.IsHeapObject(), vm.IsSnapshotObject(v):
			return v, nil
		}
		if c, ok := copies[v.Address()]; ok {
			return c, nil
		}
		if t := vm.classOf(v).objType; t != TypeTaggedArray {
			return Undefined, fmt.Errorf("%w: %s object at %#x", ErrNotSnapshotable, t, uint64(v.Address()))
		}
		n := vm.TaggedArrayLength(v)
		c := vm.NewSnapshotArray(n)
		if c.IsException() {
			return Undefined, vm.PendingError()
		}
		copies[v.Address()] = c
		for i := 0; i < n; i++ {
			e, err := walk(vm.TaggedArrayGet(v, i))
			if err != nil {
				return Undefined, err
			}
			vm.TaggedArraySet(c, i, e)
		}
		return c, nil
	}
	return walk(v)
}
