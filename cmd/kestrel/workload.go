package main

import (
	"fmt"

	"github.com/chazu/kestrel/vm"
)

// Inline cache slots used by the workload.
const (
	slotStoreX = iota
	slotStoreY
	slotStoreZ
	slotLoadX
	slotStoreElem
	slotLoadElem
	slotGlobalStore
	slotGlobalLoad
	slotCount
)

// workload drives the object model the way compiled code would: every
// property and element access goes through an inline cache.
type workload struct {
	vm   *vm.VM
	info *vm.ProfileTypeInfo

	x, y, z, total vm.Value

	// retained is an old-space array whose slots point at young objects,
	// exercising the remembered sets.
	retained vm.Value
}

func newWorkload(v *vm.VM, retain int) *workload {
	w := &workload{
		vm:    v,
		info:  v.NewProfileTypeInfo(slotCount),
		x:     v.Intern("x"),
		y:     v.Intern("y"),
		z:     v.Intern("z"),
		total: v.Intern("total"),
	}
	w.retained = v.NewOldTaggedArray(retain)
	v.Heap().AddRootProvider(w)
	return w
}

// VisitRoots reports the retained array to the collector.
func (w *workload) VisitRoots(visit func(slot *vm.Value)) {
	visit(&w.retained)
}

func (w *workload) release() {
	w.vm.ReleaseProfileTypeInfo(w.info)
}

func (w *workload) check(v vm.Value) error {
	if v.IsException() {
		return w.vm.PendingError()
	}
	return nil
}

// step allocates one point object and one small array and reads them back.
func (w *workload) step(i int) error {
	v := w.vm
	scope := v.OpenHandleScope()
	defer scope.Close()

	proto := v.NewHandle(v.ObjectPrototype())
	obj := v.NewHandle(v.NewObjectWithProto(proto.Get()))
	if err := w.check(obj.Get()); err != nil {
		return err
	}
	for slot, kv := range [][2]vm.Value{
		{w.x, vm.FromInt(i)},
		{w.y, vm.FromInt(i * 2)},
		{w.z, vm.FromFloat64(float64(i) / 2)},
	} {
		if err := w.check(v.StoreICByName(w.info, slotStoreX+slot, obj.Get(), kv[0], kv[1])); err != nil {
			return err
		}
	}

	arr := v.NewHandle(v.NewArray(0))
	if err := w.check(arr.Get()); err != nil {
		return err
	}
	for j := 0; j < 4; j++ {
		if err := w.check(v.StoreICByValue(w.info, slotStoreElem, arr.Get(), vm.FromInt(j), vm.FromInt(i+j))); err != nil {
			return err
		}
	}
	if err := w.check(v.StoreICByName(w.info, slotStoreZ, obj.Get(), w.z, arr.Get())); err != nil {
		return err
	}

	x := v.LoadICByName(w.info, slotLoadX, obj.Get(), w.x)
	if err := w.check(x); err != nil {
		return err
	}
	last := v.LoadICByValue(w.info, slotLoadElem, arr.Get(), vm.FromInt(3))
	if err := w.check(last); err != nil {
		return err
	}
	if x.SmallInt()+3 != last.SmallInt() {
		return fmt.Errorf("iteration %d: element 3 = %s, want %d", i, last, x.SmallInt()+3)
	}

	total := v.TryLoadGlobalICByName(w.info, slotGlobalLoad, w.total)
	if total.IsHole() || total.IsUndefined() {
		total = vm.FromInt(0)
	}
	if err := w.check(v.TryStoreGlobalICByName(w.info, slotGlobalStore, w.total, vm.FromInt(int(total.SmallInt())+1))); err != nil {
		return err
	}

	if n := v.TaggedArrayLength(w.retained); n > 0 && i%7 == 0 {
		v.TaggedArraySet(w.retained, (i/7)%n, obj.Get())
	}
	return nil
}

// run executes n steps.
func (w *workload) run(n int) error {
	if err := w.check(w.vm.StoreGlobalVar(w.total, vm.FromInt(0))); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.step(i); err != nil {
			return err
		}
	}
	return nil
}

// constants returns a tagged-array tree describing the workload, suitable
// for the snapshot space.
func (w *workload) constants() vm.Value {
	v := w.vm
	scope := v.OpenHandleScope()
	defer scope.Close()

	keys := v.NewHandle(v.NewTaggedArray(4))
	for i, k := range []vm.Value{w.x, w.y, w.z, w.total} {
		v.TaggedArraySet(keys.Get(), i, k)
	}
	pool := v.NewTaggedArray(2)
	v.TaggedArraySet(pool, 0, keys.Get())
	v.TaggedArraySet(pool, 1, v.LoadGlobalVar(w.total))
	return pool
}
