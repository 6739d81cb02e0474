package vm

import "testing"

// fillOld allocates n old tagged arrays of the given length, keeping every
// keep-th one alive through a handle.
func fillOld(t *testing.T, v *VM, n, length, keep int) []Handle {
	t.Helper()
	var kept []Handle
	for i := 0; i < n; i++ {
		arr := v.NewOldTaggedArray(length)
		if arr.IsException() {
			t.Fatalf("NewOldTaggedArray failed: %v", v.PendingError())
		}
		v.TaggedArraySet(arr, 0, FromInt(i))
		if keep > 0 && i%keep == 0 {
			kept = append(kept, v.NewHandle(arr))
		}
	}
	return kept
}

func checkKept(t *testing.T, v *VM, kept []Handle, keep int) {
	t.Helper()
	for j, h := range kept {
		if got := v.TaggedArrayGet(h.Get(), 0); got != FromInt(j*keep) {
			t.Fatalf("Expected kept array %d to hold %d, got %s", j, j*keep, got)
		}
	}
}

func TestSweepReclaimsDeadOldObjects(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOld(t, v, 400, 100, 4)
	old := v.Heap().OldSpace()
	before := old.LiveObjectSize()

	v.Heap().CollectGarbage(OldGC)
	checkKept(t, v, kept, 4)

	after := old.LiveObjectSize()
	if after >= before {
		t.Errorf("Expected live size to drop below %d, got %d", before, after)
	}
	if old.Allocator().Available() == 0 {
		t.Error("Expected swept memory on the free list")
	}
	stats := v.Heap().Sweeper().LastStats()
	if stats == nil || stats.Regions == 0 {
		t.Errorf("Expected sweep statistics, got %+v", stats)
	}

	// Freed memory is reused before the space grows.
	committed := old.CommittedSize()
	fillOld(t, v, 100, 100, 0)
	if old.CommittedSize() != committed {
		t.Errorf("Expected allocation from the free list, committed grew from %d to %d", committed, old.CommittedSize())
	}
}

func TestConcurrentSweep(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.Heap.ConcurrentSweeping = true })
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOld(t, v, 600, 100, 3)
	sweeper := v.Heap().Sweeper()
	cycles := sweeper.SweepCount()

	v.Heap().CollectGarbage(OldGC)
	// Allocating while the sweep may still run takes swept regions first.
	more := fillOld(t, v, 50, 100, 1)
	sweeper.EnsureAllTaskFinished()

	if sweeper.IsSweeping() {
		t.Error("Expected sweeping to be joined")
	}
	if sweeper.SweepCount() != cycles+1 {
		t.Errorf("Expected one more sweep cycle, got %d", sweeper.SweepCount()-cycles)
	}
	if st := v.Heap().OldSpace().SweepState(); st != SweepStateSwept {
		t.Errorf("Expected the old space swept, got %v", st)
	}
	checkKept(t, v, kept, 3)
	checkKept(t, v, more, 1)

	// The next collection starts from a joined sweep.
	v.Heap().CollectGarbage(OldGC)
	sweeper.EnsureAllTaskFinished()
	checkKept(t, v, kept, 3)
}

func TestConcurrentMarkingWithMutation(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.Heap.ConcurrentMarking = true
		o.Heap.MarkWorkers = 2
	})
	h := v.Heap()
	scope := v.OpenHandleScope()
	defer scope.Close()

	const n = 64
	holder := v.NewHandle(v.NewOldTaggedArray(n))
	x := v.Intern("x")

	h.StartConcurrentMarking()
	if !h.IsMarking() {
		t.Fatal("Expected marking to be active")
	}
	// Replace every slot while marking runs. The old contents become
	// garbage; the new objects are reachable only through the barrier.
	for i := 0; i < n; i++ {
		obj := v.NewObject()
		v.SetPropertyByName(obj, x, FromInt(i))
		v.TaggedArraySet(holder.Get(), i, obj)
	}
	h.WaitConcurrentMarking()
	h.CollectGarbage(OldGC)

	if h.IsMarking() {
		t.Error("Expected the collection to finish marking")
	}
	for i := 0; i < n; i++ {
		obj := v.TaggedArrayGet(holder.Get(), i)
		if got := v.GetPropertyByName(obj, x); got != FromInt(i) {
			t.Fatalf("Expected slot %d to keep x = %d, got %s", i, i, got)
		}
	}
}

func TestYoungGCDuringMarkingFinishesMarking(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.Heap.ConcurrentMarking = true })
	h := v.Heap()
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	h.StartConcurrentMarking()
	h.CollectGarbage(SemiGC)

	if h.IsMarking() {
		t.Error("Expected marking to be finished")
	}
	if last := h.LastGC(); last == nil || last.GCType != OldGC {
		t.Errorf("Expected the young request to run as OLD_GC, got %v", last)
	}
	if !v.IsExtensible(obj.Get()) {
		t.Error("Expected the rooted object to survive")
	}
}

// regionKeep is the number of arrays kept alive per filled region. Dense
// regions stay above the default collect-set live ratio, sparse ones fall
// below it.
var regionKeep = []int{32, 2, 28, 6, 24, 10}

// fillOldRegions fills len(regionKeep) old regions with region-sized runs of
// tagged arrays and keeps regionKeep[i] arrays of the i-th region alive.
// Slot 0 of every kept array holds its position in the returned slice.
func fillOldRegions(t *testing.T, v *VM) []Handle {
	t.Helper()
	ra := v.Heap().RegionAllocator()
	ordinal := map[*Region]int{}
	count := map[*Region]int{}
	var kept []Handle
	for {
		arr := v.NewOldTaggedArray(1000)
		if arr.IsException() {
			t.Fatalf("NewOldTaggedArray failed: %v", v.PendingError())
		}
		r := ra.RegionOf(arr.Address())
		if _, ok := ordinal[r]; !ok {
			if len(ordinal) == len(regionKeep) {
				return kept
			}
			ordinal[r] = len(ordinal)
		}
		if count[r] < regionKeep[ordinal[r]] {
			v.TaggedArraySet(arr, 0, FromInt(len(kept)))
			kept = append(kept, v.NewHandle(arr))
		}
		count[r]++
	}
}

func TestSweepingVisitsEmptiestRegionsFirst(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOldRegions(t, v)
	h := v.Heap()
	// The first collection leaves per-region live statistics behind.
	h.CollectGarbage(OldGC)
	old := h.OldSpace()

	old.PrepareSweeping()
	var order []int
	for r := old.GetSweepingRegionSafe(); r != nil; r = old.GetSweepingRegionSafe() {
		order = append(order, r.AliveObject())
		old.SweepRegion(r, true)
		r.sweepState.Store(regionSweepNone)
	}
	old.setSweepState(SweepStateSwept)

	if len(order) != old.RegionCount() {
		t.Fatalf("Expected every region to be queued once, got %d of %d", len(order), old.RegionCount())
	}
	distinct := map[int]bool{}
	for i, alive := range order {
		distinct[alive] = true
		if i > 0 && alive < order[i-1] {
			t.Fatalf("Expected regions in ascending live size, got %v", order)
		}
	}
	if len(distinct) < 3 {
		t.Errorf("Expected regions with different live sizes, got %v", order)
	}
	checkKept(t, v, kept, 1)
}

func TestSelectAndRevertCollectSet(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOldRegions(t, v)
	h := v.Heap()
	h.CollectGarbage(OldGC)
	old := h.OldSpace()
	regions, committed, live := old.RegionCount(), old.CommittedSize(), old.LiveObjectSize()

	if n := old.SelectCSet(0.5, len(regionKeep)*10, 64, false); n != 0 {
		t.Errorf("Expected no selection below the minimum region count, got %d", n)
	}
	if len(old.CollectSet()) != 0 || old.RegionCount() != regions {
		t.Fatal("Expected a dropped selection to leave the space untouched")
	}

	n := old.SelectCSet(0.5, 2, 64, false)
	if n < 3 {
		t.Fatalf("Expected at least the 3 sparse regions in the collect set, got %d", n)
	}
	limit := RegionSize / 2
	selected := 0
	for i, r := range old.CollectSet() {
		if !r.InCollectSet() {
			t.Error("Expected collect-set regions to be flagged")
		}
		if r.AliveObject() >= limit {
			t.Errorf("Expected only regions below %d live bytes, got %d", limit, r.AliveObject())
		}
		if i > 0 && r.AliveObject() < old.CollectSet()[i-1].AliveObject() {
			t.Error("Expected the collect set ordered emptiest first")
		}
		selected += r.AliveObject()
	}
	if old.RegionCount() != regions-n {
		t.Errorf("Expected %d regions left in the space, got %d", regions-n, old.RegionCount())
	}
	if old.CommittedSize() != committed-n*RegionSize {
		t.Errorf("Expected committed %d, got %d", committed-n*RegionSize, old.CommittedSize())
	}
	if old.LiveObjectSize() != live-selected {
		t.Errorf("Expected live size %d without the collect set, got %d", live-selected, old.LiveObjectSize())
	}

	first := old.CollectSet()[0]
	emptiest := first.AliveObject()
	old.RevertCSet()
	if len(old.CollectSet()) != 0 {
		t.Error("Expected revert to empty the collect set")
	}
	if first.InCollectSet() || first.Space() != &old.Space {
		t.Error("Expected revert to return the region to the old space")
	}
	if old.RegionCount() != regions || old.CommittedSize() != committed || old.LiveObjectSize() != live {
		t.Errorf("Expected revert to restore %d regions, %d committed, %d live; got %d, %d, %d",
			regions, committed, live, old.RegionCount(), old.CommittedSize(), old.LiveObjectSize())
	}

	if n := old.SelectCSet(0.5, 2, 1, false); n != 1 || old.CollectSet()[0].AliveObject() != emptiest {
		t.Errorf("Expected the cap to keep only the emptiest region, got %d", n)
	}
	old.RevertCSet()
	checkKept(t, v, kept, 1)
}

func TestOldGCEvacuatesCollectSet(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOldRegions(t, v)
	h := v.Heap()
	h.CollectGarbage(OldGC)
	old := h.OldSpace()
	ra := h.RegionAllocator()

	before := make([]Address, len(kept))
	sparse := map[Address]bool{}
	for i, k := range kept {
		addr := k.Get().Address()
		before[i] = addr
		sparse[addr] = ra.RegionOf(addr).AliveObject() < RegionSize/2
	}
	regions := old.RegionCount()
	events := recordEvents(h)

	h.CollectGarbage(OldGC)

	for _, e := range *events {
		if e.Kind == EventCSetReverted {
			t.Fatalf("Expected the collect set to be evacuated, got %+v", e)
		}
	}
	if len(old.CollectSet()) != 0 {
		t.Error("Expected the collect set to be reclaimed")
	}
	moved := 0
	for i, k := range kept {
		addr := k.Get().Address()
		r := ra.RegionOf(addr)
		if r.InCollectSet() {
			t.Fatalf("Expected array %d outside the collect set", i)
		}
		if r.Space() != &old.Space {
			t.Fatalf("Expected array %d in a region merged into the old space", i)
		}
		switch {
		case sparse[before[i]] && addr != before[i]:
			moved++
		case sparse[before[i]]:
			t.Errorf("Expected array %d in a sparse region to move", i)
		case addr != before[i]:
			t.Errorf("Expected array %d in a dense region to stay", i)
		}
	}
	if moved < regionKeep[1]+regionKeep[3]+regionKeep[5] {
		t.Errorf("Expected the arrays of the sparse regions to move, got %d", moved)
	}
	if old.RegionCount() >= regions {
		t.Errorf("Expected compaction to shrink the old space from %d regions, got %d", regions, old.RegionCount())
	}
	checkKept(t, v, kept, 1)
}

func TestCollectSetRevertedWithoutEvacuationSpace(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	kept := fillOldRegions(t, v)
	h := v.Heap()
	h.CollectGarbage(OldGC)
	old := h.OldSpace()

	before := make([]Address, len(kept))
	for i, k := range kept {
		before[i] = k.Get().Address()
	}
	regions, capacity := old.RegionCount(), old.MaximumCapacity()

	// Shrink the old space once the collection starts so the collect set
	// has nowhere to go, and restore it when the collect set is reverted.
	var reverted []HeapEvent
	armed := true
	h.AddGCListener(func(e HeapEvent) {
		switch {
		case e.Kind == EventGCTriggered && armed:
			armed = false
			old.SetMaximumCapacity(1)
		case e.Kind == EventCSetReverted:
			reverted = append(reverted, e)
			old.SetMaximumCapacity(capacity)
		}
	})

	h.CollectGarbage(OldGC)

	if len(reverted) != 1 {
		t.Fatalf("Expected one cset-reverted event, got %d", len(reverted))
	}
	if e := reverted[0]; e.Space != OldSpaceType || e.Size < 3 {
		t.Errorf("Expected the old space to revert at least 3 regions, got %+v", e)
	}
	if old.MaximumCapacity() != capacity {
		t.Fatalf("Expected the capacity restored to %d, got %d", capacity, old.MaximumCapacity())
	}
	if len(old.CollectSet()) != 0 || old.RegionCount() != regions {
		t.Errorf("Expected all %d regions back in the old space, got %d", regions, old.RegionCount())
	}
	for i, k := range kept {
		addr := k.Get().Address()
		if addr != before[i] {
			t.Errorf("Expected array %d to stay in place", i)
		}
		if h.RegionAllocator().RegionOf(addr).InCollectSet() {
			t.Errorf("Expected array %d outside the collect set", i)
		}
	}
	checkKept(t, v, kept, 1)
}
