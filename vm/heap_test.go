package vm

import (
	"errors"
	"testing"
)

// newTestVM creates a VM with concurrent marking and sweeping off, so every
// collection finishes before the call that caused it returns.
func newTestVM(t *testing.T, configure func(*Options)) *VM {
	t.Helper()
	opts := DefaultOptions()
	opts.Heap.ConcurrentMarking = false
	opts.Heap.ConcurrentSweeping = false
	if configure != nil {
		configure(&opts)
	}
	v := NewVM(opts)
	t.Cleanup(v.Close)
	return v
}

// recordEvents collects every heap event from now on.
func recordEvents(h *Heap) *[]HeapEvent {
	var events []HeapEvent
	h.AddGCListener(func(e HeapEvent) { events = append(events, e) })
	return &events
}

func TestOldToNewPointerSurvivesMinorGC(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	arr := v.NewHandle(v.NewOldTaggedArray(1))
	obj := v.NewObject()
	x := v.Intern("x")
	if r := v.SetPropertyByName(obj, x, FromInt(42)); r.IsException() {
		t.Fatalf("SetPropertyByName failed: %v", v.PendingError())
	}
	// The young object is referenced only from the old array.
	v.TaggedArraySet(arr.Get(), 0, obj)

	r := v.Heap().RegionAllocator().RegionOf(arr.Get().Address())
	if r.InYoungSpace() {
		t.Fatal("Expected the old tagged array outside the young generation")
	}
	slot := arr.Get().Address() + taggedArraySlot(0)
	if !r.TestOldToNewRSet(slot) {
		t.Fatal("Expected the barrier to record the old-to-new slot")
	}

	v.Heap().CollectGarbage(SemiGC)

	moved := v.TaggedArrayGet(arr.Get(), 0)
	if moved == obj {
		t.Error("Expected the young object to move")
	}
	if got := v.GetPropertyByName(moved, x); got != FromInt(42) {
		t.Errorf("Expected x = 42 after the collection, got %s", got)
	}
	if !r.TestOldToNewRSet(slot) {
		t.Error("Expected the slot to stay recorded while it still points into the young generation")
	}

	// The second collection promotes the survivor, so the slot no longer
	// needs to be remembered.
	v.Heap().CollectGarbage(SemiGC)
	promoted := v.TaggedArrayGet(arr.Get(), 0)
	if v.Heap().RegionAllocator().RegionOf(promoted.Address()).InYoungSpace() {
		t.Error("Expected the object to be promoted by the second young collection")
	}
	if r.TestOldToNewRSet(slot) {
		t.Error("Expected the slot to be dropped from the remembered set after promotion")
	}
	if got := v.GetPropertyByName(promoted, x); got != FromInt(42) {
		t.Errorf("Expected x = 42 after promotion, got %s", got)
	}
}

func TestRememberedSetBitDecodesToSlot(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	arr := v.NewHandle(v.NewOldTaggedArray(8))
	v.TaggedArraySet(arr.Get(), 5, v.NewObject())

	r := v.Heap().RegionAllocator().RegionOf(arr.Get().Address())
	want := arr.Get().Address() + taggedArraySlot(5)
	var slots []Address
	r.IterateAllOldToNewBits(func(slot Address) bool {
		slots = append(slots, slot)
		return true
	})
	if len(slots) != 1 || slots[0] != want {
		t.Fatalf("Expected the single recorded slot %#x, got %#x", uint64(want), slots)
	}

	r.ClearOldToNewRSet(want)
	if r.TestOldToNewRSet(want) {
		t.Error("Expected ClearOldToNewRSet to remove the slot")
	}
}

func TestBarrierIgnoresYoungAndPrimitiveStores(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	old := v.NewHandle(v.NewOldTaggedArray(2))
	v.TaggedArraySet(old.Get(), 0, FromInt(7))
	young := v.NewHandle(v.NewTaggedArray(1))
	v.TaggedArraySet(young.Get(), 0, v.NewObject())

	r := v.Heap().RegionAllocator().RegionOf(old.Get().Address())
	if r.TestOldToNewRSet(old.Get().Address() + taggedArraySlot(0)) {
		t.Error("Expected no remembered slot for a primitive store")
	}
	yr := v.Heap().RegionAllocator().RegionOf(young.Get().Address())
	if yr.OldToNewRSet() != nil && !yr.OldToNewRSet().IsEmpty() {
		t.Error("Expected no remembered slots in a young region")
	}
}

func TestSparseSpaceAllocateWithoutGC(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.Heap.NonMovableMaxCapacity = RegionSize
	})
	space := v.Heap().NonMovableSpace()
	before := v.Heap().GCCount(OldGC)

	const size = 1024
	n := 0
	for ; n < 2*RegionSize/size; n++ {
		if space.Allocate(size, false) == 0 {
			break
		}
	}
	if n == 0 || n >= RegionSize/size {
		t.Errorf("Expected allocation to fail within one region, succeeded %d times", n)
	}
	if got := v.Heap().GCCount(OldGC); got != before {
		t.Errorf("Expected no collection with allowGC=false, got %d", got-before)
	}
	if space.CommittedSize() > RegionSize {
		t.Errorf("Expected committed size within %d, got %d", RegionSize, space.CommittedSize())
	}
}

func TestOldSpaceExhaustionIsFatal(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.Heap.OldSpaceMaxCapacity = 4 * RegionSize
		o.Heap.OldSpaceInitialLimit = RegionSize
	})
	h := v.Heap()
	// Promote everything young first, so no later collection has to find
	// room for survivors.
	h.CollectGarbage(OldGC)

	var fatal *FatalError
	h.SetFatalHandler(func(err *FatalError) { fatal = err })
	events := recordEvents(h)

	scope := v.OpenHandleScope()
	defer scope.Close()
	failed := false
	for i := 0; i < 1000; i++ {
		arr := v.NewOldTaggedArray(1000)
		if arr.IsException() {
			failed = true
			break
		}
		v.NewHandle(arr)
	}
	if !failed {
		t.Fatal("Expected the old space to run out")
	}

	if fatal == nil {
		t.Fatal("Expected the fatal handler to run")
	}
	if !errors.Is(fatal, ErrOutOfMemory) {
		t.Errorf("Expected ErrOutOfMemory, got %v", fatal)
	}
	var oom *OutOfMemoryError
	if !errors.As(fatal, &oom) || oom.Site != "AllocateOldOrHugeObject" {
		t.Errorf("Expected an OutOfMemoryError from AllocateOldOrHugeObject, got %v", fatal)
	}
	if err := v.PendingError(); err == nil {
		t.Error("Expected a pending out-of-memory exception")
	}

	// Walking back from the out-of-memory event: an old collection ran
	// after the allocation failure was reported.
	ev := *events
	last := len(ev) - 1
	if last < 0 || ev[last].Kind != EventOutOfMemory {
		t.Fatalf("Expected the last event to be out-of-memory, got %v", ev)
	}
	sawGC, sawFailure := false, false
	for i := last - 1; i >= 0 && !sawFailure; i-- {
		switch {
		case ev[i].Kind == EventGCFinished && ev[i].GCType == OldGC:
			sawGC = true
		case ev[i].Kind == EventAllocationFailed && ev[i].Space == OldSpaceType:
			sawFailure = true
		}
	}
	if !sawGC || !sawFailure {
		t.Errorf("Expected allocation-failed then an OLD_GC before out-of-memory, got gc=%v failure=%v", sawGC, sawFailure)
	}
}

func TestYoungAllocationFailureRunsSemiGC(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.Heap.SemiSpaceInitialCapacity = RegionSize
		o.Heap.SemiSpaceMaxCapacity = RegionSize
	})
	events := recordEvents(v.Heap())

	for i := 0; i < 4*RegionSize/64; i++ {
		if v.NewObject().IsException() {
			t.Fatalf("Unexpected allocation failure: %v", v.PendingError())
		}
	}
	if v.Heap().GCCount(SemiGC) == 0 {
		t.Fatal("Expected at least one young collection")
	}
	found := false
	for _, e := range *events {
		if e.Kind == EventAllocationFailed && e.Space == SemiSpaceType {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected an allocation-failed event for the semi space")
	}
}

func TestHugeObjectGetsOwnRegion(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	arr := v.NewHandle(v.NewTaggedArray(MaxRegularObjectSize / WordSize))
	if arr.Get().IsException() {
		t.Fatalf("Unexpected allocation failure: %v", v.PendingError())
	}
	r := v.Heap().RegionAllocator().RegionOf(arr.Get().Address())
	if !r.IsHuge() {
		t.Error("Expected a huge region")
	}
	if r.InYoungSpace() {
		t.Error("Expected huge objects outside the young generation")
	}

	v.TaggedArraySet(arr.Get(), 3, v.NewObject())
	v.Heap().CollectGarbage(SemiGC)
	if !v.TaggedArrayGet(arr.Get(), 3).IsHeapObject() {
		t.Error("Expected the young referent of a huge array to survive")
	}
}

func TestFullGCKeepsRootedObjects(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	x := v.Intern("x")
	objs := make([]Handle, 50)
	for i := range objs {
		obj := v.NewObject()
		v.SetPropertyByName(obj, x, FromInt(i))
		objs[i] = v.NewHandle(obj)
		v.NewObject() // garbage
	}

	for _, gc := range []TriggerGCType{OldGC, NonMoveGC, CompressFullGC} {
		v.Heap().CollectGarbage(gc)
		for i, h := range objs {
			if got := v.GetPropertyByName(h.Get(), x); got != FromInt(i) {
				t.Fatalf("%s: expected object %d to keep x, got %s", gc, i, got)
			}
		}
		if v.Heap().GCCount(gc) != 1 {
			t.Errorf("Expected GCCount(%s) = 1, got %d", gc, v.Heap().GCCount(gc))
		}
	}
	if last := v.Heap().LastGC(); last == nil || last.GCType != CompressFullGC {
		t.Errorf("Expected the last collection to be COMPRESS_FULL_GC, got %v", last)
	}
}

func TestStatsReportSpaces(t *testing.T) {
	v := newTestVM(t, nil)
	v.Heap().CollectGarbage(OldGC)

	st := v.Heap().Stats()
	if st.ID != v.Heap().ID().String() {
		t.Errorf("Expected heap ID %s, got %s", v.Heap().ID(), st.ID)
	}
	if st.Committed <= 0 {
		t.Errorf("Expected committed memory, got %d", st.Committed)
	}
	if st.GCCounts["OLD_GC"] != 1 {
		t.Errorf("Expected one OLD_GC, got %v", st.GCCounts)
	}
	seen := map[string]bool{}
	for _, s := range st.Spaces {
		seen[s.Type] = true
	}
	for _, name := range []string{"semi", "old", "non-movable", "huge-object"} {
		if !seen[name] {
			t.Errorf("Expected stats for the %s space", name)
		}
	}
}

func TestParseTriggerGCType(t *testing.T) {
	for _, gc := range []TriggerGCType{SemiGC, OldGC, NonMoveGC, HugeGC, CompressFullGC} {
		got, err := ParseTriggerGCType(gc.String())
		if err != nil || got != gc {
			t.Errorf("Expected %s to parse back, got %v (%v)", gc, got, err)
		}
	}
	if _, err := ParseTriggerGCType("NOT_A_GC"); err == nil {
		t.Error("Expected an error for an unknown name")
	}
}
