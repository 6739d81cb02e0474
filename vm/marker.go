package vm

import "fmt"

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// shade marks the object v refers to and queues it. Young and snapshot
// objects are never marked: the young generation is emptied before marking
// completes and the snapshot space is immortal.
func (h *Heap) shade(v Value, push func(Address)) {
	if !v.IsHeapObject() {
		return
	}
	addr := v.Address()
	r := h.regionAllocator.RegionOf(addr)
	if r == nil || r.InYoungSpace() || r.InSnapshotSpace() {
		return
	}
	if !r.AtomicMark(addr) {
		push(addr)
	}
}

// markObject scans one grey object: it stamps the object's class with the
// current epoch, counts the object as alive and greys its referents.
// Slots pointing into the collect set from outside it are recorded in the
// cross-region remembered set for the evacuation update pass.
func (h *Heap) markObject(obj Address, push func(Address)) error {
	r := h.regionAllocator.RegionOf(obj)
	if r == nil {
		return fmt.Errorf("%w: marked address %#x outside the heap", ErrCorruptedHeap, uint64(obj))
	}
	hdr := r.Load(obj)
	if isForwarded(hdr) {
		return fmt.Errorf("%w: forwarded object %#x on the mark stack", ErrCorruptedHeap, uint64(obj))
	}
	hc := h.classes.Get(classIDOf(hdr))
	if hc == nil {
		return fmt.Errorf("%w: object %#x has unknown class %d", ErrCorruptedHeap, uint64(obj), classIDOf(hdr))
	}
	hc.markEpoch.Store(h.epoch.Load())
	r.IncreaseAliveObject(objectSizeOf(hc, r, obj))

	inCSet := r.InCollectSet()
	iterateSlots(hc, r, obj, func(slot Address) {
		v := Value(r.Load(slot))
		if !v.IsHeapObject() {
			return
		}
		target := v.Address()
		tr := h.regionAllocator.RegionOf(target)
		if tr == nil || tr.InYoungSpace() || tr.InSnapshotSpace() {
			return
		}
		if tr.InCollectSet() && !inCSet {
			r.AtomicInsertCrossRegionRSet(slot)
		}
		if !tr.AtomicMark(target) {
			push(target)
		}
	})
	return nil
}

// markRoots shades every root into the shared worklist.
func (h *Heap) markRoots() {
	h.visitRoots(func(slot *Value) { h.shade(*slot, h.workManager.Push) })
}

// drainMarking runs the mark workers until the worklist is empty. A
// corrupted object is fatal.
func (h *Heap) drainMarking() bool {
	complete, err := h.workManager.Drain(h.options.MarkWorkers, h.markObject)
	if err != nil {
		h.Fatal(err)
		return false
	}
	return complete
}

// clearMarks drops mark bits and live statistics of every region that can
// be marked.
func (h *Heap) clearMarks() {
	reset := func(r *Region) {
		r.ClearMarkBitmap()
		r.ResetAliveObject()
	}
	for _, t := range sweepSpaceTypes {
		h.sparseSpace(t).EnumerateRegions(reset)
	}
	for _, r := range h.oldSpace.CollectSet() {
		reset(r)
	}
	h.hugeObjectSpace.EnumerateRegions(reset)
	h.workManager.Reset()
}

// markedBytes sums the live bytes found by the last marking.
func (h *Heap) markedBytes() int {
	n := 0
	sum := func(r *Region) { n += r.AliveObject() }
	for _, t := range sweepSpaceTypes {
		h.sparseSpace(t).EnumerateRegions(sum)
	}
	for _, r := range h.oldSpace.CollectSet() {
		sum(r)
	}
	h.hugeObjectSpace.EnumerateRegions(sum)
	return n
}
