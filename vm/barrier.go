package vm

// ---------------------------------------------------------------------------
// Write barrier
// ---------------------------------------------------------------------------

// SetValueWithBarrier stores value into the slot at obj+offset and runs the
// write barrier. Every store of a heap reference into a heap object must go
// through here.
func (h *Heap) SetValueWithBarrier(obj Address, offset Address, value Value) {
	r := h.regionOf(obj)
	slot := obj + offset
	r.Store(slot, uint64(value))
	h.writeBarrier(r, slot, value)
}

// writeBarrier records slot (in region r) after value was stored into it.
//
// An old object pointing at a young one gets an old-to-new remembered set
// entry; the atomic variant is used whenever GC threads may be reading the
// set. Otherwise, while concurrent marking runs, the value is shaded, and a
// slot pointing into the collect set from outside it and the young
// generation is recorded in the cross-region remembered set.
func (h *Heap) writeBarrier(r *Region, slot Address, value Value) {
	if !value.IsHeapObject() {
		return
	}
	vr := h.regionAllocator.RegionOf(value.Address())
	if vr == nil {
		return
	}
	if !r.InYoungSpace() && vr.InYoungSpace() {
		if h.marking.Load() || h.sweeper.IsSweeping() {
			r.AtomicInsertOldToNewRSet(slot)
		} else {
			r.InsertOldToNewRSet(slot)
		}
		return
	}
	if !h.marking.Load() {
		return
	}
	h.shade(value, h.workManager.Push)
	if vr.InCollectSet() && !r.InCollectSet() && !r.InYoungSpace() {
		r.AtomicInsertCrossRegionRSet(slot)
	}
}

// ReadValue loads the tagged word at obj+offset.
func (h *Heap) ReadValue(obj Address, offset Address) Value {
	return Value(h.regionOf(obj).Load(obj + offset))
}

// ReadWord loads the raw word at obj+offset.
func (h *Heap) ReadWord(obj Address, offset Address) uint64 {
	return h.regionOf(obj).Load(obj + offset)
}

// WriteWord stores a raw, untagged word. No barrier is needed because raw
// words never reference heap objects.
func (h *Heap) WriteWord(obj Address, offset Address, w uint64) {
	h.regionOf(obj).Store(obj+offset, w)
}
