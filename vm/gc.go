package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Collection entry point
// ---------------------------------------------------------------------------

// CollectGarbage runs a collection of type t on the mutator goroutine. A
// young collection requested while concurrent marking is in progress
// finishes the marking instead, which collects both generations.
func (h *Heap) CollectGarbage(t TriggerGCType) {
	if h.inGC {
		h.Fatal(ErrGCReentered)
		return
	}
	h.inGC = true
	defer func() { h.inGC = false }()

	h.emit(HeapEvent{Kind: EventGCTriggered, GCType: t})
	h.memController.StartCalculationBeforeGC(h.activeSemi.AllocatedSizeSinceGC(), h.oldGenerationSize())

	var processed int
	switch {
	case t == SemiGC && h.marking.Load():
		t = OldGC
		processed = h.finishConcurrentMarking()
	case t == SemiGC:
		processed = h.semiGC(false, false)
	default:
		processed = h.fullGC(t)
	}

	d := h.memController.StopCalculationAfterGC(t, processed, h.oldGenerationSize())
	h.gcCount[t]++
	ev := HeapEvent{
		Kind:      EventGCFinished,
		GCType:    t,
		Duration:  d,
		HeapSize:  h.regionAllocator.Committed(),
		LiveBytes: processed,
		Promoted:  h.promotedBytes,
	}
	h.lastGC = &ev
	h.emit(ev)
	h.gcLog.Infof("%s finished in %s: committed %d, processed %d, old limit %d",
		t, d, ev.HeapSize, processed, h.oldSpaceLimit)
}

// ---------------------------------------------------------------------------
// Old and full collections
// ---------------------------------------------------------------------------

// fullGC collects both generations: promote-all young collection, marking,
// partial compaction of the collect set and sweeping. COMPRESS_FULL_GC puts
// every eligible old region into the collect set.
func (h *Heap) fullGC(t TriggerGCType) int {
	if h.marking.Load() {
		return h.finishConcurrentMarking()
	}
	h.prepareMarking(t)
	h.semiGC(true, false)
	h.clearMarks()
	h.markRoots()
	h.drainMarking()
	return h.evacuateAndSweep()
}

// prepareMarking joins the previous sweep, makes every sparse space walkable,
// opens a new marking epoch and selects the collect set from the live
// statistics of the last sweep.
func (h *Heap) prepareMarking(t TriggerGCType) {
	h.sweeper.EnsureAllTaskFinished()
	for _, st := range sweepSpaceTypes {
		h.sparseSpace(st).Allocator().FillBumpPointer()
	}
	h.epoch.Add(1)
	n := h.oldSpace.SelectCSet(h.options.CSetLiveRatio, h.options.MinCSetRegions,
		h.options.MaxCSetRegions, t == CompressFullGC)
	if n > 0 {
		h.gcLog.Debugf("%s: %d regions in the collect set", t, n)
	}
}

// evacuateAndSweep finishes a collection after marking completed.
func (h *Heap) evacuateAndSweep() int {
	if len(h.oldSpace.CollectSet()) > 0 {
		if h.checkEvacuationSpace() {
			h.evacuateCollectSet()
		} else {
			h.gcLog.Noticef("not enough space to evacuate %d regions, reverting the collect set",
				len(h.oldSpace.CollectSet()))
			h.emit(HeapEvent{Kind: EventCSetReverted, Space: OldSpaceType, Size: len(h.oldSpace.CollectSet())})
			h.oldSpace.RevertCSet()
		}
	}
	live := h.markedBytes()
	h.sweeper.Sweep()
	if h.classSweeper != nil {
		if n := h.classSweeper(h.epoch.Load()); n > 0 {
			h.gcLog.Debugf("%d hidden classes reclaimed", n)
		}
	}
	h.recomputeOldSpaceLimit(live)
	return live
}

// checkEvacuationSpace packs the live objects of the collect set into
// imaginary regions and reports whether that many regions fit into both
// the old space and the heap.
func (h *Heap) checkEvacuationSpace() bool {
	regions, used := 0, RegionSize
	for _, r := range h.oldSpace.CollectSet() {
		r.IterateAllMarkedBits(func(obj Address) bool {
			size := h.objectSizeIn(r, obj)
			if used+size > RegionSize {
				regions++
				used = 0
			}
			used += size
			return true
		})
	}
	need := regions * RegionSize
	if h.oldSpace.CommittedSize()+need > h.oldSpace.MaximumCapacity() {
		return false
	}
	return h.regionAllocator.Committed()+need <= h.regionAllocator.MaxHeapSize()
}

// evacuateCollectSet copies every marked object out of the collect set,
// updates all references to the copies and frees the collect set.
func (h *Heap) evacuateCollectSet() {
	local := newLocalSpace(h)
	var copied []Address
	for _, r := range h.oldSpace.CollectSet() {
		r.IterateAllMarkedBits(func(obj Address) bool {
			hc := h.classAt(r, obj)
			size := objectSizeOf(hc, r, obj)
			dst := local.Allocate(size)
			if dst == 0 {
				h.ThrowOutOfMemoryError(size, "evacuation")
				return false
			}
			dr := h.regionOf(dst)
			dr.CopyWords(dst, r, obj, size)
			r.Store(obj, forwardBit|uint64(dst))
			dr.AtomicMark(dst)
			dr.IncreaseAliveObject(size)
			copied = append(copied, dst)
			return true
		})
	}

	h.visitRoots(func(slot *Value) { *slot = h.forwardValue(*slot) })
	update := func(r *Region) {
		r.IterateAllCrossRegionBits(func(slot Address) bool {
			v := Value(r.Load(slot))
			if nv := h.forwardValue(v); nv != v {
				r.Store(slot, uint64(nv))
			}
			return true
		})
		r.DeleteCrossRegionRSet()
	}
	for _, st := range sweepSpaceTypes {
		h.sparseSpace(st).EnumerateRegions(update)
	}
	h.hugeObjectSpace.EnumerateRegions(update)
	for _, obj := range copied {
		r := h.regionOf(obj)
		iterateSlots(h.classAt(r, obj), r, obj, func(slot Address) {
			v := Value(r.Load(slot))
			if nv := h.forwardValue(v); nv != v {
				r.Store(slot, uint64(nv))
			}
		})
	}

	n := len(h.oldSpace.CollectSet())
	h.oldSpace.ReclaimCSet()
	h.oldSpace.Merge(local)
	h.gcLog.Debugf("evacuated %d objects out of %d regions", len(copied), n)
}

// forwardValue returns the evacuated location of v, or v itself.
func (h *Heap) forwardValue(v Value) Value {
	if !v.IsHeapObject() {
		return v
	}
	addr := v.Address()
	r := h.regionAllocator.RegionOf(addr)
	if r == nil || !r.InCollectSet() {
		return v
	}
	if hdr := r.Load(addr); isForwarded(hdr) {
		return FromAddress(forwardingAddress(hdr))
	}
	return v
}

// recomputeOldSpaceLimit sets the committed size that triggers the next old
// collection. Close to the maximum the growing factor is conservative.
func (h *Heap) recomputeOldSpaceLimit(live int) {
	factor := h.memController.CurrentGrowingFactor()
	if h.oldGenerationSize() >= h.oldSpace.MaximumCapacity()*9/10 {
		factor = h.options.Pacing.ConservativeGrowingFactor
	}
	h.oldSpaceLimit = h.memController.CalculateAllocLimit(live, h.options.OldSpaceInitialLimit,
		h.oldSpace.MaximumCapacity(), h.activeSemi.InitialCapacity(), factor)
}

// ---------------------------------------------------------------------------
// Concurrent marking
// ---------------------------------------------------------------------------

// StartConcurrentMarking opens a marking cycle that runs on background
// workers while the mutator continues. The marking barrier stays active
// until a collection finishes the cycle.
func (h *Heap) StartConcurrentMarking() {
	if h.marking.Load() || h.inGC {
		return
	}
	h.prepareMarking(OldGC)
	h.clearMarks()
	h.allocatedWhileMarking = h.allocatedWhileMarking[:0]
	h.markComplete.Store(false)
	h.markErr = nil
	h.marking.Store(true)
	h.markRoots()
	h.markStarted = time.Now()
	h.emit(HeapEvent{Kind: EventConcurrentMarkStarted, GCType: OldGC})
	h.gcLog.Infof("concurrent marking started, epoch %d", h.epoch.Load())

	done := make(chan struct{})
	h.markDone = done
	go func() {
		defer close(done)
		complete, err := h.workManager.Drain(h.options.MarkWorkers, h.markObject)
		h.markErr = err
		h.markComplete.Store(complete)
	}()
}

// concurrentMarkFinished reports whether the background workers found no
// more work.
func (h *Heap) concurrentMarkFinished() bool {
	return h.marking.Load() && h.markComplete.Load()
}

// WaitConcurrentMarking blocks until the background workers ran out of
// work. Marking stays active; the next collection finishes it.
func (h *Heap) WaitConcurrentMarking() {
	if done := h.markDone; done != nil {
		<-done
	}
}

// waitConcurrentMarking stops the background workers and waits for them.
func (h *Heap) waitConcurrentMarking() {
	done := h.markDone
	if done == nil {
		return
	}
	h.workManager.Stop()
	<-done
	h.markDone = nil
}

// finishConcurrentMarking completes the cycle on the mutator goroutine:
// the young generation is promoted with its survivors marked, roots and
// objects allocated during marking are rescanned, and the remaining work is
// drained before evacuation and sweeping.
func (h *Heap) finishConcurrentMarking() int {
	h.waitConcurrentMarking()
	if h.markErr != nil {
		h.Fatal(h.markErr)
		return 0
	}
	h.memController.RecordConcurrentMark(h.markedBytes(), time.Since(h.markStarted))

	h.semiGC(true, true)
	h.markRoots()
	for _, obj := range h.allocatedWhileMarking {
		h.workManager.Push(obj)
	}
	h.allocatedWhileMarking = h.allocatedWhileMarking[:0]
	h.drainMarking()
	h.marking.Store(false)
	h.markComplete.Store(false)
	return h.evacuateAndSweep()
}
