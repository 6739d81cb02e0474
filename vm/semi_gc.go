package vm

import "fmt"

// ---------------------------------------------------------------------------
// SEMI_GC: copying collection of the young generation
// ---------------------------------------------------------------------------

// semiCollector holds the state of one young collection. Survivors are
// copied into the to-space (Cheney scan) unless they are below the age
// mark, in which case they are promoted into the old space.
type semiCollector struct {
	h        *Heap
	from, to *SemiSpace

	promoteAll   bool
	markPromoted bool

	promoted []Address

	scanRegion int
	scanAddr   Address

	survivedBytes int
	promotedBytes int
}

// semiGC runs a young collection. With promoteAll every survivor moves to
// the old space; with markPromoted promoted objects are also marked and
// queued for the running old marking. It returns the bytes copied.
func (h *Heap) semiGC(promoteAll, markPromoted bool) int {
	allocatedSinceGC := h.activeSemi.AllocatedSizeSinceGC()
	c := &semiCollector{
		h:            h,
		from:         h.activeSemi,
		to:           h.inactiveSemi,
		promoteAll:   promoteAll,
		markPromoted: markPromoted,
	}
	if !c.to.Restart() {
		h.Fatal(fmt.Errorf("%w: no region for the young to-space", ErrOutOfMemory))
		return 0
	}

	h.visitRoots(func(slot *Value) { *slot = c.evacuate(*slot) })
	c.scanRememberedSets()
	for c.scanNext() {
	}

	h.activeSemi, h.inactiveSemi = c.to, c.from
	c.from.Reset()
	c.to.SetAgeMark()
	c.to.addSurvivalObjectSize(c.survivedBytes)
	h.promotedBytes = c.promotedBytes
	if c.to.AdjustCapacity(allocatedSinceGC, h.memController.NewSpaceAllocationThroughputPerMS()) {
		c.from.SetInitialCapacity(c.to.InitialCapacity())
		h.gcLog.Debugf("semi space capacity adjusted to %d", c.to.InitialCapacity())
	}
	h.gcLog.Debugf("semi gc: %d bytes survived, %d bytes promoted", c.survivedBytes, c.promotedBytes)
	return c.survivedBytes + c.promotedBytes
}

func (c *semiCollector) inFromSpace(r *Region) bool {
	return r != nil && r.Space() == &c.from.Space
}

func (c *semiCollector) isYoung(v Value) bool {
	if !v.IsHeapObject() {
		return false
	}
	r := c.h.regionAllocator.RegionOf(v.Address())
	return r != nil && r.InYoungSpace()
}

// evacuate returns the new location of the object v refers to, copying it
// on first visit. Values outside the from-space are returned unchanged.
func (c *semiCollector) evacuate(v Value) Value {
	if !v.IsHeapObject() {
		return v
	}
	addr := v.Address()
	r := c.h.regionAllocator.RegionOf(addr)
	if !c.inFromSpace(r) {
		return v
	}
	hdr := r.Load(addr)
	if isForwarded(hdr) {
		return FromAddress(forwardingAddress(hdr))
	}
	hc := c.h.classAt(r, addr)
	size := objectSizeOf(hc, r, addr)

	promote := c.promoteAll || c.from.BelowAgeMark(r, addr)
	var dst Address
	if !promote {
		if dst = c.to.bump(size); dst == 0 && c.to.Expand(c.to.MaximumCapacity()) {
			dst = c.to.bump(size)
		}
		promote = dst == 0
	}
	if promote {
		if dst = c.h.oldSpace.Allocate(size, false); dst == 0 {
			c.h.ThrowOutOfMemoryError(size, "semi gc promotion")
			return v
		}
	}

	dr := c.h.regionOf(dst)
	dr.CopyWords(dst, r, addr, size)
	r.Store(addr, forwardBit|uint64(dst))
	if promote {
		c.promotedBytes += size
		c.promoted = append(c.promoted, dst)
		if c.markPromoted && !dr.AtomicMark(dst) {
			c.h.workManager.Push(dst)
		}
	} else {
		c.survivedBytes += size
	}
	return FromAddress(dst)
}

// updateSlot evacuates the referent of the slot at addr in r and returns
// the slot's new value.
func (c *semiCollector) updateSlot(r *Region, slot Address) Value {
	v := Value(r.Load(slot))
	nv := c.evacuate(v)
	if nv != v {
		r.Store(slot, uint64(nv))
	}
	return nv
}

// scanRememberedSets treats every recorded old-to-new slot as a root. A bit
// survives only if its slot still refers to a young object afterwards.
func (c *semiCollector) scanRememberedSets() {
	visit := func(r *Region) {
		r.IterateAllOldToNewBits(func(slot Address) bool {
			return c.isYoung(c.updateSlot(r, slot))
		})
	}
	sweeper := c.h.sweeper
	for _, space := range []*SparseSpace{&c.h.oldSpace.SparseSpace, &c.h.nonMovableSpace.SparseSpace} {
		space.EnumerateRegions(func(r *Region) {
			sweeper.EnsureRegionSwept(r)
			visit(r)
		})
	}
	for _, r := range c.h.oldSpace.CollectSet() {
		visit(r)
	}
	c.h.hugeObjectSpace.EnumerateRegions(visit)
}

// scanNext scans one copied object: first from the to-space cursor, then
// from the promoted queue. It returns false once both are exhausted.
func (c *semiCollector) scanNext() bool {
	if r, obj, ok := c.nextToSpaceObject(); ok {
		c.scanObject(r, obj, false)
		return true
	}
	if n := len(c.promoted); n > 0 {
		obj := c.promoted[n-1]
		c.promoted = c.promoted[:n-1]
		c.scanObject(c.h.regionOf(obj), obj, true)
		return true
	}
	return false
}

// nextToSpaceObject advances the Cheney cursor over the to-space.
func (c *semiCollector) nextToSpaceObject() (*Region, Address, bool) {
	to := c.to
	for {
		to.mu.Lock()
		if c.scanRegion >= len(to.regions) {
			to.mu.Unlock()
			return nil, 0, false
		}
		r := to.regions[c.scanRegion]
		to.mu.Unlock()
		if c.scanAddr == 0 {
			c.scanAddr = r.Begin()
		}
		if c.scanAddr < to.regionTop(r) {
			obj := c.scanAddr
			c.scanAddr += Address(c.h.objectSizeIn(r, obj))
			return r, obj, true
		}
		if r == to.current.Load() {
			return nil, 0, false
		}
		c.scanRegion++
		c.scanAddr = 0
	}
}

// scanObject updates every slot of a copied object. Promoted objects get
// remembered set entries for slots that still refer to young objects and,
// while marking, cross-region entries for slots into the collect set.
func (c *semiCollector) scanObject(r *Region, obj Address, promoted bool) {
	hc := c.h.classAt(r, obj)
	marking := c.h.marking.Load()
	iterateSlots(hc, r, obj, func(slot Address) {
		nv := c.updateSlot(r, slot)
		if !promoted || !nv.IsHeapObject() {
			return
		}
		tr := c.h.regionAllocator.RegionOf(nv.Address())
		if tr == nil {
			return
		}
		if tr.InYoungSpace() {
			r.AtomicInsertOldToNewRSet(slot)
		} else if marking && tr.InCollectSet() {
			r.AtomicInsertCrossRegionRSet(slot)
		}
	})
}
