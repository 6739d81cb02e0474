package vm

// FreeListAllocator serves a sparse space: it bump-allocates from the
// current free object and refills from the size-classed free list.
type FreeListAllocator struct {
	top, end   Address
	bumpRegion *Region
	freeList   FreeObjectList
	regionOf   func(Address) *Region
}

func newFreeListAllocator(regionOf func(Address) *Region) *FreeListAllocator {
	return &FreeListAllocator{regionOf: regionOf}
}

// Allocate returns size bytes or 0 if neither the bump range nor the free
// list can satisfy the request.
func (a *FreeListAllocator) Allocate(size int) Address {
	if a.top != 0 && a.top+Address(size) <= a.end {
		addr := a.top
		a.top += Address(size)
		return addr
	}
	obj, n := a.freeList.Allocate(size)
	if obj == 0 {
		return 0
	}
	a.FreeBumpPoint()
	a.bumpRegion = a.regionOf(obj)
	a.top = obj + Address(size)
	a.end = obj + Address(n)
	return obj
}

// AddFree hands a whole region to the allocator.
func (a *FreeListAllocator) AddFree(r *Region) {
	a.freeList.Free(r, r.Begin(), r.Size())
}

// Free returns [start, end) to the free list.
func (a *FreeListAllocator) Free(start, end Address) {
	if end <= start {
		return
	}
	a.freeList.Free(a.regionOf(start), start, int(end-start))
}

// FreeBumpPoint gives the unused bump range back to the free list.
func (a *FreeListAllocator) FreeBumpPoint() {
	if a.top != 0 && a.end > a.top {
		a.freeList.Free(a.bumpRegion, a.top, int(a.end-a.top))
	}
	a.resetBump()
}

// FillBumpPointer formats the unused bump range as a free object without
// listing it, so a following sweep sees a walkable region.
func (a *FreeListAllocator) FillBumpPointer() {
	if a.top != 0 && a.end > a.top {
		fillFreeRange(a.bumpRegion, a.top, a.end)
	}
	a.resetBump()
}

func (a *FreeListAllocator) resetBump() {
	a.top, a.end, a.bumpRegion = 0, 0, nil
}

// RebuildFreeList drops all free-list state ahead of a sweep.
func (a *FreeListAllocator) RebuildFreeList() {
	a.FillBumpPointer()
	a.freeList.Rebuild()
}

// CollectFreeObjectSet links the free sets a sweep built for r.
func (a *FreeListAllocator) CollectFreeObjectSet(r *Region) {
	a.freeList.AddSets(r)
}

// DetachFreeObjectSet unlinks r's free sets, e.g. when r joins the collect
// set and must not receive new objects.
func (a *FreeListAllocator) DetachFreeObjectSet(r *Region) {
	if a.bumpRegion == r {
		a.FillBumpPointer()
	}
	a.freeList.RemoveSets(r)
}

// Available returns the free bytes in the list plus the bump range.
func (a *FreeListAllocator) Available() int {
	return a.freeList.Available() + int(a.end-a.top)
}

// Wasted returns the bytes lost to unusable fragments.
func (a *FreeListAllocator) Wasted() int { return a.freeList.Wasted() }
