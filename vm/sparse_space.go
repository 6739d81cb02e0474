package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// SweepState is a sparse space's position in the sweeping cycle.
type SweepState int32

const (
	SweepStateNone SweepState = iota
	SweepStateSweeping
	SweepStateSwept
)

// ---------------------------------------------------------------------------
// SparseSpace: free-list allocation reclaimed by sweeping
// ---------------------------------------------------------------------------

// SparseSpace allocates from a FreeListAllocator whose free lists are
// rebuilt by sweeping after each marking collection.
type SparseSpace struct {
	Space
	allocator *FreeListAllocator

	sweepState atomic.Int32

	listMu       sync.Mutex
	sweepingList []*Region
	sweptList    []*Region

	liveObjectSize atomic.Int64
	allocatedSize  atomic.Int64
}

func (s *SparseSpace) initSparse(h *Heap, t MemSpaceType, initial, maximum int, flags RegionFlag) {
	s.init(h, t, initial, maximum, flags)
	s.allocator = newFreeListAllocator(h.regionAllocator.RegionOf)
}

// SweepState returns the current sweep state.
func (s *SparseSpace) SweepState() SweepState { return SweepState(s.sweepState.Load()) }

func (s *SparseSpace) setSweepState(st SweepState) { s.sweepState.Store(int32(st)) }

// Allocate returns size bytes from the space. The fallback sequence is:
// free list, regions already swept, an old-GC trigger check, expansion,
// and finally (only if allowGC) a full old collection followed by one
// retry without GC. It returns 0 if everything fails.
func (s *SparseSpace) Allocate(size int, allowGC bool) Address {
	if addr := s.allocate(size); addr != 0 {
		return addr
	}
	if s.SweepState() == SweepStateSweeping {
		if addr := s.AllocateAfterSweepingCompleted(size); addr != 0 {
			s.allocatedSize.Add(int64(size))
			return addr
		}
	}
	if allowGC && s.heap.CheckAndTriggerOldGC(size) {
		if addr := s.allocate(size); addr != 0 {
			return addr
		}
	}
	if s.Expand() {
		return s.allocate(size)
	}
	if allowGC {
		s.heap.emit(HeapEvent{Kind: EventAllocationFailed, Space: s.spaceType, Size: size})
		s.heap.CollectGarbage(OldGC)
		return s.Allocate(size, false)
	}
	return 0
}

func (s *SparseSpace) allocate(size int) Address {
	addr := s.allocator.Allocate(size)
	if addr != 0 {
		s.allocatedSize.Add(int64(size))
	}
	return addr
}

// AllocateAfterSweepingCompleted first folds in regions the sweeper already
// finished, and only then blocks until sweeping of this space is done.
func (s *SparseSpace) AllocateAfterSweepingCompleted(size int) Address {
	if s.TryFillSweptRegion() {
		if addr := s.allocator.Allocate(size); addr != 0 {
			return addr
		}
	}
	s.heap.sweeper.EnsureTaskFinished(s.spaceType)
	return s.allocator.Allocate(size)
}

// Expand adds a fresh region to the space and its free list. It fails when
// the committed size would exceed the maximum capacity.
func (s *SparseSpace) Expand() bool {
	r := s.newRegion(RegionSize, s.maximumCapacity)
	if r == nil {
		return false
	}
	s.allocator.AddFree(r)
	return true
}

// LiveObjectSize returns the bytes found alive by the last sweep plus
// everything allocated since.
func (s *SparseSpace) LiveObjectSize() int {
	return int(s.liveObjectSize.Load() + s.allocatedSize.Load())
}

// Allocator exposes the space's free-list allocator.
func (s *SparseSpace) Allocator() *FreeListAllocator { return s.allocator }

// Reset drops all regions and free-list state.
func (s *SparseSpace) Reset() {
	s.allocator.RebuildFreeList()
	s.Destroy()
	s.liveObjectSize.Store(0)
	s.allocatedSize.Store(0)
	s.setSweepState(SweepStateNone)
}

// ---------------------------------------------------------------------------
// Sweeping
// ---------------------------------------------------------------------------

// PrepareSweeping queues every region outside the collect set for the
// concurrent sweeper, emptiest first, and drops the free lists.
func (s *SparseSpace) PrepareSweeping() {
	s.liveObjectSize.Store(0)
	s.allocatedSize.Store(0)
	s.listMu.Lock()
	s.sweepingList = s.sweepingList[:0]
	s.sweptList = s.sweptList[:0]
	s.EnumerateRegions(func(r *Region) {
		if r.InCollectSet() {
			return
		}
		r.sweepState.Store(regionSweepPending)
		s.sweepingList = append(s.sweepingList, r)
	})
	// Popped from the back, so sort descending by alive bytes.
	sort.SliceStable(s.sweepingList, func(i, j int) bool {
		return s.sweepingList[i].AliveObject() > s.sweepingList[j].AliveObject()
	})
	s.listMu.Unlock()
	s.setSweepState(SweepStateSweeping)
	s.allocator.RebuildFreeList()
}

// Sweep sweeps every region synchronously on the calling goroutine.
func (s *SparseSpace) Sweep() {
	s.liveObjectSize.Store(0)
	s.allocatedSize.Store(0)
	s.allocator.RebuildFreeList()
	s.EnumerateRegions(func(r *Region) {
		if !r.InCollectSet() {
			s.SweepRegion(r, true)
		}
	})
	s.setSweepState(SweepStateSwept)
}

// AsyncSweep drains the sweeping list. Regions swept off the main goroutine
// are handed over through the swept list.
func (s *SparseSpace) AsyncSweep(isMain bool) {
	for r := s.GetSweepingRegionSafe(); r != nil; r = s.GetSweepingRegionSafe() {
		s.SweepRegion(r, isMain)
		if isMain {
			r.sweepState.Store(regionSweepNone)
		} else {
			s.AddSweptRegionSafe(r)
		}
	}
}

// GetSweepingRegionSafe pops the next pending region and claims it.
func (s *SparseSpace) GetSweepingRegionSafe() *Region {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	for len(s.sweepingList) > 0 {
		r := s.sweepingList[len(s.sweepingList)-1]
		s.sweepingList = s.sweepingList[:len(s.sweepingList)-1]
		if r.sweepState.CompareAndSwap(regionSweepPending, regionSweeping) {
			return r
		}
	}
	return nil
}

// AddSweptRegionSafe queues a background-swept region for hand-off.
func (s *SparseSpace) AddSweptRegionSafe(r *Region) {
	s.listMu.Lock()
	r.sweepState.Store(regionSwept)
	s.sweptList = append(s.sweptList, r)
	s.listMu.Unlock()
	s.heap.sweeper.notifyRegionSwept(s.spaceType)
}

// GetSweptRegionSafe pops a swept region, or returns nil.
func (s *SparseSpace) GetSweptRegionSafe() *Region {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	if len(s.sweptList) == 0 {
		return nil
	}
	r := s.sweptList[len(s.sweptList)-1]
	s.sweptList = s.sweptList[:len(s.sweptList)-1]
	return r
}

// TryFillSweptRegion links the free sets of every region the sweeper has
// finished. It reports whether any region was handed over.
func (s *SparseSpace) TryFillSweptRegion() bool {
	filled := false
	for r := s.GetSweptRegionSafe(); r != nil; r = s.GetSweptRegionSafe() {
		s.allocator.CollectFreeObjectSet(r)
		r.sweepState.Store(regionSweepNone)
		filled = true
	}
	return filled
}

// FinishFillSweptRegion completes the hand-off once all sweeping tasks of
// this space have ended.
func (s *SparseSpace) FinishFillSweptRegion() {
	s.TryFillSweptRegion()
	s.setSweepState(SweepStateSwept)
}

// SweepRegion turns every gap between marked objects of r into free objects.
// On the main goroutine the free objects go straight to the allocator,
// otherwise into r's own free sets.
func (s *SparseSpace) SweepRegion(r *Region, isMain bool) {
	r.resetFreeSets()
	alive := 0
	freeStart := r.Begin()
	r.IterateAllMarkedBits(func(obj Address) bool {
		if obj > freeStart {
			s.freeLiveRange(r, freeStart, obj, isMain)
		}
		size := s.heap.objectSizeIn(r, obj)
		alive += size
		freeStart = obj + Address(size)
		return true
	})
	if freeStart < r.End() {
		s.freeLiveRange(r, freeStart, r.End(), isMain)
	}
	r.aliveObject.Store(int64(alive))
	r.SetFlag(RegionHasLiveStats)
	s.liveObjectSize.Add(int64(alive))
}

func (s *SparseSpace) freeLiveRange(r *Region, start, end Address, isMain bool) {
	r.AtomicClearRSetInRange(start, end)
	size := int(end - start)
	if isMain {
		s.allocator.freeList.Free(r, start, size)
		return
	}
	if size < minFreeListSize {
		fillFreeRange(r, start, end)
		r.wasted.Add(int64(size))
		return
	}
	r.freeSet(freeSetIndex(size)).Free(start, size)
}

// ---------------------------------------------------------------------------
// OldSpace
// ---------------------------------------------------------------------------

// mostObjectAliveRatio excludes nearly full regions from the collect set.
const mostObjectAliveRatio = 0.8

// OldSpace is the old generation. Besides sweeping it supports partial
// compaction: a collect set of sparsely used regions is evacuated into a
// LocalSpace that is merged back afterwards.
type OldSpace struct {
	SparseSpace
	collectRegionSet []*Region
}

func newOldSpace(h *Heap, maximum int) *OldSpace {
	s := &OldSpace{}
	s.initSparse(h, OldSpaceType, RegionSize, maximum, 0)
	return s
}

// SelectCSet picks the regions to evacuate: swept regions whose live ratio is
// below liveRatio, emptiest first, capped at maxRegions. Selection is dropped
// if fewer than minRegions qualify. Selected regions leave the space and the
// free lists.
func (s *OldSpace) SelectCSet(liveRatio float64, minRegions, maxRegions int, all bool) int {
	s.collectRegionSet = s.collectRegionSet[:0]
	limit := float64(RegionSize) * liveRatio
	if all {
		limit = float64(RegionSize) * mostObjectAliveRatio
	}
	s.EnumerateRegions(func(r *Region) {
		if !r.HasFlag(RegionHasLiveStats) || r.sweepState.Load() != regionSweepNone {
			return
		}
		if float64(r.AliveObject()) < limit {
			s.collectRegionSet = append(s.collectRegionSet, r)
		}
	})
	if len(s.collectRegionSet) < minRegions {
		s.heap.log.Debugf("select cset: %d candidate regions, need %d", len(s.collectRegionSet), minRegions)
		s.collectRegionSet = s.collectRegionSet[:0]
		return 0
	}
	sort.SliceStable(s.collectRegionSet, func(i, j int) bool {
		return s.collectRegionSet[i].AliveObject() < s.collectRegionSet[j].AliveObject()
	})
	if !all && maxRegions > 0 && len(s.collectRegionSet) > maxRegions {
		s.collectRegionSet = s.collectRegionSet[:maxRegions]
	}
	for _, r := range s.collectRegionSet {
		s.allocator.DetachFreeObjectSet(r)
		s.RemoveRegion(r)
		s.liveObjectSize.Add(-int64(r.AliveObject()))
		r.SetFlag(RegionInCollectSet)
	}
	return len(s.collectRegionSet)
}

// CollectSet returns the current collect set.
func (s *OldSpace) CollectSet() []*Region { return s.collectRegionSet }

// RevertCSet puts every collect-set region back into the space. It is a
// pure rollback of SelectCSet.
func (s *OldSpace) RevertCSet() {
	for _, r := range s.collectRegionSet {
		r.ClearFlag(RegionInCollectSet)
		r.DeleteCrossRegionRSet()
		s.AddRegion(r)
		s.allocator.CollectFreeObjectSet(r)
		s.liveObjectSize.Add(int64(r.AliveObject()))
	}
	s.collectRegionSet = s.collectRegionSet[:0]
}

// ReclaimCSet frees the evacuated collect-set regions.
func (s *OldSpace) ReclaimCSet() {
	for _, r := range s.collectRegionSet {
		r.reset()
		s.heap.regionAllocator.FreeRegion(r)
	}
	s.collectRegionSet = s.collectRegionSet[:0]
}

// Merge moves every region of local into the old space. The old space lock
// is held for the whole detach and reattach sequence.
func (s *OldSpace) Merge(local *LocalSpace) {
	local.allocator.FreeBumpPoint()
	s.mu.Lock()
	defer s.mu.Unlock()
	local.mu.Lock()
	regions := local.regions
	local.regions = nil
	local.committed.Store(0)
	local.mu.Unlock()
	for _, r := range regions {
		local.allocator.DetachFreeObjectSet(r)
		s.addRegionLocked(r)
		s.liveObjectSize.Add(int64(r.AliveObject()))
		s.allocator.CollectFreeObjectSet(r)
	}
	if s.CommittedSize() > s.maximumCapacity {
		s.heap.log.Warningf("merge: old space committed %d exceeds capacity %d", s.CommittedSize(), s.maximumCapacity)
	}
}

// ---------------------------------------------------------------------------
// Other sparse spaces
// ---------------------------------------------------------------------------

// NonMovableSpace holds objects that never move.
type NonMovableSpace struct {
	SparseSpace
}

func newNonMovableSpace(h *Heap, maximum int) *NonMovableSpace {
	s := &NonMovableSpace{}
	s.initSparse(h, NonMovableSpaceType, RegionSize, maximum, 0)
	return s
}

// MachineCodeSpace holds code objects. Its regions are flagged executable.
type MachineCodeSpace struct {
	SparseSpace
}

func newMachineCodeSpace(h *Heap, maximum int) *MachineCodeSpace {
	s := &MachineCodeSpace{}
	s.initSparse(h, MachineCodeSpaceType, RegionSize, maximum, RegionExecutable)
	return s
}

// LocalSpace receives objects evacuated from the collect set. It is not
// bounded by a capacity of its own; the global heap ceiling still applies.
type LocalSpace struct {
	SparseSpace
}

func newLocalSpace(h *Heap) *LocalSpace {
	s := &LocalSpace{}
	s.initSparse(h, LocalSpaceType, 0, h.regionAllocator.MaxHeapSize(), 0)
	return s
}

// Allocate bump-allocates for evacuation, expanding as needed.
func (s *LocalSpace) Allocate(size int) Address {
	if addr := s.allocate(size); addr != 0 {
		return addr
	}
	if s.Expand() {
		return s.allocate(size)
	}
	return 0
}
