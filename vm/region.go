package vm

import (
	"sync"
	"sync/atomic"
)

// RegionFlag is a bit in a region's flag word.
type RegionFlag uint32

const (
	RegionYoung RegionFlag = 1 << iota
	RegionInCollectSet
	RegionHuge
	RegionExecutable
	RegionBelowAgeMark
	RegionHasLiveStats
	RegionSnapshot
)

// Sweep states of a region inside the concurrent sweeper.
const (
	regionSweepNone int32 = iota
	regionSweepPending
	regionSweeping
	regionSwept
)

// Region is a contiguous, aligned chunk of the simulated heap. It is the unit
// of expansion, sweeping and compaction. Side tables (mark bitmap and the two
// remembered sets) are created on first use.
type Region struct {
	begin Address
	end   Address
	mem   []uint64

	flags atomic.Uint32
	space atomic.Pointer[Space]

	// highWater is the end of the initialized part of a linearly allocated
	// region.
	highWater atomic.Uint64

	sideLock    sync.Mutex
	markBitmap  atomic.Pointer[GCBitset]
	oldToNew    atomic.Pointer[GCBitset]
	crossRegion atomic.Pointer[GCBitset]

	aliveObject atomic.Int64
	wasted      atomic.Int64

	sweepState atomic.Int32
	freeSets   [numFreeSets]*FreeObjectSet
}

func newRegion(begin Address, size int, mem []uint64, flags RegionFlag) *Region {
	r := &Region{begin: begin, end: begin + Address(size), mem: mem}
	r.flags.Store(uint32(flags))
	r.highWater.Store(uint64(begin))
	return r
}

func (r *Region) Begin() Address { return r.begin }
func (r *Region) End() Address   { return r.end }
func (r *Region) Size() int      { return int(r.end - r.begin) }

// Contains reports whether addr lies inside the region.
func (r *Region) Contains(addr Address) bool { return addr >= r.begin && addr < r.end }

// Space returns the owning space. The pointer is an observer; ownership
// lives in the space's region list.
func (r *Region) Space() *Space { return r.space.Load() }

func (r *Region) setSpace(s *Space) { r.space.Store(s) }

func (r *Region) HasFlag(f RegionFlag) bool { return r.flags.Load()&uint32(f) != 0 }

func (r *Region) SetFlag(f RegionFlag) { r.flags.Or(uint32(f)) }

func (r *Region) ClearFlag(f RegionFlag) { r.flags.And(^uint32(f)) }

func (r *Region) InYoungSpace() bool    { return r.HasFlag(RegionYoung) }
func (r *Region) InCollectSet() bool    { return r.HasFlag(RegionInCollectSet) }
func (r *Region) IsHuge() bool          { return r.HasFlag(RegionHuge) }
func (r *Region) IsExecutable() bool    { return r.HasFlag(RegionExecutable) }
func (r *Region) InSnapshotSpace() bool { return r.HasFlag(RegionSnapshot) }

// HighWaterMark returns the end of the allocated prefix of a linear region.
func (r *Region) HighWaterMark() Address { return Address(r.highWater.Load()) }

func (r *Region) setHighWaterMark(a Address) { r.highWater.Store(uint64(a)) }

// ---------------------------------------------------------------------------
// Word access
// ---------------------------------------------------------------------------

func (r *Region) wordIndex(addr Address) int { return int(addr-r.begin) >> 3 }

// Load reads the raw word at addr.
func (r *Region) Load(addr Address) uint64 {
	return atomic.LoadUint64(&r.mem[r.wordIndex(addr)])
}

// Store writes the raw word at addr.
func (r *Region) Store(addr Address, w uint64) {
	atomic.StoreUint64(&r.mem[r.wordIndex(addr)], w)
}

// CompareAndSwap replaces the word at addr if it still holds old.
func (r *Region) CompareAndSwap(addr Address, old, w uint64) bool {
	return atomic.CompareAndSwapUint64(&r.mem[r.wordIndex(addr)], old, w)
}

// ClearWords zeroes [from, to).
func (r *Region) ClearWords(from, to Address) {
	for i := r.wordIndex(from); i < r.wordIndex(to); i++ {
		atomic.StoreUint64(&r.mem[i], 0)
	}
}

// CopyWords copies size bytes from src (in region from) to dst in r.
func (r *Region) CopyWords(dst Address, from *Region, src Address, size int) {
	d := r.wordIndex(dst)
	s := from.wordIndex(src)
	for i := 0; i < size/WordSize; i++ {
		atomic.StoreUint64(&r.mem[d+i], atomic.LoadUint64(&from.mem[s+i]))
	}
}

// ---------------------------------------------------------------------------
// Side tables
// ---------------------------------------------------------------------------

func (r *Region) bitsetSize() int { return r.Size() / WordSize }

func (r *Region) getOrCreate(p *atomic.Pointer[GCBitset]) *GCBitset {
	if b := p.Load(); b != nil {
		return b
	}
	r.sideLock.Lock()
	defer r.sideLock.Unlock()
	if b := p.Load(); b != nil {
		return b
	}
	b := NewGCBitset(r.bitsetSize())
	p.Store(b)
	return b
}

// MarkBitmap returns the mark bitmap, creating it if needed.
func (r *Region) MarkBitmap() *GCBitset { return r.getOrCreate(&r.markBitmap) }

// AtomicMark sets the mark bit of the object at addr and reports whether it
// was already marked.
func (r *Region) AtomicMark(addr Address) bool {
	return r.MarkBitmap().AtomicTestAndSet(r.wordIndex(addr))
}

// Test reports whether the object at addr is marked.
func (r *Region) Test(addr Address) bool {
	b := r.markBitmap.Load()
	return b != nil && b.Test(r.wordIndex(addr))
}

// ClearMarkBitmap drops all mark bits.
func (r *Region) ClearMarkBitmap() {
	if b := r.markBitmap.Load(); b != nil {
		b.ClearAll()
	}
}

// IterateAllMarkedBits calls fn with the address of every marked object in
// ascending order.
func (r *Region) IterateAllMarkedBits(fn func(obj Address) bool) {
	if b := r.markBitmap.Load(); b != nil {
		b.IterateMarked(func(i int) bool { return fn(r.begin + Address(i*WordSize)) })
	}
}

// OldToNewRSet returns the old-to-new remembered set, or nil if none exists.
func (r *Region) OldToNewRSet() *GCBitset { return r.oldToNew.Load() }

// CrossRegionRSet returns the cross-region remembered set, or nil.
func (r *Region) CrossRegionRSet() *GCBitset { return r.crossRegion.Load() }

// InsertOldToNewRSet records slot as possibly pointing into the young
// generation. Plain store; only the mutator calls it while no GC thread
// touches the region.
func (r *Region) InsertOldToNewRSet(slot Address) {
	r.getOrCreate(&r.oldToNew).Set(r.wordIndex(slot))
}

// AtomicInsertOldToNewRSet is the variant used while GC threads run.
func (r *Region) AtomicInsertOldToNewRSet(slot Address) {
	r.getOrCreate(&r.oldToNew).AtomicSet(r.wordIndex(slot))
}

// AtomicInsertCrossRegionRSet records slot as pointing into a collect-set
// region.
func (r *Region) AtomicInsertCrossRegionRSet(slot Address) {
	r.getOrCreate(&r.crossRegion).AtomicSet(r.wordIndex(slot))
}

// TestOldToNewRSet reports whether slot is recorded in the old-to-new set.
func (r *Region) TestOldToNewRSet(slot Address) bool {
	b := r.oldToNew.Load()
	return b != nil && b.Test(r.wordIndex(slot))
}

// ClearOldToNewRSet removes a single slot.
func (r *Region) ClearOldToNewRSet(slot Address) {
	if b := r.oldToNew.Load(); b != nil {
		b.AtomicClear(r.wordIndex(slot))
	}
}

// AtomicClearRSetInRange clears both remembered sets over [start, end).
func (r *Region) AtomicClearRSetInRange(start, end Address) {
	if b := r.oldToNew.Load(); b != nil {
		b.AtomicClearRange(r.wordIndex(start), r.wordIndex(end))
	}
	if b := r.crossRegion.Load(); b != nil {
		b.AtomicClearRange(r.wordIndex(start), r.wordIndex(end))
	}
}

// IterateAllOldToNewBits calls fn with every recorded slot address. fn
// returns false to clear the bit.
func (r *Region) IterateAllOldToNewBits(fn func(slot Address) bool) {
	iterateRSet(r, r.oldToNew.Load(), fn)
}

// IterateAllCrossRegionBits is IterateAllOldToNewBits for the cross-region
// set.
func (r *Region) IterateAllCrossRegionBits(fn func(slot Address) bool) {
	iterateRSet(r, r.crossRegion.Load(), fn)
}

func iterateRSet(r *Region, b *GCBitset, fn func(slot Address) bool) {
	if b == nil {
		return
	}
	b.IterateMarked(func(i int) bool {
		if !fn(r.begin + Address(i*WordSize)) {
			b.AtomicClear(i)
		}
		return true
	})
}

// DeleteOldToNewRSet drops the old-to-new set entirely.
func (r *Region) DeleteOldToNewRSet() { r.oldToNew.Store(nil) }

// DeleteCrossRegionRSet drops the cross-region set entirely.
func (r *Region) DeleteCrossRegionRSet() { r.crossRegion.Store(nil) }

// MergeOldToNewRSet ORs other's old-to-new entries into r. Both regions must
// cover the same words.
func (r *Region) MergeOldToNewRSet(other *GCBitset) {
	if other == nil {
		return
	}
	r.getOrCreate(&r.oldToNew).Merge(other)
}

// ---------------------------------------------------------------------------
// Live statistics
// ---------------------------------------------------------------------------

func (r *Region) IncreaseAliveObject(n int) { r.aliveObject.Add(int64(n)) }
func (r *Region) AliveObject() int          { return int(r.aliveObject.Load()) }
func (r *Region) ResetAliveObject()         { r.aliveObject.Store(0) }
func (r *Region) Wasted() int               { return int(r.wasted.Load()) }

// freeSet returns the region-local free set for class idx, creating it.
// Only the region's current sweeper or the allocator owning the region
// touches these.
func (r *Region) freeSet(idx int) *FreeObjectSet {
	if s := r.freeSets[idx]; s != nil {
		return s
	}
	s := &FreeObjectSet{region: r, class: idx}
	r.freeSets[idx] = s
	return s
}

// FreeBytes sums the bytes held in the region's free sets.
func (r *Region) FreeBytes() int {
	n := 0
	for _, s := range r.freeSets {
		if s != nil {
			n += s.available
		}
	}
	return n
}

func (r *Region) resetFreeSets() {
	for _, s := range r.freeSets {
		if s != nil {
			s.reset()
		}
	}
	r.wasted.Store(0)
}

// reset returns the region to a pristine state before reuse.
func (r *Region) reset() {
	r.ClearMarkBitmap()
	r.DeleteOldToNewRSet()
	r.DeleteCrossRegionRSet()
	r.ResetAliveObject()
	r.resetFreeSets()
	r.sweepState.Store(regionSweepNone)
}
