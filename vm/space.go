package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Space: common region bookkeeping
// ---------------------------------------------------------------------------

// Space owns an ordered list of regions sharing one allocation policy.
// Regions keep a non-owning pointer back to their space.
type Space struct {
	heap      *Heap
	spaceType MemSpaceType

	mu      sync.Mutex
	regions []*Region

	initialCapacity int
	maximumCapacity int
	committed       atomic.Int64
	regionFlags     RegionFlag
}

func (s *Space) init(h *Heap, t MemSpaceType, initial, maximum int, flags RegionFlag) {
	s.heap = h
	s.spaceType = t
	s.initialCapacity = initial
	s.maximumCapacity = maximum
	s.regionFlags = flags
}

func (s *Space) Type() MemSpaceType       { return s.spaceType }
func (s *Space) InitialCapacity() int     { return s.initialCapacity }
func (s *Space) MaximumCapacity() int     { return s.maximumCapacity }
func (s *Space) CommittedSize() int       { return int(s.committed.Load()) }
func (s *Space) SetInitialCapacity(n int) { s.initialCapacity = n }

// SetMaximumCapacity changes the committed-size ceiling.
func (s *Space) SetMaximumCapacity(n int) { s.maximumCapacity = n }

// RegionCount returns the number of regions currently owned.
func (s *Space) RegionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}

// AddRegion attaches r to the space.
func (s *Space) AddRegion(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addRegionLocked(r)
}

func (s *Space) addRegionLocked(r *Region) {
	r.setSpace(s)
	s.regions = append(s.regions, r)
	s.committed.Add(int64(r.Size()))
}

// RemoveRegion detaches r without freeing it.
func (s *Space) RemoveRegion(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeRegionLocked(r)
}

func (s *Space) removeRegionLocked(r *Region) {
	for i, cur := range s.regions {
		if cur == r {
			copy(s.regions[i:], s.regions[i+1:])
			s.regions[len(s.regions)-1] = nil
			s.regions = s.regions[:len(s.regions)-1]
			s.committed.Add(-int64(r.Size()))
			return
		}
	}
}

// FreeRegion detaches r and returns it to the region allocator.
func (s *Space) FreeRegion(r *Region) {
	s.RemoveRegion(r)
	r.reset()
	s.heap.regionAllocator.FreeRegion(r)
}

// EnumerateRegions calls fn on a snapshot of the region list.
func (s *Space) EnumerateRegions(fn func(r *Region)) {
	s.mu.Lock()
	regions := append([]*Region(nil), s.regions...)
	s.mu.Unlock()
	for _, r := range regions {
		fn(r)
	}
}

// Destroy frees every region.
func (s *Space) Destroy() {
	s.mu.Lock()
	regions := s.regions
	s.regions = nil
	s.committed.Store(0)
	s.mu.Unlock()
	for _, r := range regions {
		r.reset()
		s.heap.regionAllocator.FreeRegion(r)
	}
}

// newRegion asks the region allocator for a region of size bytes while
// keeping committed size within limit. It returns nil on refusal.
func (s *Space) newRegion(size, limit int) *Region {
	if s.CommittedSize()+size > limit {
		s.heap.emit(HeapEvent{Kind: EventExpandRefused, Space: s.spaceType, Size: size})
		return nil
	}
	r := s.heap.regionAllocator.AllocateRegion(s, size, s.regionFlags)
	if r == nil {
		s.heap.emit(HeapEvent{Kind: EventExpandRefused, Space: s.spaceType, Size: size})
		return nil
	}
	s.AddRegion(r)
	s.heap.emit(HeapEvent{Kind: EventSpaceExpanded, Space: s.spaceType, Size: size})
	return r
}

// ---------------------------------------------------------------------------
// LinearSpace: bump-pointer allocation
// ---------------------------------------------------------------------------

// LinearSpace bump-allocates from its newest region. The bump itself is a
// CAS on top; Expand swaps regions under the space lock.
type LinearSpace struct {
	Space
	top     atomic.Uint64
	end     atomic.Uint64
	current atomic.Pointer[Region]
	expand  sync.Mutex
}

// Allocate bump-allocates size bytes, expanding once if the current region
// is exhausted. It returns 0 when expansion is refused.
func (s *LinearSpace) Allocate(size int) Address {
	if addr := s.bump(size); addr != 0 {
		return addr
	}
	if s.Expand(s.initialCapacity) {
		return s.bump(size)
	}
	return 0
}

func (s *LinearSpace) bump(size int) Address {
	for {
		top := s.top.Load()
		end := s.end.Load()
		if top == 0 || top+uint64(size) > end {
			return 0
		}
		if s.top.CompareAndSwap(top, top+uint64(size)) {
			return Address(top)
		}
	}
}

// Expand retires the current region and starts a new one, as long as the
// committed size stays within limit.
func (s *LinearSpace) Expand(limit int) bool {
	s.expand.Lock()
	defer s.expand.Unlock()
	r := s.newRegion(RegionSize, limit)
	if r == nil {
		return false
	}
	s.retire()
	s.end.Store(0)
	s.top.Store(uint64(r.Begin()))
	s.end.Store(uint64(r.End()))
	s.current.Store(r)
	return true
}

func (s *LinearSpace) retire() {
	if cur := s.current.Load(); cur != nil {
		cur.setHighWaterMark(Address(s.top.Load()))
	}
}

// Top returns the current bump pointer.
func (s *LinearSpace) Top() Address { return Address(s.top.Load()) }

// regionTop returns the end of the allocated prefix of r.
func (s *LinearSpace) regionTop(r *Region) Address {
	if r == s.current.Load() {
		return Address(s.top.Load())
	}
	return r.HighWaterMark()
}

// IterateObjects walks every object of the space in allocation order,
// including objects allocated while the walk is in progress.
func (s *LinearSpace) IterateObjects(fn func(r *Region, obj Address)) {
	for i := 0; ; i++ {
		s.mu.Lock()
		if i >= len(s.regions) {
			s.mu.Unlock()
			return
		}
		r := s.regions[i]
		s.mu.Unlock()
		for addr := r.Begin(); addr < s.regionTop(r); {
			fn(r, addr)
			addr += Address(s.heap.objectSizeIn(r, addr))
		}
	}
}

// AllocatedSize returns the bytes handed out since the space was reset.
func (s *LinearSpace) AllocatedSize() int {
	n := 0
	s.EnumerateRegions(func(r *Region) { n += int(s.regionTop(r) - r.Begin()) })
	return n
}

// Reset drops all regions and the bump range.
func (s *LinearSpace) Reset() {
	s.expand.Lock()
	s.top.Store(0)
	s.end.Store(0)
	s.current.Store(nil)
	s.expand.Unlock()
	s.Destroy()
}

// ---------------------------------------------------------------------------
// SemiSpace: one half of the young generation
// ---------------------------------------------------------------------------

const (
	semiSpaceGrowingFactor  = 2
	lowAllocationSpeedPerMS = 1000
)

// SemiSpace is a copying half of the young generation. Objects below the age
// mark have survived one collection and are promoted on the next.
type SemiSpace struct {
	LinearSpace
	minimumCapacity int

	ageMark       Address
	ageMarkRegion *Region

	survivalObjectSize int
}

func newSemiSpace(h *Heap, initial, maximum int) *SemiSpace {
	s := &SemiSpace{minimumCapacity: initial}
	s.init(h, SemiSpaceType, initial, maximum, RegionYoung)
	return s
}

// Restart drops every region and opens a fresh first region, ready to
// receive survivors.
func (s *SemiSpace) Restart() bool {
	s.Reset()
	s.ageMark = 0
	s.ageMarkRegion = nil
	s.survivalObjectSize = 0
	return s.Expand(s.maximumCapacity)
}

// SetAgeMark records the current top as the age mark: everything allocated
// so far has survived a collection.
func (s *SemiSpace) SetAgeMark() {
	s.retire()
	s.ageMark = s.Top()
	s.ageMarkRegion = s.current.Load()
	s.EnumerateRegions(func(r *Region) {
		if r != s.ageMarkRegion {
			r.SetFlag(RegionBelowAgeMark)
		}
	})
}

// BelowAgeMark reports whether obj (in region r of this space) survived the
// previous collection.
func (s *SemiSpace) BelowAgeMark(r *Region, obj Address) bool {
	if r.HasFlag(RegionBelowAgeMark) {
		return true
	}
	return r == s.ageMarkRegion && obj < s.ageMark
}

// AllocatedSizeSinceGC returns the bytes allocated above the age mark.
func (s *SemiSpace) AllocatedSizeSinceGC() int {
	n := s.AllocatedSize() - s.survivalObjectSize
	if n < 0 {
		return 0
	}
	return n
}

// SurvivalObjectSize returns the bytes copied into this space by the last
// collection.
func (s *SemiSpace) SurvivalObjectSize() int { return s.survivalObjectSize }

func (s *SemiSpace) addSurvivalObjectSize(n int) { s.survivalObjectSize += n }

// AdjustCapacity grows or shrinks the space from the survival rate of the
// last collection. It reports whether the capacity changed.
func (s *SemiSpace) AdjustCapacity(allocatedSinceGC int, allocSpeedPerMS float64) bool {
	growObjectSurvivalRate := s.heap.options.Pacing.GrowSurvivalRate
	shrinkObjectSurvivalRate := s.heap.options.Pacing.ShrinkSurvivalRate
	if float64(allocatedSinceGC) <= float64(s.initialCapacity)*growObjectSurvivalRate/semiSpaceGrowingFactor {
		return false
	}
	survival := float64(s.survivalObjectSize) / float64(allocatedSinceGC)
	initialRate := float64(s.survivalObjectSize) / float64(s.initialCapacity)
	switch {
	case survival > growObjectSurvivalRate || initialRate > growObjectSurvivalRate:
		n := min(s.initialCapacity*semiSpaceGrowingFactor, s.maximumCapacity)
		if n == s.initialCapacity {
			return false
		}
		s.initialCapacity = n
		return true
	case survival < shrinkObjectSurvivalRate:
		if s.initialCapacity <= s.minimumCapacity || allocSpeedPerMS > lowAllocationSpeedPerMS {
			return false
		}
		s.initialCapacity = max(s.initialCapacity/semiSpaceGrowingFactor, s.minimumCapacity)
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// SnapshotSpace
// ---------------------------------------------------------------------------

// SnapshotSpace holds immortal objects destined for serialization. It is
// never collected and may only reference itself or primitives.
type SnapshotSpace struct {
	LinearSpace
}

func newSnapshotSpace(h *Heap, maximum int) *SnapshotSpace {
	s := &SnapshotSpace{}
	s.init(h, SnapshotSpaceType, maximum, maximum, RegionSnapshot)
	return s
}

// Allocate bump-allocates, expanding up to the maximum capacity.
func (s *SnapshotSpace) Allocate(size int) Address {
	if addr := s.bump(size); addr != 0 {
		return addr
	}
	if s.Expand(s.maximumCapacity) {
		return s.bump(size)
	}
	return 0
}
