package vm

import (
	"sync"
	"sync/atomic"
)

// regionPoolSize is how many freed regular backing stores are kept for reuse.
const regionPoolSize = 16

// RegionAllocator hands out aligned regions of the simulated address space.
// It enforces the global heap ceiling: the committed size of all live regions
// never exceeds maxHeapSize.
type RegionAllocator struct {
	mu          sync.Mutex
	maxHeapSize int64
	committed   atomic.Int64

	// units maps each RegionSize-aligned unit of the address space to the
	// region covering it. Readers are lock-free.
	units []atomic.Pointer[Region]
	used  []bool

	pool [][]uint64
}

// NewRegionAllocator creates an allocator with the given global ceiling.
func NewRegionAllocator(maxHeapSize int) *RegionAllocator {
	n := maxHeapSize/RegionSize + 1
	// Twice the units needed at the ceiling so huge regions still find a
	// contiguous run when the address space is fragmented.
	n *= 2
	return &RegionAllocator{
		maxHeapSize: int64(maxHeapSize),
		units:       make([]atomic.Pointer[Region], n),
		used:        make([]bool, n),
	}
}

// AllocateRegion creates a region of size bytes (a multiple of RegionSize)
// owned by space. It returns nil if the heap ceiling would be exceeded.
func (a *RegionAllocator) AllocateRegion(space *Space, size int, flags RegionFlag) *Region {
	size = (size + RegionSize - 1) &^ (RegionSize - 1)
	count := size / RegionSize

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed.Load()+int64(size) > a.maxHeapSize {
		return nil
	}
	first := a.findUnits(count)
	if first < 0 {
		return nil
	}

	var mem []uint64
	if count == 1 && len(a.pool) > 0 {
		mem = a.pool[len(a.pool)-1]
		a.pool = a.pool[:len(a.pool)-1]
		clear(mem)
	} else {
		mem = make([]uint64, size/WordSize)
	}

	r := newRegion(HeapBase+Address(first*RegionSize), size, mem, flags)
	r.setSpace(space)
	for i := first; i < first+count; i++ {
		a.used[i] = true
		a.units[i].Store(r)
	}
	a.committed.Add(int64(size))
	return r
}

func (a *RegionAllocator) findUnits(count int) int {
	run := 0
	for i := range a.used {
		if a.used[i] {
			run = 0
			continue
		}
		run++
		if run == count {
			return i - count + 1
		}
	}
	return -1
}

// FreeRegion returns a region's address range and memory.
func (a *RegionAllocator) FreeRegion(r *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	first := int(r.begin-HeapBase) / RegionSize
	count := r.Size() / RegionSize
	for i := first; i < first+count; i++ {
		a.used[i] = false
		a.units[i].Store(nil)
	}
	a.committed.Add(-int64(r.Size()))
	if count == 1 && len(a.pool) < regionPoolSize {
		a.pool = append(a.pool, r.mem)
	}
	r.setSpace(nil)
}

// RegionOf returns the region containing addr, or nil.
func (a *RegionAllocator) RegionOf(addr Address) *Region {
	if addr < HeapBase {
		return nil
	}
	i := int(addr-HeapBase) >> RegionSizeLog2
	if i >= len(a.units) {
		return nil
	}
	return a.units[i].Load()
}

// Committed returns the bytes of all live regions.
func (a *RegionAllocator) Committed() int { return int(a.committed.Load()) }

// MaxHeapSize returns the global ceiling.
func (a *RegionAllocator) MaxHeapSize() int { return int(a.maxHeapSize) }
