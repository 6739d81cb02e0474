package vm

import "math/bits"

// Size classes: sizes below smallSetMax have one exact class per word
// count, larger sizes share a class per power of two.
const (
	smallSetMax  = 256
	numSmallSets = smallSetMax / WordSize
	numFreeSets  = numSmallSets + (RegionSizeLog2 - 8) + 1
)

func freeSetIndex(size int) int {
	if size < smallSetMax {
		return size / WordSize
	}
	idx := numSmallSets + bits.Len(uint(size)) - 1 - 8
	if idx >= numFreeSets {
		idx = numFreeSets - 1
	}
	return idx
}

// FreeObjectSet is the list of free objects of one size class inside one
// region. Sets are filled region-locally (by the sweeper) and linked into an
// allocator's FreeObjectList when the region is handed over.
type FreeObjectSet struct {
	region    *Region
	class     int
	head      Address
	available int

	prev, next *FreeObjectSet
	linked     bool
}

// Free pushes a formatted free object onto the set.
func (s *FreeObjectSet) Free(addr Address, size int) {
	writeFreeObject(s.region, addr, size, s.head)
	s.head = addr
	s.available += size
}

// Empty reports whether the set holds no free objects.
func (s *FreeObjectSet) Empty() bool { return s.head == 0 }

// obtain removes and returns the first free object of at least size bytes.
func (s *FreeObjectSet) obtain(size int) (Address, int) {
	r := s.region
	var prev Address
	for cur := s.head; cur != 0; cur = freeObjectNext(r, cur) {
		n := int(r.Load(cur + freeSizeOffset))
		if n >= size {
			next := freeObjectNext(r, cur)
			if prev == 0 {
				s.head = next
			} else {
				setFreeObjectNext(r, prev, next)
			}
			s.available -= n
			return cur, n
		}
		prev = cur
	}
	return 0, 0
}

func (s *FreeObjectSet) reset() {
	s.head = 0
	s.available = 0
}

// FreeObjectList links the free sets of all regions owned by one allocator,
// indexed by size class.
type FreeObjectList struct {
	sets      [numFreeSets]*FreeObjectSet
	nonEmpty  uint64
	available int
	wasted    int
}

// Available returns the number of free bytes reachable from the list.
func (l *FreeObjectList) Available() int { return l.available }

// Wasted returns the bytes lost to fragments too small to reuse.
func (l *FreeObjectList) Wasted() int { return l.wasted }

// Allocate takes a free object able to hold size bytes. It returns the
// object's address and full size so the caller can bump-allocate from it.
func (l *FreeObjectList) Allocate(size int) (Address, int) {
	if l.available < size {
		return 0, 0
	}
	idx := freeSetIndex(size)
	// The own class may hold objects that are too small (large classes) so
	// it is searched first-fit; any bigger class always fits.
	if addr, n := l.allocateFromClass(idx, size); addr != 0 {
		return addr, n
	}
	mask := l.nonEmpty &^ (uint64(1)<<(idx+1) - 1)
	for mask != 0 {
		c := bits.TrailingZeros64(mask)
		if addr, n := l.allocateFromClass(c, size); addr != 0 {
			return addr, n
		}
		mask &^= 1 << c
	}
	return 0, 0
}

func (l *FreeObjectList) allocateFromClass(idx, size int) (Address, int) {
	for s := l.sets[idx]; s != nil; {
		next := s.next
		addr, n := s.obtain(size)
		if s.Empty() {
			l.unlink(s)
		}
		if addr != 0 {
			l.available -= n
			return addr, n
		}
		s = next
	}
	return 0, 0
}

// Free returns [addr, addr+size) in region r to the list.
func (l *FreeObjectList) Free(r *Region, addr Address, size int) {
	if size < minFreeListSize {
		fillFreeRange(r, addr, addr+Address(size))
		l.wasted += size
		r.wasted.Add(int64(size))
		return
	}
	s := r.freeSet(freeSetIndex(size))
	s.Free(addr, size)
	if s.linked {
		l.available += size
	} else {
		l.link(s)
	}
}

// AddSets links every non-empty set of region r.
func (l *FreeObjectList) AddSets(r *Region) {
	for _, s := range r.freeSets {
		if s != nil && !s.linked && !s.Empty() {
			l.link(s)
		}
	}
}

// RemoveSets unlinks every set of region r.
func (l *FreeObjectList) RemoveSets(r *Region) {
	for _, s := range r.freeSets {
		if s != nil && s.linked {
			l.unlink(s)
		}
	}
}

func (l *FreeObjectList) link(s *FreeObjectSet) {
	s.prev = nil
	s.next = l.sets[s.class]
	if s.next != nil {
		s.next.prev = s
	}
	l.sets[s.class] = s
	s.linked = true
	l.nonEmpty |= 1 << s.class
	l.available += s.available
}

func (l *FreeObjectList) unlink(s *FreeObjectSet) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.sets[s.class] = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
	s.linked = false
	if l.sets[s.class] == nil {
		l.nonEmpty &^= 1 << s.class
	}
	l.available -= s.available
}

// Rebuild unlinks all sets and drops the accounting. Region sets are reset
// by whoever refills them.
func (l *FreeObjectList) Rebuild() {
	for i := range l.sets {
		for s := l.sets[i]; s != nil; {
			next := s.next
			s.prev, s.next, s.linked = nil, nil, false
			s = next
		}
		l.sets[i] = nil
	}
	l.nonEmpty = 0
	l.available = 0
	l.wasted = 0
}
