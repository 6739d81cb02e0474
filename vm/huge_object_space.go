package vm

// HugeObjectSpace gives every object above MaxRegularObjectSize a dedicated
// region. Sweeping frees a region when its single object is unmarked.
type HugeObjectSpace struct {
	Space
}

func newHugeObjectSpace(h *Heap, maximum int) *HugeObjectSpace {
	s := &HugeObjectSpace{}
	s.init(h, HugeObjectSpaceType, 0, maximum, RegionHuge)
	return s
}

// Allocate returns the start of a new huge region able to hold size bytes,
// or 0 if size is above the single-object cap or the committed cap would
// be exceeded.
func (s *HugeObjectSpace) Allocate(size int) Address {
	if size > MaxHugeObjectSize {
		s.heap.log.Errorf("huge object of %d bytes exceeds the %d byte cap", size, MaxHugeObjectSize)
		return 0
	}
	alignedSize := (size + RegionSize - 1) &^ (RegionSize - 1)
	r := s.newRegion(alignedSize, s.maximumCapacity)
	if r == nil {
		return 0
	}
	r.setHighWaterMark(r.Begin() + Address(AlignUp(size)))
	return r.Begin()
}

// Sweep frees every region whose object was not marked.
func (s *HugeObjectSpace) Sweep() {
	s.EnumerateRegions(func(r *Region) {
		if r.Test(r.Begin()) {
			r.aliveObject.Store(int64(r.HighWaterMark() - r.Begin()))
			return
		}
		s.heap.log.Debugf("huge region %#x freed", uint64(r.Begin()))
		s.FreeRegion(r)
	})
}

// ObjectSize returns the committed bytes of live huge objects.
func (s *HugeObjectSpace) ObjectSize() int {
	n := 0
	s.EnumerateRegions(func(r *Region) { n += int(r.HighWaterMark() - r.Begin()) })
	return n
}

// IterateObjects calls fn with each huge object.
func (s *HugeObjectSpace) IterateObjects(fn func(r *Region, obj Address)) {
	s.EnumerateRegions(func(r *Region) { fn(r, r.Begin()) })
}
