package vm

import (
	"fmt"
	"sync/atomic"
	"weak"
)

// Inline Caching for Property Access
//
// Most property access sites only ever see objects of one hidden class
// (monomorphic), some see a few (polymorphic) and a small number see too
// many to be worth caching (megamorphic). Each site owns a slot in the
// ProfileTypeInfo of its function; the slot maps receiver classes to
// handlers that say how to perform the access without a lookup.
//
// Slots hold classes through weak pointers: a cache entry never keeps a
// class alive, and a reclaimed class simply stops matching.

// ICState is the state of one cache slot.
type ICState uint8

const (
	ICUninitialized ICState = iota // No access seen yet
	ICMonomorphic                  // One (class, handler) pair
	ICPolymorphic                  // Up to ICOptions.PolyCapacity pairs
	ICKeyed                        // Keyed access on one name: (key, pairs)
	ICGlobal                       // Global variable: the property box
	ICMegamorphic                  // Too many classes or keys, always miss
)

var icStateNames = [...]string{"uninitialized", "monomorphic", "polymorphic", "keyed", "global", "megamorphic"}

func (s ICState) String() string {
	if int(s) < len(icStateNames) {
		return icStateNames[s]
	}
	return fmt.Sprintf("ICState(%d)", s)
}

// ICOptions tunes inline caches.
type ICOptions struct {
	// PolyCapacity is the number of classes a polymorphic slot holds
	// before it goes megamorphic.
	PolyCapacity int
}

func DefaultICOptions() ICOptions {
	return ICOptions{PolyCapacity: 4}
}

// icEntry is one (class, handler) pair.
type icEntry struct {
	hclass  weak.Pointer[HiddenClass]
	handler *Handler
}

func (e icEntry) matches(hc *HiddenClass) bool {
	return e.handler != nil && e.hclass.Value() == hc
}

func (e icEntry) dead() bool {
	return e.hclass.Value() == nil
}

// ICSlot is the cache of one access site.
type ICSlot struct {
	state ICState
	mono  icEntry
	poly  []icEntry
	key   Value
	box   Value

	// Statistics for profiling
	Hits   uint64
	Misses uint64
}

func (s *ICSlot) State() ICState { return s.state }

// Handler returns the handler of a monomorphic slot, or nil.
func (s *ICSlot) Handler() *Handler {
	if s.state != ICMonomorphic {
		return nil
	}
	return s.mono.handler
}

// Lookup returns the handler cached for receivers of class hc, or nil.
func (s *ICSlot) Lookup(hc *HiddenClass) *Handler {
	switch s.state {
	case ICMonomorphic:
		if s.mono.matches(hc) {
			return s.mono.handler
		}
	case ICPolymorphic:
		return s.CheckPolyHClass(hc)
	}
	return nil
}

// LookupKeyed returns the handler cached for key on receivers of class hc.
func (s *ICSlot) LookupKeyed(hc *HiddenClass, key Value) *Handler {
	if s.state != ICKeyed || s.key != key {
		return nil
	}
	return s.CheckPolyHClass(hc)
}

// CheckPolyHClass scans the polymorphic pairs for hc.
func (s *ICSlot) CheckPolyHClass(hc *HiddenClass) *Handler {
	for i := range s.poly {
		if s.poly[i].matches(hc) {
			return s.poly[i].handler
		}
	}
	return nil
}

// Update records handler h for class hc, moving the slot from
// uninitialized to monomorphic to polymorphic and finally megamorphic.
// It returns the resulting state.
func (s *ICSlot) Update(hc *HiddenClass, h *Handler, capacity int) ICState {
	e := icEntry{hclass: weak.Make(hc), handler: h}
	switch s.state {
	case ICUninitialized:
		s.state = ICMonomorphic
		s.mono = e

	case ICMonomorphic:
		if s.mono.matches(hc) || s.mono.dead() {
			s.mono = e
			break
		}
		s.state = ICPolymorphic
		s.poly = []icEntry{s.mono, e}
		s.mono = icEntry{}

	case ICPolymorphic:
		s.addPoly(e, hc, capacity)

	case ICKeyed:
		s.goMegamorphic()
	}
	return s.state
}

// UpdateKeyed records handler h for key on class hc. A keyed slot tracks a
// single key; a second key makes it megamorphic.
func (s *ICSlot) UpdateKeyed(key Value, hc *HiddenClass, h *Handler, capacity int) ICState {
	e := icEntry{hclass: weak.Make(hc), handler: h}
	switch s.state {
	case ICUninitialized:
		s.state = ICKeyed
		s.key = key
		s.poly = []icEntry{e}
	case ICKeyed:
		if s.key != key {
			s.goMegamorphic()
			break
		}
		s.addPoly(e, hc, capacity)
	case ICMonomorphic, ICPolymorphic:
		s.goMegamorphic()
	}
	return s.state
}

func (s *ICSlot) addPoly(e icEntry, hc *HiddenClass, capacity int) {
	for i := range s.poly {
		if s.poly[i].matches(hc) || s.poly[i].dead() {
			s.poly[i] = e
			return
		}
	}
	if len(s.poly) < capacity {
		s.poly = append(s.poly, e)
		return
	}
	s.goMegamorphic()
}

func (s *ICSlot) goMegamorphic() {
	s.state = ICMegamorphic
	s.mono = icEntry{}
	s.poly = nil
	s.key = Undefined
}

// SetGlobal caches the property box of a global variable.
func (s *ICSlot) SetGlobal(box Value) {
	s.state = ICGlobal
	s.box = box
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s *ICSlot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// Reset clears the slot back to the uninitialized state.
func (s *ICSlot) Reset() {
	*s = ICSlot{key: Undefined, box: Undefined}
}

func (s *ICSlot) visitRoots(visit func(*Value)) {
	visit(&s.box)
	s.mono.handler.visitRoots(visit)
	for i := range s.poly {
		s.poly[i].handler.visitRoots(visit)
	}
}

// ---------------------------------------------------------------------------
// ProfileTypeInfo
// ---------------------------------------------------------------------------

// ProfileTypeInfo holds the cache slots of one function. Its handlers and
// boxes are GC roots for as long as it is registered with the VM.
type ProfileTypeInfo struct {
	slots []ICSlot
}

// NewProfileTypeInfo creates and registers a table of n slots.
func (vm *VM) NewProfileTypeInfo(n int) *ProfileTypeInfo {
	p := &ProfileTypeInfo{slots: make([]ICSlot, n)}
	for i := range p.slots {
		p.slots[i].Reset()
	}
	vm.profiles = append(vm.profiles, p)
	return p
}

// ReleaseProfileTypeInfo unregisters p. Its slots must not be used again.
func (vm *VM) ReleaseProfileTypeInfo(p *ProfileTypeInfo) {
	for i, q := range vm.profiles {
		if q == p {
			vm.profiles = append(vm.profiles[:i], vm.profiles[i+1:]...)
			return
		}
	}
}

// Slot returns slot i.
func (p *ProfileTypeInfo) Slot(i int) *ICSlot { return &p.slots[i] }

// Len returns the number of slots.
func (p *ProfileTypeInfo) Len() int { return len(p.slots) }

func (p *ProfileTypeInfo) visitRoots(visit func(*Value)) {
	for i := range p.slots {
		p.slots[i].visitRoots(visit)
	}
}

// Stats returns aggregate statistics for all slots in the table.
func (p *ProfileTypeInfo) Stats() (mono, poly, mega, uninit int, totalHits, totalMisses uint64) {
	for i := range p.slots {
		s := &p.slots[i]
		switch s.state {
		case ICMonomorphic:
			mono++
		case ICPolymorphic, ICKeyed:
			poly++
		case ICMegamorphic:
			mega++
		case ICUninitialized:
			uninit++
		}
		totalHits += s.Hits
		totalMisses += s.Misses
	}
	return
}

// HitRate returns the aggregate hit rate for all slots.
func (p *ProfileTypeInfo) HitRate() float64 {
	_, _, _, _, hits, misses := p.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears all slots in the table.
func (p *ProfileTypeInfo) Reset() {
	for i := range p.slots {
		p.slots[i].Reset()
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// ICKind names the access operation of a cache slot.
type ICKind uint8

const (
	LoadICByNameKind ICKind = iota
	StoreICByNameKind
	LoadICByValueKind
	StoreICByValueKind
	LoadGlobalICKind
	StoreGlobalICKind
)

var icKindNames = [...]string{"LoadICByName", "StoreICByName", "LoadICByValue", "StoreICByValue",
	"TryLoadGlobalICByName", "TryStoreGlobalICByName"}

func (k ICKind) String() string {
	if int(k) < len(icKindNames) {
		return icKindNames[k]
	}
	return fmt.Sprintf("ICKind(%d)", k)
}

// ICStats counts cache outcomes across the VM. TransitionLookups counts
// searches of class transition tables, which cache hits never perform.
type ICStats struct {
	Hits              atomic.Uint64
	Misses            atomic.Uint64
	TransitionLookups atomic.Uint64
}

// ICStatsSnapshot is a copy of the counters.
type ICStatsSnapshot struct {
	Hits              uint64 `cbor:"hits"`
	Misses            uint64 `cbor:"misses"`
	TransitionLookups uint64 `cbor:"transitionLookups"`
}

// ICStats returns the current counters.
func (vm *VM) ICStats() ICStatsSnapshot {
	return ICStatsSnapshot{
		Hits:              vm.icStats.Hits.Load(),
		Misses:            vm.icStats.Misses.Load(),
		TransitionLookups: vm.icStats.TransitionLookups.Load(),
	}
}

// SetSlowPathHook installs fn to be called on every cache miss.
func (vm *VM) SetSlowPathHook(fn func(kind ICKind, slot int)) {
	vm.slowPathHook = fn
}
