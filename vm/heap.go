package vm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrOutOfMemory is wrapped by every OutOfMemoryError.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrCorruptedHeap reports an object header that names no class.
	ErrCorruptedHeap = errors.New("corrupted heap")

	// ErrGCReentered reports a collection requested from inside another.
	ErrGCReentered = errors.New("garbage collection re-entered")

	errHClassTableFull = errors.New("hidden class table exhausted")
)

// OutOfMemoryError describes the allocation that exhausted the heap.
type OutOfMemoryError struct {
	Size int
	Site string
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: %d bytes at %s", e.Size, e.Site)
}

func (e *OutOfMemoryError) Unwrap() error { return ErrOutOfMemory }

// FatalError is handed to the fatal handler when the heap cannot continue.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// HeapEventKind identifies a HeapEvent.
type HeapEventKind uint8

const (
	EventAllocationFailed HeapEventKind = iota
	EventSpaceExpanded
	EventExpandRefused
	EventGCTriggered
	EventGCFinished
	EventOutOfMemory
	EventCSetReverted
	EventConcurrentMarkStarted
)

var heapEventNames = [...]string{
	EventAllocationFailed:      "allocation-failed",
	EventSpaceExpanded:         "space-expanded",
	EventExpandRefused:         "expand-refused",
	EventGCTriggered:           "gc-triggered",
	EventGCFinished:            "gc-finished",
	EventOutOfMemory:           "out-of-memory",
	EventCSetReverted:          "cset-reverted",
	EventConcurrentMarkStarted: "concurrent-mark-started",
}

func (k HeapEventKind) String() string {
	if int(k) < len(heapEventNames) {
		return heapEventNames[k]
	}
	return fmt.Sprintf("event(%d)", k)
}

// HeapEvent reports an allocation or collection milestone to listeners, in
// the order the heap went through them.
type HeapEvent struct {
	Kind   HeapEventKind
	Space  MemSpaceType
	GCType TriggerGCType
	Size   int
	Site   string

	// Set on EventGCFinished.
	Duration  time.Duration
	HeapSize  int
	LiveBytes int
	Promoted  int
}

// RootProvider exposes GC root slots. Collections update the slots in place
// when objects move.
type RootProvider interface {
	VisitRoots(visit func(slot *Value))
}

// ---------------------------------------------------------------------------
// HeapOptions
// ---------------------------------------------------------------------------

// HeapOptions are the capacities and switches a heap is created with.
type HeapOptions struct {
	SemiSpaceInitialCapacity int
	SemiSpaceMaxCapacity     int
	OldSpaceMaxCapacity      int
	OldSpaceInitialLimit     int
	NonMovableMaxCapacity    int
	MachineCodeMaxCapacity   int
	HugeObjectMaxCapacity    int
	SnapshotMaxCapacity      int
	MaxHeapSize              int

	ConcurrentMarking  bool
	ConcurrentSweeping bool
	MarkWorkers        int

	CSetLiveRatio  float64
	MinCSetRegions int
	MaxCSetRegions int

	Pacing GCPacing
}

// DefaultHeapOptions returns the capacities used when none are configured.
func DefaultHeapOptions() HeapOptions {
	return HeapOptions{
		SemiSpaceInitialCapacity: 2 * RegionSize,
		SemiSpaceMaxCapacity:     16 * RegionSize,
		OldSpaceMaxCapacity:      256 << 20,
		OldSpaceInitialLimit:     16 << 20,
		NonMovableMaxCapacity:    32 << 20,
		MachineCodeMaxCapacity:   8 << 20,
		HugeObjectMaxCapacity:    256 << 20,
		SnapshotMaxCapacity:      8 << 20,
		MaxHeapSize:              512 << 20,
		ConcurrentMarking:        true,
		ConcurrentSweeping:       true,
		MarkWorkers:              4,
		CSetLiveRatio:            0.5,
		MinCSetRegions:           2,
		MaxCSetRegions:           64,
		Pacing:                   DefaultGCPacing(),
	}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap owns every space of one engine instance, the sweeper, the marker and
// the pacing controller. All allocation and barrier calls go through it.
type Heap struct {
	id      uuid.UUID
	options HeapOptions
	log     commonlog.Logger
	gcLog   commonlog.Logger

	regionAllocator  *RegionAllocator
	activeSemi       *SemiSpace
	inactiveSemi     *SemiSpace
	oldSpace         *OldSpace
	nonMovableSpace  *NonMovableSpace
	machineCodeSpace *MachineCodeSpace
	hugeObjectSpace  *HugeObjectSpace
	snapshotSpace    *SnapshotSpace

	sweeper       *ConcurrentSweeper
	memController *MemController
	workManager   *WorkManager
	classes       *HClassTable

	roots         []RootProvider
	listeners     []func(HeapEvent)
	fatalHandler  func(*FatalError)
	onOutOfMemory func(size int, site string)
	classSweeper  func(epoch uint64) int

	inGC          bool
	epoch         atomic.Uint64
	marking       atomic.Bool
	markComplete  atomic.Bool
	markDone      chan struct{}
	markStarted   time.Time
	markErr       error
	promotedBytes int
	oldSpaceLimit int

	allocatedWhileMarking []Address

	gcCount [CompressFullGC + 1]int
	lastGC  *HeapEvent
}

// NewHeap creates a heap with an empty young generation ready to allocate.
func NewHeap(id uuid.UUID, opts HeapOptions, classes *HClassTable) *Heap {
	h := &Heap{
		id:            id,
		options:       opts,
		log:           commonlog.GetLogger("kestrel.heap"),
		gcLog:         commonlog.GetLogger("kestrel.gc"),
		classes:       classes,
		fatalHandler:  defaultFatalHandler,
		oldSpaceLimit: opts.OldSpaceInitialLimit,
	}
	h.regionAllocator = NewRegionAllocator(opts.MaxHeapSize)
	h.activeSemi = newSemiSpace(h, opts.SemiSpaceInitialCapacity, opts.SemiSpaceMaxCapacity)
	h.inactiveSemi = newSemiSpace(h, opts.SemiSpaceInitialCapacity, opts.SemiSpaceMaxCapacity)
	h.oldSpace = newOldSpace(h, opts.OldSpaceMaxCapacity)
	h.nonMovableSpace = newNonMovableSpace(h, opts.NonMovableMaxCapacity)
	h.machineCodeSpace = newMachineCodeSpace(h, opts.MachineCodeMaxCapacity)
	h.hugeObjectSpace = newHugeObjectSpace(h, opts.HugeObjectMaxCapacity)
	h.snapshotSpace = newSnapshotSpace(h, opts.SnapshotMaxCapacity)
	h.sweeper = newConcurrentSweeper(h, opts.ConcurrentSweeping)
	h.memController = newMemController(opts.Pacing)
	h.workManager = newWorkManager(h)
	h.epoch.Store(1)

	if !h.activeSemi.Expand(opts.SemiSpaceInitialCapacity) {
		h.log.Warningf("heap %s: cannot commit the first young region", id)
	}
	h.log.Infof("heap %s created: max %d bytes, semi space %d..%d", id, opts.MaxHeapSize,
		opts.SemiSpaceInitialCapacity, opts.SemiSpaceMaxCapacity)
	return h
}

func defaultFatalHandler(err *FatalError) { panic(err) }

// ID returns the heap's instance identity.
func (h *Heap) ID() uuid.UUID { return h.id }

// Options returns the options the heap was created with.
func (h *Heap) Options() HeapOptions { return h.options }

// Epoch returns the current marking epoch.
func (h *Heap) Epoch() uint64 { return h.epoch.Load() }

// IsMarking reports whether concurrent marking is in progress.
func (h *Heap) IsMarking() bool { return h.marking.Load() }

func (h *Heap) OldSpace() *OldSpace                 { return h.oldSpace }
func (h *Heap) NewSpace() *SemiSpace                { return h.activeSemi }
func (h *Heap) NonMovableSpace() *NonMovableSpace   { return h.nonMovableSpace }
func (h *Heap) MachineCodeSpace() *MachineCodeSpace { return h.machineCodeSpace }
func (h *Heap) HugeObjectSpace() *HugeObjectSpace   { return h.hugeObjectSpace }
func (h *Heap) SnapshotSpace() *SnapshotSpace       { return h.snapshotSpace }
func (h *Heap) Sweeper() *ConcurrentSweeper         { return h.sweeper }
func (h *Heap) MemController() *MemController       { return h.memController }
func (h *Heap) RegionAllocator() *RegionAllocator   { return h.regionAllocator }

// OldSpaceLimit is the committed size that triggers the next old
// collection.
func (h *Heap) OldSpaceLimit() int { return h.oldSpaceLimit }

// AddRootProvider registers a source of GC roots.
func (h *Heap) AddRootProvider(p RootProvider) { h.roots = append(h.roots, p) }

// AddGCListener registers fn to receive every heap event.
func (h *Heap) AddGCListener(fn func(HeapEvent)) { h.listeners = append(h.listeners, fn) }

// SetFatalHandler replaces the handler run on unrecoverable conditions. The
// default panics with the *FatalError.
func (h *Heap) SetFatalHandler(fn func(*FatalError)) { h.fatalHandler = fn }

func (h *Heap) emit(ev HeapEvent) {
	for _, fn := range h.listeners {
		fn(ev)
	}
}

// Fatal logs err and hands it to the fatal handler.
func (h *Heap) Fatal(err error) {
	h.log.Criticalf("heap %s: %s", h.id, err)
	h.fatalHandler(&FatalError{Err: err})
}

// ThrowOutOfMemoryError is the last stage of every failed allocation: the
// engine raises its out-of-memory error and the heap goes fatal.
func (h *Heap) ThrowOutOfMemoryError(size int, site string) {
	h.emit(HeapEvent{Kind: EventOutOfMemory, Size: size, Site: site})
	if h.onOutOfMemory != nil {
		h.onOutOfMemory(size, site)
	}
	h.Fatal(&OutOfMemoryError{Size: size, Site: site})
}

// regionOf returns the region containing addr.
func (h *Heap) regionOf(addr Address) *Region {
	r := h.regionAllocator.RegionOf(addr)
	if r == nil {
		h.Fatal(fmt.Errorf("%w: address %#x outside the heap", ErrCorruptedHeap, uint64(addr)))
	}
	return r
}

// sparseSpace returns the free-list space of type t, or nil.
func (h *Heap) sparseSpace(t MemSpaceType) *SparseSpace {
	switch t {
	case OldSpaceType:
		return &h.oldSpace.SparseSpace
	case NonMovableSpaceType:
		return &h.nonMovableSpace.SparseSpace
	case MachineCodeSpaceType:
		return &h.machineCodeSpace.SparseSpace
	}
	return nil
}

// ---------------------------------------------------------------------------
// Object geometry
// ---------------------------------------------------------------------------

// classAt returns the class of the object at addr in r.
func (h *Heap) classAt(r *Region, addr Address) *HiddenClass {
	hdr := r.Load(addr)
	if isForwarded(hdr) {
		fwd := forwardingAddress(hdr)
		return h.classAt(h.regionOf(fwd), fwd)
	}
	hc := h.classes.Get(classIDOf(hdr))
	if hc == nil {
		h.Fatal(fmt.Errorf("%w: object %#x has unknown class %d", ErrCorruptedHeap, uint64(addr), classIDOf(hdr)))
	}
	return hc
}

// objectSizeIn returns the byte size of the object or free object at addr.
func (h *Heap) objectSizeIn(r *Region, addr Address) int {
	hdr := r.Load(addr)
	if !isForwarded(hdr) && isFreeObjectID(classIDOf(hdr)) {
		return freeObjectSize(r, addr, classIDOf(hdr))
	}
	if isForwarded(hdr) {
		fwd := forwardingAddress(hdr)
		r, addr = h.regionOf(fwd), fwd
	}
	hc := h.classAt(r, addr)
	if hc == nil {
		return WordSize
	}
	return objectSizeOf(hc, r, addr)
}

func objectSizeOf(hc *HiddenClass, r *Region, addr Address) int {
	switch {
	case hc.objType.IsTaggedArray():
		return (taggedArrayHeader + int(r.Load(addr+arrayLengthWord))) * WordSize
	case hc.objType == TypeMachineCode:
		return codePayloadOffset + AlignUp(int(r.Load(addr+codeByteLengthOffset)))
	}
	return hc.objectSize
}

// iterateSlots calls fn with every tagged slot of obj.
func iterateSlots(hc *HiddenClass, r *Region, obj Address, fn func(slot Address)) {
	switch {
	case hc.objType == TypeMachineCode, hc.objType == TypeInternalAccessor:
		return
	case hc.objType.IsTaggedArray():
		n := int(r.Load(obj + arrayLengthWord))
		for i := 0; i < n; i++ {
			fn(obj + arrayDataOffset + Address(i*WordSize))
		}
	default:
		end := obj + Address(hc.objectSize)
		for slot := obj + WordSize; slot < end; slot += WordSize {
			fn(slot)
		}
	}
}

// visitRoots calls fn with every root slot, including class prototypes.
func (h *Heap) visitRoots(fn func(slot *Value)) {
	for _, p := range h.roots {
		p.VisitRoots(fn)
	}
	h.classes.Range(func(hc *HiddenClass) bool {
		fn(&hc.proto)
		return true
	})
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// markAllocated marks an object allocated while concurrent marking runs.
// The object is scanned when marking finishes, after its fields were
// initialized.
func (h *Heap) markAllocated(addr Address) {
	if !h.marking.Load() {
		return
	}
	if !h.regionOf(addr).AtomicMark(addr) {
		h.allocatedWhileMarking = append(h.allocatedWhileMarking, addr)
	}
}

// AllocateYoungOrHugeObject allocates in the young generation. On failure it
// runs a young collection and retries, then an old collection and retries,
// and finally raises out-of-memory and returns 0.
func (h *Heap) AllocateYoungOrHugeObject(size int) Address {
	size = AlignUp(size)
	if size > MaxRegularObjectSize {
		return h.AllocateHugeObject(size)
	}
	if addr := h.activeSemi.Allocate(size); addr != 0 {
		return addr
	}
	h.emit(HeapEvent{Kind: EventAllocationFailed, Space: SemiSpaceType, Size: size})
	h.CollectGarbage(SemiGC)
	if addr := h.activeSemi.Allocate(size); addr != 0 {
		return addr
	}
	h.CollectGarbage(OldGC)
	if addr := h.activeSemi.Allocate(size); addr != 0 {
		return addr
	}
	h.ThrowOutOfMemoryError(size, "AllocateYoungOrHugeObject")
	return 0
}

// AllocateOldOrHugeObject allocates directly in the old generation.
func (h *Heap) AllocateOldOrHugeObject(size int) Address {
	size = AlignUp(size)
	if size > MaxRegularObjectSize {
		return h.AllocateHugeObject(size)
	}
	addr := h.oldSpace.Allocate(size, !h.inGC)
	if addr == 0 {
		h.ThrowOutOfMemoryError(size, "AllocateOldOrHugeObject")
		return 0
	}
	h.markAllocated(addr)
	return addr
}

// AllocateNonMovableOrHugeObject allocates an object that never moves.
func (h *Heap) AllocateNonMovableOrHugeObject(size int) Address {
	size = AlignUp(size)
	if size > MaxRegularObjectSize {
		return h.AllocateHugeObject(size)
	}
	addr := h.nonMovableSpace.Allocate(size, !h.inGC)
	if addr == 0 {
		h.ThrowOutOfMemoryError(size, "AllocateNonMovableOrHugeObject")
		return 0
	}
	h.markAllocated(addr)
	return addr
}

// AllocateMachineCodeObject allocates in the executable space.
func (h *Heap) AllocateMachineCodeObject(size int) Address {
	size = AlignUp(size)
	addr := h.machineCodeSpace.Allocate(size, !h.inGC)
	if addr == 0 {
		h.ThrowOutOfMemoryError(size, "AllocateMachineCodeObject")
		return 0
	}
	h.markAllocated(addr)
	return addr
}

// AllocateHugeObject gives the object a dedicated region.
func (h *Heap) AllocateHugeObject(size int) Address {
	size = AlignUp(size)
	h.CheckAndTriggerOldGC(size)
	addr := h.hugeObjectSpace.Allocate(size)
	if addr == 0 && !h.inGC && size <= MaxHugeObjectSize {
		h.emit(HeapEvent{Kind: EventAllocationFailed, Space: HugeObjectSpaceType, Size: size})
		h.CollectGarbage(HugeGC)
		addr = h.hugeObjectSpace.Allocate(size)
	}
	if addr == 0 {
		h.ThrowOutOfMemoryError(size, "AllocateHugeObject")
		return 0
	}
	h.markAllocated(addr)
	return addr
}

// AllocateSnapshotSpace allocates an immortal object in the snapshot space.
func (h *Heap) AllocateSnapshotSpace(size int) Address {
	size = AlignUp(size)
	addr := h.snapshotSpace.Allocate(size)
	if addr == 0 {
		h.ThrowOutOfMemoryError(size, "AllocateSnapshotSpace")
	}
	return addr
}

// oldGenerationSize is the committed size counted against the old
// allocation limit.
func (h *Heap) oldGenerationSize() int {
	return h.oldSpace.CommittedSize() + h.nonMovableSpace.CommittedSize() +
		h.machineCodeSpace.CommittedSize() + h.hugeObjectSpace.CommittedSize()
}

// CheckAndTriggerOldGC runs (or advances) an old collection when allocating
// size more bytes would cross the old-space limit. It reports whether a
// collection completed, in which case the caller should retry its
// allocation.
func (h *Heap) CheckAndTriggerOldGC(size int) bool {
	if h.inGC || h.oldGenerationSize()+size <= h.oldSpaceLimit {
		return false
	}
	if h.marking.Load() {
		if h.concurrentMarkFinished() || h.oldGenerationSize()+size > h.oldSpace.MaximumCapacity() {
			h.CollectGarbage(OldGC)
			return true
		}
		return false
	}
	if h.options.ConcurrentMarking {
		h.StartConcurrentMarking()
		return false
	}
	h.CollectGarbage(OldGC)
	return true
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// SpaceStats describes one space.
type SpaceStats struct {
	Type      string `cbor:"type"`
	Regions   int    `cbor:"regions"`
	Committed int    `cbor:"committed"`
	Maximum   int    `cbor:"maximum"`
	Live      int    `cbor:"live"`
}

// HeapStats is a point-in-time summary of the heap.
type HeapStats struct {
	ID            string         `cbor:"id"`
	Committed     int            `cbor:"committed"`
	MaxHeapSize   int            `cbor:"max_heap_size"`
	OldSpaceLimit int            `cbor:"old_space_limit"`
	Spaces        []SpaceStats   `cbor:"spaces"`
	GCCounts      map[string]int `cbor:"gc_counts"`
	SweepCycles   uint64         `cbor:"sweep_cycles"`
	HiddenClasses int            `cbor:"hidden_classes"`
	Marking       bool           `cbor:"marking"`
}

// Stats summarizes the heap. Call it from the mutator goroutine.
func (h *Heap) Stats() HeapStats {
	st := HeapStats{
		ID:            h.id.String(),
		Committed:     h.regionAllocator.Committed(),
		MaxHeapSize:   h.regionAllocator.MaxHeapSize(),
		OldSpaceLimit: h.oldSpaceLimit,
		GCCounts:      make(map[string]int),
		SweepCycles:   h.sweeper.SweepCount(),
		HiddenClasses: h.classes.Len(),
		Marking:       h.marking.Load(),
	}
	add := func(s *Space, live int) {
		st.Spaces = append(st.Spaces, SpaceStats{
			Type:      s.Type().String(),
			Regions:   s.RegionCount(),
			Committed: s.CommittedSize(),
			Maximum:   s.MaximumCapacity(),
			Live:      live,
		})
	}
	add(&h.activeSemi.Space, h.activeSemi.AllocatedSize())
	add(&h.oldSpace.Space, h.oldSpace.LiveObjectSize())
	add(&h.nonMovableSpace.Space, h.nonMovableSpace.LiveObjectSize())
	add(&h.machineCodeSpace.Space, h.machineCodeSpace.LiveObjectSize())
	add(&h.hugeObjectSpace.Space, h.hugeObjectSpace.ObjectSize())
	add(&h.snapshotSpace.Space, h.snapshotSpace.AllocatedSize())
	for t, n := range h.gcCount {
		if n > 0 {
			st.GCCounts[TriggerGCType(t).String()] = n
		}
	}
	return st
}

// GCCount returns how many collections of type t completed.
func (h *Heap) GCCount(t TriggerGCType) int { return h.gcCount[t] }

// LastGC returns the EventGCFinished of the most recent collection, or nil.
func (h *Heap) LastGC() *HeapEvent { return h.lastGC }

// Destroy waits for background work and releases every region.
func (h *Heap) Destroy() {
	h.waitConcurrentMarking()
	h.sweeper.EnsureAllTaskFinished()
	h.activeSemi.Reset()
	h.inactiveSemi.Reset()
	h.oldSpace.Reset()
	h.nonMovableSpace.Reset()
	h.machineCodeSpace.Reset()
	h.hugeObjectSpace.Destroy()
	h.snapshotSpace.Reset()
	h.log.Infof("heap %s destroyed", h.id)
}
