package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// ConcurrentSweeper: background reclamation of sparse spaces
// ---------------------------------------------------------------------------

// sweepSpaceTypes are the spaces swept by background tasks, one task each.
var sweepSpaceTypes = [...]MemSpaceType{OldSpaceType, NonMovableSpaceType, MachineCodeSpaceType}

const numSweepTypes = len(sweepSpaceTypes)

func sweepIndex(t MemSpaceType) int {
	switch t {
	case OldSpaceType:
		return 0
	case NonMovableSpaceType:
		return 1
	case MachineCodeSpaceType:
		return 2
	}
	return -1
}

// SweepStats describes one completed sweep cycle.
type SweepStats struct {
	Regions   int
	LiveBytes int
	Duration  time.Duration
	Timestamp time.Time
}

// ConcurrentSweeper reclaims dead objects after marking. Each sweepable
// space gets one background task draining its queue of regions (emptiest
// first); the mutator joins at EnsureTaskFinished or helps by sweeping
// regions itself.
type ConcurrentSweeper struct {
	heap    *Heap
	enabled bool
	log     commonlog.Logger

	mu        [numSweepTypes]sync.Mutex
	cond      [numSweepTypes]*sync.Cond
	remaining [numSweepTypes]int
	finished  [numSweepTypes]bool

	isSweeping atomic.Bool
	started    time.Time

	sweepCount atomic.Uint64
	lastStats  atomic.Value // *SweepStats
}

func newConcurrentSweeper(h *Heap, enabled bool) *ConcurrentSweeper {
	s := &ConcurrentSweeper{heap: h, enabled: enabled, log: commonlog.GetLogger("kestrel.sweeper")}
	for i := range s.cond {
		s.cond[i] = sync.NewCond(&s.mu[i])
	}
	return s
}

// ConcurrentEnabled reports whether sweeping runs in the background.
func (s *ConcurrentSweeper) ConcurrentEnabled() bool { return s.enabled }

// IsSweeping reports whether a sweep cycle has not been fully joined yet.
func (s *ConcurrentSweeper) IsSweeping() bool { return s.isSweeping.Load() }

// Sweep starts a sweep cycle over every sparse space and sweeps the huge
// object space synchronously.
func (s *ConcurrentSweeper) Sweep() {
	s.started = time.Now()
	if !s.enabled {
		regions := 0
		for _, t := range sweepSpaceTypes {
			space := s.heap.sparseSpace(t)
			regions += space.RegionCount()
			space.Sweep()
		}
		s.heap.hugeObjectSpace.Sweep()
		s.recordCycle(regions)
		return
	}

	s.isSweeping.Store(true)
	for i, t := range sweepSpaceTypes {
		space := s.heap.sparseSpace(t)
		space.PrepareSweeping()
		s.mu[i].Lock()
		s.remaining[i] = 1
		s.finished[i] = false
		s.mu[i].Unlock()
		go s.sweeperTask(i, space)
	}
	s.heap.hugeObjectSpace.Sweep()
}

func (s *ConcurrentSweeper) sweeperTask(i int, space *SparseSpace) {
	space.AsyncSweep(false)
	s.mu[i].Lock()
	s.remaining[i]--
	s.cond[i].Broadcast()
	s.mu[i].Unlock()
	s.log.Debugf("%s sweeper task done", space.Type())
}

func (s *ConcurrentSweeper) notifyRegionSwept(t MemSpaceType) {
	i := sweepIndex(t)
	if i < 0 {
		return
	}
	s.mu[i].Lock()
	s.cond[i].Broadcast()
	s.mu[i].Unlock()
}

// EnsureTaskFinished blocks until sweeping of space type t is complete,
// sweeping pending regions on the calling goroutine meanwhile, and hands
// every swept region to the allocator.
func (s *ConcurrentSweeper) EnsureTaskFinished(t MemSpaceType) {
	i := sweepIndex(t)
	if i < 0 || !s.isSweeping.Load() {
		return
	}
	space := s.heap.sparseSpace(t)

	s.mu[i].Lock()
	if s.finished[i] {
		s.mu[i].Unlock()
		return
	}
	pending := s.remaining[i] > 0
	s.mu[i].Unlock()
	if pending {
		space.AsyncSweep(true)
	}

	s.mu[i].Lock()
	for s.remaining[i] > 0 {
		s.cond[i].Wait()
	}
	space.FinishFillSweptRegion()
	s.finished[i] = true
	s.mu[i].Unlock()

	s.checkAllFinished()
}

// EnsureAllTaskFinished joins every sweeping task.
func (s *ConcurrentSweeper) EnsureAllTaskFinished() {
	if !s.isSweeping.Load() {
		return
	}
	for _, t := range sweepSpaceTypes {
		s.EnsureTaskFinished(t)
	}
}

// WaitAllTaskFinished waits for the background tasks to end without handing
// swept regions to the allocators.
func (s *ConcurrentSweeper) WaitAllTaskFinished() {
	if !s.isSweeping.Load() {
		return
	}
	for i := range sweepSpaceTypes {
		s.mu[i].Lock()
		for s.remaining[i] > 0 {
			s.cond[i].Wait()
		}
		s.mu[i].Unlock()
	}
}

func (s *ConcurrentSweeper) checkAllFinished() {
	regions := 0
	for i := range sweepSpaceTypes {
		s.mu[i].Lock()
		done := s.finished[i]
		s.mu[i].Unlock()
		if !done {
			return
		}
		regions += s.heap.sparseSpace(sweepSpaceTypes[i]).RegionCount()
	}
	if s.isSweeping.CompareAndSwap(true, false) {
		s.recordCycle(regions)
	}
}

// TryFillSweptRegion hands regions already swept in the background to the
// allocator of space type t.
func (s *ConcurrentSweeper) TryFillSweptRegion(t MemSpaceType) bool {
	if sweepIndex(t) < 0 {
		return false
	}
	return s.heap.sparseSpace(t).TryFillSweptRegion()
}

// SweepOneRegion sweeps one pending region of space type t on the calling
// goroutine. It reports whether a region was swept.
func (s *ConcurrentSweeper) SweepOneRegion(t MemSpaceType) bool {
	if sweepIndex(t) < 0 || !s.isSweeping.Load() {
		return false
	}
	space := s.heap.sparseSpace(t)
	r := space.GetSweepingRegionSafe()
	if r == nil {
		return false
	}
	space.SweepRegion(r, true)
	r.sweepState.Store(regionSweepNone)
	s.notifyRegionSwept(t)
	return true
}

// EnsureRegionSwept makes sure r is no longer waiting for or undergoing a
// sweep. Callers use it before reading r's remembered sets.
func (s *ConcurrentSweeper) EnsureRegionSwept(r *Region) {
	if r.sweepState.CompareAndSwap(regionSweepPending, regionSweeping) {
		space := s.heap.sparseSpace(r.Space().Type())
		space.SweepRegion(r, true)
		r.sweepState.Store(regionSweepNone)
		s.notifyRegionSwept(space.Type())
		return
	}
	if r.sweepState.Load() != regionSweeping {
		return
	}
	i := sweepIndex(r.Space().Type())
	s.mu[i].Lock()
	for r.sweepState.Load() == regionSweeping {
		s.cond[i].Wait()
	}
	s.mu[i].Unlock()
}

func (s *ConcurrentSweeper) recordCycle(regions int) {
	live := 0
	for _, t := range sweepSpaceTypes {
		live += s.heap.sparseSpace(t).LiveObjectSize()
	}
	stats := &SweepStats{
		Regions:   regions,
		LiveBytes: live,
		Duration:  time.Since(s.started),
		Timestamp: time.Now(),
	}
	s.sweepCount.Add(1)
	s.lastStats.Store(stats)
	s.log.Debugf("sweep finished: %d regions, %d live bytes in %s", regions, live, stats.Duration)
}

// SweepCount returns the number of completed sweep cycles.
func (s *ConcurrentSweeper) SweepCount() uint64 { return s.sweepCount.Load() }

// LastStats returns the statistics of the most recent cycle, or nil.
func (s *ConcurrentSweeper) LastStats() *SweepStats {
	if v := s.lastStats.Load(); v != nil {
		return v.(*SweepStats)
	}
	return nil
}
