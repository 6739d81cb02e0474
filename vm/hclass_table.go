package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// HClassTable: hidden class registry
// ---------------------------------------------------------------------------

// Object headers hold a 32-bit class ID. The table maps IDs to classes for
// the mutator and for GC workers; lookups never take a lock.
const (
	hclassChunkBits = 12
	hclassChunkSize = 1 << hclassChunkBits
	hclassMaxChunks = 256
	maxHClassID     = hclassChunkSize * hclassMaxChunks
)

type hclassChunk [hclassChunkSize]atomic.Pointer[HiddenClass]

// HClassTable assigns IDs to hidden classes. IDs of unregistered classes
// are reused.
type HClassTable struct {
	chunks [hclassMaxChunks]atomic.Pointer[hclassChunk]

	mu    sync.Mutex
	next  uint32
	free  []uint32
	count atomic.Int32
}

func newHClassTable() *HClassTable {
	return &HClassTable{next: firstDynamicClassID}
}

// Register assigns hc an ID. It returns false when the ID space is exhausted.
func (t *HClassTable) Register(hc *HiddenClass) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	var id uint32
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if t.next >= maxHClassID {
			return false
		}
		id = t.next
		t.next++
	}
	chunk := t.chunks[id>>hclassChunkBits].Load()
	if chunk == nil {
		chunk = new(hclassChunk)
		t.chunks[id>>hclassChunkBits].Store(chunk)
	}
	hc.id = id
	chunk[id&(hclassChunkSize-1)].Store(hc)
	t.count.Add(1)
	return true
}

// Get returns the class with the given ID, or nil.
func (t *HClassTable) Get(id uint32) *HiddenClass {
	if id >= maxHClassID {
		return nil
	}
	chunk := t.chunks[id>>hclassChunkBits].Load()
	if chunk == nil {
		return nil
	}
	return chunk[id&(hclassChunkSize-1)].Load()
}

// Unregister releases hc's ID.
func (t *HClassTable) Unregister(hc *HiddenClass) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chunk := t.chunks[hc.id>>hclassChunkBits].Load()
	if chunk == nil || chunk[hc.id&(hclassChunkSize-1)].Load() != hc {
		return
	}
	chunk[hc.id&(hclassChunkSize-1)].Store(nil)
	t.free = append(t.free, hc.id)
	t.count.Add(-1)
}

// Len returns the number of registered classes.
func (t *HClassTable) Len() int { return int(t.count.Load()) }

// Range calls fn with every registered class until fn returns false.
func (t *HClassTable) Range(fn func(hc *HiddenClass) bool) {
	t.mu.Lock()
	limit := t.next
	t.mu.Unlock()
	for id := firstDynamicClassID; id < limit; id++ {
		if hc := t.Get(id); hc != nil && !fn(hc) {
			return
		}
	}
}
