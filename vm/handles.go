package vm

// ---------------------------------------------------------------------------
// Handles: GC-safe references held by Go code
// ---------------------------------------------------------------------------

// A Value read from the heap or returned by an allocating call goes stale
// as soon as the next allocation runs, because a collection may move the
// object. Go code that keeps an object across allocations stores it in a
// Handle. Handle slots are GC roots and are updated when objects move.

const handleBlockSize = 256

type handleBlock [handleBlockSize]Value

// HandleStorage is a stack of handle slots. Slots never move, so pointers to
// them stay valid while their scope is open.
type HandleStorage struct {
	blocks []*handleBlock
	top    int
}

func (s *HandleStorage) push(v Value) *Value {
	b := s.top / handleBlockSize
	if b == len(s.blocks) {
		s.blocks = append(s.blocks, new(handleBlock))
	}
	slot := &s.blocks[b][s.top%handleBlockSize]
	*slot = v
	s.top++
	return slot
}

// Len returns the number of live handle slots.
func (s *HandleStorage) Len() int { return s.top }

// visit calls fn with every live slot.
func (s *HandleStorage) visit(fn func(*Value)) {
	for i := 0; i < s.top; i++ {
		fn(&s.blocks[i/handleBlockSize][i%handleBlockSize])
	}
}

// Handle is a GC-updated reference to a Value.
type Handle struct {
	slot *Value
}

// Get returns the current value.
func (h Handle) Get() Value { return *h.slot }

// Set replaces the referenced value.
func (h Handle) Set(v Value) { *h.slot = v }

// IsValid reports whether the handle was created by NewHandle.
func (h Handle) IsValid() bool { return h.slot != nil }

// HandleScope releases every handle created after it was opened.
type HandleScope struct {
	storage *HandleStorage
	mark    int
}

// OpenHandleScope starts a scope. Close it with a deferred Close.
func (vm *VM) OpenHandleScope() HandleScope {
	return HandleScope{storage: &vm.handles, mark: vm.handles.top}
}

// Close releases the scope's handles.
func (s HandleScope) Close() {
	for i := s.mark; i < s.storage.top; i++ {
		s.storage.blocks[i/handleBlockSize][i%handleBlockSize] = Undefined
	}
	s.storage.top = s.mark
}

// NewHandle roots v in the current scope.
func (vm *VM) NewHandle(v Value) Handle {
	return Handle{slot: vm.handles.push(v)}
}
