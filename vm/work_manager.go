package vm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// WorkManager: the marking worklist
// ---------------------------------------------------------------------------

// Workers keep a private stack and publish half of it once it grows past
// publishThreshold, so idle workers have something to take.
const (
	publishThreshold = 128
	stealBatch       = 32
)

// WorkManager holds grey objects waiting to be scanned. The mutator's
// marking barrier pushes into the shared stack at any time; Drain runs
// worker goroutines that pop from it until every worker is idle and the
// shared stack is empty, or until Stop is called.
type WorkManager struct {
	heap *Heap

	mu      sync.Mutex
	cond    *sync.Cond
	global  []Address
	idle    int
	workers int
	done    bool

	stopped atomic.Bool
	visited atomic.Int64
}

func newWorkManager(h *Heap) *WorkManager {
	w := &WorkManager{heap: h}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Push queues obj for scanning. It never blocks on marking progress.
func (w *WorkManager) Push(obj Address) {
	w.mu.Lock()
	w.global = append(w.global, obj)
	w.cond.Signal()
	w.mu.Unlock()
}

// Len returns the number of objects in the shared stack.
func (w *WorkManager) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.global)
}

// Visited returns the number of objects scanned since the last Reset.
func (w *WorkManager) Visited() int { return int(w.visited.Load()) }

// Reset drops all queued work.
func (w *WorkManager) Reset() {
	w.mu.Lock()
	w.global = w.global[:0]
	w.mu.Unlock()
	w.visited.Store(0)
}

// Stop asks running workers to return their private stacks to the shared
// stack and exit.
func (w *WorkManager) Stop() {
	w.stopped.Store(true)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Drain scans queued objects on n workers. visit scans one object and
// queues the objects it greys through push. Drain reports whether the
// worklist was exhausted (false after Stop) and the first visit error.
func (w *WorkManager) Drain(n int, visit func(obj Address, push func(Address)) error) (bool, error) {
	n = max(n, 1)
	w.mu.Lock()
	w.idle = 0
	w.workers = n
	w.done = false
	w.mu.Unlock()
	w.stopped.Store(false)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error { return w.work(visit) })
	}
	err := g.Wait()
	return !w.stopped.Load() && err == nil, err
}

func (w *WorkManager) work(visit func(obj Address, push func(Address)) error) error {
	var local []Address
	push := func(obj Address) {
		local = append(local, obj)
		if len(local) > publishThreshold {
			local = w.publish(local)
		}
	}
	for {
		if w.stopped.Load() {
			w.publish(local)
			return nil
		}
		if len(local) == 0 {
			if local = w.steal(local); len(local) == 0 {
				return nil
			}
		}
		obj := local[len(local)-1]
		local = local[:len(local)-1]
		if err := visit(obj, push); err != nil {
			w.Stop()
			return err
		}
		w.visited.Add(1)
	}
}

// publish moves half of local (all of it when stopping) to the shared
// stack and returns what remains.
func (w *WorkManager) publish(local []Address) []Address {
	if len(local) == 0 {
		return local
	}
	keep := len(local) / 2
	if w.stopped.Load() {
		keep = 0
	}
	w.mu.Lock()
	w.global = append(w.global, local[keep:]...)
	w.cond.Broadcast()
	w.mu.Unlock()
	return local[:keep]
}

// steal takes a batch from the shared stack, waiting while other workers
// may still produce work. It returns an empty slice on termination.
func (w *WorkManager) steal(local []Address) []Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.global) == 0 {
		if w.done || w.stopped.Load() {
			return local
		}
		w.idle++
		if w.idle == w.workers {
			w.done = true
			w.cond.Broadcast()
			w.idle--
			return local
		}
		w.cond.Wait()
		w.idle--
	}
	n := min(stealBatch, len(w.global))
	local = append(local, w.global[len(w.global)-n:]...)
	w.global = w.global[:len(w.global)-n]
	return local
}
