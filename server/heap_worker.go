package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/kestrel/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("heap worker stopped")

// heapRequest represents a unit of work to be executed on the mutator goroutine.
type heapRequest struct {
	fn   func(*vm.VM) (any, error)
	done chan heapResult
}

// heapResult holds the return value from a VM operation.
type heapResult struct {
	value any
	err   error
}

// HeapWorker serializes all VM access through a single goroutine.
// A VM has one mutator; every handler must go through the worker.
//
// A fatal heap error ends the worker: the request that hit it gets the
// *vm.FatalError, and every later request fails with ErrWorkerStopped.
type HeapWorker struct {
	vm       *vm.VM
	requests chan heapRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	fatal    atomic.Pointer[vm.FatalError]
}

// NewHeapWorker creates a HeapWorker and starts the processing goroutine.
func NewHeapWorker(v *vm.VM) *HeapWorker {
	w := &HeapWorker{
		vm:       v,
		requests: make(chan heapRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *HeapWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			res := w.execute(req.fn)
			req.done <- res
			if w.fatal.Load() != nil {
				return
			}
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics. A fatal heap
// error is recorded so the loop stops serving the heap.
func (w *HeapWorker) execute(fn func(*vm.VM) (any, error)) (result heapResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe, ok := r.(*vm.FatalError); ok {
			w.fatal.Store(fe)
			log.Criticalf("heap worker stopped: %s", fe)
			result = heapResult{err: fe}
			return
		}
		if err, ok := r.(error); ok {
			result.err = fmt.Errorf("panic: %w", err)
			return
		}
		result.err = fmt.Errorf("panic: %v", r)
	}()
	result.value, result.err = fn(w.vm)
	return result
}

// Do submits a function for execution on the mutator goroutine and blocks
// until it completes or ctx is done. A request already running when ctx is
// cancelled still finishes.
func (w *HeapWorker) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := heapRequest{fn: fn, done: make(chan heapResult, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-w.stopped:
		return nil, w.stoppedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.stopped:
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
		}
		return nil, w.stoppedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *HeapWorker) stoppedError() error {
	if fe := w.fatal.Load(); fe != nil {
		return fmt.Errorf("%w: %w", ErrWorkerStopped, fe)
	}
	return ErrWorkerStopped
}

// Done is closed once the worker has exited, after Stop or a fatal heap
// error.
func (w *HeapWorker) Done() <-chan struct{} { return w.stopped }

// Err returns the fatal heap error that stopped the worker, or nil.
func (w *HeapWorker) Err() error {
	if fe := w.fatal.Load(); fe != nil {
		return fe
	}
	return nil
}

// Stop shuts down the worker goroutine and waits for it to exit.
func (w *HeapWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
