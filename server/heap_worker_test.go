package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/vm"
)

func TestHeapWorkerRunsOnOneGoroutine(t *testing.T) {
	v := newTestVM(t)
	w := NewHeapWorker(v)
	defer func() {
		w.Stop()
		v.Close()
	}()

	result, err := w.Do(bg(), func(v *vm.VM) (any, error) {
		return v.Heap().ID().String(), nil
	})
	require.NoError(t, err)
	require.Equal(t, v.Heap().ID().String(), result)
}

func TestHeapWorkerRecoversNonFatalPanics(t *testing.T) {
	v := newTestVM(t)
	w := NewHeapWorker(v)
	defer func() {
		w.Stop()
		v.Close()
	}()

	_, err := w.Do(bg(), func(*vm.VM) (any, error) { panic("boom") })
	require.ErrorContains(t, err, "boom")

	errBad := errors.New("bad state")
	_, err = w.Do(bg(), func(*vm.VM) (any, error) { panic(errBad) })
	require.ErrorIs(t, err, errBad)

	// The worker keeps serving after a panic that did not come from the heap.
	result, err := w.Do(bg(), func(*vm.VM) (any, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, 1, result)
}

func TestHeapWorkerStopsOnFatalHeapError(t *testing.T) {
	v := newTestVM(t)
	w := NewHeapWorker(v)
	defer func() {
		w.Stop()
		v.Close()
	}()

	_, err := w.Do(bg(), func(v *vm.VM) (any, error) {
		v.Heap().ThrowOutOfMemoryError(1<<40, "test")
		return nil, nil
	})
	require.ErrorIs(t, err, vm.ErrOutOfMemory)
	var fatal *vm.FatalError
	require.ErrorAs(t, err, &fatal)

	<-w.Done()
	require.ErrorIs(t, w.Err(), vm.ErrOutOfMemory)

	// The heap is not served again.
	ran := false
	_, err = w.Do(bg(), func(*vm.VM) (any, error) {
		ran = true
		return nil, nil
	})
	require.ErrorIs(t, err, ErrWorkerStopped)
	require.ErrorIs(t, err, vm.ErrOutOfMemory)
	require.False(t, ran)
}

func TestHeapWorkerStopped(t *testing.T) {
	v := newTestVM(t)
	defer v.Close()
	w := NewHeapWorker(v)
	w.Stop()
	w.Stop()

	_, err := w.Do(bg(), func(*vm.VM) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrWorkerStopped)
}

func TestHeapWorkerCancelledContext(t *testing.T) {
	v := newTestVM(t)
	w := NewHeapWorker(v)
	defer func() {
		w.Stop()
		v.Close()
	}()

	block := make(chan struct{})
	go w.Do(bg(), func(*vm.VM) (any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithCancel(bg())
	cancel()
	_, err := w.Do(ctx, func(*vm.VM) (any, error) { return nil, nil })
	close(block)
	require.ErrorIs(t, err, context.Canceled)
}
