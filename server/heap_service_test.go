package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/snapshot"
)

func bg() context.Context { return context.Background() }

func newTestVM(t *testing.T) *vm.VM {
	t.Helper()
	opts := vm.DefaultOptions()
	opts.Heap.ConcurrentMarking = false
	opts.Heap.ConcurrentSweeping = false
	return vm.NewVM(opts)
}

// startServer serves a fresh VM over httptest and returns a client for it.
func startServer(t *testing.T, opts ...ServerOption) (*vm.VM, *Client) {
	t.Helper()
	v := newTestVM(t)
	s := New(v, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
		v.Close()
	})
	return v, NewClient(ts.Client(), ts.URL)
}

func TestStats(t *testing.T) {
	v, c := startServer(t)
	id := v.Heap().ID().String()

	resp, err := c.Stats(bg())
	require.NoError(t, err)
	require.Equal(t, id, resp.Heap.ID)
	require.NotEmpty(t, resp.Heap.Spaces)
	require.Positive(t, resp.Heap.Committed)
	require.Positive(t, resp.Heap.HiddenClasses)
}

func TestCollectGarbage(t *testing.T) {
	_, c := startServer(t)

	resp, err := c.CollectGarbage(bg(), "OLD_GC")
	require.NoError(t, err)
	require.Equal(t, "OLD_GC", resp.GC.GCType)
	require.GreaterOrEqual(t, resp.Count, 1)

	stats, err := c.Stats(bg())
	require.NoError(t, err)
	require.NotNil(t, stats.LastGC)
	require.Equal(t, "OLD_GC", stats.LastGC.GCType)
	require.GreaterOrEqual(t, stats.Heap.GCCounts["OLD_GC"], 1)
}

func TestCollectGarbageDefaultsToFull(t *testing.T) {
	_, c := startServer(t)

	resp, err := c.CollectGarbage(bg(), "")
	require.NoError(t, err)
	require.Equal(t, vm.CompressFullGC.String(), resp.GC.GCType)
}

func TestCollectGarbageRejectsUnknownType(t *testing.T) {
	_, c := startServer(t)

	_, err := c.CollectGarbage(bg(), "TINY_GC")
	require.Error(t, err)
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSnapshotRoundTrip(t *testing.T) {
	_, c := startServer(t, WithSnapshotRoots(func(v *vm.VM) []vm.Value {
		arr := v.NewTaggedArray(2)
		v.TaggedArraySet(arr, 0, v.Intern("alpha"))
		v.TaggedArraySet(arr, 1, vm.FromInt(7))
		return []vm.Value{arr}
	}))

	resp, err := c.Snapshot(bg())
	require.NoError(t, err)
	require.Equal(t, 1, resp.Objects)
	require.Equal(t, 1, resp.Atoms)

	dst := newTestVM(t)
	defer dst.Close()
	roots, err := snapshot.Read(bytes.NewReader(resp.Data), dst)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, dst.Intern("alpha"), dst.TaggedArrayGet(roots[0], 0))
	require.Equal(t, vm.FromInt(7), dst.TaggedArrayGet(roots[0], 1))
}

func TestSnapshotRejectsOrdinaryObjects(t *testing.T) {
	_, c := startServer(t, WithSnapshotRoots(func(v *vm.VM) []vm.Value {
		return []vm.Value{v.NewObject()}
	}))

	_, err := c.Snapshot(bg())
	require.Error(t, err)
	require.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestSnapshotWithoutRoots(t *testing.T) {
	_, c := startServer(t)

	resp, err := c.Snapshot(bg())
	require.NoError(t, err)
	require.Zero(t, resp.Objects)

	doc, err := snapshot.Decode(bytes.NewReader(resp.Data))
	require.NoError(t, err)
	require.Empty(t, doc.Roots)
}

func TestServeStopsOnFatalHeapError(t *testing.T) {
	v := newTestVM(t)
	defer v.Close()
	s := New(v)
	defer s.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	c := NewClient(http.DefaultClient, "http://"+ln.Addr().String())
	_, err = c.Stats(bg())
	require.NoError(t, err)

	_, err = s.Worker().Do(bg(), func(v *vm.VM) (any, error) {
		v.Heap().ThrowOutOfMemoryError(1<<40, "test")
		return nil, nil
	})
	require.ErrorIs(t, err, vm.ErrOutOfMemory)

	select {
	case err := <-served:
		require.ErrorIs(t, err, vm.ErrOutOfMemory)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve kept running after a fatal heap error")
	}
}

func TestWorkerErrorCodes(t *testing.T) {
	oom := &vm.FatalError{Err: &vm.OutOfMemoryError{Size: 8, Site: "test"}}
	require.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(workerError(oom)))
	stopped := fmt.Errorf("%w: %w", ErrWorkerStopped, oom)
	require.Equal(t, connect.CodeUnavailable, connect.CodeOf(workerError(stopped)))
	require.Equal(t, connect.CodeCanceled, connect.CodeOf(workerError(context.Canceled)))
}
