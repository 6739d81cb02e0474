package trace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/vm"
)

func openRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "gc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndEvents(t *testing.T) {
	r := openRecorder(t)

	at := time.Unix(1700000000, 42)
	require.NoError(t, r.Record(GCEvent{
		HeapID:   "h1",
		At:       at,
		Kind:     "gc-finished",
		GCType:   "SEMI_GC",
		Space:    "SEMI_SPACE",
		Duration: 3 * time.Millisecond,
		HeapSize: 1 << 20,
		Promoted: 128,
	}))
	require.NoError(t, r.Record(GCEvent{HeapID: "h1", At: at, Kind: "out-of-memory", Size: 64}))

	events, err := r.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Less(t, events[0].Seq, events[1].Seq)
	require.Equal(t, "gc-finished", events[0].Kind)
	require.Equal(t, 3*time.Millisecond, events[0].Duration)
	require.Equal(t, 1<<20, events[0].HeapSize)
	require.Equal(t, 128, events[0].Promoted)
	require.True(t, at.Equal(events[0].At))
	require.Equal(t, 64, events[1].Size)

	oom, err := r.EventsOfKind("out-of-memory")
	require.NoError(t, err)
	require.Len(t, oom, 1)
}

func TestAttachRecordsCollections(t *testing.T) {
	r := openRecorder(t)

	opts := vm.DefaultOptions()
	opts.Heap.ConcurrentMarking = false
	v := vm.NewVM(opts)
	defer v.Close()
	r.Attach(v.Heap())

	v.Heap().CollectGarbage(vm.OldGC)
	require.NoError(t, r.Err())

	finished, err := r.EventsOfKind(vm.EventGCFinished.String())
	require.NoError(t, err)
	require.Len(t, finished, 1)
	require.Equal(t, "OLD_GC", finished[0].GCType)
	require.Equal(t, v.Heap().ID().String(), finished[0].HeapID)

	events, err := r.Events()
	require.NoError(t, err)
	require.Equal(t, vm.EventGCTriggered.String(), events[0].Kind)
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.db")
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Record(GCEvent{HeapID: "h", At: time.Now(), Kind: "gc-triggered"}))
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	events, err := r.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
}
