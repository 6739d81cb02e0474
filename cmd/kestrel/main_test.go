package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/config"
	"github.com/chazu/kestrel/trace"
	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/snapshot"
)

func TestRunWorkload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(`
[heap]
concurrent-marking = false
concurrent-sweeping = false
`), 0644))

	o := options{
		configDir:    dir,
		iterations:   3000,
		retain:       32,
		gcType:       "COMPRESS_FULL_GC",
		tracePath:    filepath.Join(dir, "gc.db"),
		snapshotPath: filepath.Join(dir, "pool.snap"),
	}
	var out bytes.Buffer
	require.NoError(t, run(o, &out))
	require.Contains(t, out.String(), "Inline caches:")
	require.Contains(t, out.String(), "COMPRESS_FULL_GC: 1")

	rec, err := trace.Open(o.tracePath)
	require.NoError(t, err)
	defer rec.Close()
	finished, err := rec.EventsOfKind(vm.EventGCFinished.String())
	require.NoError(t, err)
	require.NotEmpty(t, finished)
	require.Equal(t, "COMPRESS_FULL_GC", finished[len(finished)-1].GCType)

	f, err := os.Open(o.snapshotPath)
	require.NoError(t, err)
	defer f.Close()
	doc, err := snapshot.Decode(f)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x", "y", "z", "total"}, doc.Atoms)
	require.Len(t, doc.Roots, 1)
}

func TestWorkloadCachesStayMonomorphic(t *testing.T) {
	opts := vm.DefaultOptions()
	opts.Heap.ConcurrentMarking = false
	v := vm.NewVM(opts)
	defer v.Close()

	w := newWorkload(v, 8)
	defer w.release()
	require.NoError(t, w.run(500))

	require.Equal(t, vm.FromInt(500), v.LoadGlobalVar(w.total))
	for _, slot := range []int{slotStoreX, slotLoadX, slotLoadElem} {
		require.Equal(t, vm.ICMonomorphic, w.info.Slot(slot).State(), "slot %d", slot)
	}
}

func TestRunRejectsUnknownGCType(t *testing.T) {
	o := options{configDir: t.TempDir(), iterations: 10, retain: 1, gcType: "NOPE"}
	require.Error(t, run(o, &bytes.Buffer{}))
}
