package snapshot

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/vm"
)

func newVM(t *testing.T) *vm.VM {
	t.Helper()
	v := vm.NewVM(vm.DefaultOptions())
	t.Cleanup(v.Close)
	return v
}

// constantPool builds [ "alpha", 42, 1.5, inner, inner ] with inner = [ null, "beta" ].
func constantPool(t *testing.T, v *vm.VM) vm.Value {
	t.Helper()
	scope := v.OpenHandleScope()
	defer scope.Close()
	hInner := v.NewHandle(v.NewTaggedArray(2))
	v.TaggedArraySet(hInner.Get(), 0, vm.Null)
	v.TaggedArraySet(hInner.Get(), 1, v.Intern("beta"))
	outer := v.NewTaggedArray(5)
	inner := hInner.Get()
	v.TaggedArraySet(outer, 0, v.Intern("alpha"))
	v.TaggedArraySet(outer, 1, vm.FromInt(42))
	v.TaggedArraySet(outer, 2, vm.FromFloat64(1.5))
	v.TaggedArraySet(outer, 3, inner)
	v.TaggedArraySet(outer, 4, inner)
	pool, err := v.CopyToSnapshot(outer)
	require.NoError(t, err)
	require.True(t, v.IsSnapshotObject(pool))
	return pool
}

func TestWriteReadRelocates(t *testing.T) {
	src := newVM(t)
	pool := constantPool(t, src)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, src, []vm.Value{pool, vm.True}))

	dst := newVM(t)
	// Shift atom numbering so restored atoms must be re-interned.
	dst.Intern("unrelated")
	roots, err := Read(&buf, dst)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, vm.True, roots[1])

	got := roots[0]
	require.True(t, dst.IsSnapshotObject(got))
	require.Equal(t, 5, dst.TaggedArrayLength(got))
	require.Equal(t, dst.Intern("alpha"), dst.TaggedArrayGet(got, 0))
	require.Equal(t, vm.FromInt(42), dst.TaggedArrayGet(got, 1))
	require.Equal(t, 1.5, dst.TaggedArrayGet(got, 2).Float64())

	inner := dst.TaggedArrayGet(got, 3)
	require.Equal(t, inner, dst.TaggedArrayGet(got, 4), "shared reference must restore as one object")
	require.Equal(t, vm.Null, dst.TaggedArrayGet(inner, 0))
	require.Equal(t, "beta", dst.Atoms().Name(dst.TaggedArrayGet(inner, 1)))
}

func TestBuildRecordsHeader(t *testing.T) {
	v := newVM(t)
	doc, err := Build(v, []vm.Value{constantPool(t, v)})
	require.NoError(t, err)
	require.Equal(t, Version, doc.Version)
	require.Equal(t, v.Heap().ID().String(), doc.HeapID)
	require.ElementsMatch(t, []string{"alpha", "beta"}, doc.Atoms)
	require.Len(t, doc.Objects, 2)
}

func TestWriteRejectsOrdinaryHeapObjects(t *testing.T) {
	v := newVM(t)
	err := Write(&bytes.Buffer{}, v, []vm.Value{v.NewTaggedArray(1)})
	require.ErrorIs(t, err, vm.ErrNotSnapshotable)
}

func TestCopyToSnapshotRejectsSymbolsAndObjects(t *testing.T) {
	v := newVM(t)
	arr := v.NewTaggedArray(1)
	v.TaggedArraySet(arr, 0, v.Atoms().NewSymbol("secret"))
	_, err := v.CopyToSnapshot(arr)
	require.ErrorIs(t, err, vm.ErrNotSnapshotable)

	_, err = v.CopyToSnapshot(v.NewObject())
	require.ErrorIs(t, err, vm.ErrNotSnapshotable)
}

func TestReadRejectsMalformedInput(t *testing.T) {
	v := newVM(t)

	_, err := Read(bytes.NewReader([]byte{0xff, 0x00}), v)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	wrongVersion, err := cbor.Marshal(&Document{Version: Version + 1, HeapID: v.Heap().ID().String()})
	require.NoError(t, err)
	_, err = Read(bytes.NewReader(wrongVersion), v)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	dangling, err := cbor.Marshal(&Document{
		Version: Version,
		HeapID:  v.Heap().ID().String(),
		Roots:   []Cell{{Kind: cellObject, Bits: 3}},
	})
	require.NoError(t, err)
	_, err = Read(bytes.NewReader(dangling), v)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}
