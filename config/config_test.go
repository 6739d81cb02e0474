package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/kestrel/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

func TestDefaultMatchesVMOptions(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, vm.DefaultOptions(), c.VMOptions())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
semi-space-max = 8_388_608
concurrent-marking = false
mark-workers = 2

[objects]
inline-properties = 4

[ic]
poly-capacity = 6

[gc]
max-growing-factor = 2.5

[trace]
path = "gc.db"
`)

	c, err := Load(dir)
	require.NoError(t, err)

	abs, _ := filepath.Abs(dir)
	require.Equal(t, abs, c.Dir)

	opts := c.VMOptions()
	require.Equal(t, 8<<20, opts.Heap.SemiSpaceMaxCapacity)
	require.False(t, opts.Heap.ConcurrentMarking)
	require.Equal(t, 2, opts.Heap.MarkWorkers)
	require.Equal(t, 4, opts.Objects.InlineProperties)
	require.Equal(t, 6, opts.IC.PolyCapacity)
	require.Equal(t, 2.5, opts.Heap.Pacing.MaxGrowingFactor)
	require.Equal(t, "gc.db", c.Trace.Path)

	// Untouched keys keep their defaults.
	def := vm.DefaultOptions()
	require.Equal(t, def.Heap.SemiSpaceInitialCapacity, opts.Heap.SemiSpaceInitialCapacity)
	require.Equal(t, def.Objects.MinElementGap, opts.Objects.MinElementGap)
	require.Equal(t, def.Heap.Pacing.MinGrowingFactor, opts.Heap.Pacing.MinGrowingFactor)
	require.Equal(t, "localhost:7766", c.Server.Addr)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
semi-space-maximum = 1
`)
	_, err := Load(dir)
	require.ErrorContains(t, err, "heap.semi-space-maximum")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
cset-live-ratio = 1.5

[ic]
poly-capacity = 1
`)
	_, err := Load(dir)
	require.ErrorContains(t, err, "heap.cset-live-ratio")
	require.ErrorContains(t, err, "ic.poly-capacity")
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[heap\n")
	_, err := Load(dir)
	require.ErrorContains(t, err, "parse error")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[ic]\npoly-capacity = 3\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 3, c.IC.PolyCapacity)
}

func TestValidateSemiSpaceOrdering(t *testing.T) {
	c := Default()
	c.Heap.SemiSpaceMax = c.Heap.SemiSpaceInitial - 1
	require.ErrorContains(t, c.Validate(), "heap.semi-space-max")
}
