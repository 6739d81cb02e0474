package vm

import "fmt"

// Address is a location in the simulated heap address space.
type Address uint64

// Heap geometry. Regions are aligned to RegionSize; huge regions span
// several consecutive aligned units.
const (
	RegionSizeLog2 = 18
	RegionSize     = 1 << RegionSizeLog2 // 256 KiB
	WordSize       = 8
	wordsPerRegion = RegionSize / WordSize

	// HeapBase keeps address 0 (and small raw integers) out of the heap.
	HeapBase Address = 1 << 32

	// MaxRegularObjectSize is the largest object allocated in a regular
	// region; anything bigger goes to the huge object space.
	MaxRegularObjectSize = RegionSize / 2

	// MaxHugeObjectSize caps a single huge allocation.
	MaxHugeObjectSize = 256 << 20
)

// AlignUp rounds size up to a multiple of WordSize.
func AlignUp(size int) int {
	return (size + WordSize - 1) &^ (WordSize - 1)
}

// MemSpaceType identifies the role of a space.
type MemSpaceType uint8

const (
	OldSpaceType MemSpaceType = iota
	NonMovableSpaceType
	MachineCodeSpaceType
	HugeObjectSpaceType
	SemiSpaceType
	SnapshotSpaceType
	LocalSpaceType
	numSpaceTypes
)

var spaceTypeNames = [...]string{
	OldSpaceType:         "old",
	NonMovableSpaceType:  "non-movable",
	MachineCodeSpaceType: "machine-code",
	HugeObjectSpaceType:  "huge-object",
	SemiSpaceType:        "semi",
	SnapshotSpaceType:    "snapshot",
	LocalSpaceType:       "local",
}

func (t MemSpaceType) String() string {
	if int(t) < len(spaceTypeNames) {
		return spaceTypeNames[t]
	}
	return fmt.Sprintf("space(%d)", t)
}

// TriggerGCType is the kind of collection requested from the heap.
type TriggerGCType uint8

const (
	SemiGC TriggerGCType = iota
	OldGC
	NonMoveGC
	HugeGC
	MachineCodeGC
	CompressFullGC
)

var gcTypeNames = [...]string{
	SemiGC:         "SEMI_GC",
	OldGC:          "OLD_GC",
	NonMoveGC:      "NON_MOVE_GC",
	HugeGC:         "HUGE_GC",
	MachineCodeGC:  "MACHINE_CODE_GC",
	CompressFullGC: "COMPRESS_FULL_GC",
}

func (t TriggerGCType) String() string {
	if int(t) < len(gcTypeNames) {
		return gcTypeNames[t]
	}
	return fmt.Sprintf("gc(%d)", t)
}

// ParseTriggerGCType returns the collection type with the given name, as
// printed by String.
func ParseTriggerGCType(name string) (TriggerGCType, error) {
	for t, n := range gcTypeNames {
		if n == name {
			return TriggerGCType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown gc type %q", name)
}
