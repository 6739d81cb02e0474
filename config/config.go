// Package config handles kestrel.toml engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kestrel/vm"
)

// FileName is the name of the configuration file.
const FileName = "kestrel.toml"

// Config represents a kestrel.toml file. Byte sizes are plain integers.
type Config struct {
	Heap    Heap    `toml:"heap"`
	Objects Objects `toml:"objects"`
	IC      IC      `toml:"ic"`
	GC      GC      `toml:"gc"`
	Server  Server  `toml:"server"`
	Trace   Trace   `toml:"trace"`

	// Dir is the directory containing the kestrel.toml file (set at load time).
	Dir string `toml:"-"`
}

// Heap configures space capacities and collector switches.
type Heap struct {
	SemiSpaceInitial   int     `toml:"semi-space-initial"`
	SemiSpaceMax       int     `toml:"semi-space-max"`
	OldSpaceMax        int     `toml:"old-space-max"`
	OldSpaceLimit      int     `toml:"old-space-limit"`
	NonMovableMax      int     `toml:"non-movable-max"`
	MachineCodeMax     int     `toml:"machine-code-max"`
	HugeObjectMax      int     `toml:"huge-object-max"`
	SnapshotMax        int     `toml:"snapshot-max"`
	MaxHeapSize        int     `toml:"max-heap-size"`
	ConcurrentMarking  bool    `toml:"concurrent-marking"`
	ConcurrentSweeping bool    `toml:"concurrent-sweeping"`
	MarkWorkers        int     `toml:"mark-workers"`
	CSetLiveRatio      float64 `toml:"cset-live-ratio"`
	MinCSetRegions     int     `toml:"min-cset-regions"`
	MaxCSetRegions     int     `toml:"max-cset-regions"`
}

// Objects configures property and element storage.
type Objects struct {
	InlineProperties    int    `toml:"inline-properties"`
	MinPropertiesLength int    `toml:"min-properties-length"`
	PropertiesGrowSize  int    `toml:"properties-grow-size"`
	MaxFastProperties   int    `toml:"max-fast-properties"`
	MinElementsLength   int    `toml:"min-elements-length"`
	MaxElementGap       uint32 `toml:"max-element-gap"`
	MinElementGap       uint32 `toml:"min-element-gap"`
	FastElementsFactor  uint32 `toml:"fast-elements-factor"`
}

// IC configures inline caches.
type IC struct {
	PolyCapacity int `toml:"poly-capacity"`
}

// GC configures collection pacing.
type GC struct {
	MaxGrowingFactor          float64 `toml:"max-growing-factor"`
	MinGrowingFactor          float64 `toml:"min-growing-factor"`
	TargetMutatorUtilization  float64 `toml:"target-mutator-utilization"`
	ConservativeGrowingFactor float64 `toml:"conservative-growing-factor"`
	GrowSurvivalRate          float64 `toml:"grow-survival-rate"`
	ShrinkSurvivalRate        float64 `toml:"shrink-survival-rate"`
}

// Server configures the heap inspection service.
type Server struct {
	Addr string `toml:"addr"`
}

// Trace configures the GC event database.
type Trace struct {
	Path string `toml:"path"`
}

// Default returns the configuration matching vm.DefaultOptions.
func Default() *Config {
	o := vm.DefaultOptions()
	h, p := o.Heap, o.Heap.Pacing
	return &Config{
		Heap: Heap{
			SemiSpaceInitial:   h.SemiSpaceInitialCapacity,
			SemiSpaceMax:       h.SemiSpaceMaxCapacity,
			OldSpaceMax:        h.OldSpaceMaxCapacity,
			OldSpaceLimit:      h.OldSpaceInitialLimit,
			NonMovableMax:      h.NonMovableMaxCapacity,
			MachineCodeMax:     h.MachineCodeMaxCapacity,
			HugeObjectMax:      h.HugeObjectMaxCapacity,
			SnapshotMax:        h.SnapshotMaxCapacity,
			MaxHeapSize:        h.MaxHeapSize,
			ConcurrentMarking:  h.ConcurrentMarking,
			ConcurrentSweeping: h.ConcurrentSweeping,
			MarkWorkers:        h.MarkWorkers,
			CSetLiveRatio:      h.CSetLiveRatio,
			MinCSetRegions:     h.MinCSetRegions,
			MaxCSetRegions:     h.MaxCSetRegions,
		},
		Objects: Objects{
			InlineProperties:    o.Objects.InlineProperties,
			MinPropertiesLength: o.Objects.MinPropertiesLength,
			PropertiesGrowSize:  o.Objects.PropertiesGrowSize,
			MaxFastProperties:   o.Objects.MaxFastProperties,
			MinElementsLength:   o.Objects.MinElementsLength,
			MaxElementGap:       o.Objects.MaxElementGap,
			MinElementGap:       o.Objects.MinElementGap,
			FastElementsFactor:  o.Objects.FastElementsFactor,
		},
		IC: IC{PolyCapacity: o.IC.PolyCapacity},
		GC: GC{
			MaxGrowingFactor:          p.MaxGrowingFactor,
			MinGrowingFactor:          p.MinGrowingFactor,
			TargetMutatorUtilization:  p.TargetMutatorUtilization,
			ConservativeGrowingFactor: p.ConservativeGrowingFactor,
			GrowSurvivalRate:          p.GrowSurvivalRate,
			ShrinkSurvivalRate:        p.ShrinkSurvivalRate,
		},
		Server: Server{Addr: "localhost:7766"},
	}
}

// Load parses a kestrel.toml file from the given directory. Keys the file
// leaves out keep their defaults; unknown keys are an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that the configured values can build a working heap.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	h := c.Heap
	check(h.SemiSpaceInitial >= vm.RegionSize, "heap.semi-space-initial must be at least one region (%d)", vm.RegionSize)
	check(h.SemiSpaceMax >= h.SemiSpaceInitial, "heap.semi-space-max must not be below heap.semi-space-initial")
	check(h.OldSpaceMax > 0, "heap.old-space-max must be positive")
	check(h.OldSpaceLimit > 0 && h.OldSpaceLimit <= h.OldSpaceMax, "heap.old-space-limit must be in (0, heap.old-space-max]")
	check(h.NonMovableMax > 0, "heap.non-movable-max must be positive")
	check(h.MachineCodeMax > 0, "heap.machine-code-max must be positive")
	check(h.HugeObjectMax > 0, "heap.huge-object-max must be positive")
	check(h.SnapshotMax > 0, "heap.snapshot-max must be positive")
	check(h.MaxHeapSize >= h.SemiSpaceMax*2, "heap.max-heap-size must hold both semi spaces")
	check(h.MarkWorkers >= 1, "heap.mark-workers must be at least 1")
	check(h.CSetLiveRatio > 0 && h.CSetLiveRatio <= 1, "heap.cset-live-ratio must be in (0, 1]")
	check(h.MinCSetRegions >= 1 && h.MinCSetRegions <= h.MaxCSetRegions, "heap.min-cset-regions must be in [1, heap.max-cset-regions]")

	o := c.Objects
	check(o.InlineProperties >= 0, "objects.inline-properties must not be negative")
	check(o.MinPropertiesLength >= 1, "objects.min-properties-length must be at least 1")
	check(o.PropertiesGrowSize >= 1, "objects.properties-grow-size must be at least 1")
	check(o.MaxFastProperties >= 1 && o.MaxFastProperties <= vm.MaxFastPropertiesCapacity,
		"objects.max-fast-properties must be in [1, %d]", vm.MaxFastPropertiesCapacity)
	check(o.MinElementsLength >= 1, "objects.min-elements-length must be at least 1")
	check(o.MinElementGap <= o.MaxElementGap, "objects.min-element-gap must not exceed objects.max-element-gap")
	check(o.FastElementsFactor >= 1, "objects.fast-elements-factor must be at least 1")

	check(c.IC.PolyCapacity >= 2, "ic.poly-capacity must be at least 2")

	g := c.GC
	check(g.MinGrowingFactor >= 1 && g.MinGrowingFactor <= g.MaxGrowingFactor,
		"gc.min-growing-factor must be in [1, gc.max-growing-factor]")
	check(g.ConservativeGrowingFactor >= 1, "gc.conservative-growing-factor must be at least 1")
	check(g.TargetMutatorUtilization > 0 && g.TargetMutatorUtilization < 1, "gc.target-mutator-utilization must be in (0, 1)")
	check(g.ShrinkSurvivalRate >= 0 && g.ShrinkSurvivalRate < g.GrowSurvivalRate && g.GrowSurvivalRate <= 1,
		"gc survival rates must satisfy 0 <= shrink < grow <= 1")

	return errors.Join(errs...)
}

// VMOptions converts the configuration to engine options.
func (c *Config) VMOptions() vm.Options {
	h, o, g := c.Heap, c.Objects, c.GC
	return vm.Options{
		Heap: vm.HeapOptions{
			SemiSpaceInitialCapacity: h.SemiSpaceInitial,
			SemiSpaceMaxCapacity:     h.SemiSpaceMax,
			OldSpaceMaxCapacity:      h.OldSpaceMax,
			OldSpaceInitialLimit:     h.OldSpaceLimit,
			NonMovableMaxCapacity:    h.NonMovableMax,
			MachineCodeMaxCapacity:   h.MachineCodeMax,
			HugeObjectMaxCapacity:    h.HugeObjectMax,
			SnapshotMaxCapacity:      h.SnapshotMax,
			MaxHeapSize:              h.MaxHeapSize,
			ConcurrentMarking:        h.ConcurrentMarking,
			ConcurrentSweeping:       h.ConcurrentSweeping,
			MarkWorkers:              h.MarkWorkers,
			CSetLiveRatio:            h.CSetLiveRatio,
			MinCSetRegions:           h.MinCSetRegions,
			MaxCSetRegions:           h.MaxCSetRegions,
			Pacing: vm.GCPacing{
				MaxGrowingFactor:          g.MaxGrowingFactor,
				MinGrowingFactor:          g.MinGrowingFactor,
				TargetMutatorUtilization:  g.TargetMutatorUtilization,
				ConservativeGrowingFactor: g.ConservativeGrowingFactor,
				GrowSurvivalRate:          g.GrowSurvivalRate,
				ShrinkSurvivalRate:        g.ShrinkSurvivalRate,
			},
		},
		Objects: vm.ObjectOptions{
			InlineProperties:    o.InlineProperties,
			MinPropertiesLength: o.MinPropertiesLength,
			PropertiesGrowSize:  o.PropertiesGrowSize,
			MaxFastProperties:   o.MaxFastProperties,
			MinElementsLength:   o.MinElementsLength,
			MaxElementGap:       o.MaxElementGap,
			MinElementGap:       o.MinElementGap,
			FastElementsFactor:  o.FastElementsFactor,
		},
		IC: vm.ICOptions{PolyCapacity: c.IC.PolyCapacity},
	}
}
