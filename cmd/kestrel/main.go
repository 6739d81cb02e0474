// Kestrel CLI - runs an object-model workload on a fresh heap and reports
// what the collector and the inline caches did.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kestrel/config"
	"github.com/chazu/kestrel/server"
	"github.com/chazu/kestrel/trace"
	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/snapshot"
)

type options struct {
	configDir    string
	iterations   int
	retain       int
	gcType       string
	serve        bool
	addr         string
	tracePath    string
	snapshotPath string
	verbose      bool
}

func main() {
	var o options
	flag.StringVar(&o.configDir, "C", ".", "Directory to search (upwards) for kestrel.toml")
	flag.IntVar(&o.iterations, "n", 100000, "Workload iterations")
	flag.IntVar(&o.retain, "retain", 1024, "Old-space slots pointing at young objects")
	flag.StringVar(&o.gcType, "gc", "", "Force a collection of this type after the workload (e.g. OLD_GC)")
	flag.BoolVar(&o.serve, "serve", false, "Serve the heap inspection service after the workload")
	flag.StringVar(&o.addr, "addr", "", "Service address (default from kestrel.toml)")
	flag.StringVar(&o.tracePath, "trace", "", "Record heap events into this SQLite database")
	flag.StringVar(&o.snapshotPath, "snapshot", "", "Write a snapshot of the workload constants to this file")
	flag.BoolVar(&o.verbose, "v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kestrel [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs an allocation and property-access workload and prints heap statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  kestrel -n 1000000              # Larger workload\n")
		fmt.Fprintf(os.Stderr, "  kestrel -gc COMPRESS_FULL_GC    # Finish with a full compaction\n")
		fmt.Fprintf(os.Stderr, "  kestrel -trace gc.db            # Record every collection\n")
		fmt.Fprintf(os.Stderr, "  kestrel -snapshot pool.snap     # Write a snapshot file\n")
		fmt.Fprintf(os.Stderr, "  kestrel -serve -addr :7766      # Keep the heap up for inspection\n")
	}
	flag.Parse()

	verbosity := 0
	if o.verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer) error {
	cfg, err := config.FindAndLoad(o.configDir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	} else if o.verbose {
		fmt.Fprintf(out, "Loaded %s from %s\n", config.FileName, cfg.Dir)
	}
	if o.addr == "" {
		o.addr = cfg.Server.Addr
	}
	if o.tracePath == "" {
		o.tracePath = cfg.Trace.Path
	}

	v := vm.NewVM(cfg.VMOptions())
	defer v.Close()
	if err := v.InstallStubs(); err != nil {
		return err
	}

	if o.tracePath != "" {
		rec, err := trace.Open(o.tracePath)
		if err != nil {
			return err
		}
		defer rec.Close()
		rec.Attach(v.Heap())
		defer func() {
			if err := rec.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: trace incomplete: %v\n", err)
			}
		}()
	}

	w := newWorkload(v, o.retain)
	defer w.release()
	if err := w.run(o.iterations); err != nil {
		return err
	}

	if o.gcType != "" {
		t, err := vm.ParseTriggerGCType(o.gcType)
		if err != nil {
			return err
		}
		if r := v.CallStub(vm.StubCollectGarbage, &vm.StubArgs{Key: vm.FromInt(int(t))}); r.IsException() {
			return v.PendingError()
		}
	}

	printStats(out, v)

	if o.snapshotPath != "" {
		if err := writeSnapshot(o.snapshotPath, v, w.constants()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote snapshot to %s\n", o.snapshotPath)
	}

	if o.serve {
		srv := server.New(v, server.WithSnapshotRoots(func(*vm.VM) []vm.Value {
			return []vm.Value{w.constants()}
		}))
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		go func() {
			<-ctx.Done()
			srv.Stop()
		}()
		err := srv.ListenAndServe(o.addr)
		srv.Stop()
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	return nil
}

func writeSnapshot(path string, v *vm.VM, root vm.Value) error {
	c, err := v.CopyToSnapshot(root)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := snapshot.Write(f, v, []vm.Value{c}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStats(out io.Writer, v *vm.VM) {
	st := v.Heap().Stats()
	fmt.Fprintf(out, "Heap %s: %d bytes committed of %d\n", st.ID, st.Committed, st.MaxHeapSize)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SPACE\tREGIONS\tCOMMITTED\tLIVE\tMAXIMUM\t")
	for _, s := range st.Spaces {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t\n", s.Type, s.Regions, s.Committed, s.Live, s.Maximum)
	}
	tw.Flush()

	names := make([]string, 0, len(st.GCCounts))
	for name := range st.GCCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s: %d\n", name, st.GCCounts[name])
	}
	if last := v.Heap().LastGC(); last != nil {
		fmt.Fprintf(out, "Last collection: %s in %s, %d bytes live, %d promoted\n",
			last.GCType, last.Duration, last.LiveBytes, last.Promoted)
	}

	ic := v.ICStats()
	total := ic.Hits + ic.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(ic.Hits) / float64(total)
	}
	fmt.Fprintf(out, "Inline caches: %d hits, %d misses (%.1f%% hit rate), %d transition lookups\n",
		ic.Hits, ic.Misses, rate*100, ic.TransitionLookups)
	fmt.Fprintf(out, "Hidden classes: %d\n", st.HiddenClasses)
}
