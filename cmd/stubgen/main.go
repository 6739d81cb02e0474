// stubgen writes the stub ID table of the vm package.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	out := flag.String("o", "stub_ids_gen.go", "Output file")
	pkg := flag.String("pkg", "vm", "Package name of the generated file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stubgen [-o file] [-pkg name]\n\n")
		fmt.Fprintf(os.Stderr, "Generates the StubID constants and stub descriptor table.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	code, err := Generate(*pkg, Stubs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stubgen: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, code, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "stubgen: %v\n", err)
		os.Exit(1)
	}
}
