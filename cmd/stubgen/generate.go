package main

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"
)

// Stub is one entry of the table. Kind names a vm.StubKind constant.
type Stub struct {
	Name       string
	Kind       string
	ParamCount int
}

// Stubs lists every stub in ID order. IDs are positions in this list, so
// new stubs go at the end and existing ones are never removed or moved.
var Stubs = []Stub{
	{"LoadICByName", "StubKindIC", 4},
	{"StoreICByName", "StubKindIC", 5},
	{"LoadICByValue", "StubKindIC", 4},
	{"StoreICByValue", "StubKindIC", 5},
	{"TryLoadGlobalICByName", "StubKindIC", 3},
	{"TryStoreGlobalICByName", "StubKindIC", 4},
	{"GetPropertyByName", "StubKindFastPath", 2},
	{"SetPropertyByName", "StubKindFastPath", 3},
	{"GetPropertyByValue", "StubKindFastPath", 2},
	{"SetPropertyByValue", "StubKindFastPath", 3},
	{"SetPropertyByNameWithOwn", "StubKindFastPath", 3},
	{"AddPropertyByName", "StubKindFastPath", 3},
	{"DeleteProperty", "StubKindFastPath", 2},
	{"LoadGlobalVar", "StubKindFastPath", 1},
	{"StoreGlobalVar", "StubKindFastPath", 2},
	{"CollectGarbage", "StubKindRuntime", 1},
}

// Generate renders the stub ID table for package pkg.
func Generate(pkg string, stubs []Stub) ([]byte, error) {
	seen := make(map[string]bool, len(stubs))
	for _, s := range stubs {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate stub %q", s.Name)
		}
		seen[s.Name] = true
	}

	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by stubgen. DO NOT EDIT.")

	f.Comment("StubID is the stable numeric identity of a stub.")
	f.Type().Id("StubID").Uint16()
	f.Line()

	f.Const().DefsFunc(func(g *jen.Group) {
		for i, s := range stubs {
			g.Id("Stub" + s.Name).Id("StubID").Op("=").Lit(i)
		}
		g.Id("StubCount").Op("=").Lit(len(stubs))
	})
	f.Line()

	f.Var().Id("stubDescriptors").Op("=").Index(jen.Id("StubCount")).Id("StubDescriptor").ValuesFunc(func(g *jen.Group) {
		for _, s := range stubs {
			g.Values(jen.Dict{
				jen.Id("Name"):       jen.Lit(s.Name),
				jen.Id("Kind"):       jen.Id(s.Kind),
				jen.Id("ParamCount"): jen.Lit(s.ParamCount),
			})
		}
	})

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render stub table: %w", err)
	}
	return buf.Bytes(), nil
}
