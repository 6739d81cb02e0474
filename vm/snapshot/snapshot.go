// Package snapshot serializes objects of the snapshot space to a CBOR
// document and restores them into another VM.
//
// Only tagged-array trees built with VM.CopyToSnapshot can be written.
// Object references are written as indices into the document's object
// table and atoms as indices into its atom table, so a snapshot restores
// into a VM with a different address layout and atom numbering.
package snapshot

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/kestrel/vm"
)

// Version is the format version written to new snapshots.
const Version = 1

// ErrInvalidSnapshot reports a malformed or unsupported document.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// cellKind says how a cell's Bits are interpreted.
type cellKind uint8

const (
	cellPrimitive cellKind = iota // raw value bits
	cellAtom                      // index into Document.Atoms
	cellObject                    // index into Document.Objects
)

// Cell is one serialized value.
type Cell struct {
	_    struct{} `cbor:",toarray"`
	Kind cellKind
	Bits uint64
}

// Document is the on-disk form of a snapshot.
type Document struct {
	Version int      `cbor:"1,keyasint"`
	HeapID  string   `cbor:"2,keyasint"`
	Atoms   []string `cbor:"3,keyasint"`
	Objects [][]Cell `cbor:"4,keyasint"`
	Roots   []Cell   `cbor:"5,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// encoder assigns table indices while a document is built.
type encoder struct {
	v       *vm.VM
	doc     *Document
	atoms   map[vm.Value]uint64
	objects map[vm.Value]uint64
}

func (e *encoder) cell(v vm.Value) (Cell, error) {
	switch {
	case v.IsAtom():
		i, ok := e.atoms[v]
		if !ok {
			i = uint64(len(e.doc.Atoms))
			e.atoms[v] = i
			e.doc.Atoms = append(e.doc.Atoms, e.v.Atoms().Name(v))
		}
		return Cell{Kind: cellAtom, Bits: i}, nil
	case v.IsSymbol():
		return Cell{}, fmt.Errorf("snapshot: %w: symbol", vm.ErrNotSnapshotable)
	case !v.IsHeapObject():
		return Cell{Kind: cellPrimitive, Bits: uint64(v)}, nil
	}
	if !e.v.IsSnapshotObject(v) {
		return Cell{}, fmt.Errorf("snapshot: %w: object %s is outside the snapshot space", vm.ErrNotSnapshotable, v)
	}
	if i, ok := e.objects[v]; ok {
		return Cell{Kind: cellObject, Bits: i}, nil
	}
	i := uint64(len(e.doc.Objects))
	e.objects[v] = i
	n := e.v.TaggedArrayLength(v)
	e.doc.Objects = append(e.doc.Objects, make([]Cell, n))
	for j := 0; j < n; j++ {
		c, err := e.cell(e.v.TaggedArrayGet(v, j))
		if err != nil {
			return Cell{}, err
		}
		e.doc.Objects[i][j] = c
	}
	return Cell{Kind: cellObject, Bits: i}, nil
}

// Build returns the document holding roots and everything they reach.
func Build(v *vm.VM, roots []vm.Value) (*Document, error) {
	e := &encoder{
		v:       v,
		doc:     &Document{Version: Version, HeapID: v.Heap().ID().String()},
		atoms:   make(map[vm.Value]uint64),
		objects: make(map[vm.Value]uint64),
	}
	for _, r := range roots {
		c, err := e.cell(r)
		if err != nil {
			return nil, err
		}
		e.doc.Roots = append(e.doc.Roots, c)
	}
	return e.doc, nil
}

// Encode returns the canonical CBOR encoding of d.
func (d *Document) Encode() ([]byte, error) {
	data, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	return data, nil
}

// Write encodes roots and the snapshot objects they reach to w.
func Write(w io.Writer, v *vm.VM, roots []vm.Value) error {
	doc, err := Build(v, roots)
	if err != nil {
		return err
	}
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	return nil
}

// Decode parses a document without restoring it.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := cbor.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("snapshot: %w: %v", ErrInvalidSnapshot, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("snapshot: %w: version %d, want %d", ErrInvalidSnapshot, doc.Version, Version)
	}
	if _, err := uuid.Parse(doc.HeapID); err != nil {
		return nil, fmt.Errorf("snapshot: %w: heap id: %v", ErrInvalidSnapshot, err)
	}
	return &doc, nil
}

// Read restores a snapshot into v's snapshot space and returns its roots.
func Read(r io.Reader, v *vm.VM) ([]vm.Value, error) {
	doc, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Restore(doc, v)
}

// Restore allocates doc's objects in v's snapshot space, relocating object
// references and re-interning atoms, and returns the roots.
func Restore(doc *Document, v *vm.VM) ([]vm.Value, error) {
	atoms := make([]vm.Value, len(doc.Atoms))
	for i, name := range doc.Atoms {
		atoms[i] = v.Intern(name)
	}
	objects := make([]vm.Value, len(doc.Objects))
	for i, cells := range doc.Objects {
		arr := v.NewSnapshotArray(len(cells))
		if arr.IsException() {
			return nil, fmt.Errorf("snapshot: restore object %d: %w", i, v.PendingError())
		}
		objects[i] = arr
	}
	value := func(c Cell) (vm.Value, error) {
		switch c.Kind {
		case cellPrimitive:
			p := vm.Value(c.Bits)
			if p.IsHeapObject() || p.IsAtom() || p.IsSymbol() {
				return vm.Undefined, fmt.Errorf("snapshot: %w: primitive cell holds %s", ErrInvalidSnapshot, p)
			}
			return p, nil
		case cellAtom:
			if c.Bits >= uint64(len(atoms)) {
				return vm.Undefined, fmt.Errorf("snapshot: %w: atom %d out of range", ErrInvalidSnapshot, c.Bits)
			}
			return atoms[c.Bits], nil
		case cellObject:
			if c.Bits >= uint64(len(objects)) {
				return vm.Undefined, fmt.Errorf("snapshot: %w: object %d out of range", ErrInvalidSnapshot, c.Bits)
			}
			return objects[c.Bits], nil
		}
		return vm.Undefined, fmt.Errorf("snapshot: %w: cell kind %d", ErrInvalidSnapshot, c.Kind)
	}
	for i, cells := range doc.Objects {
		for j, c := range cells {
			e, err := value(c)
			if err != nil {
				return nil, err
			}
			v.TaggedArraySet(objects[i], j, e)
		}
	}
	roots := make([]vm.Value, len(doc.Roots))
	for i, c := range doc.Roots {
		var err error
		if roots[i], err = value(c); err != nil {
			return nil, err
		}
	}
	return roots, nil
}
