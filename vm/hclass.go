package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// HiddenClass: object shapes
// ---------------------------------------------------------------------------

type hclassFlag uint32

const (
	hclassIsPrototype hclassFlag = 1 << iota
	hclassDictionary
	hclassDictionaryElements
	hclassExtensible
	hclassHasConstructor
	hclassCallable
)

// HiddenClass describes the layout of every object pointing at it: its type,
// size, in-object property budget, the ordered property layout and its
// prototype. Adding a property moves an object to a child class reached
// through the transition table; identical additions from the same class
// always reach the same child.
//
// The transition table owns the children. Parent and prototype references
// are non-owning.
type HiddenClass struct {
	id           uint32
	objType      JSType
	objectSize   int
	headerWords  int
	inlinedProps int

	layout   *LayoutInfo
	numProps int
	proto    Value
	flags    hclassFlag

	parent      *HiddenClass
	transKey    Value
	transMeta   uint32
	single      *HiddenClass
	transitions *TransitionsDictionary

	protoChangeMarker  *ProtoChangeMarker
	protoChangeDetails *ProtoChangeDetails
	enumCache          []Value

	markEpoch    atomic.Uint64
	createdEpoch uint64
	permanent    bool
	dropped      atomic.Bool
}

func (hc *HiddenClass) ID() uint32   { return hc.id }
func (hc *HiddenClass) Type() JSType { return hc.objType }

// ObjectSize is the byte size of fixed-size objects of this class.
func (hc *HiddenClass) ObjectSize() int { return hc.objectSize }

func (hc *HiddenClass) HeaderWords() int       { return hc.headerWords }
func (hc *HiddenClass) InlinedProperties() int { return hc.inlinedProps }
func (hc *HiddenClass) NumberOfProps() int     { return hc.numProps }
func (hc *HiddenClass) Layout() *LayoutInfo    { return hc.layout }
func (hc *HiddenClass) Proto() Value           { return hc.proto }
func (hc *HiddenClass) Parent() *HiddenClass   { return hc.parent }

func (hc *HiddenClass) hasFlag(f hclassFlag) bool { return hc.flags&f != 0 }

func (hc *HiddenClass) setFlag(f hclassFlag, on bool) {
	if on {
		hc.flags |= f
	} else {
		hc.flags &^= f
	}
}

func (hc *HiddenClass) IsPrototype() bool         { return hc.hasFlag(hclassIsPrototype) }
func (hc *HiddenClass) IsDictionaryMode() bool    { return hc.hasFlag(hclassDictionary) }
func (hc *HiddenClass) IsDictionaryElement() bool { return hc.hasFlag(hclassDictionaryElements) }
func (hc *HiddenClass) IsExtensible() bool        { return hc.hasFlag(hclassExtensible) }
func (hc *HiddenClass) HasConstructor() bool      { return hc.hasFlag(hclassHasConstructor) }
func (hc *HiddenClass) IsCallable() bool          { return hc.hasFlag(hclassCallable) }
func (hc *HiddenClass) IsJSArray() bool           { return hc.objType == TypeArray }
func (hc *HiddenClass) IsSpecialContainer() bool  { return hc.objType == TypeSpecialContainer }
func (hc *HiddenClass) IsGlobalObject() bool      { return hc.objType == TypeGlobalObject }

// IsDropped reports whether the class was reclaimed after no live object
// used it. Cached handlers referring to it are stale.
func (hc *HiddenClass) IsDropped() bool { return hc.dropped.Load() }

// inlineSlotOffset returns the byte offset of in-object property slot i.
func (hc *HiddenClass) inlineSlotOffset(i int) Address {
	return Address((hc.headerWords + i) * WordSize)
}

// EnumCache returns the cached own enumerable keys, or nil.
func (hc *HiddenClass) EnumCache() []Value { return hc.enumCache }

func (hc *HiddenClass) SetEnumCache(keys []Value) { hc.enumCache = keys }

// TransitionCount returns the number of children reachable from hc.
func (hc *HiddenClass) TransitionCount() int {
	switch {
	case hc.transitions != nil:
		return hc.transitions.Len()
	case hc.single != nil:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

// newHClass creates and registers a class. JS object classes get room for
// inlinedProps in-object properties after headerWords header words.
func (vm *VM) newHClass(t JSType, headerWords, inlinedProps int, proto Value) *HiddenClass {
	hc := &HiddenClass{
		objType:      t,
		headerWords:  headerWords,
		inlinedProps: inlinedProps,
		objectSize:   (headerWords + inlinedProps) * WordSize,
		proto:        proto,
		createdEpoch: vm.heap.Epoch(),
	}
	if t.IsJSObject() {
		hc.layout = NewLayoutInfo(inlinedProps)
		hc.flags = hclassExtensible
	}
	vm.registerHClass(hc)
	return hc
}

func (vm *VM) registerHClass(hc *HiddenClass) {
	if !vm.classes.Register(hc) {
		vm.heap.Fatal(errHClassTableFull)
		return
	}
	hc.markEpoch.Store(vm.heap.Epoch())
}

// cloneHClass copies the shape of hc without its transition table,
// notification details or enumeration cache. The layout is shared.
func (vm *VM) cloneHClass(hc *HiddenClass) *HiddenClass {
	c := &HiddenClass{
		objType:      hc.objType,
		objectSize:   hc.objectSize,
		headerWords:  hc.headerWords,
		inlinedProps: hc.inlinedProps,
		layout:       hc.layout,
		numProps:     hc.numProps,
		proto:        hc.proto,
		flags:        hc.flags,
		createdEpoch: vm.heap.Epoch(),
	}
	vm.registerHClass(c)
	return c
}

// CopyAllHClass duplicates hc, including a private copy of its layout. The
// copy starts with no parent, no transitions, no notification details and
// no enumeration cache.
func (vm *VM) CopyAllHClass(hc *HiddenClass) *HiddenClass {
	c := vm.cloneHClass(hc)
	if hc.layout != nil {
		c.layout = hc.layout.Clone(hc.numProps)
	}
	return c
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// FindTransitions returns the child reached from hc by adding key with the
// given attributes, or nil.
func (vm *VM) FindTransitions(hc *HiddenClass, key Value, attr PropertyAttributes) *HiddenClass {
	vm.icStats.TransitionLookups.Add(1)
	meta := attr.Metadata()
	var child *HiddenClass
	switch {
	case hc.single != nil:
		if hc.single.transKey == key && hc.single.transMeta == meta {
			child = hc.single
		}
	case hc.transitions != nil:
		child = hc.transitions.Find(key, meta, vm.atoms.KeyHash(key))
	}
	if child == nil || child.IsDropped() {
		return nil
	}
	return child
}

// AddTransition records child as the result of adding key with attr to
// parent. The first transition is kept inline; a second distinct one moves
// all of them into a TransitionsDictionary.
func (vm *VM) AddTransition(parent, child *HiddenClass, key Value, attr PropertyAttributes) {
	meta := attr.Metadata()
	child.parent = parent
	child.transKey = key
	child.transMeta = meta
	switch {
	case parent.transitions != nil:
		parent.transitions.Put(key, meta, vm.atoms.KeyHash(key), child)
	case parent.single == nil:
		parent.single = child
	case parent.single.transKey == key && parent.single.transMeta == meta:
		parent.single = child
	default:
		first := parent.single
		d := NewTransitionsDictionary(2)
		d.Put(first.transKey, first.transMeta, vm.atoms.KeyHash(first.transKey), first)
		d.Put(key, meta, vm.atoms.KeyHash(key), child)
		parent.single = nil
		parent.transitions = d
	}
}

// removeTransition forgets child in parent's transition table.
func removeTransition(parent, child *HiddenClass) {
	switch {
	case parent.single == child:
		parent.single = nil
	case parent.transitions != nil:
		parent.transitions.Remove(child)
	}
}

// AddPropertyToHClass returns the class reached from hc by appending key,
// creating and recording the transition when it is new, along with the
// attributes (including storage location) the property gets.
func (vm *VM) AddPropertyToHClass(hc *HiddenClass, key Value, attr PropertyAttributes) (*HiddenClass, PropertyAttributes) {
	if child := vm.FindTransitions(hc, key, attr); child != nil {
		return child, child.layout.Attr(child.numProps - 1)
	}
	index := hc.numProps
	if index < hc.inlinedProps {
		attr = attr.SetIsInlinedProps(true).SetOffset(index)
	} else {
		attr = attr.SetIsInlinedProps(false).SetOffset(index - hc.inlinedProps)
	}

	child := vm.cloneHClass(hc)
	if hc.layout.NumberOfElements() != hc.numProps {
		child.layout = hc.layout.Clone(hc.numProps)
	}
	child.layout.AddKey(key, vm.atoms.KeyHash(key), attr)
	child.numProps = index + 1
	vm.AddTransition(hc, child, key, attr)
	return child, attr
}

// TransitionExtension returns the non-extensible twin of hc, shared by every
// object of hc that is frozen out of further additions.
func (vm *VM) TransitionExtension(hc *HiddenClass) *HiddenClass {
	if !hc.IsExtensible() {
		return hc
	}
	key := vm.preventExtensionsKey
	if child := vm.FindTransitions(hc, key, 0); child != nil {
		return child
	}
	child := vm.cloneHClass(hc)
	child.setFlag(hclassExtensible, false)
	vm.AddTransition(hc, child, key, 0)
	return child
}

// TransitionProto returns a fresh class equal to hc but with prototype
// proto. Prototype transitions are not cached.
func (vm *VM) TransitionProto(hc *HiddenClass, proto Value) *HiddenClass {
	c := vm.CopyAllHClass(hc)
	c.proto = proto
	return c
}

// TransitionToDictionaryClass returns the dictionary-mode class an object
// of hc switches to. Dictionary classes carry no layout and take no
// transitions.
func (vm *VM) TransitionToDictionaryClass(hc *HiddenClass) *HiddenClass {
	c := vm.cloneHClass(hc)
	c.layout = nil
	c.numProps = 0
	c.setFlag(hclassDictionary, true)
	return c
}

// TransitionToDictionaryElementsClass returns the class of an object whose
// elements moved into a number dictionary.
func (vm *VM) TransitionToDictionaryElementsClass(hc *HiddenClass) *HiddenClass {
	c := vm.CopyAllHClass(hc)
	c.setFlag(hclassDictionaryElements, true)
	return c
}

// ---------------------------------------------------------------------------
// Reclamation
// ---------------------------------------------------------------------------

// sweepHClasses drops every class no live object used during the marking
// epoch, keeping ancestors of live classes so their transitions survive.
// It returns the number of classes dropped.
func (vm *VM) sweepHClasses(epoch uint64) int {
	retained := make(map[*HiddenClass]struct{})
	var dead []*HiddenClass
	vm.classes.Range(func(hc *HiddenClass) bool {
		if hc.permanent || hc.markEpoch.Load() >= epoch || hc.createdEpoch >= epoch {
			for p := hc; p != nil; p = p.parent {
				if _, ok := retained[p]; ok {
					break
				}
				retained[p] = struct{}{}
			}
		}
		return true
	})
	vm.classes.Range(func(hc *HiddenClass) bool {
		if _, ok := retained[hc]; !ok {
			dead = append(dead, hc)
		}
		return true
	})
	for _, hc := range dead {
		vm.UnregisterOnProtoChain(hc)
		if hc.parent != nil {
			removeTransition(hc.parent, hc)
		}
		hc.dropped.Store(true)
		vm.classes.Unregister(hc)
	}
	if len(dead) > 0 {
		vm.propertiesCache.Clear()
	}
	return len(dead)
}
