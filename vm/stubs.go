package vm

import "fmt"

//go:generate go run ../cmd/stubgen -o stub_ids_gen.go

// ---------------------------------------------------------------------------
// Stub layer
// ---------------------------------------------------------------------------

// Compiled code reaches the property primitives and inline caches through
// stubs: each has a stable numeric ID (generated into stub_ids_gen.go) and
// a code object in the machine-code space whose header records that ID.
// A call names the stub by ID and passes its operands in StubArgs; the
// result is a tagged value, Hole or Exception.

// StubKind groups stubs by what they front.
type StubKind uint8

const (
	// StubKindIC stubs are inline cache entry points.
	StubKindIC StubKind = iota
	// StubKindFastPath stubs are the generic property primitives.
	StubKindFastPath
	// StubKindRuntime stubs are slower runtime services.
	StubKindRuntime
)

var stubKindNames = [...]string{"ic", "fast-path", "runtime"}

func (k StubKind) String() string {
	if int(k) < len(stubKindNames) {
		return stubKindNames[k]
	}
	return fmt.Sprintf("StubKind(%d)", k)
}

// StubDescriptor describes one stub. ParamCount counts the tagged and
// profile operands a call site passes, not the VM itself.
type StubDescriptor struct {
	Name       string
	Kind       StubKind
	ParamCount int
}

// StubArgs carries the operands of a stub call. Fields a stub does not
// take are ignored.
type StubArgs struct {
	Receiver Value
	Key      Value
	Value    Value
	Slot     int
	Info     *ProfileTypeInfo
}

// StubDescriptorOf returns the descriptor of id.
func StubDescriptorOf(id StubID) (StubDescriptor, bool) {
	if id >= StubCount {
		return StubDescriptor{}, false
	}
	return stubDescriptors[id], true
}

func (id StubID) String() string {
	if d, ok := StubDescriptorOf(id); ok {
		return d.Name
	}
	return fmt.Sprintf("StubID(%d)", uint16(id))
}

type stubEntry func(vm *VM, a *StubArgs) Value

// stubEntries maps each stub ID to its implementation.
var stubEntries = [StubCount]stubEntry{
	StubLoadICByName: func(vm *VM, a *StubArgs) Value {
		return vm.LoadICByName(a.Info, a.Slot, a.Receiver, a.Key)
	},
	StubStoreICByName: func(vm *VM, a *StubArgs) Value {
		return vm.StoreICByName(a.Info, a.Slot, a.Receiver, a.Key, a.Value)
	},
	StubLoadICByValue: func(vm *VM, a *StubArgs) Value {
		return vm.LoadICByValue(a.Info, a.Slot, a.Receiver, a.Key)
	},
	StubStoreICByValue: func(vm *VM, a *StubArgs) Value {
		return vm.StoreICByValue(a.Info, a.Slot, a.Receiver, a.Key, a.Value)
	},
	StubTryLoadGlobalICByName: func(vm *VM, a *StubArgs) Value {
		return vm.TryLoadGlobalICByName(a.Info, a.Slot, a.Key)
	},
	StubTryStoreGlobalICByName: func(vm *VM, a *StubArgs) Value {
		return vm.TryStoreGlobalICByName(a.Info, a.Slot, a.Key, a.Value)
	},
	StubGetPropertyByName: func(vm *VM, a *StubArgs) Value {
		return vm.GetPropertyByName(a.Receiver, a.Key)
	},
	StubSetPropertyByName: func(vm *VM, a *StubArgs) Value {
		return vm.SetPropertyByName(a.Receiver, a.Key, a.Value)
	},
	StubGetPropertyByValue: func(vm *VM, a *StubArgs) Value {
		return vm.GetPropertyByValue(a.Receiver, a.Key)
	},
	StubSetPropertyByValue: func(vm *VM, a *StubArgs) Value {
		return vm.SetPropertyByValue(a.Receiver, a.Key, a.Value)
	},
	StubSetPropertyByNameWithOwn: func(vm *VM, a *StubArgs) Value {
		return vm.SetPropertyByNameWithOwn(a.Receiver, a.Key, a.Value)
	},
	StubAddPropertyByName: func(vm *VM, a *StubArgs) Value {
		return vm.AddPropertyByName(a.Receiver, a.Key, a.Value, DefaultAttributes())
	},
	StubDeleteProperty: func(vm *VM, a *StubArgs) Value {
		return vm.DeleteProperty(a.Receiver, a.Key)
	},
	StubLoadGlobalVar: func(vm *VM, a *StubArgs) Value {
		return vm.LoadGlobalVar(a.Key)
	},
	StubStoreGlobalVar: func(vm *VM, a *StubArgs) Value {
		return vm.StoreGlobalVar(a.Key, a.Value)
	},
	StubCollectGarbage: func(vm *VM, a *StubArgs) Value {
		vm.heap.CollectGarbage(TriggerGCType(a.Key.SmallInt()))
		return Undefined
	},
}

// InstallStubs allocates the code object of every stub in the machine-code
// space. It is idempotent.
func (vm *VM) InstallStubs() error {
	if len(vm.stubCode) == int(StubCount) {
		return nil
	}
	vm.stubCode = make([]Value, StubCount)
	for i := range vm.stubCode {
		vm.stubCode[i] = Undefined
	}
	for id := StubID(0); id < StubCount; id++ {
		code := vm.newStubCode(id)
		if code.IsException() {
			vm.stubCode = nil
			return vm.PendingError()
		}
		vm.stubCode[id] = code
	}
	vm.log.Debugf("installed %d stubs", StubCount)
	return nil
}

// newStubCode allocates a code object whose payload is the stub's name.
func (vm *VM) newStubCode(id StubID) Value {
	name := []byte(stubDescriptors[id].Name)
	vm.pinClass(vm.machineCodeClass)
	addr := vm.heap.AllocateMachineCodeObject(codePayloadOffset + AlignUp(len(name)))
	if addr == 0 {
		return Exception
	}
	vm.initHeader(addr, vm.machineCodeClass)
	vm.heap.WriteWord(addr, codeByteLengthOffset, uint64(len(name)))
	vm.heap.WriteWord(addr, codeStubIDOffset, uint64(id))
	for off := 0; off < len(name); off += WordSize {
		var w uint64
		for i := 0; i < WordSize && off+i < len(name); i++ {
			w |= uint64(name[off+i]) << (8 * i)
		}
		vm.heap.WriteWord(addr, Address(codePayloadOffset+off), w)
	}
	return FromAddress(addr)
}

// StubCode returns the code object of id, or Undefined before
// InstallStubs.
func (vm *VM) StubCode(id StubID) Value {
	if int(id) >= len(vm.stubCode) {
		return Undefined
	}
	return vm.stubCode[id]
}

// CallStub invokes stub id through its code object.
func (vm *VM) CallStub(id StubID, args *StubArgs) Value {
	code := vm.StubCode(id)
	if code == Undefined {
		return vm.ThrowReferenceError("stub %s is not installed", id)
	}
	entry := StubID(vm.heap.ReadWord(code.Address(), codeStubIDOffset))
	if entry >= StubCount {
		vm.heap.Fatal(fmt.Errorf("%w: code object %#x names stub %d", ErrCorruptedHeap, uint64(code.Address()), entry))
		return Exception
	}
	return stubEntries[entry](vm, args)
}
