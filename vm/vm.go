package vm

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the runtime context
// ---------------------------------------------------------------------------

// Options configures a VM.
type Options struct {
	Heap    HeapOptions
	Objects ObjectOptions
	IC      ICOptions
}

// DefaultOptions returns the built-in tuning.
func DefaultOptions() Options {
	return Options{
		Heap:    DefaultHeapOptions(),
		Objects: DefaultObjectOptions(),
		IC:      DefaultICOptions(),
	}
}

// wellKnownKeys are atoms the runtime looks up by itself.
type wellKnownKeys struct {
	length    Value
	message   Value
	name      Value
	prototype Value
}

// VM is one engine instance: a heap, the hidden classes describing the
// objects on it, the interned keys and the inline cache state. A VM is
// driven by a single mutator goroutine; only the collector's background
// workers run alongside it.
type VM struct {
	options Options
	heap    *Heap
	classes *HClassTable
	atoms   *AtomTable
	log     commonlog.Logger

	handles         HandleStorage
	propertiesCache PropertiesCache
	icStats         ICStats
	slowPathHook    func(kind ICKind, slot int)
	profiles        []*ProfileTypeInfo

	// Classes of internal objects. Their instances may live in the
	// snapshot space, which is never marked, so these are permanent.
	taggedArrayClass      *HiddenClass
	nameDictionaryClass   *HiddenClass
	numberDictionaryClass *HiddenClass
	machineCodeClass      *HiddenClass
	propertyBoxClass      *HiddenClass
	accessorDataClass     *HiddenClass
	internalAccessorClass *HiddenClass

	// Root classes of JS objects
	objectClass           *HiddenClass
	functionClass         *HiddenClass
	arrayClass            *HiddenClass
	errorClass            *HiddenClass
	specialContainerClass *HiddenClass

	// Roots
	objectPrototype     Value
	functionPrototype   Value
	arrayPrototype      Value
	errorPrototype      Value
	globalObject        Value
	emptyArray          Value
	arrayLengthAccessor Value
	oomError            Value
	pendingException    Value
	stubCode            []Value

	natives []nativeEntry
	keys    wellKnownKeys

	// preventExtensionsKey is the private transition key of the
	// non-extensible twin of a class.
	preventExtensionsKey Value
}

// NewVM creates a VM with a fresh heap and the built-in prototypes, classes
// and global object.
func NewVM(opts Options) *VM {
	vm := &VM{
		options:          opts,
		atoms:            NewAtomTable(),
		classes:          newHClassTable(),
		log:              commonlog.GetLogger("kestrel.ic"),
		pendingException: Hole,
		oomError:         Undefined,
	}
	vm.heap = NewHeap(uuid.New(), opts.Heap, vm.classes)
	vm.heap.AddRootProvider(vm)
	vm.heap.classSweeper = vm.sweepHClasses
	vm.heap.onOutOfMemory = vm.raiseOutOfMemory
	vm.preventExtensionsKey = vm.atoms.NewSymbol("preventExtensions")
	vm.bootstrap()
	return vm
}

// Heap returns the VM's heap.
func (vm *VM) Heap() *Heap { return vm.heap }

// Atoms returns the VM's atom table.
func (vm *VM) Atoms() *AtomTable { return vm.atoms }

// Classes returns the hidden class table.
func (vm *VM) Classes() *HClassTable { return vm.classes }

func (vm *VM) Options() Options { return vm.options }

// GlobalObject returns the global object.
func (vm *VM) GlobalObject() Value { return vm.globalObject }

func (vm *VM) ObjectPrototype() Value   { return vm.objectPrototype }
func (vm *VM) ArrayPrototype() Value    { return vm.arrayPrototype }
func (vm *VM) FunctionPrototype() Value { return vm.functionPrototype }

// ObjectClass returns the class of objects created by NewObject.
func (vm *VM) ObjectClass() *HiddenClass { return vm.objectClass }

// Intern is shorthand for vm.Atoms().Intern.
func (vm *VM) Intern(s string) Value { return vm.atoms.Intern(s) }

// Close tears the heap down. The VM must not be used afterwards.
func (vm *VM) Close() {
	vm.heap.Destroy()
}

// VisitRoots reports every root slot the VM owns to the collector.
func (vm *VM) VisitRoots(visit func(slot *Value)) {
	vm.handles.visit(visit)
	visit(&vm.objectPrototype)
	visit(&vm.functionPrototype)
	visit(&vm.arrayPrototype)
	visit(&vm.errorPrototype)
	visit(&vm.globalObject)
	visit(&vm.emptyArray)
	visit(&vm.arrayLengthAccessor)
	visit(&vm.oomError)
	visit(&vm.pendingException)
	for i := range vm.stubCode {
		visit(&vm.stubCode[i])
	}
	for _, p := range vm.profiles {
		p.visitRoots(visit)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func (vm *VM) newRootClass(t JSType, headerWords, inlinedProps int, proto Value) *HiddenClass {
	hc := vm.newHClass(t, headerWords, inlinedProps, proto)
	hc.permanent = true
	return hc
}

func (vm *VM) bootstrap() {
	vm.keys = wellKnownKeys{
		length:    vm.atoms.Intern("length"),
		message:   vm.atoms.Intern("message"),
		name:      vm.atoms.Intern("name"),
		prototype: vm.atoms.Intern("prototype"),
	}
	vm.registerBuiltinNatives()

	vm.taggedArrayClass = vm.newRootClass(TypeTaggedArray, taggedArrayHeader, 0, Null)
	vm.nameDictionaryClass = vm.newRootClass(TypeNameDictionary, taggedArrayHeader, 0, Null)
	vm.numberDictionaryClass = vm.newRootClass(TypeNumberDictionary, taggedArrayHeader, 0, Null)
	vm.machineCodeClass = vm.newRootClass(TypeMachineCode, codePayloadOffset/WordSize, 0, Null)
	vm.propertyBoxClass = vm.newRootClass(TypePropertyBox, propertyBoxSize/WordSize, 0, Null)
	vm.accessorDataClass = vm.newRootClass(TypeAccessorData, accessorDataSize/WordSize, 0, Null)
	vm.internalAccessorClass = vm.newRootClass(TypeInternalAccessor, internalAccessorSize/WordSize, 0, Null)

	vm.emptyArray = vm.newTaggedArray(0, vm.heap.AllocateNonMovableOrHugeObject)

	inline := vm.options.Objects.InlineProperties
	vm.objectPrototype = vm.newJSObject(vm.newRootClass(TypeObject, jsObjectHeaderWords, inline, Null))
	vm.objectClass = vm.newRootClass(TypeObject, jsObjectHeaderWords, inline, vm.objectPrototype)
	vm.OptimizeAsPrototype(vm.objectPrototype)

	vm.functionPrototype = vm.NewObject()
	vm.OptimizeAsPrototype(vm.functionPrototype)
	vm.functionClass = vm.newRootClass(TypeFunction, jsObjectHeaderWords+1, functionInlineProperties, vm.functionPrototype)
	vm.functionClass.setFlag(hclassCallable, true)

	vm.arrayPrototype = vm.NewObject()
	vm.OptimizeAsPrototype(vm.arrayPrototype)
	vm.arrayLengthAccessor = vm.newInternalAccessor(nativeArrayLengthGetter, nativeArrayLengthSetter)
	arrayBase := vm.newRootClass(TypeArray, jsObjectHeaderWords+1, arrayInlineProperties, vm.arrayPrototype)
	vm.arrayClass, _ = vm.AddPropertyToHClass(arrayBase, vm.keys.length, AccessorAttributes(false, false).SetWritable(true))
	vm.arrayClass.permanent = true

	vm.errorPrototype = vm.NewObject()
	vm.OptimizeAsPrototype(vm.errorPrototype)
	vm.errorClass = vm.newRootClass(TypeError, jsObjectHeaderWords+1, errorInlineProperties, vm.errorPrototype)

	vm.specialContainerClass = vm.newRootClass(TypeSpecialContainer, jsObjectHeaderWords+1, 0, vm.objectPrototype)

	globalClass := vm.TransitionToDictionaryClass(vm.newRootClass(TypeGlobalObject, jsObjectHeaderWords, 0, vm.objectPrototype))
	globalClass.permanent = true
	global := vm.newJSObject(globalClass)
	scope := vm.OpenHandleScope()
	hGlobal := vm.NewHandle(global)
	dict := vm.newDictionary(TypeNameDictionary, minDictionaryCapacity)
	vm.setProperties(hGlobal.Get(), dict)
	vm.globalObject = hGlobal.Get()
	scope.Close()

	vm.oomError = vm.NewError(RangeErrorKind, "out of memory")
}
