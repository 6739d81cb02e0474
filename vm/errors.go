package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// JS errors and the pending exception
// ---------------------------------------------------------------------------

// ErrorKind is the constructor an error object was created by.
type ErrorKind int

const (
	PlainErrorKind ErrorKind = iota
	TypeErrorKind
	RangeErrorKind
	ReferenceErrorKind
)

var errorKindNames = [...]string{"Error", "TypeError", "RangeError", "ReferenceError"}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// JSError is the Go view of a JS error object.
type JSError struct {
	Kind    ErrorKind
	Message string
}

func (e *JSError) Error() string { return e.Kind.String() + ": " + e.Message }

// NewError creates an error object with the given message.
func (vm *VM) NewError(kind ErrorKind, message string) Value {
	scope := vm.OpenHandleScope()
	defer scope.Close()
	e := vm.newJSObject(vm.errorClass)
	if e.IsException() {
		return e
	}
	vm.heap.WriteWord(e.Address(), errorKindOffset, uint64(FromInt(int(kind))))
	hE := vm.NewHandle(e)
	attr := NewAttributes(true, false, true)
	if vm.DefineOwnProperty(e, vm.keys.message, vm.atoms.Intern(message), attr).IsException() {
		return Exception
	}
	if vm.DefineOwnProperty(hE.Get(), vm.keys.name, vm.atoms.Intern(kind.String()), attr).IsException() {
		return Exception
	}
	return hE.Get()
}

// Throw makes v the pending exception and returns Exception.
func (vm *VM) Throw(v Value) Value {
	vm.pendingException = v
	return Exception
}

func (vm *VM) throwError(kind ErrorKind, format string, args ...any) Value {
	e := vm.NewError(kind, fmt.Sprintf(format, args...))
	if e.IsException() {
		return e
	}
	return vm.Throw(e)
}

// ThrowTypeError throws a new TypeError.
func (vm *VM) ThrowTypeError(format string, args ...any) Value {
	return vm.throwError(TypeErrorKind, format, args...)
}

// ThrowRangeError throws a new RangeError.
func (vm *VM) ThrowRangeError(format string, args ...any) Value {
	return vm.throwError(RangeErrorKind, format, args...)
}

// ThrowReferenceError throws a new ReferenceError.
func (vm *VM) ThrowReferenceError(format string, args ...any) Value {
	return vm.throwError(ReferenceErrorKind, format, args...)
}

// HasPendingException reports whether a JS exception is pending.
func (vm *VM) HasPendingException() bool { return vm.pendingException != Hole }

// PendingException returns the pending exception, or Hole.
func (vm *VM) PendingException() Value { return vm.pendingException }

// ClearException clears and returns the pending exception.
func (vm *VM) ClearException() Value {
	v := vm.pendingException
	vm.pendingException = Hole
	return v
}

// PendingError converts the pending exception into a Go error, or returns
// nil when nothing is pending.
func (vm *VM) PendingError() error {
	v := vm.pendingException
	if v == Hole {
		return nil
	}
	if !v.IsHeapObject() || vm.classOf(v).objType != TypeError {
		return &JSError{Kind: PlainErrorKind, Message: vm.describe(v)}
	}
	kind := ErrorKind(vm.heap.ReadValue(v.Address(), errorKindOffset).SmallInt())
	msg := vm.GetPropertyByName(v, vm.keys.message)
	return &JSError{Kind: kind, Message: vm.describe(msg)}
}

// raiseOutOfMemory is the heap's out-of-memory hook. The error object is
// preallocated because the heap cannot satisfy another allocation.
func (vm *VM) raiseOutOfMemory(size int, site string) {
	vm.log.Errorf("out of memory allocating %d bytes in %s", size, site)
	vm.pendingException = vm.oomError
}

// describe renders v for error messages.
func (vm *VM) describe(v Value) string {
	switch {
	case v.IsAtom():
		return vm.atoms.Name(v)
	case v.IsSymbol():
		return "Symbol(" + vm.atoms.SymbolDescription(v) + ")"
	case v.IsHeapObject():
		return "[object " + vm.classOf(v).objType.String() + "]"
	}
	return v.String()
}
