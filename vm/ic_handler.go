package vm

import "fmt"

// ---------------------------------------------------------------------------
// Cache handlers
// ---------------------------------------------------------------------------

// HandlerKind says how a cached access is performed.
type HandlerKind uint8

const (
	// HandlerField reads or writes a data slot of the receiver.
	HandlerField HandlerKind = iota
	// HandlerNonExistent answers undefined for a property missing from the
	// whole chain, for as long as the chain is unchanged.
	HandlerNonExistent
	// HandlerAccessor calls the getter or setter held in a slot.
	HandlerAccessor
	// HandlerTransition adds a property by moving the receiver to NewClass.
	HandlerTransition
	// HandlerPrototypeWrapped runs Inner against Holder, a prototype, for as
	// long as the chain is unchanged.
	HandlerPrototypeWrapped
	// HandlerPropertyBox reads or writes a global through its box.
	HandlerPropertyBox
	// HandlerElement accesses fast elements by index.
	HandlerElement
)

var handlerKindNames = [...]string{"field", "nonexistent", "accessor", "transition",
	"prototype", "box", "element"}

func (k HandlerKind) String() string {
	if int(k) < len(handlerKindNames) {
		return handlerKindNames[k]
	}
	return fmt.Sprintf("HandlerKind(%d)", k)
}

// Handler is the cached recipe for one access on one receiver class.
type Handler struct {
	Kind HandlerKind

	// Inlined reports an in-object slot. Offset is then the byte offset in
	// the object, otherwise the index in the properties array.
	Inlined bool
	Offset  int

	// NewClass is the class a transition moves the receiver to.
	NewClass *HiddenClass

	// Holder is the prototype that owns the property.
	Holder Value
	Inner  *Handler

	// Marker is checked before the handler is trusted. Changes to any
	// prototype on the chain set it.
	Marker *ProtoChangeMarker

	// Box is the property box of a global.
	Box Value

	IsJSArray bool
}

// fieldHandler returns the handler reaching the slot described by attr in
// objects of hc.
func fieldHandler(hc *HiddenClass, attr PropertyAttributes) *Handler {
	h := &Handler{Kind: HandlerField, Holder: Undefined, Box: Undefined}
	if attr.IsAccessor() {
		h.Kind = HandlerAccessor
	}
	if attr.IsInlinedProps() {
		h.Inlined = true
		h.Offset = int(hc.inlineSlotOffset(attr.Offset()))
	} else {
		h.Offset = attr.Offset()
	}
	return h
}

func nonExistentHandler(marker *ProtoChangeMarker) *Handler {
	return &Handler{Kind: HandlerNonExistent, Marker: marker, Holder: Undefined, Box: Undefined}
}

func transitionHandler(newHC *HiddenClass, attr PropertyAttributes, marker *ProtoChangeMarker) *Handler {
	h := fieldHandler(newHC, attr)
	h.Kind = HandlerTransition
	h.NewClass = newHC
	h.Marker = marker
	return h
}

func prototypeHandler(holder Value, inner *Handler, marker *ProtoChangeMarker) *Handler {
	return &Handler{Kind: HandlerPrototypeWrapped, Holder: holder, Inner: inner, Marker: marker, Box: Undefined}
}

func boxHandler(box Value) *Handler {
	return &Handler{Kind: HandlerPropertyBox, Holder: Undefined, Box: box}
}

func elementHandler(isJSArray bool) *Handler {
	return &Handler{Kind: HandlerElement, IsJSArray: isJSArray, Holder: Undefined, Box: Undefined}
}

// stale reports whether the prototype chain the handler relies on changed.
func (h *Handler) stale() bool {
	return h.Marker != nil && h.Marker.HasChanged()
}

func (h *Handler) visitRoots(visit func(*Value)) {
	for ; h != nil; h = h.Inner {
		visit(&h.Holder)
		visit(&h.Box)
	}
}

func (h *Handler) String() string {
	switch h.Kind {
	case HandlerField, HandlerAccessor:
		return fmt.Sprintf("%s(inlined=%t, offset=%d)", h.Kind, h.Inlined, h.Offset)
	case HandlerTransition:
		return fmt.Sprintf("%s(class=%d, offset=%d)", h.Kind, h.NewClass.id, h.Offset)
	case HandlerPrototypeWrapped:
		return fmt.Sprintf("%s(%s)", h.Kind, h.Inner)
	}
	return h.Kind.String()
}

// loadField reads the slot h describes.
func (vm *VM) loadField(obj Value, h *Handler) Value {
	if h.Inlined {
		return vm.heap.ReadValue(obj.Address(), Address(h.Offset))
	}
	return vm.TaggedArrayGet(vm.getProperties(obj), h.Offset)
}

// storeField writes the slot h describes, through the write barrier.
func (vm *VM) storeField(obj Value, h *Handler, v Value) {
	if h.Inlined {
		vm.heap.SetValueWithBarrier(obj.Address(), Address(h.Offset), v)
		return
	}
	vm.TaggedArraySet(vm.getProperties(obj), h.Offset, v)
}
