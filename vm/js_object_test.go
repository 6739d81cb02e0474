package vm

import (
	"fmt"
	"testing"
)

func TestSamePropertiesShareClass(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	a, b := v.NewHandle(v.NewObject()), v.NewHandle(v.NewObject())
	for _, name := range []string{"x", "y", "z"} {
		key := v.Intern(name)
		v.SetPropertyByName(a.Get(), key, FromInt(1))
		v.SetPropertyByName(b.Get(), key, FromInt(2))
	}
	if v.ClassOf(a.Get()) != v.ClassOf(b.Get()) {
		t.Error("Expected objects built the same way to share a hidden class")
	}
	if n := v.ClassOf(a.Get()).NumberOfProps(); n != 3 {
		t.Errorf("Expected 3 properties, got %d", n)
	}

	// A different insertion order is a different shape.
	c := v.NewHandle(v.NewObject())
	for _, name := range []string{"y", "x", "z"} {
		v.SetPropertyByName(c.Get(), v.Intern(name), FromInt(3))
	}
	if v.ClassOf(c.Get()) == v.ClassOf(a.Get()) {
		t.Error("Expected a different class for a different insertion order")
	}
}

func TestTenthPropertyGoesOutOfLine(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	inline := v.Options().Objects.InlineProperties
	for i := 0; i <= inline; i++ {
		key := v.Intern(fmt.Sprintf("p%d", i))
		if r := v.SetPropertyByName(obj.Get(), key, FromInt(i)); r.IsException() {
			t.Fatalf("SetPropertyByName(p%d) failed: %v", i, v.PendingError())
		}
	}

	hc := v.ClassOf(obj.Get())
	if hc.IsDictionaryMode() {
		t.Fatal("Expected the object to stay in fast mode")
	}
	for i := 0; i < inline; i++ {
		if attr := hc.Layout().Attr(i); !attr.IsInlinedProps() || attr.Offset() != i {
			t.Errorf("Expected p%d inline at offset %d, got inlined=%v offset=%d", i, i, attr.IsInlinedProps(), attr.Offset())
		}
	}
	attr := hc.Layout().Attr(inline)
	if attr.IsInlinedProps() || attr.Offset() != 0 {
		t.Errorf("Expected p%d out of line at offset 0, got inlined=%v offset=%d", inline, attr.IsInlinedProps(), attr.Offset())
	}
	if n := v.TaggedArrayLength(v.getProperties(obj.Get())); n != v.Options().Objects.MinPropertiesLength {
		t.Errorf("Expected out-of-line capacity %d, got %d", v.Options().Objects.MinPropertiesLength, n)
	}
	for i := 0; i <= inline; i++ {
		if got := v.GetPropertyByName(obj.Get(), v.Intern(fmt.Sprintf("p%d", i))); got != FromInt(i) {
			t.Errorf("Expected p%d = %d, got %s", i, i, got)
		}
	}
}

func TestOutOfLinePropertiesGrow(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	o := v.Options().Objects
	total := o.InlineProperties + o.MinPropertiesLength + 1
	for i := 0; i < total; i++ {
		v.SetPropertyByName(obj.Get(), v.Intern(fmt.Sprintf("p%d", i)), FromInt(i))
	}
	want := o.MinPropertiesLength + o.PropertiesGrowSize
	if n := v.TaggedArrayLength(v.getProperties(obj.Get())); n != want {
		t.Errorf("Expected out-of-line capacity %d, got %d", want, n)
	}
	// Survives a collection that moves both the object and its array.
	v.Heap().CollectGarbage(SemiGC)
	for i := 0; i < total; i++ {
		if got := v.GetPropertyByName(obj.Get(), v.Intern(fmt.Sprintf("p%d", i))); got != FromInt(i) {
			t.Errorf("Expected p%d = %d after the collection, got %s", i, i, got)
		}
	}
}

func TestManyPropertiesSwitchToDictionary(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.Objects.MaxFastProperties = 16 })
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	for i := 0; i < 20; i++ {
		v.SetPropertyByName(obj.Get(), v.Intern(fmt.Sprintf("p%d", i)), FromInt(i))
	}
	if !v.ClassOf(obj.Get()).IsDictionaryMode() {
		t.Fatal("Expected dictionary mode past MaxFastProperties")
	}
	for i := 0; i < 20; i++ {
		if got := v.GetPropertyByName(obj.Get(), v.Intern(fmt.Sprintf("p%d", i))); got != FromInt(i) {
			t.Errorf("Expected p%d = %d, got %s", i, i, got)
		}
	}
}

func TestDictionaryModeIsIrreversible(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	a, b := v.Intern("a"), v.Intern("b")
	v.SetPropertyByName(obj.Get(), a, FromInt(1))
	v.SetPropertyByName(obj.Get(), b, FromInt(2))

	if r := v.DeleteProperty(obj.Get(), a); r != True {
		t.Fatalf("Expected delete to succeed, got %s", r)
	}
	if !v.ClassOf(obj.Get()).IsDictionaryMode() {
		t.Fatal("Expected deleting a property to switch to dictionary mode")
	}
	if v.HasOwnProperty(obj.Get(), a) {
		t.Error("Expected a to be gone")
	}

	// Adding properties back does not return to fast mode.
	v.SetPropertyByName(obj.Get(), a, FromInt(3))
	v.SetPropertyByName(obj.Get(), v.Intern("c"), FromInt(4))
	if !v.ClassOf(obj.Get()).IsDictionaryMode() {
		t.Error("Expected the object to stay in dictionary mode")
	}
	v.Heap().CollectGarbage(OldGC)
	if !v.ClassOf(obj.Get()).IsDictionaryMode() {
		t.Error("Expected dictionary mode to survive a collection")
	}

	keys := v.OwnPropertyKeys(obj.Get())
	want := []string{"b", "a", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range keys {
		if got := v.Atoms().Name(k); got != want[i] {
			t.Errorf("Expected key %d to be %s, got %s", i, want[i], got)
		}
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	nested := v.NewHandle(v.NewObject())
	values := map[string]Value{
		"int":    FromInt(-5),
		"float":  FromFloat64(2.5),
		"bool":   True,
		"null":   Null,
		"atom":   v.Intern("hello"),
		"object": nested.Get(),
	}
	for name, val := range values {
		if r := v.SetPropertyByName(obj.Get(), v.Intern(name), val); r.IsException() {
			t.Fatalf("SetPropertyByName(%s) failed: %v", name, v.PendingError())
		}
	}
	v.Heap().CollectGarbage(SemiGC)
	values["object"] = nested.Get()
	for name, want := range values {
		if got := v.GetPropertyByName(obj.Get(), v.Intern(name)); got != want {
			t.Errorf("Expected %s = %s, got %s", name, want, got)
		}
	}
	if got := v.GetPropertyByName(obj.Get(), v.Intern("missing")); got != Undefined {
		t.Errorf("Expected undefined for a missing property, got %s", got)
	}
}

func TestInheritedPropertyIsShadowed(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	proto := v.NewHandle(v.NewObject())
	k := v.Intern("k")
	v.SetPropertyByName(proto.Get(), k, FromInt(1))
	obj := v.NewHandle(v.NewObjectWithProto(proto.Get()))

	if got := v.GetPropertyByName(obj.Get(), k); got != FromInt(1) {
		t.Errorf("Expected the inherited value 1, got %s", got)
	}
	v.SetPropertyByName(obj.Get(), k, FromInt(2))
	if got := v.GetPropertyByName(proto.Get(), k); got != FromInt(1) {
		t.Errorf("Expected the prototype to keep 1, got %s", got)
	}
	if !v.HasOwnProperty(obj.Get(), k) {
		t.Error("Expected an own property after the store")
	}
}

func TestReadOnlyAndNonExtensible(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(v.NewObject())
	ro := v.Intern("ro")
	v.DefineOwnProperty(obj.Get(), ro, FromInt(1), NewAttributes(false, true, false))
	if r := v.SetPropertyByName(obj.Get(), ro, FromInt(2)); !r.IsException() {
		t.Error("Expected assigning a read-only property to throw")
	}
	v.ClearException()
	if r := v.DeleteProperty(obj.Get(), ro); !r.IsException() {
		t.Error("Expected deleting a non-configurable property to throw")
	}
	v.ClearException()

	v.PreventExtensions(obj.Get())
	if v.IsExtensible(obj.Get()) {
		t.Fatal("Expected the object to be non-extensible")
	}
	if r := v.SetPropertyByName(obj.Get(), v.Intern("new"), FromInt(1)); !r.IsException() {
		t.Error("Expected adding to a non-extensible object to throw")
	}
	v.ClearException()
}

func TestSetPrototypeRejectsCycles(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	a := v.NewHandle(v.NewObject())
	b := v.NewHandle(v.NewObjectWithProto(a.Get()))
	if r := v.SetPrototypeOf(a.Get(), b.Get()); !r.IsException() {
		t.Error("Expected a cyclic prototype chain to throw")
	}
	v.ClearException()
	if r := v.SetPrototypeOf(b.Get(), Null); r != True {
		t.Errorf("Expected True, got %s", r)
	}
	if v.GetPrototypeOf(b.Get()) != Null {
		t.Error("Expected a null prototype")
	}
}

func TestArrayElements(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	arr := v.NewHandle(v.NewArrayFrom(FromInt(10), FromInt(20), FromInt(30)))
	if n := v.ArrayLength(arr.Get()); n != 3 {
		t.Errorf("Expected length 3, got %d", n)
	}
	if got := v.GetPropertyByName(arr.Get(), v.Intern("length")); got != FromInt(3) {
		t.Errorf("Expected length property 3, got %s", got)
	}
	if got := v.GetPropertyByIndex(arr.Get(), 1); got != FromInt(20) {
		t.Errorf("Expected arr[1] = 20, got %s", got)
	}

	// Writing far past the end moves the elements into a dictionary.
	v.SetPropertyByIndex(arr.Get(), 5000, FromInt(1))
	if !v.ClassOf(arr.Get()).IsDictionaryElement() {
		t.Error("Expected dictionary elements after a sparse write")
	}
	if n := v.ArrayLength(arr.Get()); n != 5001 {
		t.Errorf("Expected length 5001, got %d", n)
	}
	if got := v.GetPropertyByIndex(arr.Get(), 2); got != FromInt(30) {
		t.Errorf("Expected arr[2] = 30 after the transition, got %s", got)
	}

	v.SetPropertyByName(arr.Get(), v.Intern("length"), FromInt(2))
	if got := v.GetPropertyByIndex(arr.Get(), 2); got != Undefined {
		t.Errorf("Expected arr[2] to be truncated, got %s", got)
	}
}

func TestSpecialContainerBounds(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	c := v.NewHandle(v.NewSpecialContainer(2))
	for i := 0; i < 2; i++ {
		if r := v.SetPropertyByIndex(c.Get(), uint32(i), FromInt(i)); r.IsException() {
			t.Fatalf("Expected append %d to succeed: %v", i, v.PendingError())
		}
	}
	if r := v.SetPropertyByIndex(c.Get(), 2, FromInt(2)); !r.IsException() {
		t.Error("Expected a write past the capacity to throw")
	}
	v.ClearException()
	if got := v.GetPropertyByIndex(c.Get(), 5); got != Undefined {
		t.Errorf("Expected undefined past the count, got %s", got)
	}
	if n := v.ContainerLength(c.Get()); n != 2 {
		t.Errorf("Expected length 2, got %d", n)
	}
}

func TestAccessorProperty(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	var stored Value = Undefined
	getter := v.NewHandle(v.NewFunction("get", func(vm *VM, this Value, args []Value) Value {
		return FromInt(99)
	}))
	setter := v.NewHandle(v.NewFunction("set", func(vm *VM, this Value, args []Value) Value {
		stored = args[0]
		return Undefined
	}))
	obj := v.NewHandle(v.NewObject())
	key := v.Intern("acc")
	if r := v.DefineAccessor(obj.Get(), key, getter.Get(), setter.Get(), true, true); r.IsException() {
		t.Fatalf("DefineAccessor failed: %v", v.PendingError())
	}
	if got := v.GetPropertyByName(obj.Get(), key); got != FromInt(99) {
		t.Errorf("Expected the getter result 99, got %s", got)
	}
	v.SetPropertyByName(obj.Get(), key, FromInt(7))
	if stored != FromInt(7) {
		t.Errorf("Expected the setter to receive 7, got %s", stored)
	}
}

func TestSecondTransitionMovesToDictionary(t *testing.T) {
	v := newTestVM(t, nil)
	scope := v.OpenHandleScope()
	defer scope.Close()

	base, left, right := v.Intern("fork_base"), v.Intern("fork_left"), v.Intern("fork_right")
	a, b := v.NewHandle(v.NewObject()), v.NewHandle(v.NewObject())
	v.SetPropertyByName(a.Get(), base, FromInt(0))
	v.SetPropertyByName(b.Get(), base, FromInt(0))
	parent := v.ClassOf(a.Get())
	if v.ClassOf(b.Get()) != parent {
		t.Fatal("Expected both objects to share the parent class")
	}

	v.SetPropertyByName(a.Get(), left, FromInt(1))
	leftClass := v.ClassOf(a.Get())
	if parent.single != leftClass || parent.transitions != nil {
		t.Fatal("Expected the first transition to be stored inline")
	}

	v.SetPropertyByName(b.Get(), right, FromInt(2))
	rightClass := v.ClassOf(b.Get())
	if parent.single != nil {
		t.Error("Expected the inline transition to be cleared")
	}
	if parent.transitions == nil || parent.transitions.Len() != 2 {
		t.Fatalf("Expected a transitions dictionary with 2 entries, got %v", parent.transitions)
	}
	if got := v.FindTransitions(parent, left, DefaultAttributes()); got != leftClass {
		t.Errorf("Expected fork_left to lead to the first child, got %v", got)
	}
	if got := v.FindTransitions(parent, right, DefaultAttributes()); got != rightClass {
		t.Errorf("Expected fork_right to lead to the second child, got %v", got)
	}

	// Objects taking either branch afterwards reuse the existing children.
	c, d := v.NewHandle(v.NewObject()), v.NewHandle(v.NewObject())
	v.SetPropertyByName(c.Get(), base, FromInt(0))
	v.SetPropertyByName(c.Get(), left, FromInt(3))
	v.SetPropertyByName(d.Get(), base, FromInt(0))
	v.SetPropertyByName(d.Get(), right, FromInt(4))
	if v.ClassOf(c.Get()) != leftClass || v.ClassOf(d.Get()) != rightClass {
		t.Error("Expected later objects to follow the recorded transitions")
	}
	if parent.transitions.Len() != 2 {
		t.Errorf("Expected no new transitions, got %d", parent.transitions.Len())
	}
	if got := v.GetPropertyByName(a.Get(), left); got != FromInt(1) {
		t.Errorf("Expected fork_left = 1, got %s", got)
	}
	if got := v.GetPropertyByName(b.Get(), right); got != FromInt(2) {
		t.Errorf("Expected fork_right = 2, got %s", got)
	}
}
