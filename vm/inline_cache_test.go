package vm

import (
	"fmt"
	"testing"
)

// pointWithX returns an object whose only property is x.
func pointWithX(t *testing.T, v *VM, x int) Value {
	t.Helper()
	obj := v.NewObject()
	if r := v.SetPropertyByName(obj, v.Intern("x"), FromInt(x)); r.IsException() {
		t.Fatalf("SetPropertyByName failed: %v", v.PendingError())
	}
	return obj
}

func TestLoadICMonomorphicHits(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(pointWithX(t, v, 5))
	x := v.Intern("x")

	if got := v.LoadICByName(info, 0, obj.Get(), x); got != FromInt(5) {
		t.Fatalf("Expected 5, got %s", got)
	}
	if s := info.Slot(0).State(); s != ICMonomorphic {
		t.Fatalf("Expected monomorphic after the first miss, got %s", s)
	}

	before := v.ICStats()
	for i := 0; i < 1000; i++ {
		if got := v.LoadICByName(info, 0, obj.Get(), x); got != FromInt(5) {
			t.Fatalf("Expected 5, got %s", got)
		}
	}
	after := v.ICStats()
	if after.Hits-before.Hits != 1000 {
		t.Errorf("Expected 1000 hits, got %d", after.Hits-before.Hits)
	}
	if after.Misses != before.Misses {
		t.Errorf("Expected no misses, got %d", after.Misses-before.Misses)
	}
	if after.TransitionLookups != before.TransitionLookups {
		t.Errorf("Expected no transition lookups, got %d", after.TransitionLookups-before.TransitionLookups)
	}
}

func TestStoreICCachesTransition(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	x := v.Intern("x")

	scope := v.OpenHandleScope()
	defer scope.Close()
	first := v.NewHandle(v.NewObject())
	v.StoreICByName(info, 0, first.Get(), x, FromInt(0))
	if h := info.Slot(0).Handler(); h == nil || h.Kind != HandlerTransition {
		t.Fatalf("Expected a transition handler, got %v", h)
	}

	before := v.ICStats()
	for i := 1; i <= 1000; i++ {
		inner := v.OpenHandleScope()
		obj := v.NewObject()
		if r := v.StoreICByName(info, 0, obj, x, FromInt(i)); r.IsException() {
			t.Fatalf("StoreICByName failed: %v", v.PendingError())
		}
		if v.ClassOf(obj) != v.ClassOf(first.Get()) {
			t.Fatal("Expected the cached transition to reach the shared class")
		}
		if got := v.GetPropertyByName(obj, x); got != FromInt(i) {
			t.Fatalf("Expected x = %d, got %s", i, got)
		}
		inner.Close()
	}
	after := v.ICStats()
	if after.Hits-before.Hits != 1000 {
		t.Errorf("Expected 1000 hits, got %d", after.Hits-before.Hits)
	}
	if after.TransitionLookups != before.TransitionLookups {
		t.Errorf("Expected no transition lookups, got %d", after.TransitionLookups-before.TransitionLookups)
	}
}

func TestLoadICPolymorphicThenMegamorphic(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()
	x := v.Intern("x")

	// Each object gets a distinct class by adding a different property
	// before x.
	shapes := make([]Handle, v.Options().IC.PolyCapacity+1)
	for i := range shapes {
		obj := v.NewObject()
		v.SetPropertyByName(obj, v.Intern(fmt.Sprintf("pad%d", i)), Null)
		v.SetPropertyByName(obj, x, FromInt(i))
		shapes[i] = v.NewHandle(obj)
	}

	for i := 0; i < 2; i++ {
		v.LoadICByName(info, 0, shapes[i].Get(), x)
	}
	if s := info.Slot(0).State(); s != ICPolymorphic {
		t.Fatalf("Expected polymorphic with two classes, got %s", s)
	}
	for i := range shapes {
		if got := v.LoadICByName(info, 0, shapes[i].Get(), x); got != FromInt(i) {
			t.Errorf("Expected x = %d, got %s", i, got)
		}
	}
	if s := info.Slot(0).State(); s != ICMegamorphic {
		t.Errorf("Expected megamorphic past the capacity, got %s", s)
	}
	// Megamorphic slots still load correctly.
	if got := v.LoadICByName(info, 0, shapes[0].Get(), x); got != FromInt(0) {
		t.Errorf("Expected 0, got %s", got)
	}
}

func TestPrototypeChangeInvalidatesHandlers(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(2)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	misses := map[int]int{}
	v.SetSlowPathHook(func(kind ICKind, slot int) { misses[slot]++ })

	proto := v.NewHandle(v.NewObject())
	m, missing := v.Intern("m"), v.Intern("missing")
	v.SetPropertyByName(proto.Get(), m, FromInt(1))
	obj := v.NewHandle(v.NewObjectWithProto(proto.Get()))

	for i := 0; i < 3; i++ {
		if got := v.LoadICByName(info, 0, obj.Get(), m); got != FromInt(1) {
			t.Fatalf("Expected the inherited m = 1, got %s", got)
		}
		if got := v.LoadICByName(info, 1, obj.Get(), missing); got != Undefined {
			t.Fatalf("Expected undefined, got %s", got)
		}
	}
	if misses[0] != 1 || misses[1] != 1 {
		t.Fatalf("Expected one warm-up miss per slot, got %v", misses)
	}

	// Adding the missing property to the prototype must not be hidden by
	// the cached nonexistent handler.
	v.SetPropertyByName(proto.Get(), missing, FromInt(2))
	if got := v.LoadICByName(info, 1, obj.Get(), missing); got != FromInt(2) {
		t.Errorf("Expected the new prototype property 2, got %s", got)
	}
	if got := v.LoadICByName(info, 0, obj.Get(), m); got != FromInt(1) {
		t.Errorf("Expected m = 1, got %s", got)
	}
	if misses[0] != 2 || misses[1] != 2 {
		t.Errorf("Expected the prototype change to force a miss in both slots, got %v", misses)
	}

	// Relearned handlers hit again.
	v.LoadICByName(info, 1, obj.Get(), missing)
	if misses[1] != 2 {
		t.Errorf("Expected a hit after relearning, got %d misses", misses[1])
	}
}

func TestSetPrototypeOfInvalidatesHandlers(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	k := v.Intern("k")
	grand := v.NewHandle(v.NewObject())
	v.SetPropertyByName(grand.Get(), k, FromInt(1))
	parent := v.NewHandle(v.NewObjectWithProto(grand.Get()))
	obj := v.NewHandle(v.NewObjectWithProto(parent.Get()))

	v.LoadICByName(info, 0, obj.Get(), k)
	v.LoadICByName(info, 0, obj.Get(), k)

	other := v.NewHandle(v.NewObject())
	v.SetPropertyByName(other.Get(), k, FromInt(2))
	v.SetPrototypeOf(parent.Get(), other.Get())
	if got := v.LoadICByName(info, 0, obj.Get(), k); got != FromInt(2) {
		t.Errorf("Expected k from the new grandparent, got %s", got)
	}
}

func TestKeyedLoadIC(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	obj := v.NewHandle(pointWithX(t, v, 3))
	v.SetPropertyByName(obj.Get(), v.Intern("y"), FromInt(4))
	x, y := v.Intern("x"), v.Intern("y")

	v.LoadICByValue(info, 0, obj.Get(), x)
	if s := info.Slot(0).State(); s != ICKeyed {
		t.Fatalf("Expected keyed, got %s", s)
	}
	before := v.ICStats()
	if got := v.LoadICByValue(info, 0, obj.Get(), x); got != FromInt(3) {
		t.Errorf("Expected 3, got %s", got)
	}
	if v.ICStats().Hits != before.Hits+1 {
		t.Error("Expected a keyed hit for the same key")
	}

	if got := v.LoadICByValue(info, 0, obj.Get(), y); got != FromInt(4) {
		t.Errorf("Expected 4, got %s", got)
	}
	if s := info.Slot(0).State(); s != ICMegamorphic {
		t.Errorf("Expected a second key to go megamorphic, got %s", s)
	}
}

func TestElementICs(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(2)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	arr := v.NewHandle(v.NewArray(8))
	for i := 0; i < 8; i++ {
		if r := v.StoreICByValue(info, 0, arr.Get(), FromInt(i), FromInt(i*i)); r.IsException() {
			t.Fatalf("StoreICByValue failed: %v", v.PendingError())
		}
	}
	if s := info.Slot(0).State(); s != ICMonomorphic {
		t.Errorf("Expected a monomorphic element store, got %s", s)
	}
	for i := 0; i < 8; i++ {
		if got := v.LoadICByValue(info, 1, arr.Get(), FromInt(i)); got != FromInt(i*i) {
			t.Errorf("Expected arr[%d] = %d, got %s", i, i*i, got)
		}
	}
	if s := info.Slot(1).State(); s != ICMonomorphic {
		t.Errorf("Expected a monomorphic element load, got %s", s)
	}
	if info.Slot(1).Hits != 7 {
		t.Errorf("Expected 7 element hits, got %d", info.Slot(1).Hits)
	}

	// Out of bounds falls back to the generic path.
	if got := v.LoadICByValue(info, 1, arr.Get(), FromInt(100)); got != Undefined {
		t.Errorf("Expected undefined out of bounds, got %s", got)
	}
	// Float keys that are integers address elements.
	if got := v.LoadICByValue(info, 1, arr.Get(), FromFloat64(2)); got != FromInt(4) {
		t.Errorf("Expected arr[2.0] = 4, got %s", got)
	}
}

func TestGlobalICs(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(2)
	defer v.ReleaseProfileTypeInfo(info)
	g := v.Intern("counter")

	if r := v.TryLoadGlobalICByName(info, 0, g); !r.IsException() {
		t.Fatalf("Expected a ReferenceError for an undefined global, got %s", r)
	}
	v.ClearException()

	v.StoreGlobalVar(g, FromInt(1))
	for i := 1; i <= 10; i++ {
		cur := v.TryLoadGlobalICByName(info, 0, g)
		if cur != FromInt(i) {
			t.Fatalf("Expected %d, got %s", i, cur)
		}
		if r := v.TryStoreGlobalICByName(info, 1, g, FromInt(i+1)); r.IsException() {
			t.Fatalf("TryStoreGlobalICByName failed: %v", v.PendingError())
		}
	}
	for slot := 0; slot < 2; slot++ {
		if s := info.Slot(slot).State(); s != ICGlobal {
			t.Errorf("Expected slot %d global, got %s", slot, s)
		}
	}

	// Deleting the variable empties the cached box.
	if r := v.DeleteGlobalVar(g); r != True {
		t.Fatalf("Expected delete to succeed, got %s", r)
	}
	if r := v.TryLoadGlobalICByName(info, 0, g); !r.IsException() {
		t.Errorf("Expected a ReferenceError after delete, got %s", r)
	}
	v.ClearException()
	if r := v.TryStoreGlobalICByName(info, 1, g, FromInt(0)); !r.IsException() {
		t.Errorf("Expected a ReferenceError storing a deleted global, got %s", r)
	}
	v.ClearException()
}

func TestHandlersSurviveCollections(t *testing.T) {
	v := newTestVM(t, nil)
	info := v.NewProfileTypeInfo(1)
	defer v.ReleaseProfileTypeInfo(info)
	scope := v.OpenHandleScope()
	defer scope.Close()

	proto := v.NewHandle(v.NewObject())
	k := v.Intern("k")
	v.SetPropertyByName(proto.Get(), k, FromInt(8))
	obj := v.NewHandle(v.NewObjectWithProto(proto.Get()))
	v.LoadICByName(info, 0, obj.Get(), k)

	// The prototype handler holds the holder; collections must update it.
	v.Heap().CollectGarbage(SemiGC)
	v.Heap().CollectGarbage(CompressFullGC)
	before := v.ICStats()
	if got := v.LoadICByName(info, 0, obj.Get(), k); got != FromInt(8) {
		t.Errorf("Expected 8, got %s", got)
	}
	if v.ICStats().Hits != before.Hits+1 {
		t.Error("Expected the cached handler to hit after the collections")
	}
}

func TestICSlotStateMachine(t *testing.T) {
	v := newTestVM(t, nil)
	a := v.newHClass(TypeObject, jsObjectHeaderWords, 0, Null)
	b := v.newHClass(TypeObject, jsObjectHeaderWords, 0, Null)
	h := &Handler{Kind: HandlerField}

	var s ICSlot
	if got := s.Update(a, h, 2); got != ICMonomorphic {
		t.Errorf("Expected monomorphic, got %s", got)
	}
	if got := s.Update(a, h, 2); got != ICMonomorphic {
		t.Errorf("Expected the same class to stay monomorphic, got %s", got)
	}
	if got := s.Update(b, h, 2); got != ICPolymorphic {
		t.Errorf("Expected polymorphic, got %s", got)
	}
	if s.Lookup(a) != h || s.Lookup(b) != h {
		t.Error("Expected both classes to hit")
	}
	c := v.newHClass(TypeObject, jsObjectHeaderWords, 0, Null)
	if got := s.Update(c, h, 2); got != ICMegamorphic {
		t.Errorf("Expected megamorphic past capacity 2, got %s", got)
	}
	if s.Lookup(a) != nil {
		t.Error("Expected megamorphic slots to miss")
	}

	s.Reset()
	if s.State() != ICUninitialized {
		t.Errorf("Expected uninitialized after Reset, got %s", s.State())
	}
}
