package vm

import "testing"

func TestGCBitsetSetAndTest(t *testing.T) {
	b := NewGCBitset(200)
	if b.Size() != 256 {
		t.Errorf("Expected size 256, got %d", b.Size())
	}
	for _, i := range []int{0, 63, 64, 199} {
		b.Set(i)
	}
	for _, i := range []int{0, 63, 64, 199} {
		if !b.Test(i) {
			t.Errorf("Expected bit %d set", i)
		}
	}
	if b.Test(1) || b.Test(65) {
		t.Error("Expected neighbouring bits clear")
	}
	if b.Count() != 4 {
		t.Errorf("Expected 4 bits, got %d", b.Count())
	}
	if b.AtomicTestAndSet(63) != true {
		t.Error("Expected AtomicTestAndSet to report a set bit")
	}
	if b.AtomicTestAndSet(100) != false {
		t.Error("Expected AtomicTestAndSet to report a clear bit")
	}
}

func TestGCBitsetClearRange(t *testing.T) {
	b := NewGCBitset(256)
	for i := 0; i < 256; i++ {
		b.Set(i)
	}
	b.ClearRange(10, 140)
	for i := 0; i < 256; i++ {
		want := i < 10 || i >= 140
		if b.Test(i) != want {
			t.Fatalf("Bit %d: expected %v", i, want)
		}
	}
	b.AtomicClearRange(0, 256)
	if !b.IsEmpty() {
		t.Errorf("Expected an empty set, %d bits left", b.Count())
	}
	// An empty range is a no-op.
	b.Set(5)
	b.ClearRange(5, 5)
	if !b.Test(5) {
		t.Error("Expected ClearRange(5, 5) to leave bit 5")
	}
}

func TestGCBitsetIterateAndMerge(t *testing.T) {
	a, b := NewGCBitset(128), NewGCBitset(128)
	a.Set(3)
	a.Set(70)
	b.Set(70)
	b.Set(127)
	a.Merge(b)

	var got []int
	a.IterateMarked(func(i int) bool {
		got = append(got, i)
		return true
	})
	want := []int{3, 70, 127}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}

	n := 0
	a.IterateMarked(func(int) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Expected iteration to stop after the first bit, visited %d", n)
	}

	a.AtomicClear(70)
	a.Clear(3)
	if a.Count() != 1 {
		t.Errorf("Expected 1 bit left, got %d", a.Count())
	}
	a.ClearAll()
	if !a.IsEmpty() {
		t.Error("Expected ClearAll to empty the set")
	}
}
