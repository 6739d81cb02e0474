package vm

import "testing"

func TestCalculateGrowingFactor(t *testing.T) {
	c := newMemController(DefaultGCPacing())
	if f := c.CalculateGrowingFactor(0, 100); f != 4.0 {
		t.Errorf("Expected the max factor without samples, got %v", f)
	}
	// A collector far faster than the mutator keeps the heap tight.
	if f := c.CalculateGrowingFactor(1e9, 1); f != 1.3 {
		t.Errorf("Expected 1.3 for a fast collector, got %v", f)
	}
	// A collector that cannot reach the target utilization grows the most.
	if f := c.CalculateGrowingFactor(1, 1e6); f != 4.0 {
		t.Errorf("Expected 4.0 for a slow collector, got %v", f)
	}
	// In between the factor is strictly inside the bounds.
	if f := c.CalculateGrowingFactor(50, 1); f <= 1.3 || f >= 4.0 {
		t.Errorf("Expected a factor between the bounds, got %v", f)
	}
}

func TestCalculateAllocLimit(t *testing.T) {
	c := newMemController(DefaultGCPacing())
	const mb = 1 << 20

	// Growth is at least the fixed step.
	if got := c.CalculateAllocLimit(4*mb, 0, 1024*mb, 2*mb, 1.1); got != 4*mb+8*mb+2*mb {
		t.Errorf("Expected %d, got %d", 14*mb, got)
	}
	// The factor wins when it grows more than the step.
	if got := c.CalculateAllocLimit(100*mb, 0, 1024*mb, 0, 2); got != 200*mb {
		t.Errorf("Expected %d, got %d", 200*mb, got)
	}
	// Never above halfway to the max.
	if got := c.CalculateAllocLimit(100*mb, 0, 200*mb, 0, 4); got != 150*mb {
		t.Errorf("Expected %d, got %d", 150*mb, got)
	}
	// Never below the min.
	if got := c.CalculateAllocLimit(mb, 64*mb, 1024*mb, 0, 1.1); got != 64*mb {
		t.Errorf("Expected %d, got %d", 64*mb, got)
	}
}
