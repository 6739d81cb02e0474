package vm

import (
	"time"
)

// Pacing constants for the old generation allocation limit.
const (
	minAllocLimitGrowingStep = 8 << 20
	sampleRingLength         = 10
)

// bytesAndDuration is one throughput sample.
type bytesAndDuration struct {
	bytes    int
	duration time.Duration
}

// sampleRing keeps the most recent samples of one kind.
type sampleRing struct {
	buf   [sampleRingLength]bytesAndDuration
	start int
	count int
}

func (r *sampleRing) push(s bytesAndDuration) {
	idx := (r.start + r.count) % sampleRingLength
	if r.count == sampleRingLength {
		r.start = (r.start + 1) % sampleRingLength
	} else {
		r.count++
	}
	r.buf[idx] = s
}

// speedPerMS sums the ring and returns bytes per millisecond.
func (r *sampleRing) speedPerMS(initial bytesAndDuration) float64 {
	total := initial
	for i := 0; i < r.count; i++ {
		s := r.buf[(r.start+i)%sampleRingLength]
		total.bytes += s.bytes
		total.duration += s.duration
	}
	if total.duration <= 0 {
		return 0
	}
	ms := float64(total.duration) / float64(time.Millisecond)
	return float64(total.bytes) / ms
}

// MemController records allocation and collection throughput and turns it
// into growing factors and allocation limits for the heap.
type MemController struct {
	cfg GCPacing

	allocTimeStart     time.Time
	gcStartTime        time.Time
	allocDuration      time.Duration
	newSpaceAllocBytes int
	oldSpaceAllocBytes int
	lastOldSpaceSize   int

	recordedSemi       sampleRing
	recordedOld        sampleRing
	recordedMark       sampleRing
	recordedNewAlloc   sampleRing
	recordedOldAlloc   sampleRing
	recordedConcurrent sampleRing
}

// GCPacing holds the tuning constants of the controller.
type GCPacing struct {
	MaxGrowingFactor          float64
	MinGrowingFactor          float64
	TargetMutatorUtilization  float64
	ConservativeGrowingFactor float64

	// Young generation survival rates above which the semi space doubles
	// and below which it halves.
	GrowSurvivalRate   float64
	ShrinkSurvivalRate float64
}

// DefaultGCPacing returns the pacing constants used when none are
// configured.
func DefaultGCPacing() GCPacing {
	return GCPacing{
		MaxGrowingFactor:          4.0,
		MinGrowingFactor:          1.3,
		TargetMutatorUtilization:  0.97,
		ConservativeGrowingFactor: 1.1,
		GrowSurvivalRate:          0.8,
		ShrinkSurvivalRate:        0.2,
	}
}

func newMemController(cfg GCPacing) *MemController {
	return &MemController{cfg: cfg, allocTimeStart: time.Now()}
}

// CalculateAllocLimit derives the next allocation limit from the current
// live size: grown by factor (at least by a fixed step) plus the young
// generation capacity, clamped between minSize and halfway to maxSize.
func (c *MemController) CalculateAllocLimit(currentSize, minSize, maxSize, newSpaceCapacity int, factor float64) int {
	limit := max(int(float64(currentSize)*factor), currentSize+minAllocLimitGrowingStep) + newSpaceCapacity
	limitAboveMin := max(limit, minSize)
	halfToMax := (currentSize + maxSize) / 2
	return min(limitAboveMin, halfToMax)
}

// CalculateGrowingFactor returns how much the heap may grow before the next
// collection, given collection and mutator speeds in bytes per ms.
func (c *MemController) CalculateGrowingFactor(gcSpeed, mutatorSpeed float64) float64 {
	maxFactor := c.cfg.MaxGrowingFactor
	minFactor := c.cfg.MinGrowingFactor
	target := c.cfg.TargetMutatorUtilization
	if gcSpeed == 0 || mutatorSpeed == 0 {
		return maxFactor
	}
	speedRatio := gcSpeed / mutatorSpeed
	a := speedRatio * (1 - target)
	b := speedRatio*(1-target) - target

	factor := maxFactor
	if a < b*maxFactor {
		factor = a / b
	}
	factor = min(maxFactor, factor)
	factor = max(factor, minFactor)
	return factor
}

// StartCalculationBeforeGC closes the current mutator interval and records
// how much each generation allocated during it.
func (c *MemController) StartCalculationBeforeGC(newSpaceAllocated, oldSpaceSize int) {
	now := time.Now()
	c.gcStartTime = now
	duration := now.Sub(c.allocTimeStart)
	c.allocDuration += duration
	c.newSpaceAllocBytes += newSpaceAllocated
	if oldSpaceSize > c.lastOldSpaceSize {
		c.oldSpaceAllocBytes += oldSpaceSize - c.lastOldSpaceSize
	}
	c.recordedNewAlloc.push(bytesAndDuration{bytes: newSpaceAllocated, duration: duration})
	c.recordedOldAlloc.push(bytesAndDuration{bytes: max(0, oldSpaceSize-c.lastOldSpaceSize), duration: duration})
}

// StopCalculationAfterGC records the collection's duration against the bytes
// it processed and restarts the mutator interval.
func (c *MemController) StopCalculationAfterGC(gcType TriggerGCType, processedBytes, oldSpaceSize int) time.Duration {
	now := time.Now()
	duration := now.Sub(c.gcStartTime)
	sample := bytesAndDuration{bytes: processedBytes, duration: duration}
	switch gcType {
	case SemiGC:
		c.recordedSemi.push(sample)
	default:
		c.recordedOld.push(sample)
		c.recordedMark.push(sample)
	}
	c.lastOldSpaceSize = oldSpaceSize
	c.allocTimeStart = now
	return duration
}

// RecordConcurrentMark records a background marking pass.
func (c *MemController) RecordConcurrentMark(markedBytes int, d time.Duration) {
	c.recordedConcurrent.push(bytesAndDuration{bytes: markedBytes, duration: d})
}

// SemiSpaceSpeedPerMS is the young collection throughput.
func (c *MemController) SemiSpaceSpeedPerMS() float64 {
	return c.recordedSemi.speedPerMS(bytesAndDuration{})
}

// FullSpaceSpeedPerMS is the old collection throughput.
func (c *MemController) FullSpaceSpeedPerMS() float64 {
	return c.recordedOld.speedPerMS(bytesAndDuration{})
}

// MarkSpeedPerMS is the marking throughput, preferring concurrent samples.
func (c *MemController) MarkSpeedPerMS() float64 {
	if c.recordedConcurrent.count > 0 {
		return c.recordedConcurrent.speedPerMS(bytesAndDuration{})
	}
	return c.recordedMark.speedPerMS(bytesAndDuration{})
}

// NewSpaceAllocationThroughputPerMS is the young allocation rate.
func (c *MemController) NewSpaceAllocationThroughputPerMS() float64 {
	return c.recordedNewAlloc.speedPerMS(bytesAndDuration{})
}

// OldSpaceAllocationThroughputPerMS is the old allocation rate.
func (c *MemController) OldSpaceAllocationThroughputPerMS() float64 {
	return c.recordedOldAlloc.speedPerMS(bytesAndDuration{})
}

// CurrentGrowingFactor combines the old collection speed with the old
// allocation rate.
func (c *MemController) CurrentGrowingFactor() float64 {
	return c.CalculateGrowingFactor(c.FullSpaceSpeedPerMS(), c.OldSpaceAllocationThroughputPerMS())
}
