package vm

import (
	"math/bits"
	"sync/atomic"
)

// GCBitset is a bitmap with one bit per heap word of a region. It backs both
// the mark bitmap (bit set = object starting at that word is marked) and the
// remembered sets (bit set = slot at that word may hold an interesting
// pointer).
type GCBitset struct {
	words []uint64
}

// NewGCBitset creates a bitset able to describe nbits heap words.
func NewGCBitset(nbits int) *GCBitset {
	return &GCBitset{words: make([]uint64, (nbits+63)/64)}
}

// Size returns the number of bits the set can hold.
func (b *GCBitset) Size() int { return len(b.words) * 64 }

// Test reports whether bit i is set.
func (b *GCBitset) Test(i int) bool {
	return atomic.LoadUint64(&b.words[i>>6])&(1<<(uint(i)&63)) != 0
}

// Set sets bit i. Only safe when no other goroutine touches the same word.
func (b *GCBitset) Set(i int) {
	b.words[i>>6] |= 1 << (uint(i) & 63)
}

// AtomicSet sets bit i with an atomic OR.
func (b *GCBitset) AtomicSet(i int) {
	atomic.OrUint64(&b.words[i>>6], 1<<(uint(i)&63))
}

// AtomicTestAndSet sets bit i and reports whether it was already set.
func (b *GCBitset) AtomicTestAndSet(i int) bool {
	mask := uint64(1) << (uint(i) & 63)
	old := atomic.OrUint64(&b.words[i>>6], mask)
	return old&mask != 0
}

// Clear clears bit i.
func (b *GCBitset) Clear(i int) {
	b.words[i>>6] &^= 1 << (uint(i) & 63)
}

// AtomicClear clears bit i with an atomic AND.
func (b *GCBitset) AtomicClear(i int) {
	atomic.AndUint64(&b.words[i>>6], ^(uint64(1) << (uint(i) & 63)))
}

// ClearRange clears bits [start, end).
func (b *GCBitset) ClearRange(start, end int) {
	b.clearRange(start, end, false)
}

// AtomicClearRange clears bits [start, end) with atomic word updates.
func (b *GCBitset) AtomicClearRange(start, end int) {
	b.clearRange(start, end, true)
}

func (b *GCBitset) clearRange(start, end int, atomically bool) {
	if start >= end {
		return
	}
	for start < end {
		w := start >> 6
		lo := uint(start) & 63
		hi := uint(64)
		if (w+1)<<6 > end {
			hi = uint(end - w<<6)
		}
		var mask uint64
		if hi == 64 {
			mask = ^uint64(0) << lo
		} else {
			mask = (uint64(1)<<hi - 1) &^ (uint64(1)<<lo - 1)
		}
		if atomically {
			atomic.AndUint64(&b.words[w], ^mask)
		} else {
			b.words[w] &^= mask
		}
		start = (w + 1) << 6
	}
}

// ClearAll clears every bit.
func (b *GCBitset) ClearAll() {
	clear(b.words)
}

// IsEmpty reports whether no bit is set.
func (b *GCBitset) IsEmpty() bool {
	for i := range b.words {
		if atomic.LoadUint64(&b.words[i]) != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (b *GCBitset) Count() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(atomic.LoadUint64(&b.words[i]))
	}
	return n
}

// IterateMarked calls fn for every set bit in ascending order. Iteration
// stops early if fn returns false.
func (b *GCBitset) IterateMarked(fn func(i int) bool) {
	for w := range b.words {
		word := atomic.LoadUint64(&b.words[w])
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			if !fn(w<<6 + tz) {
				return
			}
			word &= word - 1
		}
	}
}

// Merge ORs other into b atomically.
func (b *GCBitset) Merge(other *GCBitset) {
	for i := range other.words {
		if w := atomic.LoadUint64(&other.words[i]); w != 0 {
			atomic.OrUint64(&b.words[i], w)
		}
	}
}
