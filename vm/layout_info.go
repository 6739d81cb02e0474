package vm

import "sort"

// maxLinearSearchProperties is the largest layout searched linearly before
// the properties cache and the hash-sorted binary search are used.
const maxLinearSearchProperties = 9

// LayoutInfo is the ordered key -> attributes table of a hidden class. A
// layout is shared along a transition chain: a child that appends one
// property to its parent's full layout extends it in place, and each class
// only looks at the first NumberOfProps entries.
type LayoutInfo struct {
	keys   []Value
	attrs  []PropertyAttributes
	hashes []uint32
	// sorted holds entry indices ordered by key hash.
	sorted []int32
}

// NewLayoutInfo creates a layout with room for capacity entries.
func NewLayoutInfo(capacity int) *LayoutInfo {
	return &LayoutInfo{
		keys:   make([]Value, 0, capacity),
		attrs:  make([]PropertyAttributes, 0, capacity),
		hashes: make([]uint32, 0, capacity),
		sorted: make([]int32, 0, capacity),
	}
}

// NumberOfElements returns the number of entries in the layout, which may
// exceed the property count of classes sharing it.
func (l *LayoutInfo) NumberOfElements() int { return len(l.keys) }

func (l *LayoutInfo) Key(i int) Value                     { return l.keys[i] }
func (l *LayoutInfo) Attr(i int) PropertyAttributes       { return l.attrs[i] }
func (l *LayoutInfo) SetAttr(i int, a PropertyAttributes) { l.attrs[i] = a }

// AddKey appends an entry and files it in hash order.
func (l *LayoutInfo) AddKey(key Value, hash uint32, attr PropertyAttributes) {
	idx := int32(len(l.keys))
	l.keys = append(l.keys, key)
	l.attrs = append(l.attrs, attr)
	l.hashes = append(l.hashes, hash)
	pos := sort.Search(len(l.sorted), func(i int) bool { return l.hashes[l.sorted[i]] > hash })
	l.sorted = append(l.sorted, 0)
	copy(l.sorted[pos+1:], l.sorted[pos:])
	l.sorted[pos] = idx
}

// Clone copies the first n entries into a new layout.
func (l *LayoutInfo) Clone(n int) *LayoutInfo {
	c := NewLayoutInfo(n + 1)
	for i := 0; i < n; i++ {
		c.AddKey(l.keys[i], l.hashes[i], l.attrs[i])
	}
	return c
}

// FindElementWithCache returns the index of key among the first numProps
// entries, or -1. Small layouts are scanned linearly; larger ones go
// through the properties cache and then a binary search over key hashes.
func (l *LayoutInfo) FindElementWithCache(cache *PropertiesCache, hc *HiddenClass, key Value, hash uint32, numProps int) int {
	if numProps <= maxLinearSearchProperties {
		for i := 0; i < numProps; i++ {
			if l.keys[i] == key {
				return i
			}
		}
		return -1
	}
	if cache != nil {
		if idx, ok := cache.Get(hc, key); ok {
			return idx
		}
	}
	idx := l.BinarySearch(key, hash, numProps)
	if cache != nil {
		cache.Set(hc, key, idx)
	}
	return idx
}

// BinarySearch finds key among the first numProps entries using the
// hash-sorted index.
func (l *LayoutInfo) BinarySearch(key Value, hash uint32, numProps int) int {
	pos := sort.Search(len(l.sorted), func(i int) bool { return l.hashes[l.sorted[i]] >= hash })
	for ; pos < len(l.sorted); pos++ {
		idx := int(l.sorted[pos])
		if l.hashes[idx] != hash {
			break
		}
		if idx < numProps && l.keys[idx] == key {
			return idx
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// PropertiesCache
// ---------------------------------------------------------------------------

const propertiesCacheSize = 256

type propertiesCacheEntry struct {
	hc    *HiddenClass
	key   Value
	index int
}

// PropertiesCache is a direct-mapped (hidden class, key) -> layout index
// cache in front of the binary search.
type PropertiesCache struct {
	entries [propertiesCacheSize]propertiesCacheEntry
}

func propertiesCacheHash(hc *HiddenClass, key Value) int {
	k := uint64(key)
	return int((uint64(hc.id) ^ k ^ k>>17) & (propertiesCacheSize - 1))
}

// Get returns the cached index for (hc, key).
func (c *PropertiesCache) Get(hc *HiddenClass, key Value) (int, bool) {
	e := &c.entries[propertiesCacheHash(hc, key)]
	if e.hc == hc && e.key == key {
		return e.index, true
	}
	return 0, false
}

// Set caches index for (hc, key).
func (c *PropertiesCache) Set(hc *HiddenClass, key Value, index int) {
	c.entries[propertiesCacheHash(hc, key)] = propertiesCacheEntry{hc: hc, key: key, index: index}
}

// Clear drops every entry.
func (c *PropertiesCache) Clear() {
	c.entries = [propertiesCacheSize]propertiesCacheEntry{}
}
