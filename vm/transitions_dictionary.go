package vm

// TransitionsDictionary maps (key, attribute metadata) to the child class a
// property addition leads to. A class switches from its single cached
// transition to a dictionary once a second distinct transition is taken.
//
// Open addressing over a power-of-two table. The probe step grows by one on
// every collision, so positions follow the triangular numbers.
type TransitionsDictionary struct {
	entries []transitionEntry
	count   int
	deleted int
}

type transitionSlotState uint8

const (
	transitionSlotEmpty transitionSlotState = iota
	transitionSlotUsed
	transitionSlotDeleted
)

type transitionEntry struct {
	state transitionSlotState
	key   Value
	meta  uint32
	hash  uint32
	child *HiddenClass
}

const minTransitionsCapacity = 8

// NewTransitionsDictionary creates a table able to hold n transitions
// without growing.
func NewTransitionsDictionary(n int) *TransitionsDictionary {
	return &TransitionsDictionary{entries: make([]transitionEntry, transitionsCapacityFor(n))}
}

func transitionsCapacityFor(n int) int {
	c := minTransitionsCapacity
	for c*3 < (n+1)*4 {
		c <<= 1
	}
	return c
}

// transitionHash combines the key hash and the metadata additively.
func transitionHash(keyHash, meta uint32) uint32 { return keyHash + meta }

func nextProbe(pos uint32, count uint32, size int) uint32 {
	return (pos + count) & uint32(size-1)
}

// Len returns the number of live transitions.
func (d *TransitionsDictionary) Len() int { return d.count }

// Find returns the child recorded for (key, meta), or nil.
func (d *TransitionsDictionary) Find(key Value, meta, keyHash uint32) *HiddenClass {
	if i := d.findEntry(key, meta, transitionHash(keyHash, meta)); i >= 0 {
		return d.entries[i].child
	}
	return nil
}

func (d *TransitionsDictionary) findEntry(key Value, meta, hash uint32) int {
	size := len(d.entries)
	pos := hash & uint32(size-1)
	for count := uint32(1); count <= uint32(size); count++ {
		e := &d.entries[pos]
		switch e.state {
		case transitionSlotEmpty:
			return -1
		case transitionSlotUsed:
			if e.key == key && e.meta == meta {
				return int(pos)
			}
		}
		pos = nextProbe(pos, count, size)
	}
	return -1
}

// Put records child under (key, meta), replacing an existing entry.
func (d *TransitionsDictionary) Put(key Value, meta, keyHash uint32, child *HiddenClass) {
	hash := transitionHash(keyHash, meta)
	if i := d.findEntry(key, meta, hash); i >= 0 {
		d.entries[i].child = child
		return
	}
	if (d.count+d.deleted+1)*4 > len(d.entries)*3 {
		d.rehash(transitionsCapacityFor(d.count + 1))
	}
	d.insert(transitionEntry{state: transitionSlotUsed, key: key, meta: meta, hash: hash, child: child})
	d.count++
}

func (d *TransitionsDictionary) insert(e transitionEntry) {
	size := len(d.entries)
	pos := e.hash & uint32(size-1)
	for count := uint32(1); ; count++ {
		if d.entries[pos].state != transitionSlotUsed {
			if d.entries[pos].state == transitionSlotDeleted {
				d.deleted--
			}
			d.entries[pos] = e
			return
		}
		pos = nextProbe(pos, count, size)
	}
}

func (d *TransitionsDictionary) rehash(capacity int) {
	old := d.entries
	d.entries = make([]transitionEntry, capacity)
	d.deleted = 0
	for _, e := range old {
		if e.state == transitionSlotUsed {
			d.insert(e)
		}
	}
}

// Remove drops the transition to child, if recorded.
func (d *TransitionsDictionary) Remove(child *HiddenClass) bool {
	for i := range d.entries {
		e := &d.entries[i]
		if e.state == transitionSlotUsed && e.child == child {
			*e = transitionEntry{state: transitionSlotDeleted}
			d.count--
			d.deleted++
			return true
		}
	}
	return false
}

// Range calls fn with every live transition until fn returns false.
func (d *TransitionsDictionary) Range(fn func(key Value, meta uint32, child *HiddenClass) bool) {
	for i := range d.entries {
		e := &d.entries[i]
		if e.state == transitionSlotUsed && !fn(e.key, e.meta, e.child) {
			return
		}
	}
}
