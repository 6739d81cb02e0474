package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// Prototype change notification
// ---------------------------------------------------------------------------

// ProtoChangeMarker is the cell inline-cache handlers hold to detect that
// the prototype chain they were computed against changed shape. Once set it
// is never cleared; a fresh marker is created for new handlers.
type ProtoChangeMarker struct {
	hasChanged atomic.Bool
}

// HasChanged reports whether the chain changed since the marker was handed
// out.
func (m *ProtoChangeMarker) HasChanged() bool { return m.hasChanged.Load() }

func (m *ProtoChangeMarker) setHasChanged() { m.hasChanged.Store(true) }

const unregisteredIndex = -1

// ChangeListener is the set of prototype classes that must be notified when
// the class owning the listener changes. Removed entries leave holes that
// later registrations reuse.
type ChangeListener struct {
	users []*HiddenClass
	holes []int
}

// Add registers hc and returns its index.
func (l *ChangeListener) Add(hc *HiddenClass) int {
	if n := len(l.holes); n > 0 {
		idx := l.holes[n-1]
		l.holes = l.holes[:n-1]
		l.users[idx] = hc
		return idx
	}
	l.users = append(l.users, hc)
	return len(l.users) - 1
}

// Delete removes the entry at idx.
func (l *ChangeListener) Delete(idx int) {
	if idx < 0 || idx >= len(l.users) || l.users[idx] == nil {
		return
	}
	l.users[idx] = nil
	l.holes = append(l.holes, idx)
}

// Len returns the number of registered users.
func (l *ChangeListener) Len() int { return len(l.users) - len(l.holes) }

// ProtoChangeDetails hangs off a prototype class: the classes listening to
// it, and where the class itself is registered in its own prototype's
// listener.
type ProtoChangeDetails struct {
	listener      *ChangeListener
	registerIndex int
}

func newProtoChangeDetails() *ProtoChangeDetails {
	return &ProtoChangeDetails{registerIndex: unregisteredIndex}
}

// getOrCreateDetails returns hc's details, creating them.
func getOrCreateDetails(hc *HiddenClass) *ProtoChangeDetails {
	if hc.protoChangeDetails == nil {
		hc.protoChangeDetails = newProtoChangeDetails()
	}
	return hc.protoChangeDetails
}

// EnableProtoChangeMarker returns the marker of the class of hc's prototype,
// creating a fresh one if it is missing or already fired, and registers the
// prototype chain for notification. It returns nil when hc has no object
// prototype.
func (vm *VM) EnableProtoChangeMarker(hc *HiddenClass) *ProtoChangeMarker {
	proto := hc.proto
	if !proto.IsHeapObject() {
		return nil
	}
	protoClass := vm.classOf(proto)
	vm.RegisterOnProtoChain(protoClass)
	if m := protoClass.protoChangeMarker; m != nil && !m.HasChanged() {
		return m
	}
	m := &ProtoChangeMarker{}
	protoClass.protoChangeMarker = m
	return m
}

// RegisterOnProtoChain registers each class along the prototype chain
// starting at hc as a listener of the next prototype's class. It stops at
// the first class already registered.
func (vm *VM) RegisterOnProtoChain(hc *HiddenClass) {
	user := hc
	for {
		proto := user.proto
		if !proto.IsHeapObject() {
			return
		}
		protoClass := vm.classOf(proto)
		userDetails := getOrCreateDetails(user)
		if userDetails.registerIndex != unregisteredIndex {
			return
		}
		protoDetails := getOrCreateDetails(protoClass)
		if protoDetails.listener == nil {
			protoDetails.listener = &ChangeListener{}
		}
		userDetails.registerIndex = protoDetails.listener.Add(user)
		user = protoClass
	}
}

// UnregisterOnProtoChain removes hc from its prototype's listener. It
// reports whether hc was registered.
func (vm *VM) UnregisterOnProtoChain(hc *HiddenClass) bool {
	if !hc.IsPrototype() {
		return false
	}
	details := hc.protoChangeDetails
	if details == nil || details.registerIndex == unregisteredIndex {
		return false
	}
	proto := hc.proto
	if !proto.IsHeapObject() {
		return false
	}
	protoDetails := vm.classOf(proto).protoChangeDetails
	if protoDetails == nil || protoDetails.listener == nil {
		return false
	}
	protoDetails.listener.Delete(details.registerIndex)
	details.registerIndex = unregisteredIndex
	return true
}

// NotifyHClassChanged runs when an object used as a prototype moves from
// oldHC to newHC. Every marker reachable from oldHC fires, and oldHC's
// listeners move over to newHC.
func (vm *VM) NotifyHClassChanged(oldHC, newHC *HiddenClass) {
	if !oldHC.IsPrototype() || oldHC == newHC {
		return
	}
	newHC.setFlag(hclassIsPrototype, true)
	vm.NoticeThroughChain(oldHC)
	vm.RefreshUsers(oldHC, newHC)
}

// NoticeThroughChain fires hc's marker and, recursively, the markers of
// every class listening to hc.
func (vm *VM) NoticeThroughChain(hc *HiddenClass) {
	if m := hc.protoChangeMarker; m != nil {
		m.setHasChanged()
	}
	details := hc.protoChangeDetails
	if details == nil || details.listener == nil {
		return
	}
	for _, user := range details.listener.users {
		if user != nil {
			vm.NoticeThroughChain(user)
		}
	}
}

// RefreshUsers hands oldHC's notification details to newHC and registers
// newHC in its prototype's listener in oldHC's place.
func (vm *VM) RefreshUsers(oldHC, newHC *HiddenClass) {
	onceRegistered := vm.UnregisterOnProtoChain(oldHC)
	newHC.protoChangeDetails = oldHC.protoChangeDetails
	oldHC.protoChangeDetails = nil
	if onceRegistered {
		if newHC.protoChangeDetails != nil {
			newHC.protoChangeDetails.registerIndex = unregisteredIndex
		}
		vm.RegisterOnProtoChain(newHC)
	}
}
