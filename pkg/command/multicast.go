package command

import "sync"

// observers is the subscriber list of a multicast command. The transition
// hook fires after the list changes size between zero and one.
type observers[C comparable] struct {
	mu           sync.RWMutex
	list         []C
	onTransition func(active bool)
}

func (o *observers[C]) add(c C) bool {
	o.mu.Lock()
	for _, existing := range o.list {
		if existing == c {
			o.mu.Unlock()
			return false
		}
	}
	o.list = append(o.list, c)
	first := len(o.list) == 1
	hook := o.onTransition
	o.mu.Unlock()

	if first && hook != nil {
		hook(true)
	}
	return true
}

func (o *observers[C]) remove(c C) bool {
	o.mu.Lock()
	idx := -1
	for i, existing := range o.list {
		if existing == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return false
	}
	o.list = append(o.list[:idx], o.list[idx+1:]...)
	last := len(o.list) == 0
	hook := o.onTransition
	o.mu.Unlock()

	if last && hook != nil {
		hook(false)
	}
	return true
}

func (o *observers[C]) snapshot() []C {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]C, len(o.list))
	copy(out, o.list)
	return out
}

func (o *observers[C]) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.list)
}

func (o *observers[C]) setTransition(fn func(active bool)) {
	o.mu.Lock()
	o.onTransition = fn
	o.mu.Unlock()
}

// MulticastVoid fans a void event out to its observers.
type MulticastVoid struct {
	Base
	obs observers[Void]
}

// NewMulticastVoid creates an event generator with no observers.
func NewMulticastVoid(name string) *MulticastVoid {
	m := &MulticastVoid{}
	m.Init(name, KindVoid)
	return m
}

// AddCommand subscribes c. It reports false when c is already subscribed.
func (m *MulticastVoid) AddCommand(c Void) bool { return m.obs.add(c) }

// RemoveCommand unsubscribes c. It reports false when c was not subscribed.
func (m *MulticastVoid) RemoveCommand(c Void) bool { return m.obs.remove(c) }

// Len returns the number of observers.
func (m *MulticastVoid) Len() int { return m.obs.len() }

// OnTransition sets the hook called with true when the first observer is
// added and with false when the last one is removed.
func (m *MulticastVoid) OnTransition(fn func(active bool)) { m.obs.setTransition(fn) }

// Execute notifies every observer without blocking.
func (m *MulticastVoid) Execute(_ Mode, _ Finished) Result {
	if !m.IsEnabled() {
		return Disabled
	}
	for _, o := range m.obs.snapshot() {
		o.Execute(NotBlocking, nil)
	}
	return Succeeded
}

// MulticastWrite fans an event payload out to its observers.
type MulticastWrite struct {
	Base
	proto func() any
	obs   observers[Write]
}

// NewMulticastWrite creates an event generator carrying values of type T.
func NewMulticastWrite[T any](name string) *MulticastWrite {
	return NewMulticastWriteProto(name, prototype[T]())
}

// NewMulticastWriteProto creates an event generator whose payload type is
// given by proto, which returns a new pointer to a zero value.
func NewMulticastWriteProto(name string, proto func() any) *MulticastWrite {
	m := &MulticastWrite{proto: proto}
	m.Init(name, KindWrite)
	return m
}

func (m *MulticastWrite) ArgumentPrototype() any { return m.proto() }

func (m *MulticastWrite) AddCommand(c Write) bool           { return m.obs.add(c) }
func (m *MulticastWrite) RemoveCommand(c Write) bool        { return m.obs.remove(c) }
func (m *MulticastWrite) Len() int                          { return m.obs.len() }
func (m *MulticastWrite) OnTransition(fn func(active bool)) { m.obs.setTransition(fn) }

// Execute notifies every observer without blocking.
func (m *MulticastWrite) Execute(arg any, _ Mode, _ Finished) Result {
	if !m.IsEnabled() {
		return Disabled
	}
	if !SameType(arg, m.proto()) {
		return InvalidInputType
	}
	for _, o := range m.obs.snapshot() {
		o.Execute(arg, NotBlocking, nil)
	}
	return Succeeded
}
