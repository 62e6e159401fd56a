// Package mailbox implements the bounded single-consumer queue through which
// commands are deferred onto the goroutine that owns a component.
package mailbox

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
)

const logPrefix = "mailbox:mailbox"

// Runner executes the deferred operation of an entry.
type Runner interface {
	Name() string
	Run(arg, out any) command.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc struct {
	Label string
	Fn    func(arg, out any) command.Result
}

func (r RunnerFunc) Name() string                    { return r.Label }
func (r RunnerFunc) Run(arg, out any) command.Result { return r.Fn(arg, out) }

// Entry is one deferred execution.
type Entry struct {
	Runner   Runner
	Arg      any
	Out      any
	Finished command.Finished
}

// Mailbox is a bounded FIFO with exactly one consumer. Producers may call
// TryEnqueue from any goroutine; only the owner calls ProcessNext.
type Mailbox struct {
	name     string
	capacity int

	mu    sync.Mutex
	ring  []Entry
	head  int
	count int

	wake chan struct{}
}

// New creates a mailbox holding at most capacity entries.
func New(name string, capacity int) *Mailbox {
	return NewWithWake(name, capacity, make(chan struct{}, 1))
}

// NewWithWake creates a mailbox that signals wake after each enqueue. A
// consumer draining several mailboxes passes the same channel to each.
func NewWithWake(name string, capacity int, wake chan struct{}) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{
		name:     name,
		capacity: capacity,
		ring:     make([]Entry, capacity),
		wake:     wake,
	}
}

// Sibling creates another mailbox signalling the same wake channel.
func (m *Mailbox) Sibling(name string, capacity int) *Mailbox {
	return NewWithWake(name, capacity, m.wake)
}

func (m *Mailbox) Name() string  { return m.name }
func (m *Mailbox) Capacity() int { return m.capacity }

// Len returns the number of pending entries.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Wake is signalled after every successful enqueue.
func (m *Mailbox) Wake() <-chan struct{} { return m.wake }

// TryEnqueue appends e. It returns false without blocking when the mailbox is full.
func (m *Mailbox) TryEnqueue(e Entry) bool {
	m.mu.Lock()
	if m.count == m.capacity {
		m.mu.Unlock()
		slog.Debug(fmt.Sprintf("%s - %s full, rejecting %s", logPrefix, m.name, e.Runner.Name()))
		return false
	}
	m.ring[(m.head+m.count)%m.capacity] = e
	m.count++
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *Mailbox) dequeue() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return Entry{}, false
	}
	e := m.ring[m.head]
	m.ring[m.head] = Entry{}
	m.head = (m.head + 1) % m.capacity
	m.count--
	return e, true
}

// ProcessNext runs the oldest entry, then hands its result to the entry's
// finished target. It returns false when the mailbox was empty.
func (m *Mailbox) ProcessNext() bool {
	e, ok := m.dequeue()
	if !ok {
		return false
	}
	res := e.Runner.Run(e.Arg, e.Out)
	if e.Finished != nil {
		e.Finished(res, e.Out)
	}
	return true
}

// ProcessAll runs up to max entries (all pending ones when max <= 0) and
// returns how many ran.
func (m *Mailbox) ProcessAll(max int) int {
	n := 0
	for max <= 0 || n < max {
		if !m.ProcessNext() {
			break
		}
		n++
	}
	return n
}
