package proxy

import (
	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

// FinishedSlot correlates a deferred call with the peer waiting for it.
type FinishedSlot struct {
	ReturnHandle wire.Handle
	// Peer is the datagram address or reply subject of the caller.
	Peer string
	// Request is the caller's request id on transports that use one.
	Request    string
	Kind       command.Kind
	Serializer *serial.Serializer
}

// Ticket identifies one allocation of a slot. A ticket outlives Reset or
// Free only as a stale value that no longer resolves.
type Ticket struct {
	index      int
	generation uint64
}

// FinishedPool is a fixed set of finished slots. It is owned by the
// goroutine of one server proxy and is not safe for concurrent use.
type FinishedPool struct {
	slots       []FinishedSlot
	generations []uint64
	used        []bool
	free        []int
}

// NewFinishedPool creates a pool of size slots (at least one).
func NewFinishedPool(size int) *FinishedPool {
	if size < 1 {
		size = 1
	}
	p := &FinishedPool{
		slots:       make([]FinishedSlot, size),
		generations: make([]uint64, size),
		used:        make([]bool, size),
	}
	p.Reset()
	return p
}

// Size is the number of slots.
func (p *FinishedPool) Size() int { return len(p.slots) }

// InUse is the number of allocated slots.
func (p *FinishedPool) InUse() int { return len(p.slots) - len(p.free) }

// Allocate reserves a slot. It fails when every slot is in use.
func (p *FinishedPool) Allocate() (Ticket, *FinishedSlot, bool) {
	if len(p.free) == 0 {
		return Ticket{}, nil, false
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[i] = true
	p.generations[i]++
	p.slots[i] = FinishedSlot{}
	return Ticket{index: i, generation: p.generations[i]}, &p.slots[i], true
}

// Slot resolves t; it fails for a freed or reset allocation.
func (p *FinishedPool) Slot(t Ticket) (*FinishedSlot, bool) {
	if !p.valid(t) {
		return nil, false
	}
	return &p.slots[t.index], true
}

// Free returns the slot of t to the pool. It reports false for a stale ticket.
func (p *FinishedPool) Free(t Ticket) bool {
	if !p.valid(t) {
		return false
	}
	p.used[t.index] = false
	p.generations[t.index]++
	p.slots[t.index] = FinishedSlot{}
	p.free = append(p.free, t.index)
	return true
}

// Reset invalidates every outstanding ticket and frees all slots.
func (p *FinishedPool) Reset() {
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		if p.used[i] {
			p.generations[i]++
		}
		p.used[i] = false
		p.slots[i] = FinishedSlot{}
		p.free = append(p.free, i)
	}
}

func (p *FinishedPool) valid(t Ticket) bool {
	return t.index >= 0 && t.index < len(p.slots) && p.used[t.index] && p.generations[t.index] == t.generation
}
