package mailbox

import (
	"sync/atomic"

	"github.com/morezero/component-runtime/pkg/command"
)

// DefaultArgumentQueueSize bounds the pending calls of one queued command
// when the caller does not choose a size.
const DefaultArgumentQueueSize = 16

// slots bounds how many entries a single queued command may have pending.
type slots struct {
	size    int32
	pending atomic.Int32
}

func (s *slots) acquire() bool {
	for {
		n := s.pending.Load()
		if n >= s.size {
			return false
		}
		if s.pending.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *slots) release() { s.pending.Add(-1) }

// queued holds what every queued variant shares.
type queued struct {
	command.Base
	mailbox *Mailbox
	slots   slots
}

func (q *queued) init(name string, kind command.Kind, mb *Mailbox, size int) {
	q.Init(name, kind)
	q.mailbox = mb
	if size < 1 {
		size = DefaultArgumentQueueSize
	}
	q.slots.size = int32(size)
}

// Mailbox returns the mailbox entries are posted to.
func (q *queued) Mailbox() *Mailbox { return q.mailbox }

// ArgumentQueueSize returns the bound on pending calls of this command.
func (q *queued) ArgumentQueueSize() int { return int(q.slots.size) }

// submit posts one entry. A blocking call without a finished target waits
// for the consumer to run the entry and returns its result.
func (q *queued) submit(r Runner, arg, out any, mode command.Mode, finished command.Finished) command.Result {
	if q.mailbox == nil {
		return command.NoMailbox
	}
	if !q.slots.acquire() {
		return command.MailboxFull
	}
	if mode == command.Blocking && finished == nil {
		done := make(chan command.Result, 1)
		e := Entry{Runner: r, Arg: arg, Out: out, Finished: func(res command.Result, _ any) { done <- res }}
		if !q.mailbox.TryEnqueue(e) {
			q.slots.release()
			return command.MailboxFull
		}
		return <-done
	}
	if !q.mailbox.TryEnqueue(Entry{Runner: r, Arg: arg, Out: out, Finished: finished}) {
		q.slots.release()
		return command.MailboxFull
	}
	return command.Queued
}

// QueuedVoid defers a void command to the mailbox owner.
type QueuedVoid struct {
	queued
	actual command.Void
}

// NewQueuedVoid wraps actual so that it runs on the consumer of mb.
func NewQueuedVoid(mb *Mailbox, actual command.Void, argumentQueueSize int) *QueuedVoid {
	q := &QueuedVoid{actual: actual}
	q.init(actual.Name(), command.KindVoid, mb, argumentQueueSize)
	return q
}

// Actual returns the wrapped command.
func (q *QueuedVoid) Actual() command.Void { return q.actual }

// Clone binds the same operation to another mailbox.
func (q *QueuedVoid) Clone(mb *Mailbox, argumentQueueSize int) *QueuedVoid {
	return NewQueuedVoid(mb, q.actual, argumentQueueSize)
}

func (q *QueuedVoid) Run(_, _ any) command.Result {
	defer q.slots.release()
	return q.actual.Execute(command.NotBlocking, nil)
}

func (q *QueuedVoid) Execute(mode command.Mode, finished command.Finished) command.Result {
	if !q.IsEnabled() {
		return command.Disabled
	}
	return q.submit(q, nil, nil, mode, finished)
}

// QueuedWrite defers a write command; the argument is copied at enqueue time.
type QueuedWrite struct {
	queued
	actual command.Write
}

func NewQueuedWrite(mb *Mailbox, actual command.Write, argumentQueueSize int) *QueuedWrite {
	q := &QueuedWrite{actual: actual}
	q.init(actual.Name(), command.KindWrite, mb, argumentQueueSize)
	return q
}

func (q *QueuedWrite) Actual() command.Write   { return q.actual }
func (q *QueuedWrite) ArgumentPrototype() any { return q.actual.ArgumentPrototype() }

func (q *QueuedWrite) Clone(mb *Mailbox, argumentQueueSize int) *QueuedWrite {
	return NewQueuedWrite(mb, q.actual, argumentQueueSize)
}

func (q *QueuedWrite) Run(arg, _ any) command.Result {
	defer q.slots.release()
	return q.actual.Execute(arg, command.NotBlocking, nil)
}

func (q *QueuedWrite) Execute(arg any, mode command.Mode, finished command.Finished) command.Result {
	if !q.IsEnabled() {
		return command.Disabled
	}
	if !command.SameType(arg, q.actual.ArgumentPrototype()) {
		return command.InvalidInputType
	}
	return q.submit(q, command.CopyArgument(arg), nil, mode, finished)
}

// QueuedVoidReturn defers a void-return command. Without a finished target
// the caller waits for the result; with one the call returns Queued.
type QueuedVoidReturn struct {
	queued
	actual command.VoidReturn
}

func NewQueuedVoidReturn(mb *Mailbox, actual command.VoidReturn, argumentQueueSize int) *QueuedVoidReturn {
	q := &QueuedVoidReturn{actual: actual}
	q.init(actual.Name(), command.KindVoidReturn, mb, argumentQueueSize)
	return q
}

func (q *QueuedVoidReturn) Actual() command.VoidReturn { return q.actual }
func (q *QueuedVoidReturn) ResultPrototype() any       { return q.actual.ResultPrototype() }

func (q *QueuedVoidReturn) Clone(mb *Mailbox, argumentQueueSize int) *QueuedVoidReturn {
	return NewQueuedVoidReturn(mb, q.actual, argumentQueueSize)
}

func (q *QueuedVoidReturn) Run(_, out any) command.Result {
	defer q.slots.release()
	return q.actual.Execute(out, nil)
}

func (q *QueuedVoidReturn) Execute(ret any, finished command.Finished) command.Result {
	if !q.IsEnabled() {
		return command.Disabled
	}
	if !command.SameType(ret, q.actual.ResultPrototype()) {
		return command.InvalidInputType
	}
	return q.submit(q, nil, ret, command.Blocking, finished)
}

// QueuedWriteReturn defers a write-return command.
type QueuedWriteReturn struct {
	queued
	actual command.WriteReturn
}

func NewQueuedWriteReturn(mb *Mailbox, actual command.WriteReturn, argumentQueueSize int) *QueuedWriteReturn {
	q := &QueuedWriteReturn{actual: actual}
	q.init(actual.Name(), command.KindWriteReturn, mb, argumentQueueSize)
	return q
}

func (q *QueuedWriteReturn) Actual() command.WriteReturn { return q.actual }
func (q *QueuedWriteReturn) ArgumentPrototype() any      { return q.actual.ArgumentPrototype() }
func (q *QueuedWriteReturn) ResultPrototype() any        { return q.actual.ResultPrototype() }

func (q *QueuedWriteReturn) Clone(mb *Mailbox, argumentQueueSize int) *QueuedWriteReturn {
	return NewQueuedWriteReturn(mb, q.actual, argumentQueueSize)
}

func (q *QueuedWriteReturn) Run(arg, out any) command.Result {
	defer q.slots.release()
	return q.actual.Execute(arg, out, nil)
}

func (q *QueuedWriteReturn) Execute(in, ret any, finished command.Finished) command.Result {
	if !q.IsEnabled() {
		return command.Disabled
	}
	if !command.SameType(in, q.actual.ArgumentPrototype()) || !command.SameType(ret, q.actual.ResultPrototype()) {
		return command.InvalidInputType
	}
	return q.submit(q, command.CopyArgument(in), ret, command.Blocking, finished)
}
