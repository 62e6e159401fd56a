package iface

import (
	"fmt"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
)

// Function is a required-interface stub. Connect binds it to the provided
// command of the same name and kind; Disconnect unbinds it.
type Function interface {
	Name() string
	Kind() command.Kind
	IsBound() bool
	Bind(c command.Command) error
	Unbind()
}

type binding[C command.Command] struct {
	name string
	kind command.Kind
	mu   sync.RWMutex
	cmd  C
	set  bool
}

func (b *binding[C]) Name() string       { return b.name }
func (b *binding[C]) Kind() command.Kind { return b.kind }

func (b *binding[C]) IsBound() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set
}

func (b *binding[C]) Bind(c command.Command) error {
	if c == nil {
		return fmt.Errorf("bind %s %q: %w", b.kind, b.name, ErrNotFound)
	}
	typed, ok := c.(C)
	if !ok || c.Kind() != b.kind {
		return fmt.Errorf("bind %s %q to %s: %w", b.kind, b.name, c.Kind(), ErrKindMismatch)
	}
	b.mu.Lock()
	b.cmd, b.set = typed, true
	b.mu.Unlock()
	return nil
}

func (b *binding[C]) Unbind() {
	var zero C
	b.mu.Lock()
	b.cmd, b.set = zero, false
	b.mu.Unlock()
}

func (b *binding[C]) bound() (C, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cmd, b.set
}

// FunctionVoid calls a void command.
type FunctionVoid struct{ binding[command.Void] }

func NewFunctionVoid(name string) *FunctionVoid {
	return &FunctionVoid{binding[command.Void]{name: name, kind: command.KindVoid}}
}

// Execute posts the call without waiting for it to run.
func (f *FunctionVoid) Execute() command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(command.NotBlocking, nil)
}

// ExecuteBlocking returns once the command ran.
func (f *FunctionVoid) ExecuteBlocking() command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(command.Blocking, nil)
}

// ExecuteAsync asks for completion through finished. A deferred command
// returns Queued and calls finished once it ran.
func (f *FunctionVoid) ExecuteAsync(finished command.Finished) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(command.Blocking, finished)
}

// FunctionWrite calls a write command.
type FunctionWrite struct{ binding[command.Write] }

func NewFunctionWrite(name string) *FunctionWrite {
	return &FunctionWrite{binding[command.Write]{name: name, kind: command.KindWrite}}
}

func (f *FunctionWrite) Execute(arg any) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(arg, command.NotBlocking, nil)
}

func (f *FunctionWrite) ExecuteBlocking(arg any) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(arg, command.Blocking, nil)
}

func (f *FunctionWrite) ExecuteAsync(arg any, finished command.Finished) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(arg, command.Blocking, finished)
}

// FunctionRead calls a read command.
type FunctionRead struct{ binding[command.Read] }

func NewFunctionRead(name string) *FunctionRead {
	return &FunctionRead{binding[command.Read]{name: name, kind: command.KindRead}}
}

func (f *FunctionRead) Execute(out any) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(out, nil)
}

// FunctionQualifiedRead calls a qualified-read command.
type FunctionQualifiedRead struct{ binding[command.QualifiedRead] }

func NewFunctionQualifiedRead(name string) *FunctionQualifiedRead {
	return &FunctionQualifiedRead{binding[command.QualifiedRead]{name: name, kind: command.KindQualifiedRead}}
}

func (f *FunctionQualifiedRead) Execute(in, out any) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(in, out, nil)
}

// FunctionVoidReturn calls a void-return command.
type FunctionVoidReturn struct{ binding[command.VoidReturn] }

func NewFunctionVoidReturn(name string) *FunctionVoidReturn {
	return &FunctionVoidReturn{binding[command.VoidReturn]{name: name, kind: command.KindVoidReturn}}
}

// Execute waits for the result.
func (f *FunctionVoidReturn) Execute(ret any) command.Result {
	return f.ExecuteAsync(ret, nil)
}

// ExecuteAsync hands the result to finished when the command is deferred
// (the call then returns Queued). A command that completes inline returns
// its result directly and does not call finished.
func (f *FunctionVoidReturn) ExecuteAsync(ret any, finished command.Finished) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(ret, finished)
}

// FunctionWriteReturn calls a write-return command.
type FunctionWriteReturn struct{ binding[command.WriteReturn] }

func NewFunctionWriteReturn(name string) *FunctionWriteReturn {
	return &FunctionWriteReturn{binding[command.WriteReturn]{name: name, kind: command.KindWriteReturn}}
}

func (f *FunctionWriteReturn) Execute(in, ret any) command.Result {
	return f.ExecuteAsync(in, ret, nil)
}

func (f *FunctionWriteReturn) ExecuteAsync(in, ret any, finished command.Finished) command.Result {
	c, ok := f.bound()
	if !ok {
		return command.FunctionNotBound
	}
	return c.Execute(in, ret, finished)
}
