package proxy

import (
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/wire"
)

// CommandProxy is a command whose implementation lives in a peer. It starts
// Unbound, failing every call with InvalidCommandID, and becomes Bound once
// SetCommandID gave it the peer's handle.
type CommandProxy interface {
	command.Command
	SetCommandID(h wire.Handle)
	CommandID() (wire.Handle, bool)
}

type commandProxy struct {
	command.Base
	invoker Invoker

	mu    sync.RWMutex
	id    wire.Handle
	bound bool
}

func (p *commandProxy) init(name string, kind command.Kind, invoker Invoker) {
	p.Init(name, kind)
	p.invoker = invoker
}

// SetCommandID binds the proxy to h; a zero handle unbinds it.
func (p *commandProxy) SetCommandID(h wire.Handle) {
	p.mu.Lock()
	p.id, p.bound = h, !h.IsZero()
	p.mu.Unlock()
}

func (p *commandProxy) CommandID() (wire.Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id, p.bound
}

func (p *commandProxy) invoke(call Call) command.Result {
	if !p.IsEnabled() {
		return command.Disabled
	}
	id, ok := p.CommandID()
	if !ok {
		return command.InvalidCommandID
	}
	if p.invoker == nil {
		return command.NetworkError
	}
	call.Target = id.WithTag(wire.TagFor(p.Kind(), call.Blocking))
	call.Command = p.Name()
	call.Kind = p.Kind()
	return p.invoker.Invoke(call)
}

// VoidProxy forwards a void command.
type VoidProxy struct{ commandProxy }

func NewVoidProxy(name string, invoker Invoker) *VoidProxy {
	p := &VoidProxy{}
	p.init(name, command.KindVoid, invoker)
	return p
}

func (p *VoidProxy) Execute(mode command.Mode, finished command.Finished) command.Result {
	return p.invoke(Call{Blocking: mode == command.Blocking, Completion: finished})
}

// WriteProxy forwards a write command.
type WriteProxy struct {
	commandProxy
	arg *Prototype
}

func NewWriteProxy(name string, arg *Prototype, invoker Invoker) *WriteProxy {
	p := &WriteProxy{arg: arg}
	p.init(name, command.KindWrite, invoker)
	return p
}

func (p *WriteProxy) ArgumentPrototype() any {
	v, _ := p.arg.New()
	return v
}

func (p *WriteProxy) Execute(arg any, mode command.Mode, finished command.Finished) command.Result {
	if !p.arg.Matches(arg) {
		return command.InvalidInputType
	}
	return p.invoke(Call{Blocking: mode == command.Blocking, Arg: arg, Completion: finished})
}

// ReadProxy forwards a read command.
type ReadProxy struct {
	commandProxy
	result *Prototype
}

func NewReadProxy(name string, result *Prototype, invoker Invoker) *ReadProxy {
	p := &ReadProxy{result: result}
	p.init(name, command.KindRead, invoker)
	return p
}

func (p *ReadProxy) ArgumentPrototype() any {
	v, _ := p.result.New()
	return v
}

// Execute waits for the value; finished is not used.
func (p *ReadProxy) Execute(out any, _ command.Finished) command.Result {
	if !p.result.Matches(out) {
		return command.InvalidInputType
	}
	return p.invoke(Call{Blocking: true, Out: out})
}

// QualifiedReadProxy forwards a qualified-read command.
type QualifiedReadProxy struct {
	commandProxy
	arg, result *Prototype
}

func NewQualifiedReadProxy(name string, arg, result *Prototype, invoker Invoker) *QualifiedReadProxy {
	p := &QualifiedReadProxy{arg: arg, result: result}
	p.init(name, command.KindQualifiedRead, invoker)
	return p
}

func (p *QualifiedReadProxy) Argument1Prototype() any {
	v, _ := p.arg.New()
	return v
}

func (p *QualifiedReadProxy) Argument2Prototype() any {
	v, _ := p.result.New()
	return v
}

func (p *QualifiedReadProxy) Execute(in, out any, _ command.Finished) command.Result {
	if !p.arg.Matches(in) || !p.result.Matches(out) {
		return command.InvalidInputType
	}
	return p.invoke(Call{Blocking: true, Arg: in, Out: out})
}

// VoidReturnProxy forwards a void-return command.
type VoidReturnProxy struct {
	commandProxy
	result *Prototype
}

func NewVoidReturnProxy(name string, result *Prototype, invoker Invoker) *VoidReturnProxy {
	p := &VoidReturnProxy{result: result}
	p.init(name, command.KindVoidReturn, invoker)
	return p
}

func (p *VoidReturnProxy) ResultPrototype() any {
	v, _ := p.result.New()
	return v
}

// Execute waits for the result, or returns Queued and reports it through
// finished when one is given.
func (p *VoidReturnProxy) Execute(ret any, finished command.Finished) command.Result {
	if !p.result.Matches(ret) {
		return command.InvalidInputType
	}
	return p.invoke(Call{Blocking: true, Out: ret, Completion: finished})
}

// WriteReturnProxy forwards a write-return command.
type WriteReturnProxy struct {
	commandProxy
	arg, result *Prototype
}

func NewWriteReturnProxy(name string, arg, result *Prototype, invoker Invoker) *WriteReturnProxy {
	p := &WriteReturnProxy{arg: arg, result: result}
	p.init(name, command.KindWriteReturn, invoker)
	return p
}

func (p *WriteReturnProxy) ArgumentPrototype() any {
	v, _ := p.arg.New()
	return v
}

func (p *WriteReturnProxy) ResultPrototype() any {
	v, _ := p.result.New()
	return v
}

func (p *WriteReturnProxy) Execute(in, ret any, finished command.Finished) command.Result {
	if !p.arg.Matches(in) || !p.result.Matches(ret) {
		return command.InvalidInputType
	}
	return p.invoke(Call{Blocking: true, Arg: in, Out: ret, Completion: finished})
}
