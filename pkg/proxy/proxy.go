// Package proxy builds local stand-ins for interfaces that live in another
// process. A provided-interface proxy turns each call into a Call handed to
// a transport; a required-interface proxy executes calls that arrive as
// serialized bytes against the real provided interface.
package proxy

import (
	"fmt"
	"log/slog"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const logPrefix = "proxy:proxy"

// Call is one invocation of a remote command as seen by the transport.
type Call struct {
	// Target is the remote handle, tagged for the requested blocking mode.
	Target   wire.Handle
	Command  string
	Kind     command.Kind
	Blocking bool
	// Arg is the input argument of write, qualified-read and write-return calls.
	Arg any
	// Out receives the output of read, qualified-read and return calls.
	Out any
	// Completion, when set, turns a blocking call into an asynchronous one:
	// Invoke returns Queued and Completion fires once the response arrived
	// or the call timed out.
	Completion command.Finished
}

// Invoker is the client role of a transport.
type Invoker interface {
	Invoke(call Call) command.Result
}

// EventSink asks the peer to start or stop forwarding an event. Invokers
// that support events implement it.
type EventSink interface {
	EnableEvent(name string) command.Result
	DisableEvent(name string) command.Result
}

// Prototype constructs arguments of a type known only by its registered
// name. The registry is queried on every use, so a type registered after
// the proxy was built becomes usable without rebuilding it.
type Prototype struct {
	types serial.TypeRegistry
	name  string
}

// NewPrototype returns nil for an empty name.
func NewPrototype(types serial.TypeRegistry, name string) *Prototype {
	if name == "" {
		return nil
	}
	p := &Prototype{types: types, name: name}
	if _, ok := types.Construct(name); !ok {
		slog.Warn(fmt.Sprintf("%s - type %q not constructible yet, will retry on use", logPrefix, name))
	}
	return p
}

// TypeName is the registered name of the prototype's type.
func (p *Prototype) TypeName() string {
	if p == nil {
		return ""
	}
	return p.name
}

// New returns a pointer to a new zero value.
func (p *Prototype) New() (any, bool) {
	if p == nil {
		return nil, false
	}
	return p.types.Construct(p.name)
}

// Matches reports whether v holds the prototype's type.
func (p *Prototype) Matches(v any) bool {
	if p == nil {
		return false
	}
	name, ok := p.types.NameOf(v)
	return ok && name == p.name
}
