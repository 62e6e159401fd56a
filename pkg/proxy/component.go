package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const componentLogPrefix = "proxy:component"

var (
	ErrDuplicateProxy = errors.New("interface proxy already exists")
	ErrUnknownCommand = errors.New("command proxy not found")
)

// ComponentProxy stands in for a component of another process. It owns the
// interface proxies built from the descriptions that process sent.
type ComponentProxy struct {
	name  string
	types serial.TypeRegistry

	mu       sync.Mutex
	provided map[string]*ProvidedProxy
	required map[string]*RequiredProxy
}

// NewComponentProxy creates an empty proxy resolving type names with types.
func NewComponentProxy(name string, types serial.TypeRegistry) *ComponentProxy {
	return &ComponentProxy{
		name:     name,
		types:    types,
		provided: make(map[string]*ProvidedProxy),
		required: make(map[string]*RequiredProxy),
	}
}

func (cp *ComponentProxy) Name() string { return cp.name }

// ProvidedProxy is a provided interface whose commands run in a peer.
type ProvidedProxy struct {
	*iface.Provided
	desc     iface.Description
	order    []string
	commands map[string]CommandProxy
}

// CreateInterfaceProvidedProxy builds a provided interface from desc. Its
// commands call invoker and stay Unbound until SetCommandID. When invoker
// also implements EventSink, its events ask the peer to forward the event
// when they gain their first observer and to stop when they lose the last.
func (cp *ComponentProxy) CreateInterfaceProvidedProxy(desc iface.Description, invoker Invoker) (*ProvidedProxy, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, dup := cp.provided[desc.InterfaceName]; dup {
		return nil, fmt.Errorf("%s - provided %q in %q: %w", componentLogPrefix, desc.InterfaceName, cp.name, ErrDuplicateProxy)
	}

	pp := &ProvidedProxy{
		Provided: iface.NewProvided(desc.InterfaceName, nil),
		desc:     desc,
		commands: make(map[string]CommandProxy),
	}
	for _, kind := range command.Kinds {
		for _, info := range desc.Commands(kind) {
			if err := pp.addCommand(cp.newCommandProxy(kind, info, invoker)); err != nil {
				return nil, err
			}
		}
	}

	sink, _ := invoker.(EventSink)
	for _, info := range desc.EventsVoid {
		ev, err := pp.AddEventVoid(info.Name)
		if err != nil {
			return nil, err
		}
		ev.OnTransition(eventTransition(sink, info.Name))
	}
	for _, info := range desc.EventsWrite {
		proto := NewPrototype(cp.types, info.ArgumentType)
		ev, err := pp.AddEventWrite(info.Name, func() any {
			v, _ := proto.New()
			return v
		})
		if err != nil {
			return nil, err
		}
		ev.OnTransition(eventTransition(sink, info.Name))
	}

	cp.provided[desc.InterfaceName] = pp
	slog.Debug(fmt.Sprintf("%s - %s: provided proxy %q with %d commands", componentLogPrefix, cp.name, desc.InterfaceName, len(pp.commands)))
	return pp, nil
}

func eventTransition(sink EventSink, name string) func(bool) {
	return func(active bool) {
		if sink == nil {
			return
		}
		var res command.Result
		if active {
			res = sink.EnableEvent(name)
		} else {
			res = sink.DisableEvent(name)
		}
		if !res.IsOK() {
			slog.Warn(fmt.Sprintf("%s - event %q active=%v: %s", componentLogPrefix, name, active, res))
		}
	}
}

func (cp *ComponentProxy) newCommandProxy(kind command.Kind, info iface.CommandInfo, invoker Invoker) CommandProxy {
	arg := NewPrototype(cp.types, info.ArgumentType)
	result := NewPrototype(cp.types, info.ResultType)
	switch kind {
	case command.KindVoid:
		return NewVoidProxy(info.Name, invoker)
	case command.KindWrite:
		return NewWriteProxy(info.Name, arg, invoker)
	case command.KindRead:
		return NewReadProxy(info.Name, result, invoker)
	case command.KindQualifiedRead:
		return NewQualifiedReadProxy(info.Name, arg, result, invoker)
	case command.KindVoidReturn:
		return NewVoidReturnProxy(info.Name, result, invoker)
	default:
		return NewWriteReturnProxy(info.Name, arg, result, invoker)
	}
}

func (pp *ProvidedProxy) addCommand(c CommandProxy) error {
	var err error
	switch p := c.(type) {
	case *VoidProxy:
		_, err = pp.AddCommandVoid(p)
	case *WriteProxy:
		_, err = pp.AddCommandWrite(p)
	case *ReadProxy:
		_, err = pp.AddCommandRead(p)
	case *QualifiedReadProxy:
		_, err = pp.AddCommandQualifiedRead(p)
	case *VoidReturnProxy:
		_, err = pp.AddCommandVoidReturn(p)
	case *WriteReturnProxy:
		_, err = pp.AddCommandWriteReturn(p)
	}
	if err != nil {
		return err
	}
	pp.commands[c.Name()] = c
	pp.order = append(pp.order, c.Name())
	return nil
}

// Description is the description the proxy was built from.
func (pp *ProvidedProxy) Description() iface.Description { return pp.desc }

func (pp *ProvidedProxy) CommandProxy(name string) (CommandProxy, bool) {
	c, ok := pp.commands[name]
	return c, ok
}

// CommandProxies lists the command proxies in description order.
func (pp *ProvidedProxy) CommandProxies() []CommandProxy {
	out := make([]CommandProxy, 0, len(pp.order))
	for _, name := range pp.order {
		out = append(out, pp.commands[name])
	}
	return out
}

// SetCommandID binds the named command proxy to the peer's handle.
func (pp *ProvidedProxy) SetCommandID(name string, h wire.Handle) error {
	c, ok := pp.commands[name]
	if !ok {
		return fmt.Errorf("%s - %s.%s: %w", componentLogPrefix, pp.Name(), name, ErrUnknownCommand)
	}
	c.SetCommandID(h)
	return nil
}

// UnbindAll returns every command proxy to the Unbound state.
func (pp *ProvidedProxy) UnbindAll() {
	for _, c := range pp.commands {
		c.SetCommandID(wire.Handle{})
	}
}

// RequiredProxy is a required interface whose functions are executed by a
// transport on behalf of a peer.
type RequiredProxy struct {
	*iface.Required
	desc      iface.Description
	order     []string
	functions map[string]FunctionProxy
}

// CreateInterfaceRequiredProxy builds a required interface with one
// function proxy per command of desc. Connecting it to the real provided
// interface makes the function proxies executable. mb, when not nil,
// receives the event handlers added later.
func (cp *ComponentProxy) CreateInterfaceRequiredProxy(desc iface.Description, mb *mailbox.Mailbox) (*RequiredProxy, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, dup := cp.required[desc.InterfaceName]; dup {
		return nil, fmt.Errorf("%s - required %q in %q: %w", componentLogPrefix, desc.InterfaceName, cp.name, ErrDuplicateProxy)
	}

	rp := &RequiredProxy{
		Required:  iface.NewRequired(desc.InterfaceName, mb),
		desc:      desc,
		functions: make(map[string]FunctionProxy),
	}
	for _, kind := range command.Kinds {
		for _, info := range desc.Commands(kind) {
			fp := cp.newFunctionProxy(kind, info)
			if err := rp.AddFunction(fp); err != nil {
				return nil, err
			}
			rp.functions[info.Name] = fp
			rp.order = append(rp.order, info.Name)
		}
	}

	cp.required[desc.InterfaceName] = rp
	slog.Debug(fmt.Sprintf("%s - %s: required proxy %q with %d functions", componentLogPrefix, cp.name, desc.InterfaceName, len(rp.functions)))
	return rp, nil
}

func (cp *ComponentProxy) newFunctionProxy(kind command.Kind, info iface.CommandInfo) FunctionProxy {
	arg := NewPrototype(cp.types, info.ArgumentType)
	result := NewPrototype(cp.types, info.ResultType)
	switch kind {
	case command.KindVoid:
		return NewVoidFunctionProxy(info.Name)
	case command.KindWrite:
		return NewWriteFunctionProxy(info.Name, arg)
	case command.KindRead:
		return NewReadFunctionProxy(info.Name, result)
	case command.KindQualifiedRead:
		return NewQualifiedReadFunctionProxy(info.Name, arg, result)
	case command.KindVoidReturn:
		return NewVoidReturnFunctionProxy(info.Name, result)
	default:
		return NewWriteReturnFunctionProxy(info.Name, arg, result)
	}
}

func (rp *RequiredProxy) Description() iface.Description { return rp.desc }

func (rp *RequiredProxy) FunctionProxy(name string) (FunctionProxy, bool) {
	f, ok := rp.functions[name]
	return f, ok
}

// FunctionProxies lists the function proxies in description order.
func (rp *RequiredProxy) FunctionProxies() []FunctionProxy {
	out := make([]FunctionProxy, 0, len(rp.order))
	for _, name := range rp.order {
		out = append(out, rp.functions[name])
	}
	return out
}

// RemoveInterfaceProvidedProxy drops the provided proxy called name and
// unbinds its commands.
func (cp *ComponentProxy) RemoveInterfaceProvidedProxy(name string) bool {
	cp.mu.Lock()
	pp, ok := cp.provided[name]
	delete(cp.provided, name)
	cp.mu.Unlock()
	if ok {
		pp.UnbindAll()
	}
	return ok
}

// RemoveInterfaceRequiredProxy drops the required proxy called name and
// disconnects it.
func (cp *ComponentProxy) RemoveInterfaceRequiredProxy(name string) bool {
	cp.mu.Lock()
	rp, ok := cp.required[name]
	delete(cp.required, name)
	cp.mu.Unlock()
	if ok {
		if conn := rp.Connection(); conn != nil {
			conn.Disconnect()
		}
	}
	return ok
}

func (cp *ComponentProxy) InterfaceProvidedProxy(name string) (*ProvidedProxy, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	pp, ok := cp.provided[name]
	return pp, ok
}

func (cp *ComponentProxy) InterfaceRequiredProxy(name string) (*RequiredProxy, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	rp, ok := cp.required[name]
	return rp, ok
}

// InterfaceNames lists provided and required proxy names, sorted.
func (cp *ComponentProxy) InterfaceNames() (provided, required []string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for name := range cp.provided {
		provided = append(provided, name)
	}
	for name := range cp.required {
		required = append(required, name)
	}
	sort.Strings(provided)
	sort.Strings(required)
	return provided, required
}
