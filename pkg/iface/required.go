package iface

import (
	"fmt"
	"sort"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/mailbox"
)

const requiredLogPrefix = "iface:required"

// Required is the table of functions a component calls and of the event
// handlers it wants run. Handlers are queued on the interface mailbox when
// it has one.
type Required struct {
	name    string
	mailbox *mailbox.Mailbox

	mu        sync.RWMutex
	functions map[string]Function
	handlers  map[string]command.Command
	conn      *Connection
}

// NewRequired creates a required interface; mb may be nil.
func NewRequired(name string, mb *mailbox.Mailbox) *Required {
	return &Required{
		name:      name,
		mailbox:   mb,
		functions: make(map[string]Function),
		handlers:  make(map[string]command.Command),
	}
}

func (r *Required) Name() string               { return r.name }
func (r *Required) Mailbox() *mailbox.Mailbox { return r.mailbox }

// AddFunction registers a stub under its own name.
func (r *Required) AddFunction(f Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.functions[f.Name()]; dup {
		return fmt.Errorf("%s - function %q in %q: %w", requiredLogPrefix, f.Name(), r.name, ErrDuplicateName)
	}
	r.functions[f.Name()] = f
	return nil
}

func (r *Required) AddFunctionVoid(name string) (*FunctionVoid, error) {
	f := NewFunctionVoid(name)
	return f, r.AddFunction(f)
}

func (r *Required) AddFunctionWrite(name string) (*FunctionWrite, error) {
	f := NewFunctionWrite(name)
	return f, r.AddFunction(f)
}

func (r *Required) AddFunctionRead(name string) (*FunctionRead, error) {
	f := NewFunctionRead(name)
	return f, r.AddFunction(f)
}

func (r *Required) AddFunctionQualifiedRead(name string) (*FunctionQualifiedRead, error) {
	f := NewFunctionQualifiedRead(name)
	return f, r.AddFunction(f)
}

func (r *Required) AddFunctionVoidReturn(name string) (*FunctionVoidReturn, error) {
	f := NewFunctionVoidReturn(name)
	return f, r.AddFunction(f)
}

func (r *Required) AddFunctionWriteReturn(name string) (*FunctionWriteReturn, error) {
	f := NewFunctionWriteReturn(name)
	return f, r.AddFunction(f)
}

// Function returns the stub registered under name.
func (r *Required) Function(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[name]
	return f, ok
}

// FunctionNames lists the stubs, sorted.
func (r *Required) FunctionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.functions))
	for name := range r.functions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Required) insertHandler(event string, c command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[event]; dup {
		return fmt.Errorf("%s - handler for %q in %q: %w", requiredLogPrefix, event, r.name, ErrDuplicateName)
	}
	r.handlers[event] = c
	return nil
}

// AddEventHandlerVoid runs fn whenever the void event fires.
func (r *Required) AddEventHandlerVoid(event string, fn func()) (command.Void, error) {
	return r.AddEventHandlerVoidCommand(event, command.NewVoid(event, fn))
}

// AddEventHandlerVoidCommand registers c as the handler of a void event.
func (r *Required) AddEventHandlerVoidCommand(event string, c command.Void) (command.Void, error) {
	var h command.Void = c
	if r.mailbox != nil {
		h = mailbox.NewQueuedVoid(r.mailbox, c, r.mailbox.Capacity())
	}
	if err := r.insertHandler(event, h); err != nil {
		return nil, err
	}
	return h, nil
}

// AddEventHandlerWriteCommand registers c as the handler of a write event.
func (r *Required) AddEventHandlerWriteCommand(event string, c command.Write) (command.Write, error) {
	var h command.Write = c
	if r.mailbox != nil {
		h = mailbox.NewQueuedWrite(r.mailbox, c, r.mailbox.Capacity())
	}
	if err := r.insertHandler(event, h); err != nil {
		return nil, err
	}
	return h, nil
}

// AddEventHandlerWrite runs fn with the payload whenever the write event fires.
func AddEventHandlerWrite[T any](r *Required, event string, fn func(T)) (command.Write, error) {
	return r.AddEventHandlerWriteCommand(event, command.NewWrite(event, fn))
}

// EventHandler returns the handler registered for event.
func (r *Required) EventHandler(event string) (command.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}

// EventHandlerNames lists the handled events, sorted.
func (r *Required) EventHandlerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Connection returns the active connection, if any.
func (r *Required) Connection() *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// ProcessMailbox runs up to max queued event handlers (all when max <= 0).
func (r *Required) ProcessMailbox(max int) int {
	if r.mailbox == nil {
		return 0
	}
	return r.mailbox.ProcessAll(max)
}
