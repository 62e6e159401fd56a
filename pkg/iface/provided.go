package iface

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/serial"
)

const providedLogPrefix = "iface:provided"

// Provided is the table of commands and events a component offers. When it
// has a mailbox, void, write, void-return and write-return commands are
// deferred to the component's goroutine; reads always run inline.
type Provided struct {
	name              string
	mailbox           *mailbox.Mailbox
	argumentQueueSize int

	mu       sync.RWMutex
	commands map[string]command.Command
	order    []string
	events   map[string]command.Command
	clones   map[string]*Provided
}

// NewProvided creates a provided interface. A nil mailbox makes every
// command run on the caller's goroutine.
func NewProvided(name string, mb *mailbox.Mailbox) *Provided {
	size := 0
	if mb != nil {
		size = mb.Capacity()
	}
	return &Provided{
		name:              name,
		mailbox:           mb,
		argumentQueueSize: size,
		commands:          make(map[string]command.Command),
		events:            make(map[string]command.Command),
		clones:            make(map[string]*Provided),
	}
}

func (p *Provided) Name() string               { return p.name }
func (p *Provided) Mailbox() *mailbox.Mailbox { return p.mailbox }

// MailboxSize is the mailbox capacity, or zero for a direct interface.
func (p *Provided) MailboxSize() int {
	if p.mailbox == nil {
		return 0
	}
	return p.mailbox.Capacity()
}

func (p *Provided) insert(c command.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.commands[c.Name()]; dup {
		return fmt.Errorf("%s - command %q in %q: %w", providedLogPrefix, c.Name(), p.name, ErrDuplicateName)
	}
	p.commands[c.Name()] = c
	p.order = append(p.order, c.Name())
	return nil
}

// AddCommandVoid registers c and returns the command callers will reach,
// which is a queued wrapper when the interface has a mailbox.
func (p *Provided) AddCommandVoid(c command.Void) (command.Void, error) {
	var registered command.Void = c
	if p.mailbox != nil {
		registered = mailbox.NewQueuedVoid(p.mailbox, c, p.argumentQueueSize)
	}
	if err := p.insert(registered); err != nil {
		return nil, err
	}
	return registered, nil
}

func (p *Provided) AddCommandWrite(c command.Write) (command.Write, error) {
	var registered command.Write = c
	if p.mailbox != nil {
		registered = mailbox.NewQueuedWrite(p.mailbox, c, p.argumentQueueSize)
	}
	if err := p.insert(registered); err != nil {
		return nil, err
	}
	return registered, nil
}

func (p *Provided) AddCommandRead(c command.Read) (command.Read, error) {
	if err := p.insert(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provided) AddCommandQualifiedRead(c command.QualifiedRead) (command.QualifiedRead, error) {
	if err := p.insert(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provided) AddCommandVoidReturn(c command.VoidReturn) (command.VoidReturn, error) {
	var registered command.VoidReturn = c
	if p.mailbox != nil {
		registered = mailbox.NewQueuedVoidReturn(p.mailbox, c, p.argumentQueueSize)
	}
	if err := p.insert(registered); err != nil {
		return nil, err
	}
	return registered, nil
}

func (p *Provided) AddCommandWriteReturn(c command.WriteReturn) (command.WriteReturn, error) {
	var registered command.WriteReturn = c
	if p.mailbox != nil {
		registered = mailbox.NewQueuedWriteReturn(p.mailbox, c, p.argumentQueueSize)
	}
	if err := p.insert(registered); err != nil {
		return nil, err
	}
	return registered, nil
}

func (p *Provided) insertEvent(name string, ev command.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.events[name]; dup {
		return fmt.Errorf("%s - event %q in %q: %w", providedLogPrefix, name, p.name, ErrDuplicateName)
	}
	p.events[name] = ev
	return nil
}

// AddEventVoid creates a void event generator.
func (p *Provided) AddEventVoid(name string) (*command.MulticastVoid, error) {
	ev := command.NewMulticastVoid(name)
	if err := p.insertEvent(name, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// AddEventWrite creates a write event generator. proto returns a new
// pointer to a zero payload.
func (p *Provided) AddEventWrite(name string, proto func() any) (*command.MulticastWrite, error) {
	ev := command.NewMulticastWriteProto(name, proto)
	if err := p.insertEvent(name, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Command returns the command registered under name.
func (p *Provided) Command(name string) (command.Command, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.commands[name]
	return c, ok
}

func (p *Provided) CommandVoid(name string) (command.Void, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.Void)
	return v, ok && c.Kind() == command.KindVoid
}

func (p *Provided) CommandWrite(name string) (command.Write, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.Write)
	return v, ok && c.Kind() == command.KindWrite
}

func (p *Provided) CommandRead(name string) (command.Read, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.Read)
	return v, ok && c.Kind() == command.KindRead
}

func (p *Provided) CommandQualifiedRead(name string) (command.QualifiedRead, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.QualifiedRead)
	return v, ok && c.Kind() == command.KindQualifiedRead
}

func (p *Provided) CommandVoidReturn(name string) (command.VoidReturn, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.VoidReturn)
	return v, ok && c.Kind() == command.KindVoidReturn
}

func (p *Provided) CommandWriteReturn(name string) (command.WriteReturn, bool) {
	c, _ := p.Command(name)
	v, ok := c.(command.WriteReturn)
	return v, ok && c.Kind() == command.KindWriteReturn
}

// Event returns the event generator registered under name.
func (p *Provided) Event(name string) (command.Command, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.events[name]
	return ev, ok
}

func (p *Provided) EventVoid(name string) (*command.MulticastVoid, bool) {
	ev, _ := p.Event(name)
	m, ok := ev.(*command.MulticastVoid)
	return m, ok
}

func (p *Provided) EventWrite(name string) (*command.MulticastWrite, bool) {
	ev, _ := p.Event(name)
	m, ok := ev.(*command.MulticastWrite)
	return m, ok
}

// Names lists the commands of one kind in registration order.
func (p *Provided) Names(kind command.Kind) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, name := range p.order {
		if p.commands[name].Kind() == kind {
			out = append(out, name)
		}
	}
	return out
}

// EventNames lists the events of one kind, sorted.
func (p *Provided) EventNames(kind command.Kind) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for name, ev := range p.events {
		if ev.Kind() == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Provided) AddObserverVoid(event string, c command.Void) error {
	ev, ok := p.EventVoid(event)
	if !ok {
		return fmt.Errorf("%s - void event %q in %q: %w", providedLogPrefix, event, p.name, ErrNotFound)
	}
	ev.AddCommand(c)
	return nil
}

func (p *Provided) RemoveObserverVoid(event string, c command.Void) bool {
	ev, ok := p.EventVoid(event)
	return ok && ev.RemoveCommand(c)
}

func (p *Provided) AddObserverWrite(event string, c command.Write) error {
	ev, ok := p.EventWrite(event)
	if !ok {
		return fmt.Errorf("%s - write event %q in %q: %w", providedLogPrefix, event, p.name, ErrNotFound)
	}
	ev.AddCommand(c)
	return nil
}

func (p *Provided) RemoveObserverWrite(event string, c command.Write) bool {
	ev, ok := p.EventWrite(event)
	return ok && ev.RemoveCommand(c)
}

// Clone returns the instance of this interface dedicated to user, creating
// it on first use. The instance has its own mailbox of the given capacity
// (the original capacity when zero) and its own queued commands over the
// same operations; reads and events are shared. A direct interface is
// returned as is.
func (p *Provided) Clone(user string, capacity int) *Provided {
	if p.mailbox == nil {
		return p
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clones[user]; ok {
		return c
	}
	if capacity <= 0 {
		capacity = p.mailbox.Capacity()
	}
	mb := p.mailbox.Sibling(p.name+"@"+user, capacity)
	c := NewProvided(p.name, mb)
	for _, name := range p.order {
		var cmd command.Command
		switch q := p.commands[name].(type) {
		case *mailbox.QueuedVoid:
			cmd = q.Clone(mb, capacity)
		case *mailbox.QueuedWrite:
			cmd = q.Clone(mb, capacity)
		case *mailbox.QueuedVoidReturn:
			cmd = q.Clone(mb, capacity)
		case *mailbox.QueuedWriteReturn:
			cmd = q.Clone(mb, capacity)
		default:
			cmd = q
		}
		c.commands[name] = cmd
		c.order = append(c.order, name)
	}
	for name, ev := range p.events {
		c.events[name] = ev
	}
	p.clones[user] = c
	slog.Debug(fmt.Sprintf("%s - created instance of %q for %q (capacity %d)", providedLogPrefix, p.name, user, capacity))
	return c
}

// RemoveClone drops the instance created for user.
func (p *Provided) RemoveClone(user string) {
	p.mu.Lock()
	delete(p.clones, user)
	p.mu.Unlock()
}

// ProcessMailboxes runs up to max pending entries from this interface's
// mailbox and from each per-user instance (all when max <= 0).
func (p *Provided) ProcessMailboxes(max int) int {
	n := 0
	if p.mailbox != nil {
		n += p.mailbox.ProcessAll(max)
	}
	p.mu.RLock()
	clones := make([]*Provided, 0, len(p.clones))
	for _, c := range p.clones {
		clones = append(clones, c)
	}
	p.mu.RUnlock()
	for _, c := range clones {
		n += c.ProcessMailboxes(max)
	}
	return n
}

// Description describes the interface using the type names in types.
func (p *Provided) Description(types serial.TypeRegistry) (Description, error) {
	d := Description{InterfaceName: p.name, MailboxSize: p.MailboxSize()}

	nameOf := func(cmd, role string, proto any) (string, error) {
		name, ok := types.NameOf(proto)
		if !ok {
			return "", fmt.Errorf("%s - %s of %q has unregistered type %T: %w", providedLogPrefix, role, cmd, proto, serial.ErrUnregisteredType)
		}
		return name, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, name := range p.order {
		info := CommandInfo{Name: name}
		var err error
		switch c := p.commands[name].(type) {
		case command.Write:
			info.ArgumentType, err = nameOf(name, "argument", c.ArgumentPrototype())
		case command.Read:
			info.ResultType, err = nameOf(name, "result", c.ArgumentPrototype())
		case command.QualifiedRead:
			if info.ArgumentType, err = nameOf(name, "argument", c.Argument1Prototype()); err == nil {
				info.ResultType, err = nameOf(name, "result", c.Argument2Prototype())
			}
		case command.WriteReturn:
			if info.ArgumentType, err = nameOf(name, "argument", c.ArgumentPrototype()); err == nil {
				info.ResultType, err = nameOf(name, "result", c.ResultPrototype())
			}
		case command.VoidReturn:
			info.ResultType, err = nameOf(name, "result", c.ResultPrototype())
		}
		if err != nil {
			return Description{}, err
		}
		d.add(p.commands[name].Kind(), info)
	}

	names := make([]string, 0, len(p.events))
	for name := range p.events {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch ev := p.events[name].(type) {
		case *command.MulticastVoid:
			d.EventsVoid = append(d.EventsVoid, EventInfo{Name: name})
		case *command.MulticastWrite:
			argType, err := nameOf(name, "payload", ev.ArgumentPrototype())
			if err != nil {
				return Description{}, err
			}
			d.EventsWrite = append(d.EventsWrite, EventInfo{Name: name, ArgumentType: argType})
		}
	}
	return d, nil
}
