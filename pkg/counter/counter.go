// Package counter is a small demonstration component. It exposes every
// command kind and both event kinds, which makes it the default payload of
// deployment files and the fixture of the transport tests.
package counter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/component"
	"github.com/morezero/component-runtime/pkg/iface"
)

const logPrefix = "counter:counter"

// InterfaceName is the name of the provided and required interfaces.
const InterfaceName = "Counter"

// Command and event names.
const (
	CmdReset        = "Reset"
	CmdSetValue     = "SetValue"
	CmdGetValue     = "GetValue"
	CmdTimes        = "Times"
	CmdIncrement    = "Increment"
	CmdAdd          = "Add"
	EvtValueChanged = "ValueChanged"
	EvtWasReset     = "WasReset"
)

// Counter holds one integer behind a provided interface.
type Counter struct {
	comp     *component.Component
	provided *iface.Provided

	mu    sync.Mutex
	value int

	changed *command.MulticastWrite
	reset   *command.MulticastVoid
}

// New creates the component. With a mailboxSize above zero the writing
// commands run on the component goroutine.
func New(name string, mailboxSize int) (*Counter, error) {
	c := &Counter{comp: component.New(name)}
	p, err := c.comp.AddInterfaceProvided(InterfaceName, mailboxSize)
	if err != nil {
		return nil, err
	}
	c.provided = p

	if c.changed, err = p.AddEventWrite(EvtValueChanged, func() any { return new(int) }); err != nil {
		return nil, err
	}
	if c.reset, err = p.AddEventVoid(EvtWasReset); err != nil {
		return nil, err
	}

	adds := []func() error{
		func() error { _, err := p.AddCommandVoid(command.NewVoid(CmdReset, c.Reset)); return err },
		func() error { _, err := p.AddCommandWrite(command.NewWrite(CmdSetValue, c.SetValue)); return err },
		func() error { _, err := p.AddCommandRead(command.NewRead(CmdGetValue, c.Value)); return err },
		func() error {
			_, err := p.AddCommandQualifiedRead(command.NewQualifiedRead(CmdTimes, c.times))
			return err
		},
		func() error {
			_, err := p.AddCommandVoidReturn(command.NewVoidReturn(CmdIncrement, func() int { return c.add(1) }))
			return err
		},
		func() error { _, err := p.AddCommandWriteReturn(command.NewWriteReturn(CmdAdd, c.add)); return err },
	}
	for _, add := range adds {
		if err := add(); err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, name, err)
		}
	}
	return c, nil
}

func (c *Counter) Component() *component.Component { return c.comp }
func (c *Counter) Provided() *iface.Provided        { return c.provided }

// Value returns the current value.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// SetValue stores v and raises ValueChanged.
func (c *Counter) SetValue(v int) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.changed.Execute(v, command.NotBlocking, nil)
}

// Reset sets the value to zero and raises WasReset.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - %s reset", logPrefix, c.comp.Name()))
	c.reset.Execute(command.NotBlocking, nil)
}

func (c *Counter) add(delta int) int {
	c.mu.Lock()
	c.value += delta
	v := c.value
	c.mu.Unlock()
	c.changed.Execute(v, command.NotBlocking, nil)
	return v
}

// times fails for a zero factor so that remote callers see MethodFailed.
func (c *Counter) times(k int) (int, bool) {
	if k == 0 {
		return 0, false
	}
	return c.Value() * k, true
}
