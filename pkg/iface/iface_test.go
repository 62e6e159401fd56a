package iface

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/serial"
)

type counter struct {
	value   int
	changed *command.MulticastWrite
	reset   *command.MulticastVoid
}

func newCounterInterface(t *testing.T, mb *mailbox.Mailbox) (*Provided, *counter) {
	t.Helper()
	c := &counter{}
	p := NewProvided("Counter", mb)

	_, err := p.AddCommandWrite(command.NewWrite("SetValue", func(v int) {
		c.value = v
		c.changed.Execute(v, command.NotBlocking, nil)
	}))
	require.NoError(t, err)
	_, err = p.AddCommandRead(command.NewRead("GetValue", func() int { return c.value }))
	require.NoError(t, err)
	_, err = p.AddCommandVoid(command.NewVoid("Reset", func() {
		c.value = 0
		c.reset.Execute(command.NotBlocking, nil)
	}))
	require.NoError(t, err)
	_, err = p.AddCommandQualifiedRead(command.NewQualifiedRead("Times", func(k int) (int, bool) { return c.value * k, true }))
	require.NoError(t, err)
	_, err = p.AddCommandVoidReturn(command.NewVoidReturn("Increment", func() int { c.value++; return c.value }))
	require.NoError(t, err)
	_, err = p.AddCommandWriteReturn(command.NewWriteReturn("Add", func(v int) int { c.value += v; return c.value }))
	require.NoError(t, err)

	c.changed, err = p.AddEventWrite("ValueChanged", func() any { return new(int) })
	require.NoError(t, err)
	c.reset, err = p.AddEventVoid("WasReset")
	require.NoError(t, err)
	return p, c
}

func TestProvidedDuplicateNames(t *testing.T) {
	p, _ := newCounterInterface(t, nil)
	_, err := p.AddCommandVoid(command.NewVoid("SetValue", func() {}))
	assert.True(t, errors.Is(err, ErrDuplicateName))
	_, err = p.AddEventVoid("WasReset")
	assert.True(t, errors.Is(err, ErrDuplicateName))

	assert.Equal(t, []string{"SetValue"}, p.Names(command.KindWrite))
	assert.Equal(t, []string{"WasReset"}, p.EventNames(command.KindVoid))
	_, ok := p.CommandVoid("SetValue")
	assert.False(t, ok, "kind-checked lookup")
}

func TestConnectDirect(t *testing.T) {
	p, _ := newCounterInterface(t, nil)
	r := NewRequired("Counter", nil)
	set, _ := r.AddFunctionWrite("SetValue")
	get, _ := r.AddFunctionRead("GetValue")
	inc, _ := r.AddFunctionVoidReturn("Increment")
	add, _ := r.AddFunctionWriteReturn("Add")
	times, _ := r.AddFunctionQualifiedRead("Times")
	reset, _ := r.AddFunctionVoid("Reset")

	var seen []int
	_, err := AddEventHandlerWrite(r, "ValueChanged", func(v int) { seen = append(seen, v) })
	require.NoError(t, err)
	resets := 0
	_, err = r.AddEventHandlerVoid("WasReset", func() { resets++ })
	require.NoError(t, err)

	assert.Equal(t, command.FunctionNotBound, set.Execute(1))

	conn, err := Connect(r, p)
	require.NoError(t, err)
	assert.Same(t, conn, r.Connection())

	require.Equal(t, command.Succeeded, set.ExecuteBlocking(42))
	var v int
	require.Equal(t, command.Succeeded, get.Execute(&v))
	assert.Equal(t, 42, v)
	require.Equal(t, command.Succeeded, inc.Execute(&v))
	assert.Equal(t, 43, v)
	require.Equal(t, command.Succeeded, add.Execute(7, &v))
	assert.Equal(t, 50, v)
	require.Equal(t, command.Succeeded, times.Execute(2, &v))
	assert.Equal(t, 100, v)
	require.Equal(t, command.Succeeded, reset.Execute())
	assert.Equal(t, []int{42}, seen)
	assert.Equal(t, 1, resets)

	_, err = Connect(r, p)
	assert.True(t, errors.Is(err, ErrAlreadyConnected))

	conn.Disconnect()
	assert.False(t, conn.IsActive())
	assert.Equal(t, command.FunctionNotBound, set.Execute(1))
	assert.Equal(t, command.FunctionNotBound, get.Execute(&v))
	ev, _ := p.EventWrite("ValueChanged")
	assert.Zero(t, ev.Len())
	conn.Disconnect()

	_, err = Connect(r, p)
	require.NoError(t, err)
	assert.Equal(t, command.Succeeded, set.Execute(3))
}

func TestConnectFailsAtomically(t *testing.T) {
	p, _ := newCounterInterface(t, nil)
	r := NewRequired("Counter", nil)
	set, _ := r.AddFunctionWrite("SetValue")
	_, _ = r.AddFunctionRead("Missing")
	_, _ = r.AddFunctionVoid("GetValue")

	_, err := Connect(r, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrKindMismatch))
	assert.False(t, set.IsBound())
	assert.Nil(t, r.Connection())
}

func TestConnectQueued(t *testing.T) {
	mb := mailbox.New("Counter", 8)
	p, c := newCounterInterface(t, mb)
	r := NewRequired("Counter", nil)
	set, _ := r.AddFunctionWrite("SetValue")
	_, err := Connect(r, p)
	require.NoError(t, err)

	assert.Equal(t, command.Queued, set.Execute(5))
	assert.Zero(t, c.value)
	assert.Equal(t, 1, p.ProcessMailboxes(0))
	assert.Equal(t, 5, c.value)
}

func TestCloneHasOwnMailbox(t *testing.T) {
	mb := mailbox.New("Counter", 8)
	p, c := newCounterInterface(t, mb)

	user := p.Clone("client-1", 2)
	assert.Same(t, user, p.Clone("client-1", 5))
	assert.Equal(t, 2, user.MailboxSize())
	assert.NotSame(t, p.Mailbox(), user.Mailbox())

	set, ok := user.CommandWrite("SetValue")
	require.True(t, ok)
	assert.Equal(t, command.Queued, set.Execute(9, command.NotBlocking, nil))
	assert.Equal(t, command.Queued, set.Execute(10, command.NotBlocking, nil))
	assert.Equal(t, command.MailboxFull, set.Execute(11, command.NotBlocking, nil))
	assert.Zero(t, mb.Len())

	ev1, _ := p.EventWrite("ValueChanged")
	ev2, _ := user.EventWrite("ValueChanged")
	assert.Same(t, ev1, ev2)

	assert.Equal(t, 2, p.ProcessMailboxes(0))
	assert.Equal(t, 10, c.value)

	p.RemoveClone("client-1")
	assert.NotSame(t, user, p.Clone("client-1", 0))

	direct, _ := newCounterInterface(t, nil)
	assert.Same(t, direct, direct.Clone("x", 3))
}

func TestDescription(t *testing.T) {
	p, _ := newCounterInterface(t, mailbox.New("Counter", 4))
	d, err := p.Description(serial.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, "Counter", d.InterfaceName)
	assert.Equal(t, 4, d.MailboxSize)
	assert.Equal(t, []CommandInfo{{Name: "SetValue", ArgumentType: "int"}}, d.Write)
	assert.Equal(t, []CommandInfo{{Name: "GetValue", ResultType: "int"}}, d.Read)
	assert.Equal(t, []CommandInfo{{Name: "Times", ArgumentType: "int", ResultType: "int"}}, d.QualifiedRead)
	assert.Equal(t, []CommandInfo{{Name: "Reset"}}, d.Commands(command.KindVoid))
	assert.Equal(t, []EventInfo{{Name: "ValueChanged", ArgumentType: "int"}}, d.EventsWrite)
	assert.Equal(t, []EventInfo{{Name: "WasReset"}}, d.EventsVoid)

	type unregistered struct{}
	_, err = p.AddCommandWrite(command.NewWrite("Odd", func(unregistered) {}))
	require.NoError(t, err)
	_, err = p.Description(serial.NewRegistry())
	assert.True(t, errors.Is(err, serial.ErrUnregisteredType))
}

// plainHandler has the kind of a void handler without being one.
type plainHandler struct{ command.Command }

func TestConnectRollsBackOnObserverFailure(t *testing.T) {
	p, c := newCounterInterface(t, nil)
	r := NewRequired("Counter", nil)
	set, _ := r.AddFunctionWrite("SetValue")
	var seen []int
	_, err := AddEventHandlerWrite(r, "ValueChanged", func(v int) { seen = append(seen, v) })
	require.NoError(t, err)
	require.NoError(t, r.insertHandler("WasReset", plainHandler{command.NewVoid("WasReset", func() {})}))

	_, err = Connect(r, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindMismatch))
	assert.False(t, set.IsBound())
	assert.Nil(t, r.Connection())

	changed, _ := p.EventWrite("ValueChanged")
	assert.Zero(t, changed.Len(), "iface:iface_test - observer added before the failure is removed")
	reset, _ := p.EventVoid("WasReset")
	assert.Zero(t, reset.Len())

	c.changed.Execute(1, command.NotBlocking, nil)
	assert.Empty(t, seen)
}
