package proxy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

type fakeInvoker struct {
	mu       sync.Mutex
	calls    []Call
	enables  []string
	disables []string
	result   command.Result
	fill     func(call Call)
}

func (f *fakeInvoker) Invoke(call Call) command.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fill != nil {
		f.fill(call)
	}
	return f.result
}

func (f *fakeInvoker) EnableEvent(name string) command.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables = append(f.enables, name)
	return command.Succeeded
}

func (f *fakeInvoker) DisableEvent(name string) command.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables = append(f.disables, name)
	return command.Succeeded
}

func counterDescription() iface.Description {
	return iface.Description{
		InterfaceName: "Counter",
		MailboxSize:   4,
		Void:          []iface.CommandInfo{{Name: "Reset"}},
		Write:         []iface.CommandInfo{{Name: "SetValue", ArgumentType: "int"}},
		Read:          []iface.CommandInfo{{Name: "GetValue", ResultType: "int"}},
		QualifiedRead: []iface.CommandInfo{{Name: "Times", ArgumentType: "int", ResultType: "int"}},
		VoidReturn:    []iface.CommandInfo{{Name: "Increment", ResultType: "int"}},
		WriteReturn:   []iface.CommandInfo{{Name: "Add", ArgumentType: "int", ResultType: "int"}},
		EventsVoid:    []iface.EventInfo{{Name: "WasReset"}},
		EventsWrite:   []iface.EventInfo{{Name: "ValueChanged", ArgumentType: "int"}},
	}
}

func TestProvidedProxy_UnboundThenBound(t *testing.T) {
	inv := &fakeInvoker{result: command.Succeeded}
	cp := NewComponentProxy("remote", serial.NewRegistry())
	pp, err := cp.CreateInterfaceProvidedProxy(counterDescription(), inv)
	require.NoError(t, err)
	assert.Len(t, pp.CommandProxies(), 6)

	set, ok := pp.CommandWrite("SetValue")
	require.True(t, ok)
	assert.Equal(t, command.InvalidCommandID, set.Execute(42, command.Blocking, nil))
	assert.Empty(t, inv.calls)

	require.NoError(t, pp.SetCommandID("SetValue", wire.Handle{Tag: wire.TagWrite, Index: 9}))
	assert.Equal(t, command.Succeeded, set.Execute(42, command.Blocking, nil))
	require.Len(t, inv.calls, 1)
	call := inv.calls[0]
	assert.Equal(t, wire.Handle{Tag: wire.TagWriteBlocking, Index: 9}, call.Target)
	assert.True(t, call.Blocking)
	assert.Equal(t, 42, call.Arg)
	assert.Equal(t, "SetValue", call.Command)

	assert.Equal(t, command.Succeeded, set.Execute(1, command.NotBlocking, nil))
	assert.Equal(t, wire.TagWrite, inv.calls[1].Target.Tag)

	assert.Equal(t, command.InvalidInputType, set.Execute("not an int", command.Blocking, nil))

	set.Disable()
	assert.Equal(t, command.Disabled, set.Execute(1, command.Blocking, nil))
	assert.Len(t, inv.calls, 2)

	err = pp.SetCommandID("Missing", wire.Handle{Tag: wire.TagVoid, Index: 1})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestProvidedProxy_ReadFillsOutput(t *testing.T) {
	inv := &fakeInvoker{result: command.Succeeded, fill: func(call Call) {
		*(call.Out.(*int)) = 7
	}}
	cp := NewComponentProxy("remote", serial.NewRegistry())
	pp, err := cp.CreateInterfaceProvidedProxy(counterDescription(), inv)
	require.NoError(t, err)
	require.NoError(t, pp.SetCommandID("GetValue", wire.Handle{Tag: wire.TagRead, Index: 2}))

	get, ok := pp.CommandRead("GetValue")
	require.True(t, ok)
	var v int
	assert.Equal(t, command.Succeeded, get.Execute(&v, nil))
	assert.Equal(t, 7, v)
	assert.Equal(t, wire.TagRead, inv.calls[0].Target.Tag)

	var s string
	assert.Equal(t, command.InvalidInputType, get.Execute(&s, nil))
}

func TestProvidedProxy_EventTransitions(t *testing.T) {
	inv := &fakeInvoker{result: command.Succeeded}
	cp := NewComponentProxy("remote", serial.NewRegistry())
	pp, err := cp.CreateInterfaceProvidedProxy(counterDescription(), inv)
	require.NoError(t, err)

	first := command.NewWrite("first", func(int) {})
	second := command.NewWrite("second", func(int) {})
	require.NoError(t, pp.AddObserverWrite("ValueChanged", first))
	require.NoError(t, pp.AddObserverWrite("ValueChanged", second))
	assert.Equal(t, []string{"ValueChanged"}, inv.enables, "second observer sends no enable")

	pp.RemoveObserverWrite("ValueChanged", first)
	assert.Empty(t, inv.disables)
	pp.RemoveObserverWrite("ValueChanged", second)
	assert.Equal(t, []string{"ValueChanged"}, inv.disables)
}

func TestProvidedProxy_Duplicate(t *testing.T) {
	cp := NewComponentProxy("remote", serial.NewRegistry())
	_, err := cp.CreateInterfaceProvidedProxy(counterDescription(), nil)
	require.NoError(t, err)
	_, err = cp.CreateInterfaceProvidedProxy(counterDescription(), nil)
	assert.ErrorIs(t, err, ErrDuplicateProxy)

	assert.True(t, cp.RemoveInterfaceProvidedProxy("Counter"))
	assert.False(t, cp.RemoveInterfaceProvidedProxy("Counter"))
	_, err = cp.CreateInterfaceProvidedProxy(counterDescription(), nil)
	assert.NoError(t, err)
}

func newCounter(t *testing.T, mb *mailbox.Mailbox) (*iface.Provided, *int) {
	t.Helper()
	value := new(int)
	p := iface.NewProvided("Counter", mb)
	_, err := p.AddCommandVoid(command.NewVoid("Reset", func() { *value = 0 }))
	require.NoError(t, err)
	_, err = p.AddCommandWrite(command.NewWrite("SetValue", func(v int) { *value = v }))
	require.NoError(t, err)
	_, err = p.AddCommandRead(command.NewRead("GetValue", func() int { return *value }))
	require.NoError(t, err)
	_, err = p.AddCommandQualifiedRead(command.NewQualifiedRead("Times", func(k int) (int, bool) { return *value * k, true }))
	require.NoError(t, err)
	_, err = p.AddCommandVoidReturn(command.NewVoidReturn("Increment", func() int { *value++; return *value }))
	require.NoError(t, err)
	_, err = p.AddCommandWriteReturn(command.NewWriteReturn("Add", func(v int) int { *value += v; return *value }))
	require.NoError(t, err)
	_, err = p.AddEventVoid("WasReset")
	require.NoError(t, err)
	_, err = p.AddEventWrite("ValueChanged", func() any { return new(int) })
	require.NoError(t, err)
	return p, value
}

func TestRequiredProxy_ExecuteSerialized(t *testing.T) {
	types := serial.NewRegistry()
	prov, value := newCounter(t, nil)
	desc, err := prov.Description(types)
	require.NoError(t, err)

	cp := NewComponentProxy("local", types)
	rp, err := cp.CreateInterfaceRequiredProxy(desc, nil)
	require.NoError(t, err)
	_, err = iface.Connect(rp.Required, prov)
	require.NoError(t, err)

	client := serial.NewSerializer(types)
	server := serial.NewSerializer(types)
	encode := func(v any) []byte {
		b, err := client.Serialize(v)
		require.NoError(t, err)
		return b
	}

	set, ok := rp.FunctionProxy("SetValue")
	require.True(t, ok)
	res, _ := set.ExecuteSerialized(server, encode(5), true, nil)
	assert.Equal(t, command.Succeeded, res)
	assert.Equal(t, 5, *value)

	add, _ := rp.FunctionProxy("Add")
	res, out := add.ExecuteSerialized(server, encode(3), true, nil)
	assert.Equal(t, command.Succeeded, res)
	assert.Equal(t, 8, *(out.(*int)))

	get, _ := rp.FunctionProxy("GetValue")
	res, out = get.ExecuteSerialized(server, nil, true, nil)
	assert.Equal(t, command.Succeeded, res)
	assert.Equal(t, 8, *(out.(*int)))

	res, _ = set.ExecuteSerialized(server, encode("eight"), true, nil)
	assert.Equal(t, command.DeserializationError, res)
	assert.Equal(t, 8, *value)
}

func TestRequiredProxy_QueuedCompletesThroughFinished(t *testing.T) {
	types := serial.NewRegistry()
	mb := mailbox.New("counter", 4)
	prov, _ := newCounter(t, mb)
	desc, err := prov.Description(types)
	require.NoError(t, err)

	cp := NewComponentProxy("local", types)
	rp, err := cp.CreateInterfaceRequiredProxy(desc, nil)
	require.NoError(t, err)
	_, err = iface.Connect(rp.Required, prov)
	require.NoError(t, err)

	inc, _ := rp.FunctionProxy("Increment")
	var got command.Result
	var gotOut any
	res, _ := inc.ExecuteSerialized(serial.NewSerializer(types), nil, true, func(r command.Result, out any) {
		got, gotOut = r, out
	})
	assert.Equal(t, command.Queued, res)
	require.True(t, mb.ProcessNext())
	assert.Equal(t, command.Succeeded, got)
	assert.Equal(t, 1, *(gotOut.(*int)))
}

func TestRequiredProxy_LazyPrototype(t *testing.T) {
	type sample struct{ A int }
	types := serial.NewRegistry()
	desc := iface.Description{InterfaceName: "Late", Write: []iface.CommandInfo{{Name: "Put", ArgumentType: "test.sample"}}}

	cp := NewComponentProxy("local", types)
	rp, err := cp.CreateInterfaceRequiredProxy(desc, nil)
	require.NoError(t, err)

	var got sample
	prov := iface.NewProvided("Late", nil)
	_, err = prov.AddCommandWrite(command.NewWrite("Put", func(s sample) { got = s }))
	require.NoError(t, err)
	_, err = iface.Connect(rp.Required, prov)
	require.NoError(t, err)

	put, _ := rp.FunctionProxy("Put")
	res, _ := put.ExecuteSerialized(serial.NewSerializer(types), nil, true, nil)
	assert.Equal(t, command.ArgumentDynamicCreationFailed, res)

	require.NoError(t, serial.RegisterType[sample](types, "test.sample"))
	data, err := serial.NewSerializer(types).Serialize(&sample{A: 4})
	require.NoError(t, err)
	res, _ = put.ExecuteSerialized(serial.NewSerializer(types), data, true, nil)
	assert.Equal(t, command.Succeeded, res)
	assert.Equal(t, 4, got.A)
}

func TestFinishedPool(t *testing.T) {
	pool := NewFinishedPool(2)
	t1, s1, ok := pool.Allocate()
	require.True(t, ok)
	s1.Peer = "a"
	t2, _, ok := pool.Allocate()
	require.True(t, ok)
	assert.Equal(t, 2, pool.InUse())

	_, _, ok = pool.Allocate()
	assert.False(t, ok, "pool exhausted")

	slot, ok := pool.Slot(t1)
	require.True(t, ok)
	assert.Equal(t, "a", slot.Peer)

	assert.True(t, pool.Free(t1))
	assert.False(t, pool.Free(t1), "double free")
	_, ok = pool.Slot(t1)
	assert.False(t, ok)

	t3, _, ok := pool.Allocate()
	require.True(t, ok)
	_, ok = pool.Slot(t1)
	assert.False(t, ok, "old ticket stays stale after reuse")

	pool.Reset()
	assert.Zero(t, pool.InUse())
	_, ok = pool.Slot(t2)
	assert.False(t, ok)
	_, ok = pool.Slot(t3)
	assert.False(t, ok)
}
