package component

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/component-runtime/pkg/command"
)

const componentTestPrefix = "component:component_test"

func newCounterComponent(t *testing.T, value *atomic.Int64) *Component {
	t.Helper()
	c := New("counter")
	p, err := c.AddInterfaceProvided("Counter", 8)
	require.NoError(t, err)
	_, err = p.AddCommandWrite(command.NewWrite("SetValue", func(v int) { value.Store(int64(v)) }))
	require.NoError(t, err)
	_, err = p.AddCommandRead(command.NewRead("GetValue", func() int { return int(value.Load()) }))
	require.NoError(t, err)
	return c
}

func TestComponentDuplicateInterfaces(t *testing.T) {
	c := New("c")
	_, err := c.AddInterfaceProvided("P", 0)
	require.NoError(t, err)
	_, err = c.AddInterfaceProvided("P", 0)
	assert.True(t, errors.Is(err, ErrDuplicateInterface))
	_, err = c.AddInterfaceRequired("R", 0)
	require.NoError(t, err)
	_, err = c.AddInterfaceRequired("R", 0)
	assert.True(t, errors.Is(err, ErrDuplicateInterface))
	assert.Equal(t, []string{"P"}, c.ProvidedNames())
	assert.Equal(t, []string{"R"}, c.RequiredNames())
}

func TestRunOnceDrainsAndRunsHooks(t *testing.T) {
	var value atomic.Int64
	c := newCounterComponent(t, &value)
	hooks := 0
	c.AddHook(func(context.Context) { hooks++ })

	p, _ := c.InterfaceProvided("Counter")
	set, _ := p.CommandWrite("SetValue")
	require.Equal(t, command.Queued, set.Execute(3, command.NotBlocking, nil))

	assert.Equal(t, 1, c.RunOnce(context.Background()))
	assert.Equal(t, int64(3), value.Load())
	assert.Equal(t, 1, hooks)
}

func TestManagerConnectAndRun(t *testing.T) {
	var value atomic.Int64
	m := NewManager("test")
	require.NoError(t, m.AddComponent(newCounterComponent(t, &value)))

	client := New("client")
	req, err := client.AddInterfaceRequired("Counter", 0)
	require.NoError(t, err)
	require.NoError(t, m.AddComponent(client))
	assert.True(t, errors.Is(m.AddComponent(New("client")), ErrDuplicate))

	set, _ := req.AddFunctionWrite("SetValue")
	get, _ := req.AddFunctionRead("GetValue")

	_, err = m.Connect("client", "Counter", "counter", "Nope")
	assert.True(t, errors.Is(err, ErrUnknownInterface))
	_, err = m.Connect("ghost", "Counter", "counter", "Counter")
	assert.True(t, errors.Is(err, ErrUnknownComponent))

	_, err = m.Connect("client", "Counter", "counter", "Counter")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)

	if res := set.ExecuteBlocking(42); res != command.Succeeded {
		t.Fatalf("%s - SetValue = %s, want SUCCEEDED", componentTestPrefix, res)
	}
	var got int
	require.Equal(t, command.Succeeded, get.Execute(&got))
	assert.Equal(t, 42, got)

	require.NoError(t, m.Disconnect("client", "Counter"))
	assert.Equal(t, command.FunctionNotBound, set.Execute(1))
	assert.Error(t, m.Disconnect("client", "Counter"))

	require.NoError(t, m.Stop())
}
