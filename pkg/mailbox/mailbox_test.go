package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/component-runtime/pkg/command"
)

func recorder(order *[]int) RunnerFunc {
	return RunnerFunc{Label: "record", Fn: func(arg, _ any) command.Result {
		*order = append(*order, arg.(int))
		return command.Succeeded
	}}
}

func TestMailboxFIFOAndCapacity(t *testing.T) {
	mb := New("fifo", 3)
	var order []int
	r := recorder(&order)

	for i := 1; i <= 3; i++ {
		require.True(t, mb.TryEnqueue(Entry{Runner: r, Arg: i}))
	}
	assert.False(t, mb.TryEnqueue(Entry{Runner: r, Arg: 4}), "fourth enqueue must fail")
	assert.Equal(t, 3, mb.Len())

	assert.Equal(t, 3, mb.ProcessAll(0))
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.False(t, mb.ProcessNext())

	// wraps around the ring
	for i := 5; i <= 7; i++ {
		require.True(t, mb.TryEnqueue(Entry{Runner: r, Arg: i}))
	}
	assert.Equal(t, 2, mb.ProcessAll(2))
	assert.Equal(t, 1, mb.Len())
	assert.Equal(t, 1, mb.ProcessAll(0))
	assert.Equal(t, []int{1, 2, 3, 5, 6, 7}, order)
}

func TestMailboxFinishedTarget(t *testing.T) {
	mb := New("finished", 2)
	var got command.Result = -1
	var out int
	mb.TryEnqueue(Entry{
		Runner: RunnerFunc{Label: "fill", Fn: func(_, o any) command.Result {
			*(o.(*int)) = 9
			return command.Succeeded
		}},
		Out:      &out,
		Finished: func(res command.Result, o any) { got = res },
	})
	select {
	case <-mb.Wake():
	default:
		t.Fatal("mailbox:mailbox_test - wake not signalled")
	}
	require.True(t, mb.ProcessNext())
	assert.Equal(t, command.Succeeded, got)
	assert.Equal(t, 9, out)
}

func TestQueuedWriteNotBlocking(t *testing.T) {
	mb := New("owner", 10)
	var got []int
	q := NewQueuedWrite(mb, command.NewWrite("SetValue", func(v int) { got = append(got, v) }), 0)

	assert.Equal(t, command.Queued, q.Execute(1, command.NotBlocking, nil))
	assert.Equal(t, command.Queued, q.Execute(2, command.NotBlocking, nil))
	assert.Empty(t, got)
	mb.ProcessAll(0)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, command.InvalidInputType, q.Execute("x", command.NotBlocking, nil))
}

func TestQueuedWriteCopiesArgument(t *testing.T) {
	type payload struct{ V int }
	mb := New("owner", 4)
	var got payload
	q := NewQueuedWrite(mb, command.NewWrite("Set", func(p payload) { got = p }), 0)

	arg := &payload{V: 1}
	require.Equal(t, command.Queued, q.Execute(arg, command.NotBlocking, nil))
	arg.V = 2
	mb.ProcessAll(0)
	assert.Equal(t, 1, got.V)
}

func TestQueuedBlockingWaitsForConsumer(t *testing.T) {
	mb := New("owner", 4)
	value := 0
	q := NewQueuedWrite(mb, command.NewWrite("SetValue", func(v int) { value = v }), 0)

	done := make(chan command.Result, 1)
	go func() { done <- q.Execute(42, command.Blocking, nil) }()

	select {
	case <-done:
		t.Fatal("mailbox:mailbox_test - blocking call returned before the consumer ran")
	case <-time.After(20 * time.Millisecond):
	}

	<-mb.Wake()
	require.True(t, mb.ProcessNext())
	assert.Equal(t, command.Succeeded, <-done)
	assert.Equal(t, 42, value)
}

func TestQueuedReturnKinds(t *testing.T) {
	mb := New("owner", 4)
	counter := 10
	vr := NewQueuedVoidReturn(mb, command.NewVoidReturn("Next", func() int { counter++; return counter }), 0)
	wr := NewQueuedWriteReturn(mb, command.NewWriteReturn("Add", func(v int) int { return counter + v }), 0)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-mb.Wake():
				mb.ProcessAll(0)
			}
		}
	}()

	var next int
	assert.Equal(t, command.Succeeded, vr.Execute(&next, nil))
	assert.Equal(t, 11, next)

	results := make(chan int, 1)
	var sum int
	res := wr.Execute(5, &sum, func(r command.Result, out any) {
		assert.Equal(t, command.Succeeded, r)
		results <- *(out.(*int))
	})
	assert.Equal(t, command.Queued, res)
	assert.Equal(t, 16, <-results)

	close(stop)
	wg.Wait()
}

func TestQueuedMailboxFull(t *testing.T) {
	mb := New("small", 1)
	q := NewQueuedVoid(mb, command.NewVoid("Tick", func() {}), 0)
	assert.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
	assert.Equal(t, command.MailboxFull, q.Execute(command.NotBlocking, nil))
	mb.ProcessAll(0)
	assert.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
}

func TestQueuedArgumentQueueBound(t *testing.T) {
	mb := New("big", 10)
	q := NewQueuedVoid(mb, command.NewVoid("Tick", func() {}), 2)
	assert.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
	assert.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
	assert.Equal(t, command.MailboxFull, q.Execute(command.NotBlocking, nil))
	mb.ProcessNext()
	assert.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
}

func TestQueuedNoMailbox(t *testing.T) {
	q := NewQueuedVoid(nil, command.NewVoid("Tick", func() {}), 0)
	assert.Equal(t, command.NoMailbox, q.Execute(command.NotBlocking, nil))
}

func TestQueuedDisableKeepsPendingEntries(t *testing.T) {
	mb := New("owner", 4)
	runs := 0
	q := NewQueuedVoid(mb, command.NewVoid("Tick", func() { runs++ }), 0)
	require.Equal(t, command.Queued, q.Execute(command.NotBlocking, nil))
	q.Disable()
	assert.Equal(t, command.Disabled, q.Execute(command.NotBlocking, nil))
	mb.ProcessAll(0)
	assert.Equal(t, 1, runs)
}

func TestQueuedClone(t *testing.T) {
	a := New("a", 4)
	b := New("b", 4)
	runs := 0
	q := NewQueuedVoid(a, command.NewVoid("Tick", func() { runs++ }), 4)
	c := q.Clone(b, 1)

	assert.Equal(t, "Tick", c.Name())
	assert.Same(t, b, c.Mailbox())
	assert.Equal(t, 1, c.ArgumentQueueSize())

	require.Equal(t, command.Queued, c.Execute(command.NotBlocking, nil))
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 1, b.Len())
	b.ProcessAll(0)
	assert.Equal(t, 1, runs)
}
