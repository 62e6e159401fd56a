package socketproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/proxy"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const clientLogPrefix = "socketproxy:client"

var ErrInactive = errors.New("client proxy inactive")

// receiver consumes a message addressed to one of the client's handles.
type receiver interface {
	deliver(c *Client, payload []byte)
}

// pendingCall waits for the response to one blocking call.
type pendingCall struct {
	handle     wire.Handle
	out        any
	done       chan command.Result
	completion command.Finished
	deadline   time.Time
	once       sync.Once
}

func (p *pendingCall) deliver(c *Client, payload []byte) {
	p.finish(c, c.decodeResponse(payload, p.out))
}

// finish completes the call exactly once.
func (p *pendingCall) finish(c *Client, res command.Result) {
	p.once.Do(func() {
		c.table.Remove(p.handle)
		if p.completion == nil {
			p.done <- res
			return
		}
		c.mu.Lock()
		delete(c.async, p.handle.Index)
		c.mu.Unlock()
		out := p.out
		if res != command.Succeeded {
			out = nil
		}
		p.completion(res, out)
	})
}

// eventReceiver feeds events from the server into the proxy's generator.
type eventReceiver struct {
	event command.Command
}

func (r *eventReceiver) deliver(c *Client, payload []byte) {
	switch ev := r.event.(type) {
	case *command.MulticastVoid:
		ev.Execute(command.NotBlocking, nil)
	case *command.MulticastWrite:
		arg, err := c.ser.DeserializeNew(payload)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - %s: event %q: %v", clientLogPrefix, c.name, ev.Name(), err))
			return
		}
		if res := ev.Execute(arg, command.NotBlocking, nil); !res.IsOK() {
			slog.Warn(fmt.Sprintf("%s - %s: event %q: %s", clientLogPrefix, c.name, ev.Name(), res))
		}
	}
}

// Client is the client side of a socket proxy: it owns the provided
// interface proxy of one remote server and carries its calls. Any send or
// receive failure makes the client inactive; every call then fails with
// NetworkError until Connect succeeds again.
type Client struct {
	name   string
	conn   net.PacketConn
	server net.Addr
	opts   Options
	types  *serial.Registry
	ser    *serial.Serializer

	sendMu   sync.Mutex
	lastSent time.Time
	recvMu   sync.Mutex
	reasm  *wire.Reassembler
	buf    []byte

	table    *wire.Table[receiver]
	inactive atomic.Bool

	mu       sync.Mutex
	async    map[uint64]*pendingCall
	init     wire.InitData
	events   map[string]wire.Handle
	proxies  *proxy.ComponentProxy
	provided *proxy.ProvidedProxy
}

// Dial opens a local UDP socket for talking to the server at addr.
func Dial(name, addr string, types *serial.Registry, opts Options) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - resolve %s: %w", clientLogPrefix, addr, err)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("%s - open socket: %w", clientLogPrefix, err)
	}
	return NewClient(name, conn, raddr, types, opts)
}

// NewClient creates a client sending to server over conn.
func NewClient(name string, conn net.PacketConn, server net.Addr, types *serial.Registry, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if err := RegisterTypes(types); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", clientLogPrefix, name, err)
	}
	return &Client{
		name:    name,
		conn:    conn,
		server:  server,
		opts:    opts,
		types:   types,
		ser:     serial.NewSerializer(types),
		reasm:   wire.NewReassembler(opts.PacketSize, opts.MaxMessage),
		buf:     make([]byte, opts.PacketSize),
		table:   wire.NewTable[receiver](),
		async:   make(map[uint64]*pendingCall),
		events:  make(map[string]wire.Handle),
		proxies: proxy.NewComponentProxy(name, types),
	}, nil
}

func (c *Client) Name() string { return c.name }

// Connect exchanges init data with the server, builds the provided proxy
// from the server's description on first use and binds every command proxy
// to its remote handle. It also clears the inactive state.
func (c *Client) Connect(ctx context.Context) (*proxy.ProvidedProxy, error) {
	c.inactive.Store(false)
	c.ser.Reset()

	var data wire.InitData
	p := c.newPending(&data, nil)
	msg := wire.InitHandle.AppendTo(nil)
	msg = p.handle.AppendTo(msg)
	if res := c.send(msg, nil); res != command.Succeeded {
		c.table.Remove(p.handle)
		return nil, fmt.Errorf("%s - %s: init: %w", clientLogPrefix, c.name, command.AsError("GetInitData", res))
	}
	if res := c.wait(p, c.opts.InitTimeout); res != command.Succeeded {
		return nil, fmt.Errorf("%s - %s: init: %w", clientLogPrefix, c.name, command.AsError("GetInitData", res))
	}
	data.Check(c.opts.PacketSize)
	c.mu.Lock()
	c.init = data
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pp := c.providedProxy()
	reconnect := pp != nil
	if pp == nil {
		var desc iface.Description
		res := c.Invoke(proxy.Call{Target: data.GetInterfaceDescription, Command: wire.GetInterfaceDescription, Kind: command.KindRead, Blocking: true, Out: &desc})
		if res != command.Succeeded {
			return nil, fmt.Errorf("%s - %s: %w", clientLogPrefix, c.name, command.AsError(wire.GetInterfaceDescription, res))
		}
		var err error
		if pp, err = c.proxies.CreateInterfaceProvidedProxy(desc, c); err != nil {
			return nil, err
		}
		c.registerEvents(pp)
		c.mu.Lock()
		c.provided = pp
		c.mu.Unlock()
	}

	bound := 0
	for _, cmd := range pp.CommandProxies() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var h wire.Handle
		res := c.Invoke(proxy.Call{Target: data.GetHandle(cmd.Kind()), Command: wire.GetHandleName(cmd.Kind()), Kind: command.KindQualifiedRead, Blocking: true, Arg: cmd.Name(), Out: &h})
		if res != command.Succeeded {
			slog.Warn(fmt.Sprintf("%s - %s: no handle for %s %q: %s", clientLogPrefix, c.name, cmd.Kind(), cmd.Name(), res))
			cmd.SetCommandID(wire.Handle{})
			continue
		}
		cmd.SetCommandID(h)
		bound++
	}
	if reconnect {
		c.resubscribe(pp)
	}
	slog.Info(fmt.Sprintf("%s - %s connected to %s: %q with %d/%d commands bound", clientLogPrefix, c.name, c.server, pp.Name(), bound, len(pp.CommandProxies())))
	return pp, nil
}

func (c *Client) registerEvents(pp *proxy.ProvidedProxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range pp.EventNames(command.KindVoid) {
		ev, _ := pp.EventVoid(name)
		c.events[name] = c.table.Register(wire.TagVoid, &eventReceiver{event: ev})
	}
	for _, name := range pp.EventNames(command.KindWrite) {
		ev, _ := pp.EventWrite(name)
		c.events[name] = c.table.Register(wire.TagWrite, &eventReceiver{event: ev})
	}
}

// resubscribe enables again the events that still have observers, since
// the server forgets a peer's subscriptions when it initializes again.
func (c *Client) resubscribe(pp *proxy.ProvidedProxy) {
	for _, name := range pp.EventNames(command.KindVoid) {
		if ev, ok := pp.EventVoid(name); ok && ev.Len() > 0 {
			c.EnableEvent(name)
		}
	}
	for _, name := range pp.EventNames(command.KindWrite) {
		if ev, ok := pp.EventWrite(name); ok && ev.Len() > 0 {
			c.EnableEvent(name)
		}
	}
}

func (c *Client) providedProxy() *proxy.ProvidedProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provided
}

// Provided returns the interface proxy, nil before the first Connect.
func (c *Client) Provided() *proxy.ProvidedProxy { return c.providedProxy() }

// IsActive reports whether no transport failure happened since Connect.
func (c *Client) IsActive() bool { return !c.inactive.Load() }

// MarkInactive fails every outstanding asynchronous call and makes later
// calls fail fast.
func (c *Client) MarkInactive(cause error) {
	if !c.inactive.CompareAndSwap(false, true) {
		return
	}
	slog.Error(fmt.Sprintf("%s - %s: inactive: %v", clientLogPrefix, c.name, cause))
	c.mu.Lock()
	pending := make([]*pendingCall, 0, len(c.async))
	for _, p := range c.async {
		pending = append(pending, p)
	}
	c.mu.Unlock()
	for _, p := range pending {
		p.finish(c, command.NetworkError)
	}
}

// Close marks the client inactive and closes its socket.
func (c *Client) Close() error {
	c.MarkInactive(ErrInactive)
	return c.conn.Close()
}

// Invoke sends call to the server. Non-blocking calls return Queued once
// sent. Blocking calls wait for the response, polling the socket
// themselves, unless call.Completion is set.
func (c *Client) Invoke(call proxy.Call) command.Result {
	if c.inactive.Load() {
		return command.NetworkError
	}
	if !call.Blocking {
		msg := call.Target.AppendTo(make([]byte, 0, 2*wire.HandleSize))
		msg = wire.Handle{Tag: wire.TagVoid}.AppendTo(msg)
		if res := c.send(msg, call.Arg); res != command.Succeeded {
			return res
		}
		return command.Queued
	}

	p := c.newPending(call.Out, call.Completion)
	msg := call.Target.AppendTo(make([]byte, 0, 2*wire.HandleSize))
	msg = p.handle.AppendTo(msg)
	if p.completion != nil {
		p.deadline = time.Now().Add(c.opts.CallTimeout)
		c.mu.Lock()
		c.async[p.handle.Index] = p
		c.mu.Unlock()
	}
	if res := c.send(msg, call.Arg); res != command.Succeeded {
		c.table.Remove(p.handle)
		c.mu.Lock()
		delete(c.async, p.handle.Index)
		c.mu.Unlock()
		return res
	}
	if p.completion != nil {
		return command.Queued
	}
	return c.wait(p, c.opts.CallTimeout)
}

func (c *Client) newPending(out any, completion command.Finished) *pendingCall {
	p := &pendingCall{out: out, completion: completion, done: make(chan command.Result, 1)}
	p.handle = c.table.Register(wire.TagWrite, p)
	return p
}

// send serializes arg after msg and writes the message. Serialization and
// sending happen under one lock so the server sees type descriptors in the
// order they were assigned.
func (c *Client) send(msg []byte, arg any) command.Result {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if arg != nil {
		data, err := c.ser.Serialize(arg)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - %s: %v", clientLogPrefix, c.name, err))
			return command.SerializationError
		}
		msg = append(msg, data...)
	}
	if err := wire.SendAsPackets(c.conn, c.server, msg, c.opts.PacketSize, c.opts.PacketGap); err != nil {
		c.MarkInactive(err)
		return command.NetworkError
	}
	c.lastSent = time.Now()
	return command.Succeeded
}

// keepAlive sends the server's KeepAlive operation when nothing was sent
// for KeepAlive, so the server does not drop the session of a quiet client.
func (c *Client) keepAlive(now time.Time) {
	c.mu.Lock()
	target := c.init.KeepAlive
	c.mu.Unlock()
	if target.IsZero() {
		return
	}
	c.sendMu.Lock()
	idle := now.Sub(c.lastSent)
	c.sendMu.Unlock()
	if idle < c.opts.KeepAlive {
		return
	}
	msg := target.WithTag(wire.TagVoid).AppendTo(make([]byte, 0, 2*wire.HandleSize))
	msg = wire.Handle{Tag: wire.TagVoid}.AppendTo(msg)
	if res := c.send(msg, nil); res != command.Succeeded {
		slog.Debug(fmt.Sprintf("%s - %s: keepalive: %s", clientLogPrefix, c.name, res))
	}
}

// wait blocks until p completes or timeout elapses. While waiting it reads
// the socket whenever no other goroutine does, so responses and events keep
// flowing even when every caller is blocked.
func (c *Client) wait(p *pendingCall, timeout time.Duration) command.Result {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case res := <-p.done:
			return res
		default:
		}
		if c.inactive.Load() {
			p.finish(c, command.NetworkError)
			return <-p.done
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.finish(c, command.Timeout)
			return <-p.done
		}
		step := min(c.opts.PollInterval, remaining)
		if c.recvMu.TryLock() {
			c.receiveOnce(step)
			c.recvMu.Unlock()
			continue
		}
		select {
		case res := <-p.done:
			return res
		case <-time.After(step):
		}
	}
}

// Poll reads at most one message, expires overdue asynchronous calls and
// keeps the session alive. It is meant to run as a hook of the component
// hosting the proxy.
func (c *Client) Poll(_ context.Context) {
	if c.inactive.Load() {
		time.Sleep(c.opts.PollInterval)
		return
	}
	if c.recvMu.TryLock() {
		c.receiveOnce(c.opts.PollInterval)
		c.recvMu.Unlock()
	}
	now := time.Now()
	c.expire(now)
	c.keepAlive(now)
}

// Run polls until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		c.Poll(ctx)
	}
	return nil
}

func (c *Client) expire(now time.Time) {
	c.mu.Lock()
	var overdue []*pendingCall
	for _, p := range c.async {
		if now.After(p.deadline) {
			overdue = append(overdue, p)
		}
	}
	c.mu.Unlock()
	for _, p := range overdue {
		p.finish(c, command.Timeout)
	}
}

func (c *Client) receiveOnce(timeout time.Duration) {
	msg, from, err := wire.ReadMessage(c.conn, c.reasm, c.buf, timeout)
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrTimeout):
		return
	case errors.Is(err, wire.ErrMessageTooLarge):
		slog.Warn(fmt.Sprintf("%s - %s: %v", clientLogPrefix, c.name, err))
		return
	default:
		c.MarkInactive(err)
		return
	}
	if !sameAddr(from, c.server) {
		slog.Warn(fmt.Sprintf("%s - %s: dropping message from unexpected peer %s", clientLogPrefix, c.name, from))
		return
	}
	h, err := wire.ParseHandle(msg)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping message: %v", clientLogPrefix, c.name, err))
		return
	}
	r, err := c.table.Lookup(h)
	if err != nil {
		// late responses still carry type names used for the first time
		slog.Debug(fmt.Sprintf("%s - %s: dropping message: %v", clientLogPrefix, c.name, err))
		if err := c.ser.Discard(msg[wire.HandleSize:]); err != nil {
			slog.Debug(fmt.Sprintf("%s - %s: %v", clientLogPrefix, c.name, err))
		}
		return
	}
	r.deliver(c, msg[wire.HandleSize:])
}

// decodeResponse reads either a result or the expected output.
func (c *Client) decodeResponse(payload []byte, out any) command.Result {
	name, err := c.ser.Peek(payload)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s: response: %v", clientLogPrefix, c.name, err))
		return command.DeserializationError
	}
	if name == serial.ResultTypeName {
		var res command.Result
		if err := c.ser.Deserialize(payload, &res); err != nil || !res.Valid() {
			return command.DeserializationError
		}
		return res
	}
	if out == nil {
		slog.Error(fmt.Sprintf("%s - %s: unexpected %s in response", clientLogPrefix, c.name, name))
		return command.DeserializationError
	}
	if err := c.ser.Deserialize(payload, out); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: response: %v", clientLogPrefix, c.name, err))
		return command.DeserializationError
	}
	return command.Succeeded
}

// EnableEvent asks the server to forward event.
func (c *Client) EnableEvent(event string) command.Result {
	return c.eventControl(event, true)
}

// DisableEvent asks the server to stop forwarding event.
func (c *Client) DisableEvent(event string) command.Result {
	return c.eventControl(event, false)
}

func (c *Client) eventControl(event string, enable bool) command.Result {
	c.mu.Lock()
	receiver, ok := c.events[event]
	target, name := c.init.EventDisable, wire.EventDisable
	if enable {
		target, name = c.init.EventEnable, wire.EventEnable
	}
	c.mu.Unlock()
	if !ok {
		return command.InvalidCommandID
	}
	if target.IsZero() {
		return command.NetworkError
	}
	return c.Invoke(proxy.Call{
		Target:   target.WithTag(wire.TagWriteBlocking),
		Command:  name,
		Kind:     command.KindWrite,
		Blocking: true,
		Arg:      wire.EncodeEventRequest(receiver, event),
	})
}

func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}
