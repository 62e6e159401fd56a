package natsproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/commsutil"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/proxy"
	"github.com/morezero/component-runtime/pkg/semver"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const clientLogPrefix = "natsproxy:client"

var ErrIncompatible = errors.New("incompatible protocol version")

// Client builds a provided-interface proxy of an interface served on a
// subject. It implements proxy.Invoker and proxy.EventSink.
type Client struct {
	name    string
	id      string
	subject string
	nc      *comms.Conn
	opts    Options
	types   *serial.Registry

	inbox    string
	inboxSub *comms.Subscription
	sendMu   sync.Mutex
	inactive atomic.Bool

	mu          sync.Mutex
	pending     map[string]pendingCall
	late        map[string]*serial.Serializer
	serializers map[uint64]*serial.Serializer
	eventSubs   map[string]*comms.Subscription
	proxies     *proxy.ComponentProxy
	provided    *proxy.ProvidedProxy
}

type pendingCall struct {
	ch  chan InvokeResponse
	ser *serial.Serializer
}

// NewClient creates a client with a fresh client id and subscribes its
// reply inbox.
func NewClient(name string, nc *comms.Conn, subject string, types *serial.Registry, opts Options) (*Client, error) {
	if err := iface.RegisterTypes(types); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", clientLogPrefix, name, err)
	}
	c := &Client{
		name:        name,
		id:          uuid.NewString(),
		subject:     subject,
		nc:          nc,
		opts:        opts.withDefaults(),
		types:       types,
		inbox:       comms.NewInbox(),
		pending:     make(map[string]pendingCall),
		late:        make(map[string]*serial.Serializer),
		serializers: make(map[uint64]*serial.Serializer),
		eventSubs:   make(map[string]*comms.Subscription),
		proxies:     proxy.NewComponentProxy(name, types),
	}
	var err error
	if c.inboxSub, err = nc.Subscribe(c.inbox, c.onResponse); err != nil {
		return nil, fmt.Errorf("%s - %s: subscribe inbox: %w", clientLogPrefix, name, err)
	}
	return c, nil
}

func (c *Client) Name() string { return c.name }

// ID is the client id sent with every request.
func (c *Client) ID() string { return c.id }

// Connect starts a session with the server, builds the provided proxy from
// the server's description on first use and binds every command proxy.
func (c *Client) Connect(ctx context.Context) (*proxy.ProvidedProxy, error) {
	c.inactive.Store(false)
	c.mu.Lock()
	c.serializers = make(map[uint64]*serial.Serializer)
	c.late = make(map[string]*serial.Serializer)
	c.mu.Unlock()

	var init InitReply
	if res := c.control(&InvokeRequest{Op: OpInit}, &init); res != command.Succeeded {
		return nil, fmt.Errorf("%s - %s: init: %w", clientLogPrefix, c.name, command.AsError(OpInit, res))
	}
	if ok, err := semver.Compatible(wire.ProtocolVersion, init.ProtocolVersion); err != nil || !ok {
		return nil, fmt.Errorf("%s - %s: server speaks %q: %w", clientLogPrefix, c.name, init.ProtocolVersion, ErrIncompatible)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pp := c.Provided()
	reconnect := pp != nil
	if pp == nil {
		var desc iface.Description
		if res := c.control(&InvokeRequest{Op: OpDescribe}, &desc); res != command.Succeeded {
			return nil, fmt.Errorf("%s - %s: %w", clientLogPrefix, c.name, command.AsError(OpDescribe, res))
		}
		var err error
		if pp, err = c.proxies.CreateInterfaceProvidedProxy(desc, c); err != nil {
			return nil, err
		}
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
		res := c.control(&InvokeRequest{Op: OpHandle, Kind: cmd.Kind(), Name: cmd.Name()}, &h)
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
	slog.Info(fmt.Sprintf("%s - %s connected to %s: %q with %d/%d commands bound", clientLogPrefix, c.name, c.subject, pp.Name(), bound, len(pp.CommandProxies())))
	return pp, nil
}

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

// Provided returns the interface proxy, nil before the first Connect.
func (c *Client) Provided() *proxy.ProvidedProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provided
}

// IsActive reports whether no transport failure happened since Connect.
func (c *Client) IsActive() bool { return !c.inactive.Load() }

// MarkInactive fails every outstanding call and makes later calls fail fast.
func (c *Client) MarkInactive(cause error) {
	if !c.inactive.CompareAndSwap(false, true) {
		return
	}
	slog.Error(fmt.Sprintf("%s - %s: inactive: %v", clientLogPrefix, c.name, cause))
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, call := range c.pending {
		select {
		case call.ch <- InvokeResponse{ID: id, Result: command.NetworkError}:
		default:
		}
	}
}

// Close marks the client inactive and drops its subscriptions. The COMMS
// connection stays open.
func (c *Client) Close() error {
	c.MarkInactive(errors.New("closed"))
	c.mu.Lock()
	subs := c.eventSubs
	c.eventSubs = make(map[string]*comms.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return c.inboxSub.Unsubscribe()
}

// serializer returns the type context of one command slot.
func (c *Client) serializer(h wire.Handle) *serial.Serializer {
	c.mu.Lock()
	defer c.mu.Unlock()
	ser, ok := c.serializers[h.Index]
	if !ok {
		ser = serial.NewSerializer(c.types)
		c.serializers[h.Index] = ser
	}
	return ser
}

// Invoke sends call to the server. Non-blocking calls return Queued once
// published; blocking calls wait for the reply unless call.Completion is set.
func (c *Client) Invoke(call proxy.Call) command.Result {
	if c.inactive.Load() {
		return command.NetworkError
	}
	if c.nc.IsClosed() {
		c.MarkInactive(comms.ErrConnectionClosed)
		return command.NetworkError
	}
	ser := c.serializer(call.Target)
	req := &InvokeRequest{Op: OpInvoke, Command: call.Target, Name: call.Command}

	if !call.Blocking {
		if res := c.send(req, ser, call.Arg, ""); res != command.Succeeded {
			return res
		}
		return command.Queued
	}
	if call.Completion == nil {
		return c.roundTrip(req, ser, call.Arg, call.Out)
	}
	go func() {
		res := c.roundTrip(req, ser, call.Arg, call.Out)
		out := call.Out
		if res != command.Succeeded {
			out = nil
		}
		call.Completion(res, out)
	}()
	return command.Queued
}

// send serializes arg into req and publishes it. Serialization and
// publishing happen under one lock so the server sees type descriptors in
// the order they were assigned.
func (c *Client) send(req *InvokeRequest, ser *serial.Serializer, arg any, reply string) command.Result {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	req.ClientID = c.id
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if arg != nil {
		payload, err := ser.Serialize(arg)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - %s: %s: %v", clientLogPrefix, c.name, req.Name, err))
			return command.SerializationError
		}
		req.Payload = payload
	}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return command.SerializationError
	}
	if reply == "" {
		err = c.nc.Publish(c.subject, data)
	} else {
		err = c.nc.PublishRequest(c.subject, reply, data)
	}
	if err != nil {
		c.MarkInactive(err)
		return command.NetworkError
	}
	return command.Succeeded
}

// exchange publishes req with the client inbox as reply subject and waits
// for the matching response.
func (c *Client) exchange(req *InvokeRequest, ser *serial.Serializer, arg any) (InvokeResponse, command.Result) {
	req.ID = uuid.NewString()
	ch := make(chan InvokeResponse, 1)
	c.mu.Lock()
	c.pending[req.ID] = pendingCall{ch: ch, ser: ser}
	c.mu.Unlock()
	timedOut := false
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		// a response arriving after the timeout is decoded for its type names only
		if timedOut && ser != nil {
			select {
			case resp := <-ch:
				_ = ser.Discard(resp.Payload)
			default:
				c.late[req.ID] = ser
			}
		}
		c.mu.Unlock()
	}()

	if res := c.send(req, ser, arg, c.inbox); res != command.Succeeded {
		return InvokeResponse{}, res
	}
	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, resp.Result
	case <-timer.C:
		slog.Warn(fmt.Sprintf("%s - %s: %s %s timed out", clientLogPrefix, c.name, req.Op, req.Name))
		timedOut = true
		return InvokeResponse{}, command.Timeout
	}
}

func (c *Client) roundTrip(req *InvokeRequest, ser *serial.Serializer, arg, out any) command.Result {
	resp, res := c.exchange(req, ser, arg)
	if res != command.Succeeded || out == nil {
		return res
	}
	if len(resp.Payload) == 0 {
		slog.Error(fmt.Sprintf("%s - %s: %s: empty response", clientLogPrefix, c.name, req.Name))
		return command.DeserializationError
	}
	if err := ser.Deserialize(resp.Payload, out); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: %s: %v", clientLogPrefix, c.name, req.Name, err))
		return command.DeserializationError
	}
	return command.Succeeded
}

// control runs one control operation; its payloads are JSON.
func (c *Client) control(req *InvokeRequest, out any) command.Result {
	if c.inactive.Load() {
		return command.NetworkError
	}
	resp, res := c.exchange(req, nil, nil)
	if res != command.Succeeded || out == nil {
		return res
	}
	if err := commsutil.DecodePayload(resp.Payload, out); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: %s: %v", clientLogPrefix, c.name, req.Op, err))
		return command.DeserializationError
	}
	return command.Succeeded
}

func (c *Client) onResponse(msg *comms.Msg) {
	var resp InvokeResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping malformed response: %v", clientLogPrefix, c.name, err))
		return
	}
	if !resp.Result.Valid() {
		resp.Result = command.DeserializationError
	}
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	ser, late := c.late[resp.ID]
	delete(c.late, resp.ID)
	c.mu.Unlock()
	if !ok {
		slog.Debug(fmt.Sprintf("%s - %s: late response %s dropped", clientLogPrefix, c.name, resp.ID))
		if late {
			if err := ser.Discard(resp.Payload); err != nil {
				slog.Debug(fmt.Sprintf("%s - %s: %v", clientLogPrefix, c.name, err))
			}
		}
		return
	}
	select {
	case call.ch <- resp:
	default:
	}
}

// EnableEvent subscribes the event subject, then asks the server to publish
// on it.
func (c *Client) EnableEvent(event string) command.Result {
	pp := c.Provided()
	if pp == nil {
		return command.InvalidCommandID
	}
	deliver, ok := c.eventDelivery(pp, event)
	if !ok {
		return command.InvalidCommandID
	}
	c.mu.Lock()
	_, subscribed := c.eventSubs[event]
	c.mu.Unlock()
	if !subscribed {
		sub, err := c.nc.Subscribe(commsutil.BuildEventSubject(c.subject, event), deliver)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - %s: subscribe %q: %v", clientLogPrefix, c.name, event, err))
			c.MarkInactive(err)
			return command.NetworkError
		}
		c.mu.Lock()
		c.eventSubs[event] = sub
		c.mu.Unlock()
	}
	return c.control(&InvokeRequest{Op: OpEnable, Name: event}, nil)
}

// DisableEvent asks the server to stop publishing event and drops the
// subscription.
func (c *Client) DisableEvent(event string) command.Result {
	c.mu.Lock()
	sub, ok := c.eventSubs[event]
	delete(c.eventSubs, event)
	c.mu.Unlock()
	if ok {
		_ = sub.Unsubscribe()
	}
	return c.control(&InvokeRequest{Op: OpDisable, Name: event}, nil)
}

// eventDelivery feeds published events into the proxy's generator.
func (c *Client) eventDelivery(pp *proxy.ProvidedProxy, event string) (comms.MsgHandler, bool) {
	if ev, ok := pp.EventVoid(event); ok {
		return func(_ *comms.Msg) {
			ev.Execute(command.NotBlocking, nil)
		}, true
	}
	ev, ok := pp.EventWrite(event)
	if !ok {
		return nil, false
	}
	return func(msg *comms.Msg) {
		arg, err := serial.NewSerializer(c.types).DeserializeNew(msg.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %s: event %q: %v", clientLogPrefix, c.name, event, err))
			return
		}
		ev.Execute(arg, command.NotBlocking, nil)
	}, true
}
