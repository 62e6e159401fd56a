package socketproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/component"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/proxy"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const serverLogPrefix = "socketproxy:server"

// controlInterface names the interface holding the control operations.
const controlInterface = "ServerControl"

type peer struct {
	addr     net.Addr
	ser      *serial.Serializer
	lastSeen time.Time
	// pending counts deferred calls whose response is still owed.
	pending int
}

type subscriber struct {
	peer     *peer
	receiver wire.Handle
}

// eventSender forwards one event of the served interface to the peers that
// enabled it. Its observer is registered only while it has subscribers.
type eventSender struct {
	name     string
	kind     command.Kind
	subs     []subscriber
	observer command.Command
}

// Server exposes one provided interface to remote clients. Everything it
// mutates (finished slots, peer serializers, event client lists) is only
// touched by its component goroutine: requests are dispatched from the
// polling hook and deferred completions come back through its mailbox.
type Server struct {
	name  string
	conn  net.PacketConn
	opts  Options
	types *serial.Registry

	provided *iface.Provided
	instance *iface.Provided
	desc     iface.Description

	comp        *component.Component
	proxies     *proxy.ComponentProxy
	required    *proxy.RequiredProxy
	control     *proxy.RequiredProxy
	connections []*iface.Connection
	completions *mailbox.Mailbox
	events      *mailbox.Mailbox

	table   *wire.Table[proxy.FunctionProxy]
	handles map[command.Kind]map[string]wire.Handle
	init    wire.InitData
	pool    *proxy.FinishedPool
	peers   map[string]*peer
	senders map[string]*eventSender
	reasm   *wire.Reassembler
	buf     []byte
	current *peer
	pruned  time.Time
}

// Listen opens a UDP socket on addr and serves provided on it.
func Listen(name, addr string, provided *iface.Provided, types *serial.Registry, opts Options) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - listen %s: %w", serverLogPrefix, addr, err)
	}
	s, err := NewServer(name, conn, provided, types, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewServer serves provided on conn. The server gets its own instance of
// the provided interface, so its queued calls do not share queue slots with
// other users of the interface.
func NewServer(name string, conn net.PacketConn, provided *iface.Provided, types *serial.Registry, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if err := RegisterTypes(types); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", serverLogPrefix, name, err)
	}
	desc, err := provided.Description(types)
	if err != nil {
		return nil, fmt.Errorf("%s - %s: describe %q: %w", serverLogPrefix, name, provided.Name(), err)
	}

	s := &Server{
		name:     name,
		conn:     conn,
		opts:     opts,
		types:    types,
		provided: provided,
		instance: provided.Clone(name, 0),
		desc:     desc,
		comp:     component.New(name),
		proxies:  proxy.NewComponentProxy(name, types),
		table:    wire.NewTable[proxy.FunctionProxy](),
		handles:  make(map[command.Kind]map[string]wire.Handle),
		peers:    make(map[string]*peer),
		senders:  make(map[string]*eventSender),
		reasm:    wire.NewReassembler(opts.PacketSize, opts.MaxMessage),
		buf:      make([]byte, opts.PacketSize),
		init:     wire.InitData{ProtocolVersion: wire.ProtocolVersion, PacketSize: opts.PacketSize},
	}

	poolSize := desc.MailboxSize
	if poolSize < 1 {
		poolSize = mailbox.DefaultArgumentQueueSize
	}
	s.pool = proxy.NewFinishedPool(poolSize)
	s.completions = s.comp.NewMailbox("completions", poolSize)
	s.events = s.comp.NewMailbox("events", opts.EventQueueSize)

	if s.required, err = s.proxies.CreateInterfaceRequiredProxy(desc, nil); err != nil {
		return nil, err
	}
	conn1, err := iface.Connect(s.required.Required, s.instance)
	if err != nil {
		return nil, fmt.Errorf("%s - %s: %w", serverLogPrefix, name, err)
	}
	s.connections = append(s.connections, conn1)
	for _, fp := range s.required.FunctionProxies() {
		h := s.table.Register(wire.TagFor(fp.Kind(), false), fp)
		if s.handles[fp.Kind()] == nil {
			s.handles[fp.Kind()] = make(map[string]wire.Handle)
		}
		s.handles[fp.Kind()][fp.Name()] = h
	}

	if err := s.buildControl(); err != nil {
		return nil, err
	}
	for _, kind := range []command.Kind{command.KindVoid, command.KindWrite} {
		for _, event := range s.instance.EventNames(kind) {
			s.senders[event] = &eventSender{name: event, kind: kind}
		}
	}

	s.comp.AddHook(s.poll)
	slog.Info(fmt.Sprintf("%s - %s serving %q on %s (%d commands, %d events)", serverLogPrefix, name, provided.Name(), conn.LocalAddr(), s.table.Len(), len(s.senders)))
	return s, nil
}

// buildControl creates the control operations as direct commands and
// reaches them through function proxies like any served command.
func (s *Server) buildControl() error {
	ctl := iface.NewProvided(controlInterface, nil)
	desc := s.desc
	if _, err := ctl.AddCommandRead(command.NewRead(wire.GetInterfaceDescription, func() iface.Description { return desc })); err != nil {
		return err
	}
	for _, kind := range command.Kinds {
		kind := kind
		lookup := func(name string) (wire.Handle, bool) {
			h, ok := s.handles[kind][name]
			if !ok {
				slog.Warn(fmt.Sprintf("%s - %s: no %s command %q", serverLogPrefix, s.name, kind, name))
			}
			return h, ok
		}
		if _, err := ctl.AddCommandQualifiedRead(command.NewQualifiedRead(wire.GetHandleName(kind), lookup)); err != nil {
			return err
		}
	}
	if _, err := ctl.AddCommandWrite(command.NewWrite(wire.EventEnable, s.enableEvent)); err != nil {
		return err
	}
	if _, err := ctl.AddCommandWrite(command.NewWrite(wire.EventDisable, s.disableEvent)); err != nil {
		return err
	}
	if _, err := ctl.AddCommandVoid(command.NewVoid(wire.KeepAlive, func() {})); err != nil {
		return err
	}

	ctlDesc, err := ctl.Description(s.types)
	if err != nil {
		return fmt.Errorf("%s - %s: %w", serverLogPrefix, s.name, err)
	}
	if s.control, err = s.proxies.CreateInterfaceRequiredProxy(ctlDesc, nil); err != nil {
		return err
	}
	conn, err := iface.Connect(s.control.Required, ctl)
	if err != nil {
		return fmt.Errorf("%s - %s: %w", serverLogPrefix, s.name, err)
	}
	s.connections = append(s.connections, conn)
	for _, fp := range s.control.FunctionProxies() {
		s.init.SetControl(fp.Name(), s.table.Register(wire.TagFor(fp.Kind(), false), fp))
	}
	return nil
}

func (s *Server) Name() string { return s.name }

// Addr is the local address clients send to.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Component is the component whose goroutine runs the server.
func (s *Server) Component() *component.Component { return s.comp }

// Description is the description sent to clients.
func (s *Server) Description() iface.Description { return s.desc }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error { return s.comp.Run(ctx) }

// Close disconnects from the provided interface, drops every pending
// completion and closes the socket.
func (s *Server) Close() error {
	for _, c := range s.connections {
		c.Disconnect()
	}
	for _, sender := range s.senders {
		s.unsubscribe(sender)
	}
	s.provided.RemoveClone(s.name)
	s.pool.Reset()
	return s.conn.Close()
}

func (s *Server) poll(ctx context.Context) {
	msg, addr, err := wire.ReadMessage(s.conn, s.reasm, s.buf, s.opts.PollInterval)
	switch {
	case err == nil:
		s.dispatch(addr, msg)
	case errors.Is(err, wire.ErrTimeout):
	case errors.Is(err, net.ErrClosed):
		time.Sleep(s.opts.PollInterval)
	default:
		if ctx.Err() == nil {
			slog.Warn(fmt.Sprintf("%s - %s: %v", serverLogPrefix, s.name, err))
		}
	}
	if now := time.Now(); now.Sub(s.pruned) >= s.opts.PeerIdleTimeout/4 {
		s.prunePeers(now)
		s.pruned = now
	}
}

func (s *Server) peer(addr net.Addr) *peer {
	key := addr.String()
	p, ok := s.peers[key]
	if !ok {
		p = &peer{addr: addr, ser: serial.NewSerializer(s.types)}
		s.peers[key] = p
	}
	p.lastSeen = time.Now()
	return p
}

// prunePeers forgets peers that were silent for longer than PeerIdleTimeout
// and are owed no response, together with their event subscriptions. It
// returns how many were removed.
func (s *Server) prunePeers(now time.Time) int {
	removed := 0
	for key, p := range s.peers {
		if p.pending > 0 || now.Sub(p.lastSeen) <= s.opts.PeerIdleTimeout {
			continue
		}
		for _, sender := range s.senders {
			s.removeSubscriber(sender, func(sub subscriber) bool { return sub.peer == p })
		}
		delete(s.peers, key)
		removed++
		slog.Info(fmt.Sprintf("%s - %s: dropped idle peer %s", serverLogPrefix, s.name, p.addr))
	}
	return removed
}

// Peers returns the number of known peers. It must be called from the
// server goroutine or after Run returned.
func (s *Server) Peers() int { return len(s.peers) }

func (s *Server) dispatch(addr net.Addr, msg []byte) {
	target, err := wire.ParseHandle(msg)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping message from %s: %v", serverLogPrefix, s.name, addr, err))
		return
	}
	p := s.peer(addr)
	ret, retErr := wire.ParseHandle(msg[wire.HandleSize:])
	if target.Tag == wire.TagInit {
		if retErr != nil {
			slog.Warn(fmt.Sprintf("%s - %s: init from %s without return handle", serverLogPrefix, s.name, addr))
			return
		}
		s.handleInit(p, ret)
		return
	}
	payload := msg[min(len(msg), 2*wire.HandleSize):]
	blocking := target.Blocking()

	fp, err := s.table.Lookup(target)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping request from %s: %v", serverLogPrefix, s.name, addr, err))
		s.discard(p, payload)
		if blocking && retErr == nil {
			s.respond(p, ret, command.InvalidCommandID, nil)
		}
		return
	}

	s.current = p
	defer func() { s.current = nil }()

	if !blocking {
		if res, _ := fp.ExecuteSerialized(p.ser, payload, false, nil); !res.IsOK() {
			slog.Debug(fmt.Sprintf("%s - %s: %s from %s: %s", serverLogPrefix, s.name, fp.Name(), addr, res))
		}
		return
	}
	if retErr != nil {
		slog.Warn(fmt.Sprintf("%s - %s: blocking %s from %s without return handle", serverLogPrefix, s.name, fp.Name(), addr))
		s.discard(p, payload)
		return
	}

	ticket, slot, ok := s.pool.Allocate()
	if !ok {
		s.discard(p, payload)
		s.respond(p, ret, command.NoFinishedEvent, nil)
		return
	}
	slot.ReturnHandle = ret
	slot.Peer = addr.String()
	slot.Kind = fp.Kind()
	slot.Serializer = p.ser

	res, out := fp.ExecuteSerialized(p.ser, payload, true, s.completion(ticket))
	if res == command.Queued {
		p.pending++
		return
	}
	s.pool.Free(ticket)
	s.respond(p, ret, res, out)
}

// discard keeps the peer's type context in step with a request that is
// rejected before its argument is decoded.
func (s *Server) discard(p *peer, payload []byte) {
	if err := p.ser.Discard(payload); err != nil {
		slog.Debug(fmt.Sprintf("%s - %s: %v", serverLogPrefix, s.name, err))
	}
}

// completion marshals a deferred result back onto the server goroutine.
func (s *Server) completion(t proxy.Ticket) command.Finished {
	return func(res command.Result, out any) {
		ok := s.completions.TryEnqueue(mailbox.Entry{Runner: mailbox.RunnerFunc{
			Label: "completion",
			Fn: func(_, _ any) command.Result {
				s.complete(t, res, out)
				return command.Succeeded
			},
		}})
		if !ok {
			slog.Error(fmt.Sprintf("%s - %s: completion mailbox full, response lost", serverLogPrefix, s.name))
		}
	}
}

func (s *Server) complete(t proxy.Ticket, res command.Result, out any) {
	slot, ok := s.pool.Slot(t)
	if !ok {
		slog.Debug(fmt.Sprintf("%s - %s: completion for released slot dropped", serverLogPrefix, s.name))
		return
	}
	ret, key := slot.ReturnHandle, slot.Peer
	s.pool.Free(t)
	p, ok := s.peers[key]
	if !ok {
		return
	}
	if p.pending > 0 {
		p.pending--
	}
	s.respond(p, ret, res, out)
}

// respond sends the output on success and the result otherwise.
func (s *Server) respond(p *peer, ret wire.Handle, res command.Result, out any) {
	var payload any = res
	if res == command.Succeeded && out != nil {
		payload = out
	}
	data, err := p.ser.Serialize(payload)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s: serialize response for %s: %v", serverLogPrefix, s.name, p.addr, err))
		if data, err = p.ser.Serialize(command.SerializationError); err != nil {
			return
		}
	}
	msg := append(ret.AppendTo(make([]byte, 0, wire.HandleSize+len(data))), data...)
	if err := wire.SendAsPackets(s.conn, p.addr, msg, s.opts.PacketSize, s.opts.PacketGap); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: %v", serverLogPrefix, s.name, err))
	}
}

// handleInit answers GetInitData. A peer that initializes again starts
// with a fresh serializer and no event subscriptions.
func (s *Server) handleInit(p *peer, ret wire.Handle) {
	p.ser.Reset()
	for _, sender := range s.senders {
		s.removeSubscriber(sender, func(sub subscriber) bool { return sub.peer == p })
	}
	s.respond(p, ret, command.Succeeded, &s.init)
	slog.Debug(fmt.Sprintf("%s - %s: init from %s", serverLogPrefix, s.name, p.addr))
}

func (s *Server) enableEvent(req string) {
	receiver, event, err := wire.DecodeEventRequest(req)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: event enable: %v", serverLogPrefix, s.name, err))
		return
	}
	sender, ok := s.senders[event]
	if !ok || s.current == nil {
		slog.Warn(fmt.Sprintf("%s - %s: enable of unknown event %q", serverLogPrefix, s.name, event))
		return
	}
	for _, sub := range sender.subs {
		if sub.peer == s.current && sub.receiver == receiver {
			return
		}
	}
	sender.subs = append(sender.subs, subscriber{peer: s.current, receiver: receiver})
	if len(sender.subs) == 1 {
		s.subscribe(sender)
	}
	slog.Debug(fmt.Sprintf("%s - %s: %s enabled %q (%d clients)", serverLogPrefix, s.name, s.current.addr, event, len(sender.subs)))
}

func (s *Server) disableEvent(req string) {
	receiver, event, err := wire.DecodeEventRequest(req)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: event disable: %v", serverLogPrefix, s.name, err))
		return
	}
	sender, ok := s.senders[event]
	if !ok || s.current == nil {
		return
	}
	current := s.current
	s.removeSubscriber(sender, func(sub subscriber) bool {
		return sub.peer == current && sub.receiver == receiver
	})
}

func (s *Server) removeSubscriber(sender *eventSender, match func(subscriber) bool) {
	if len(sender.subs) == 0 {
		return
	}
	kept := sender.subs[:0]
	for _, sub := range sender.subs {
		if !match(sub) {
			kept = append(kept, sub)
		}
	}
	sender.subs = kept
	if len(kept) == 0 {
		s.unsubscribe(sender)
	}
}

// subscribe observes the event through a command queued on the server
// mailbox, so that sends happen on the server goroutine.
func (s *Server) subscribe(sender *eventSender) {
	switch sender.kind {
	case command.KindVoid:
		obs := mailbox.NewQueuedVoid(s.events, command.NewVoid(sender.name, func() {
			s.sendEvent(sender, nil)
		}), s.opts.EventQueueSize)
		if err := s.instance.AddObserverVoid(sender.name, obs); err != nil {
			slog.Error(fmt.Sprintf("%s - %s: %v", serverLogPrefix, s.name, err))
			return
		}
		sender.observer = obs
	case command.KindWrite:
		ev, ok := s.instance.EventWrite(sender.name)
		if !ok {
			return
		}
		obs := mailbox.NewQueuedWrite(s.events, command.NewWriteProto(sender.name, ev.ArgumentPrototype, func(arg any) {
			s.sendEvent(sender, arg)
		}), s.opts.EventQueueSize)
		ev.AddCommand(obs)
		sender.observer = obs
	}
}

func (s *Server) unsubscribe(sender *eventSender) {
	switch obs := sender.observer.(type) {
	case command.Void:
		s.instance.RemoveObserverVoid(sender.name, obs)
	case command.Write:
		s.instance.RemoveObserverWrite(sender.name, obs)
	}
	sender.observer = nil
	sender.subs = nil
}

func (s *Server) sendEvent(sender *eventSender, arg any) {
	for _, sub := range sender.subs {
		msg := sub.receiver.AppendTo(nil)
		if arg != nil {
			data, err := sub.peer.ser.Serialize(arg)
			if err != nil {
				slog.Error(fmt.Sprintf("%s - %s: event %q: %v", serverLogPrefix, s.name, sender.name, err))
				continue
			}
			msg = append(msg, data...)
		}
		if err := wire.SendAsPackets(s.conn, sub.peer.addr, msg, s.opts.PacketSize, s.opts.PacketGap); err != nil {
			slog.Error(fmt.Sprintf("%s - %s: event %q: %v", serverLogPrefix, s.name, sender.name, err))
		}
	}
}

// Subscribers returns the number of clients that enabled event. It must be
// called from the server goroutine or after Run returned.
func (s *Server) Subscribers(event string) int {
	if sender, ok := s.senders[event]; ok {
		return len(sender.subs)
	}
	return 0
}
