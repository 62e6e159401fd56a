package natsproxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/commsutil"
	"github.com/morezero/component-runtime/pkg/component"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/mailbox"
	"github.com/morezero/component-runtime/pkg/proxy"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/wire"
)

const serverLogPrefix = "natsproxy:server"

// Options tune both ends. Zero fields take the defaults.
type Options struct {
	// PollInterval bounds one wait of the server's receive hook.
	PollInterval time.Duration
	// CallTimeout bounds a blocking remote call.
	CallTimeout time.Duration
	// InboxSize is the number of requests buffered for the server goroutine.
	InboxSize int
	// EventQueueSize is the capacity of the server's event mailbox.
	EventQueueSize int
}

const (
	DefaultPollInterval   = 5 * time.Millisecond
	DefaultCallTimeout    = 5 * time.Second
	DefaultInboxSize      = 256
	DefaultEventQueueSize = 64
)

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = DefaultEventQueueSize
	}
	return o
}

type serializerKey struct {
	client  string
	command uint64
}

type eventSender struct {
	name     string
	kind     command.Kind
	subject  string
	clients  map[string]struct{}
	observer command.Command
}

// Server exposes one provided interface on a subject. Requests arrive on a
// channel subscription and are dispatched by the server's component
// goroutine, which also owns the finished slots, the serializers and the
// event client sets.
type Server struct {
	name    string
	subject string
	nc      *comms.Conn
	opts    Options
	types   *serial.Registry

	provided *iface.Provided
	instance *iface.Provided
	desc     iface.Description

	comp        *component.Component
	proxies     *proxy.ComponentProxy
	required    *proxy.RequiredProxy
	connection  *iface.Connection
	completions *mailbox.Mailbox
	events      *mailbox.Mailbox

	table       *wire.Table[proxy.FunctionProxy]
	handles     map[command.Kind]map[string]wire.Handle
	pool        *proxy.FinishedPool
	serializers map[serializerKey]*serial.Serializer
	senders     map[string]*eventSender

	msgs chan *comms.Msg
	sub  *comms.Subscription
}

// NewServer serves provided on subject. Requests are buffered until Run.
func NewServer(name string, nc *comms.Conn, subject string, provided *iface.Provided, types *serial.Registry, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if err := iface.RegisterTypes(types); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", serverLogPrefix, name, err)
	}
	desc, err := provided.Description(types)
	if err != nil {
		return nil, fmt.Errorf("%s - %s: describe %q: %w", serverLogPrefix, name, provided.Name(), err)
	}

	s := &Server{
		name:        name,
		subject:     subject,
		nc:          nc,
		opts:        opts,
		types:       types,
		provided:    provided,
		instance:    provided.Clone(name, 0),
		desc:        desc,
		comp:        component.New(name),
		proxies:     proxy.NewComponentProxy(name, types),
		table:       wire.NewTable[proxy.FunctionProxy](),
		handles:     make(map[command.Kind]map[string]wire.Handle),
		serializers: make(map[serializerKey]*serial.Serializer),
		senders:     make(map[string]*eventSender),
		msgs:        make(chan *comms.Msg, opts.InboxSize),
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
	if s.connection, err = iface.Connect(s.required.Required, s.instance); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", serverLogPrefix, name, err)
	}
	for _, fp := range s.required.FunctionProxies() {
		h := s.table.Register(wire.TagFor(fp.Kind(), false), fp)
		if s.handles[fp.Kind()] == nil {
			s.handles[fp.Kind()] = make(map[string]wire.Handle)
		}
		s.handles[fp.Kind()][fp.Name()] = h
	}
	for _, kind := range []command.Kind{command.KindVoid, command.KindWrite} {
		for _, event := range s.instance.EventNames(kind) {
			s.senders[event] = &eventSender{
				name:    event,
				kind:    kind,
				subject: commsutil.BuildEventSubject(subject, event),
				clients: make(map[string]struct{}),
			}
		}
	}

	if s.sub, err = nc.ChanSubscribe(subject, s.msgs); err != nil {
		s.connection.Disconnect()
		return nil, fmt.Errorf("%s - %s: subscribe %s: %w", serverLogPrefix, name, subject, err)
	}
	s.comp.AddHook(s.poll)
	slog.Info(fmt.Sprintf("%s - %s serving %q on %s (%d commands, %d events)", serverLogPrefix, name, provided.Name(), subject, s.table.Len(), len(s.senders)))
	return s, nil
}

func (s *Server) Name() string    { return s.name }
func (s *Server) Subject() string { return s.subject }

// Component is the component whose goroutine runs the server.
func (s *Server) Component() *component.Component { return s.comp }

// Description is the description sent to clients.
func (s *Server) Description() iface.Description { return s.desc }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error { return s.comp.Run(ctx) }

// Close unsubscribes, disconnects from the provided interface and drops
// every pending completion. Call it after Run returned.
func (s *Server) Close() error {
	err := s.sub.Unsubscribe()
	s.connection.Disconnect()
	for _, sender := range s.senders {
		s.unsubscribe(sender)
	}
	s.provided.RemoveClone(s.name)
	s.pool.Reset()
	return err
}

func (s *Server) poll(ctx context.Context) {
	select {
	case msg := <-s.msgs:
		s.dispatch(msg)
	case <-time.After(s.opts.PollInterval):
	case <-ctx.Done():
	}
}

func (s *Server) dispatch(msg *comms.Msg) {
	var req InvokeRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping malformed request: %v", serverLogPrefix, s.name, err))
		s.reply(msg.Reply, InvokeResponse{Result: command.DeserializationError, Error: errorDetail(command.DeserializationError, err.Error())})
		return
	}
	slog.Debug(fmt.Sprintf("%s - %s: op=%s id=%s client=%s", serverLogPrefix, s.name, req.Op, req.ID, req.ClientID))

	switch req.Op {
	case OpInit:
		s.handleInit(msg.Reply, &req)
	case OpDescribe:
		s.replyJSON(msg.Reply, req.ID, s.desc)
	case OpHandle:
		h, ok := s.handles[req.Kind][req.Name]
		if !ok {
			s.replyResult(msg.Reply, req.ID, command.InvalidCommandID, fmt.Sprintf("no %s command %q", req.Kind, req.Name))
			return
		}
		s.replyJSON(msg.Reply, req.ID, h)
	case OpInvoke:
		s.invoke(msg.Reply, &req)
	case OpEnable:
		s.replyResult(msg.Reply, req.ID, s.enableEvent(req.ClientID, req.Name), "")
	case OpDisable:
		s.replyResult(msg.Reply, req.ID, s.disableEvent(req.ClientID, req.Name), "")
	default:
		s.replyResult(msg.Reply, req.ID, command.InvalidCommandID, fmt.Sprintf("unknown op: %s", req.Op))
	}
}

// handleInit starts a fresh session for the client: its serializers and
// event subscriptions are forgotten.
func (s *Server) handleInit(reply string, req *InvokeRequest) {
	for key := range s.serializers {
		if key.client == req.ClientID {
			delete(s.serializers, key)
		}
	}
	for _, sender := range s.senders {
		s.disableEvent(req.ClientID, sender.name)
	}
	s.replyJSON(reply, req.ID, InitReply{ProtocolVersion: wire.ProtocolVersion, Interface: s.desc.InterfaceName})
}

// serializer returns the type context of one command slot of one client.
func (s *Server) serializer(client string, h wire.Handle) *serial.Serializer {
	key := serializerKey{client: client, command: h.Index}
	ser, ok := s.serializers[key]
	if !ok {
		ser = serial.NewSerializer(s.types)
		s.serializers[key] = ser
	}
	return ser
}

func (s *Server) invoke(reply string, req *InvokeRequest) {
	blocking := req.Command.Blocking()
	fp, err := s.table.Lookup(req.Command)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: dropping request %s from %s: %v", serverLogPrefix, s.name, req.ID, req.ClientID, err))
		s.discard(s.serializer(req.ClientID, req.Command), req.Payload)
		if blocking {
			s.replyResult(reply, req.ID, command.InvalidCommandID, err.Error())
		}
		return
	}
	ser := s.serializer(req.ClientID, req.Command)

	if !blocking {
		if res, _ := fp.ExecuteSerialized(ser, req.Payload, false, nil); !res.IsOK() {
			slog.Debug(fmt.Sprintf("%s - %s: %s from %s: %s", serverLogPrefix, s.name, fp.Name(), req.ClientID, res))
		}
		return
	}
	if reply == "" {
		slog.Warn(fmt.Sprintf("%s - %s: blocking %s from %s without reply subject", serverLogPrefix, s.name, fp.Name(), req.ClientID))
		s.discard(ser, req.Payload)
		return
	}

	ticket, slot, ok := s.pool.Allocate()
	if !ok {
		s.discard(ser, req.Payload)
		s.replyResult(reply, req.ID, command.NoFinishedEvent, "")
		return
	}
	slot.Peer = reply
	slot.Request = req.ID
	slot.Kind = fp.Kind()
	slot.Serializer = ser

	res, out := fp.ExecuteSerialized(ser, req.Payload, true, s.completion(ticket))
	if res == command.Queued {
		return
	}
	s.pool.Free(ticket)
	s.respond(reply, req.ID, ser, res, out)
}

// discard records the type name a rejected request may carry, so the
// client's next call on that command still decodes.
func (s *Server) discard(ser *serial.Serializer, payload []byte) {
	if err := ser.Discard(payload); err != nil {
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
	reply, id, ser := slot.Peer, slot.Request, slot.Serializer
	s.pool.Free(t)
	s.respond(reply, id, ser, res, out)
}

// respond sends the serialized output on success and the result otherwise.
func (s *Server) respond(reply, id string, ser *serial.Serializer, res command.Result, out any) {
	resp := InvokeResponse{ID: id, Result: res}
	if res == command.Succeeded && out != nil {
		data, err := ser.Serialize(out)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - %s: serialize response %s: %v", serverLogPrefix, s.name, id, err))
			resp.Result = command.SerializationError
		} else {
			resp.Payload = data
		}
	}
	resp.Error = errorDetail(resp.Result, "")
	s.reply(reply, resp)
}

func (s *Server) replyResult(reply, id string, res command.Result, message string) {
	s.reply(reply, InvokeResponse{ID: id, Result: res, Error: errorDetail(res, message)})
}

func (s *Server) replyJSON(reply, id string, v any) {
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		s.replyResult(reply, id, command.SerializationError, err.Error())
		return
	}
	s.reply(reply, InvokeResponse{ID: id, Result: command.Succeeded, Payload: data})
}

func (s *Server) reply(reply string, resp InvokeResponse) {
	if reply == "" {
		return
	}
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s: encode response %s: %v", serverLogPrefix, s.name, resp.ID, err))
		return
	}
	if err := s.nc.Publish(reply, data); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: reply %s: %v", serverLogPrefix, s.name, resp.ID, err))
	}
}

func (s *Server) enableEvent(client, event string) command.Result {
	sender, ok := s.senders[event]
	if !ok {
		slog.Warn(fmt.Sprintf("%s - %s: enable of unknown event %q", serverLogPrefix, s.name, event))
		return command.InvalidCommandID
	}
	if _, dup := sender.clients[client]; dup {
		return command.Succeeded
	}
	sender.clients[client] = struct{}{}
	if len(sender.clients) == 1 {
		s.subscribe(sender)
	}
	slog.Debug(fmt.Sprintf("%s - %s: %s enabled %q (%d clients)", serverLogPrefix, s.name, client, event, len(sender.clients)))
	return command.Succeeded
}

func (s *Server) disableEvent(client, event string) command.Result {
	sender, ok := s.senders[event]
	if !ok {
		return command.InvalidCommandID
	}
	if _, ok := sender.clients[client]; !ok {
		return command.Succeeded
	}
	delete(sender.clients, client)
	if len(sender.clients) == 0 {
		s.unsubscribe(sender)
	}
	return command.Succeeded
}

// subscribe observes the event through a command queued on the events
// mailbox, so that publishing happens on the server goroutine.
func (s *Server) subscribe(sender *eventSender) {
	switch sender.kind {
	case command.KindVoid:
		obs := mailbox.NewQueuedVoid(s.events, command.NewVoid(sender.name, func() {
			s.publishEvent(sender, nil)
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
			s.publishEvent(sender, arg)
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
	for client := range sender.clients {
		delete(sender.clients, client)
	}
}

// publishEvent sends one event to every subscriber of its subject. Each
// event is serialized with a fresh type context since the subject has no
// single peer to keep one with.
func (s *Server) publishEvent(sender *eventSender, arg any) {
	var data []byte
	if arg != nil {
		var err error
		if data, err = serial.NewSerializer(s.types).Serialize(arg); err != nil {
			slog.Error(fmt.Sprintf("%s - %s: event %q: %v", serverLogPrefix, s.name, sender.name, err))
			return
		}
	}
	if err := s.nc.Publish(sender.subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: event %q: %v", serverLogPrefix, s.name, sender.name, err))
	}
}

// Subscribers returns the number of clients that enabled event. It must be
// called from the server goroutine or after Run returned.
func (s *Server) Subscribers(event string) int {
	if sender, ok := s.senders[event]; ok {
		return len(sender.clients)
	}
	return 0
}
