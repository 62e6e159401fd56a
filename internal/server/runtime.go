package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	masterminds "github.com/Masterminds/semver/v3"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/component-runtime/internal/config"
	"github.com/morezero/component-runtime/pkg/catalog"
	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/commsutil"
	"github.com/morezero/component-runtime/pkg/component"
	"github.com/morezero/component-runtime/pkg/counter"
	"github.com/morezero/component-runtime/pkg/deploy"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/natsproxy"
	"github.com/morezero/component-runtime/pkg/serial"
	"github.com/morezero/component-runtime/pkg/socketproxy"
	"github.com/morezero/component-runtime/pkg/wire"
)

const runtimeLogPrefix = "server:runtime"

// ErrNoComms is returned when a deployment needs NATS and none is connected.
var ErrNoComms = errors.New("deployment uses nats but no COMMS connection is available")

// EndpointCatalog registers exposed interfaces and resolves references.
// Both *catalog.Catalog and *dispatcher.RemoteCatalog satisfy it.
type EndpointCatalog interface {
	Process() string
	Register(ctx context.Context, input *catalog.RegisterInput) (*catalog.Endpoint, error)
	Unregister(ctx context.Context, key catalog.Key) error
	Resolve(ctx context.Context, input *catalog.ResolveInput) (*catalog.Endpoint, error)
}

// Runtime hosts the components, proxies and catalog entries of one
// deployment.
type Runtime struct {
	cfg     *config.Config
	dep     *deploy.Deployment
	catalog EndpointCatalog
	nc      *comms.Conn
	types   *serial.Registry

	manager  *component.Manager
	counters map[string]*counter.Counter
	watchers map[string]*counter.Watcher

	udpServers  []*socketproxy.Server
	natsServers []*natsproxy.Server
	udpClients  map[string]*socketproxy.Client
	natsClients map[string]*natsproxy.Client
	registered  []catalog.Key

	mu      sync.Mutex
	started bool
}

// NewRuntime validates the deployment and prepares an empty runtime. nc may
// be nil when no nats transport is used.
func NewRuntime(cfg *config.Config, dep *deploy.Deployment, cat EndpointCatalog, nc *comms.Conn) (*Runtime, error) {
	if err := dep.Validate(); err != nil {
		return nil, fmt.Errorf("%s - %w", runtimeLogPrefix, err)
	}
	if nc == nil && dep.HasTransport(deploy.TransportNATS) {
		return nil, fmt.Errorf("%s - %w", runtimeLogPrefix, ErrNoComms)
	}
	types := serial.NewRegistry()
	if err := iface.RegisterTypes(types); err != nil {
		return nil, fmt.Errorf("%s - %w", runtimeLogPrefix, err)
	}
	return &Runtime{
		cfg:         cfg,
		dep:         dep,
		catalog:     cat,
		nc:          nc,
		types:       types,
		manager:     component.NewManager(cat.Process()),
		counters:    make(map[string]*counter.Counter),
		watchers:    make(map[string]*counter.Watcher),
		udpClients:  make(map[string]*socketproxy.Client),
		natsClients: make(map[string]*natsproxy.Client),
	}, nil
}

func (r *Runtime) socketOptions() socketproxy.Options {
	return socketproxy.Options{
		PacketSize:   r.cfg.PacketSize,
		PollInterval: r.cfg.PollInterval,
		CallTimeout:  r.cfg.CallTimeout,
		InitTimeout:  r.cfg.InitTimeout,
	}
}

func (r *Runtime) natsOptions() natsproxy.Options {
	return natsproxy.Options{
		PollInterval: r.cfg.PollInterval,
		CallTimeout:  r.cfg.CallTimeout,
	}
}

// Start builds the deployment in order: local components, servers (each
// registered in the catalog), then client proxies resolved through the
// catalog, then connections. Everything runs until Stop.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	for _, spec := range r.dep.Components {
		if err := r.addComponent(spec); err != nil {
			return err
		}
	}
	r.manager.Start(ctx)
	r.started = true

	for _, spec := range r.dep.Servers {
		if err := r.addServer(ctx, spec); err != nil {
			return err
		}
	}
	for _, spec := range r.dep.Clients {
		if err := r.addClient(ctx, spec); err != nil {
			return err
		}
	}
	for _, c := range r.dep.Connections {
		if _, err := r.manager.Connect(c.Client, c.Required, c.Server, c.Provided); err != nil {
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - deployment %q started: %d components, %d servers, %d clients",
		runtimeLogPrefix, r.dep.Name, len(r.dep.Components), len(r.dep.Servers), len(r.dep.Clients)))
	return nil
}

func (r *Runtime) addComponent(spec deploy.ComponentSpec) error {
	var comp *component.Component
	switch spec.Type {
	case deploy.TypeCounter:
		c, err := counter.New(spec.Name, spec.MailboxSize)
		if err != nil {
			return fmt.Errorf("%s - counter %q: %w", runtimeLogPrefix, spec.Name, err)
		}
		r.counters[spec.Name] = c
		comp = c.Component()
	case deploy.TypeWatcher:
		w, err := counter.NewWatcher(spec.Name, spec.EventQueue)
		if err != nil {
			return fmt.Errorf("%s - watcher %q: %w", runtimeLogPrefix, spec.Name, err)
		}
		r.watchers[spec.Name] = w
		comp = w.Component()
	default:
		return fmt.Errorf("%s - unknown component type %q", runtimeLogPrefix, spec.Type)
	}
	return r.manager.AddComponent(comp)
}

func protocolMajor() uint64 {
	return masterminds.MustParse(wire.ProtocolVersion).Major()
}

func (r *Runtime) addServer(ctx context.Context, spec deploy.ServerSpec) error {
	comp, _ := r.manager.Component(spec.Component)
	provided, ok := comp.InterfaceProvided(spec.Interface)
	if !ok {
		return fmt.Errorf("%s - %s has no provided interface %q: %w", runtimeLogPrefix, spec.Component, spec.Interface, component.ErrUnknownInterface)
	}
	name := fmt.Sprintf("%s-%s-%s", spec.Component, spec.Interface, spec.Transport)

	var (
		address string
		desc    iface.Description
		srvComp *component.Component
	)
	switch spec.Transport {
	case deploy.TransportUDP:
		srv, err := socketproxy.Listen(name, spec.Address, provided, r.types, r.socketOptions())
		if err != nil {
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		r.udpServers = append(r.udpServers, srv)
		address, desc, srvComp = srv.Addr().String(), srv.Description(), srv.Component()
	case deploy.TransportNATS:
		subject := spec.Address
		if subject == "" {
			subject = commsutil.BuildInterfaceSubject(spec.Component, spec.Interface, int(protocolMajor()))
		}
		srv, err := natsproxy.NewServer(name, r.nc, subject, provided, r.types, r.natsOptions())
		if err != nil {
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		r.natsServers = append(r.natsServers, srv)
		address, desc, srvComp = srv.Subject(), srv.Description(), srv.Component()
	}
	if err := r.manager.AddComponent(srvComp); err != nil {
		return err
	}

	key := catalog.Key{Component: spec.Component, Interface: spec.Interface, Transport: spec.Transport, Address: address}
	if _, err := r.catalog.Register(ctx, &catalog.RegisterInput{
		Key:         key,
		Version:     wire.ProtocolVersion,
		Process:     r.catalog.Process(),
		MailboxSize: desc.MailboxSize,
		Commands:    commandNames(desc),
		Events:      eventNames(desc),
	}); err != nil {
		return fmt.Errorf("%s - register %s.%s: %w", runtimeLogPrefix, spec.Component, spec.Interface, err)
	}
	r.registered = append(r.registered, key)
	return nil
}

func (r *Runtime) addClient(ctx context.Context, spec deploy.ClientSpec) error {
	transport, address := spec.Transport, spec.Address
	if address == "" {
		e, err := r.catalog.Resolve(ctx, &catalog.ResolveInput{Ref: spec.Ref, Transport: transport})
		if err != nil {
			return fmt.Errorf("%s - client %q: resolve %s: %w", runtimeLogPrefix, spec.Name, spec.Ref, err)
		}
		transport, address = e.Transport, e.Address
	}

	comp := component.New(spec.Name)
	var provided *iface.Provided
	switch transport {
	case deploy.TransportUDP:
		cli, err := socketproxy.Dial(spec.Name, address, r.types, r.socketOptions())
		if err != nil {
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		pp, err := cli.Connect(ctx)
		if err != nil {
			_ = cli.Close()
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		r.udpClients[spec.Name] = cli
		comp.AddHook(cli.Poll)
		provided = pp.Provided
	case deploy.TransportNATS:
		if r.nc == nil {
			return fmt.Errorf("%s - client %q: %w", runtimeLogPrefix, spec.Name, ErrNoComms)
		}
		cli, err := natsproxy.NewClient(spec.Name, r.nc, address, r.types, r.natsOptions())
		if err != nil {
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		pp, err := cli.Connect(ctx)
		if err != nil {
			_ = cli.Close()
			return fmt.Errorf("%s - %w", runtimeLogPrefix, err)
		}
		r.natsClients[spec.Name] = cli
		provided = pp.Provided
	}
	if err := comp.AddProvided(provided); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - client %q reaches %s over %s at %s", runtimeLogPrefix, spec.Name, spec.Ref, transport, address))
	return r.manager.AddComponent(comp)
}

// Stop unregisters the endpoints, stops every goroutine and closes the
// transports.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.registered {
		if err := r.catalog.Unregister(ctx, key); err != nil {
			slog.Warn(fmt.Sprintf("%s - unregister %s.%s: %v", runtimeLogPrefix, key.Component, key.Interface, err))
		}
	}
	r.registered = nil

	err := r.manager.Stop()
	for _, srv := range r.udpServers {
		_ = srv.Close()
	}
	for _, srv := range r.natsServers {
		_ = srv.Close()
	}
	for _, cli := range r.udpClients {
		_ = cli.Close()
	}
	for _, cli := range r.natsClients {
		_ = cli.Close()
	}
	r.udpServers, r.natsServers = nil, nil
	r.udpClients = make(map[string]*socketproxy.Client)
	r.natsClients = make(map[string]*natsproxy.Client)
	r.started = false
	slog.Info(fmt.Sprintf("%s - deployment %q stopped", runtimeLogPrefix, r.dep.Name))
	return err
}

// Manager returns the local component manager.
func (r *Runtime) Manager() *component.Manager { return r.manager }

// Counter returns a hosted counter component.
func (r *Runtime) Counter(name string) (*counter.Counter, bool) {
	c, ok := r.counters[name]
	return c, ok
}

// Watcher returns a hosted watcher component.
func (r *Runtime) Watcher(name string) (*counter.Watcher, bool) {
	w, ok := r.watchers[name]
	return w, ok
}

// ClientStatus reports whether each client proxy's link is active.
func (r *Runtime) ClientStatus() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.udpClients)+len(r.natsClients))
	for name, c := range r.udpClients {
		out[name] = c.IsActive()
	}
	for name, c := range r.natsClients {
		out[name] = c.IsActive()
	}
	return out
}

func commandNames(desc iface.Description) []string {
	var out []string
	for _, kind := range command.Kinds {
		for _, info := range desc.Commands(kind) {
			out = append(out, info.Name)
		}
	}
	sort.Strings(out)
	return out
}

func eventNames(desc iface.Description) []string {
	var out []string
	for _, e := range desc.EventsVoid {
		out = append(out, e.Name)
	}
	for _, e := range desc.EventsWrite {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}
