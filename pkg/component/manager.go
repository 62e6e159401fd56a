package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/component-runtime/pkg/iface"
)

const managerLogPrefix = "component:manager"

var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrUnknownInterface = errors.New("unknown interface")
	ErrDuplicate        = errors.New("component name already used")
)

type connectionKey struct {
	component string
	required  string
}

// Manager is the local component manager of one process: it owns the
// components, connects their interfaces by name and runs their goroutines.
type Manager struct {
	process string

	mu          sync.Mutex
	components  map[string]*Component
	connections map[connectionKey]*iface.Connection

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager for the named process.
func NewManager(process string) *Manager {
	return &Manager{
		process:     process,
		components:  make(map[string]*Component),
		connections: make(map[connectionKey]*iface.Connection),
	}
}

func (m *Manager) Process() string { return m.process }

// AddComponent registers c; a running manager starts it immediately.
func (m *Manager) AddComponent(c *Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.components[c.Name()]; dup {
		return fmt.Errorf("%s - %q: %w", managerLogPrefix, c.Name(), ErrDuplicate)
	}
	m.components[c.Name()] = c
	if m.group != nil {
		m.group.Go(func() error { return c.Run(m.gctx) })
	}
	return nil
}

func (m *Manager) Component(name string) (*Component, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[name]
	return c, ok
}

// ComponentNames lists the components, sorted.
func (m *Manager) ComponentNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.components))
	for name := range m.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Connect binds client.required to server.provided. The client gets its
// own instance of the provided interface so that its calls are queued
// separately from other clients.
func (m *Manager) Connect(client, required, server, provided string) (*iface.Connection, error) {
	clientComp, ok := m.Component(client)
	if !ok {
		return nil, fmt.Errorf("%s - client %q: %w", managerLogPrefix, client, ErrUnknownComponent)
	}
	serverComp, ok := m.Component(server)
	if !ok {
		return nil, fmt.Errorf("%s - server %q: %w", managerLogPrefix, server, ErrUnknownComponent)
	}
	req, ok := clientComp.InterfaceRequired(required)
	if !ok {
		return nil, fmt.Errorf("%s - %s.%s: %w", managerLogPrefix, client, required, ErrUnknownInterface)
	}
	prov, ok := serverComp.InterfaceProvided(provided)
	if !ok {
		return nil, fmt.Errorf("%s - %s.%s: %w", managerLogPrefix, server, provided, ErrUnknownInterface)
	}

	user := client + "." + required
	conn, err := iface.Connect(req, prov.Clone(user, 0))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.connections[connectionKey{client, required}] = conn
	m.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - connected %s.%s -> %s.%s", managerLogPrefix, client, required, server, provided))
	return conn, nil
}

// Disconnect tears down the connection of client.required.
func (m *Manager) Disconnect(client, required string) error {
	key := connectionKey{client, required}
	m.mu.Lock()
	conn, ok := m.connections[key]
	delete(m.connections, key)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s - %s.%s not connected: %w", managerLogPrefix, client, required, ErrUnknownInterface)
	}
	conn.Disconnect()
	conn.Provided().RemoveClone(client + "." + required)
	slog.Info(fmt.Sprintf("%s - disconnected %s.%s", managerLogPrefix, client, required))
	return nil
}

// Start runs every component on its own goroutine until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, m.gctx = errgroup.WithContext(ctx)
	for _, c := range m.components {
		c := c
		m.group.Go(func() error { return c.Run(m.gctx) })
	}
	slog.Info(fmt.Sprintf("%s - %s started %d components", managerLogPrefix, m.process, len(m.components)))
}

// Stop cancels the components and waits for them to return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	group, cancel := m.group, m.cancel
	m.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	return group.Wait()
}
