package iface

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
)

const connectLogPrefix = "iface:connect"

// Connection is an active binding of a required interface to a provided one.
type Connection struct {
	required *Required
	provided *Provided

	mu     sync.Mutex
	active bool
}

func (c *Connection) Required() *Required { return c.required }
func (c *Connection) Provided() *Provided { return c.provided }

// Connect binds every function of req to the provided command of the same
// name and kind and subscribes every event handler. Nothing is bound when
// any name is missing or has the wrong kind.
func Connect(req *Required, prov *Provided) (*Connection, error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.conn != nil {
		return nil, fmt.Errorf("%s - %q: %w", connectLogPrefix, req.name, ErrAlreadyConnected)
	}

	var errs []error
	targets := make(map[string]command.Command, len(req.functions))
	for name, f := range req.functions {
		cmd, ok := prov.Command(name)
		if !ok {
			errs = append(errs, fmt.Errorf("function %q: %w", name, ErrNotFound))
			continue
		}
		if cmd.Kind() != f.Kind() {
			errs = append(errs, fmt.Errorf("function %q is %s, provided %s: %w", name, f.Kind(), cmd.Kind(), ErrKindMismatch))
			continue
		}
		targets[name] = cmd
	}
	for event, h := range req.handlers {
		ev, ok := prov.Event(event)
		if !ok {
			errs = append(errs, fmt.Errorf("event %q: %w", event, ErrNotFound))
			continue
		}
		if ev.Kind() != h.Kind() {
			errs = append(errs, fmt.Errorf("event %q is %s, handler %s: %w", event, ev.Kind(), h.Kind(), ErrKindMismatch))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s - connect %q to %q: %w", connectLogPrefix, req.name, prov.name, errors.Join(errs...))
	}

	for name, f := range req.functions {
		if err := f.Bind(targets[name]); err != nil {
			unbindAll(req)
			return nil, fmt.Errorf("%s - connect %q to %q: %w", connectLogPrefix, req.name, prov.name, err)
		}
	}
	subscribed := make(map[string]command.Command, len(req.handlers))
	for event, h := range req.handlers {
		if err := addObserver(prov, event, h); err != nil {
			removeObservers(prov, subscribed)
			unbindAll(req)
			return nil, fmt.Errorf("%s - connect %q to %q: %w", connectLogPrefix, req.name, prov.name, err)
		}
		subscribed[event] = h
	}

	conn := &Connection{required: req, provided: prov, active: true}
	req.conn = conn
	slog.Debug(fmt.Sprintf("%s - connected %q to %q", connectLogPrefix, req.name, prov.name))
	return conn, nil
}

func addObserver(prov *Provided, event string, h command.Command) error {
	switch handler := h.(type) {
	case command.Void:
		return prov.AddObserverVoid(event, handler)
	case command.Write:
		return prov.AddObserverWrite(event, handler)
	default:
		return fmt.Errorf("handler %s for event %q cannot observe: %w", h, event, ErrKindMismatch)
	}
}

func removeObservers(prov *Provided, handlers map[string]command.Command) {
	for event, h := range handlers {
		switch handler := h.(type) {
		case command.Void:
			prov.RemoveObserverVoid(event, handler)
		case command.Write:
			prov.RemoveObserverWrite(event, handler)
		}
	}
}

func unbindAll(req *Required) {
	for _, f := range req.functions {
		f.Unbind()
	}
}

// Disconnect unbinds the functions and unsubscribes the handlers. Both
// interfaces stay usable; calls through the required side return
// FunctionNotBound until the next Connect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.mu.Unlock()

	req := c.required
	req.mu.Lock()
	defer req.mu.Unlock()
	unbindAll(req)
	removeObservers(c.provided, req.handlers)
	if req.conn == c {
		req.conn = nil
	}
	slog.Debug(fmt.Sprintf("%s - disconnected %q from %q", connectLogPrefix, req.name, c.provided.name))
}

// IsActive reports whether Disconnect has not been called yet.
func (c *Connection) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
