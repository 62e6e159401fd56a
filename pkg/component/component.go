// Package component hosts provided and required interfaces behind a single
// consumer goroutine and wires components together inside one process.
package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/mailbox"
)

const logPrefix = "component:component"

// DefaultPeriod is how long an idle component waits before polling again.
const DefaultPeriod = 5 * time.Millisecond

// DefaultMaxPerCycle bounds the entries drained from one mailbox per cycle.
const DefaultMaxPerCycle = 64

var ErrDuplicateInterface = errors.New("interface name already used in component")

// Hook runs once per cycle on the component goroutine, after the mailboxes
// were drained. Hooks are expected to return within a few milliseconds.
type Hook func(ctx context.Context)

// Component owns interfaces whose queued commands run on its goroutine.
type Component struct {
	name        string
	period      time.Duration
	maxPerCycle int
	wake        chan struct{}

	mu       sync.RWMutex
	provided  map[string]*iface.Provided
	required  map[string]*iface.Required
	mailboxes []*mailbox.Mailbox
	hooks     []Hook
}

// New creates a component with the default cycle settings.
func New(name string) *Component {
	return &Component{
		name:        name,
		period:      DefaultPeriod,
		maxPerCycle: DefaultMaxPerCycle,
		wake:        make(chan struct{}, 1),
		provided:    make(map[string]*iface.Provided),
		required:    make(map[string]*iface.Required),
	}
}

func (c *Component) Name() string { return c.name }

// SetPeriod changes the idle wait; call before Run.
func (c *Component) SetPeriod(d time.Duration) {
	if d > 0 {
		c.period = d
	}
}

// AddInterfaceProvided creates a provided interface. A mailboxSize of zero
// makes its commands run on the caller's goroutine.
func (c *Component) AddInterfaceProvided(name string, mailboxSize int) (*iface.Provided, error) {
	var mb *mailbox.Mailbox
	if mailboxSize > 0 {
		mb = mailbox.NewWithWake(c.name+"."+name, mailboxSize, c.wake)
	}
	p := iface.NewProvided(name, mb)
	if err := c.AddProvided(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddProvided attaches an interface built elsewhere, such as a proxy.
func (c *Component) AddProvided(p *iface.Provided) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.provided[p.Name()]; dup {
		return fmt.Errorf("%s - provided %q in %q: %w", logPrefix, p.Name(), c.name, ErrDuplicateInterface)
	}
	c.provided[p.Name()] = p
	return nil
}

// AddInterfaceRequired creates a required interface. With a mailboxSize
// above zero its event handlers run on the component goroutine.
func (c *Component) AddInterfaceRequired(name string, mailboxSize int) (*iface.Required, error) {
	var mb *mailbox.Mailbox
	if mailboxSize > 0 {
		mb = mailbox.NewWithWake(c.name+"."+name+".events", mailboxSize, c.wake)
	}
	r := iface.NewRequired(name, mb)
	if err := c.AddRequired(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Component) AddRequired(r *iface.Required) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.required[r.Name()]; dup {
		return fmt.Errorf("%s - required %q in %q: %w", logPrefix, r.Name(), c.name, ErrDuplicateInterface)
	}
	c.required[r.Name()] = r
	return nil
}

// RemoveProvided detaches a provided interface.
func (c *Component) RemoveProvided(name string) {
	c.mu.Lock()
	delete(c.provided, name)
	c.mu.Unlock()
}

// RemoveRequired detaches a required interface.
func (c *Component) RemoveRequired(name string) {
	c.mu.Lock()
	delete(c.required, name)
	c.mu.Unlock()
}

func (c *Component) InterfaceProvided(name string) (*iface.Provided, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.provided[name]
	return p, ok
}

func (c *Component) InterfaceRequired(name string) (*iface.Required, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.required[name]
	return r, ok
}

// ProvidedNames lists the provided interfaces, sorted.
func (c *Component) ProvidedNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.provided))
	for name := range c.provided {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RequiredNames lists the required interfaces, sorted.
func (c *Component) RequiredNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.required))
	for name := range c.required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewMailbox creates a mailbox drained by the component goroutine on every
// cycle, for work that belongs to no interface.
func (c *Component) NewMailbox(name string, capacity int) *mailbox.Mailbox {
	mb := mailbox.NewWithWake(c.name+"."+name, capacity, c.wake)
	c.mu.Lock()
	c.mailboxes = append(c.mailboxes, mb)
	c.mu.Unlock()
	return mb
}

// AddHook appends fn to the per-cycle work.
func (c *Component) AddHook(fn Hook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// RunOnce drains the mailboxes once, then runs the hooks. It returns the
// number of mailbox entries processed. Only the component goroutine calls it.
func (c *Component) RunOnce(ctx context.Context) int {
	c.mu.RLock()
	provided := make([]*iface.Provided, 0, len(c.provided))
	for _, p := range c.provided {
		provided = append(provided, p)
	}
	required := make([]*iface.Required, 0, len(c.required))
	for _, r := range c.required {
		required = append(required, r)
	}
	mailboxes := append([]*mailbox.Mailbox(nil), c.mailboxes...)
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.RUnlock()

	n := 0
	for _, p := range provided {
		n += p.ProcessMailboxes(c.maxPerCycle)
	}
	for _, r := range required {
		n += r.ProcessMailbox(c.maxPerCycle)
	}
	for _, mb := range mailboxes {
		n += mb.ProcessAll(c.maxPerCycle)
	}
	for _, h := range hooks {
		h(ctx)
	}
	return n
}

// Run cycles until ctx is done. Without hooks an idle component sleeps until
// a mailbox is signalled or the period elapses.
func (c *Component) Run(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - %s running", logPrefix, c.name))
	defer slog.Info(fmt.Sprintf("%s - %s stopped", logPrefix, c.name))

	timer := time.NewTimer(c.period)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		n := c.RunOnce(ctx)

		c.mu.RLock()
		busy := len(c.hooks) > 0
		c.mu.RUnlock()
		if busy || n > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.period)
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		case <-timer.C:
		}
	}
}
