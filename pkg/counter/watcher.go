package counter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/component"
	"github.com/morezero/component-runtime/pkg/iface"
)

const watcherLogPrefix = "counter:watcher"

// Watcher requires the counter interface and records its events. It is
// the client half of the demonstration.
type Watcher struct {
	comp     *component.Component
	required *iface.Required

	SetValue  *iface.FunctionWrite
	GetValue  *iface.FunctionRead
	Increment *iface.FunctionVoidReturn
	Add       *iface.FunctionWriteReturn
	Times     *iface.FunctionQualifiedRead
	Reset     *iface.FunctionVoid

	mu     sync.Mutex
	values []int
	resets int
}

// NewWatcher creates the component. Events are handled on its goroutine
// when eventQueue is above zero and on the delivering goroutine otherwise.
func NewWatcher(name string, eventQueue int) (*Watcher, error) {
	w := &Watcher{comp: component.New(name)}
	r, err := w.comp.AddInterfaceRequired(InterfaceName, eventQueue)
	if err != nil {
		return nil, err
	}
	w.required = r

	if w.SetValue, err = r.AddFunctionWrite(CmdSetValue); err != nil {
		return nil, err
	}
	if w.GetValue, err = r.AddFunctionRead(CmdGetValue); err != nil {
		return nil, err
	}
	if w.Increment, err = r.AddFunctionVoidReturn(CmdIncrement); err != nil {
		return nil, err
	}
	if w.Add, err = r.AddFunctionWriteReturn(CmdAdd); err != nil {
		return nil, err
	}
	if w.Times, err = r.AddFunctionQualifiedRead(CmdTimes); err != nil {
		return nil, err
	}
	if w.Reset, err = r.AddFunctionVoid(CmdReset); err != nil {
		return nil, err
	}

	if _, err := iface.AddEventHandlerWrite(r, EvtValueChanged, w.onChanged); err != nil {
		return nil, err
	}
	if _, err := r.AddEventHandlerVoid(EvtWasReset, w.onReset); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Component() *component.Component { return w.comp }
func (w *Watcher) Required() *iface.Required        { return w.required }

func (w *Watcher) onChanged(v int) {
	w.mu.Lock()
	w.values = append(w.values, v)
	w.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - %s: value changed to %d", watcherLogPrefix, w.comp.Name(), v))
}

func (w *Watcher) onReset() {
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()
}

// Values returns the values reported by ValueChanged so far.
func (w *Watcher) Values() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.values...)
}

// Resets counts WasReset events.
func (w *Watcher) Resets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}

// Get reads the counter through the connection.
func (w *Watcher) Get() (int, command.Result) {
	var v int
	res := w.GetValue.Execute(&v)
	return v, res
}
