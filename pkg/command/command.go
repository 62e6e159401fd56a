package command

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
)

const logPrefix = "command:command"

// Finished receives the outcome of a deferred execution. out is the output
// object for kinds that return a value and nil otherwise.
type Finished func(res Result, out any)

// Command is the behaviour shared by every kind.
type Command interface {
	Name() string
	Kind() Kind
	Enable()
	Disable()
	IsEnabled() bool
	NumberOfArguments() int
	Returns() bool
	String() string
}

// Void takes no argument.
type Void interface {
	Command
	Execute(mode Mode, finished Finished) Result
}

// Write consumes one argument.
type Write interface {
	Command
	Execute(arg any, mode Mode, finished Finished) Result
	ArgumentPrototype() any
}

// Read fills one output argument.
type Read interface {
	Command
	Execute(out any, finished Finished) Result
	ArgumentPrototype() any
}

// QualifiedRead fills an output argument computed from an input argument.
type QualifiedRead interface {
	Command
	Execute(in, out any, finished Finished) Result
	Argument1Prototype() any
	Argument2Prototype() any
}

// VoidReturn runs without input and produces a result.
type VoidReturn interface {
	Command
	Execute(ret any, finished Finished) Result
	ResultPrototype() any
}

// WriteReturn consumes one argument and produces a result.
type WriteReturn interface {
	Command
	Execute(in, ret any, finished Finished) Result
	ArgumentPrototype() any
	ResultPrototype() any
}

// Base carries the name, kind and enabled flag. Commands start enabled.
// Embed it and call Init before use.
type Base struct {
	name     string
	kind     Kind
	disabled atomic.Bool
}

// Init sets the immutable name and kind.
func (b *Base) Init(name string, kind Kind) {
	b.name = name
	b.kind = kind
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Kind() Kind             { return b.kind }
func (b *Base) Enable()                { b.disabled.Store(false) }
func (b *Base) Disable()               { b.disabled.Store(true) }
func (b *Base) IsEnabled() bool        { return !b.disabled.Load() }
func (b *Base) NumberOfArguments() int { return b.kind.NumberOfArguments() }
func (b *Base) Returns() bool          { return b.kind.Returns() }

func (b *Base) String() string {
	state := "enabled"
	if !b.IsEnabled() {
		state = "disabled"
	}
	return fmt.Sprintf("%s %q (%d arguments, %s)", b.kind, b.name, b.NumberOfArguments(), state)
}

// Cloner is implemented by argument types that need a deep copy before
// they are stored in a mailbox.
type Cloner interface {
	Clone() any
}

// CopyArgument returns a copy of arg suitable for deferred execution. Types
// implementing Cloner are cloned, pointers are copied one level deep and
// plain values are returned as is.
func CopyArgument(arg any) any {
	if arg == nil {
		return nil
	}
	if c, ok := arg.(Cloner); ok {
		return c.Clone()
	}
	v := reflect.ValueOf(arg)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		cp := reflect.New(v.Elem().Type())
		cp.Elem().Set(v.Elem())
		return cp.Interface()
	}
	return arg
}

// SameType reports whether arg holds the type of proto, ignoring one level
// of pointer indirection on either side.
func SameType(arg, proto any) bool {
	if arg == nil || proto == nil {
		return false
	}
	return elemType(reflect.TypeOf(arg)) == elemType(reflect.TypeOf(proto))
}

func elemType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func valueOf[T any](arg any) (T, bool) {
	switch v := arg.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

func outputOf[T any](out any) (*T, bool) {
	p, ok := out.(*T)
	return p, ok && p != nil
}

func prototype[T any]() func() any {
	return func() any { return new(T) }
}

// guard runs fn and converts a panic into MethodFailed.
func guard(name string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - command %q panicked: %v", logPrefix, name, r))
			res = MethodFailed
		}
	}()
	return fn()
}
