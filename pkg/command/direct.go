package command

// Direct commands run inline on the caller's goroutine. They ignore the
// finished target: the caller sees a result other than Queued and treats
// the call as complete.

// DirectVoid calls a function without arguments.
type DirectVoid struct {
	Base
	fn func()
}

// NewVoid wraps fn as a void command.
func NewVoid(name string, fn func()) *DirectVoid {
	c := &DirectVoid{fn: fn}
	c.Init(name, KindVoid)
	return c
}

func (c *DirectVoid) Execute(_ Mode, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result {
		c.fn()
		return Succeeded
	})
}

// DirectWrite calls a function with one argument.
type DirectWrite struct {
	Base
	proto func() any
	call  func(arg any) Result
}

// NewWrite wraps fn as a write command. The argument may be passed as T or *T.
func NewWrite[T any](name string, fn func(T)) *DirectWrite {
	c := &DirectWrite{proto: prototype[T]()}
	c.Init(name, KindWrite)
	c.call = func(arg any) Result {
		v, ok := valueOf[T](arg)
		if !ok {
			return InvalidInputType
		}
		fn(v)
		return Succeeded
	}
	return c
}

// NewWriteProto wraps fn as a write command whose argument type is only
// known at run time. proto returns a new pointer to a zero argument; fn
// receives arguments already checked against it.
func NewWriteProto(name string, proto func() any, fn func(arg any)) *DirectWrite {
	c := &DirectWrite{proto: proto}
	c.Init(name, KindWrite)
	c.call = func(arg any) Result {
		if !SameType(arg, proto()) {
			return InvalidInputType
		}
		fn(arg)
		return Succeeded
	}
	return c
}

func (c *DirectWrite) ArgumentPrototype() any { return c.proto() }

func (c *DirectWrite) Execute(arg any, _ Mode, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result { return c.call(arg) })
}

// DirectRead fills the output with the function's value.
type DirectRead struct {
	Base
	proto func() any
	call  func(out any) Result
}

// NewRead wraps fn as a read command. The output must be a *T.
func NewRead[T any](name string, fn func() T) *DirectRead {
	c := &DirectRead{proto: prototype[T]()}
	c.Init(name, KindRead)
	c.call = func(out any) Result {
		p, ok := outputOf[T](out)
		if !ok {
			return InvalidInputType
		}
		*p = fn()
		return Succeeded
	}
	return c
}

func (c *DirectRead) ArgumentPrototype() any { return c.proto() }

func (c *DirectRead) Execute(out any, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result { return c.call(out) })
}

// DirectQualifiedRead computes its output from an input argument.
type DirectQualifiedRead struct {
	Base
	proto1, proto2 func() any
	call           func(in, out any) Result
}

// NewQualifiedRead wraps fn as a qualified-read command. A false second
// return value reports MethodFailed.
func NewQualifiedRead[I, O any](name string, fn func(I) (O, bool)) *DirectQualifiedRead {
	c := &DirectQualifiedRead{proto1: prototype[I](), proto2: prototype[O]()}
	c.Init(name, KindQualifiedRead)
	c.call = func(in, out any) Result {
		v, ok := valueOf[I](in)
		if !ok {
			return InvalidInputType
		}
		p, ok := outputOf[O](out)
		if !ok {
			return InvalidInputType
		}
		res, ok := fn(v)
		if !ok {
			return MethodFailed
		}
		*p = res
		return Succeeded
	}
	return c
}

func (c *DirectQualifiedRead) Argument1Prototype() any { return c.proto1() }
func (c *DirectQualifiedRead) Argument2Prototype() any { return c.proto2() }

func (c *DirectQualifiedRead) Execute(in, out any, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result { return c.call(in, out) })
}

// DirectVoidReturn produces a result without input.
type DirectVoidReturn struct {
	Base
	proto func() any
	call  func(ret any) Result
}

// NewVoidReturn wraps fn as a void-return command.
func NewVoidReturn[R any](name string, fn func() R) *DirectVoidReturn {
	c := &DirectVoidReturn{proto: prototype[R]()}
	c.Init(name, KindVoidReturn)
	c.call = func(ret any) Result {
		p, ok := outputOf[R](ret)
		if !ok {
			return InvalidInputType
		}
		*p = fn()
		return Succeeded
	}
	return c
}

func (c *DirectVoidReturn) ResultPrototype() any { return c.proto() }

func (c *DirectVoidReturn) Execute(ret any, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result { return c.call(ret) })
}

// DirectWriteReturn consumes an argument and produces a result.
type DirectWriteReturn struct {
	Base
	argProto, retProto func() any
	call               func(in, ret any) Result
}

// NewWriteReturn wraps fn as a write-return command.
func NewWriteReturn[I, R any](name string, fn func(I) R) *DirectWriteReturn {
	c := &DirectWriteReturn{argProto: prototype[I](), retProto: prototype[R]()}
	c.Init(name, KindWriteReturn)
	c.call = func(in, ret any) Result {
		v, ok := valueOf[I](in)
		if !ok {
			return InvalidInputType
		}
		p, ok := outputOf[R](ret)
		if !ok {
			return InvalidInputType
		}
		*p = fn(v)
		return Succeeded
	}
	return c
}

func (c *DirectWriteReturn) ArgumentPrototype() any { return c.argProto() }
func (c *DirectWriteReturn) ResultPrototype() any   { return c.retProto() }

func (c *DirectWriteReturn) Execute(in, ret any, _ Finished) Result {
	if !c.IsEnabled() {
		return Disabled
	}
	return guard(c.name, func() Result { return c.call(in, ret) })
}
