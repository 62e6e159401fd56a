package proxy

import (
	"fmt"
	"log/slog"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/iface"
	"github.com/morezero/component-runtime/pkg/serial"
)

const functionLogPrefix = "proxy:function"

// FunctionProxy is a required-interface function driven by a transport.
// ExecuteSerialized decodes the input argument from data with the
// serializer of the calling peer and calls the bound command. blocking
// selects the completion path of void and write commands: without it the
// call is posted and nothing is reported. For deferred commands the result
// is Queued and finished fires later; otherwise the result and output are
// returned directly and finished is not called.
type FunctionProxy interface {
	iface.Function
	ExecuteSerialized(ser *serial.Serializer, data []byte, blocking bool, finished command.Finished) (command.Result, any)
}

func decodeArgument(fn string, proto *Prototype, ser *serial.Serializer, data []byte) (any, command.Result) {
	arg, ok := proto.New()
	if !ok {
		slog.Error(fmt.Sprintf("%s - %s: cannot construct argument of type %q", functionLogPrefix, fn, proto.TypeName()))
		_ = ser.Discard(data)
		return nil, command.ArgumentDynamicCreationFailed
	}
	if err := ser.Deserialize(data, arg); err != nil {
		slog.Error(fmt.Sprintf("%s - %s: %v", functionLogPrefix, fn, err))
		return nil, command.DeserializationError
	}
	return arg, command.Succeeded
}

func newOutput(fn string, proto *Prototype) (any, command.Result) {
	out, ok := proto.New()
	if !ok {
		slog.Error(fmt.Sprintf("%s - %s: cannot construct result of type %q", functionLogPrefix, fn, proto.TypeName()))
		return nil, command.ArgumentDynamicCreationFailed
	}
	return out, command.Succeeded
}

type VoidFunctionProxy struct{ *iface.FunctionVoid }

func NewVoidFunctionProxy(name string) *VoidFunctionProxy {
	return &VoidFunctionProxy{iface.NewFunctionVoid(name)}
}

func (f *VoidFunctionProxy) ExecuteSerialized(_ *serial.Serializer, _ []byte, blocking bool, finished command.Finished) (command.Result, any) {
	if !blocking {
		return f.Execute(), nil
	}
	return f.ExecuteAsync(finished), nil
}

type WriteFunctionProxy struct {
	*iface.FunctionWrite
	arg *Prototype
}

func NewWriteFunctionProxy(name string, arg *Prototype) *WriteFunctionProxy {
	return &WriteFunctionProxy{FunctionWrite: iface.NewFunctionWrite(name), arg: arg}
}

func (f *WriteFunctionProxy) ExecuteSerialized(ser *serial.Serializer, data []byte, blocking bool, finished command.Finished) (command.Result, any) {
	arg, res := decodeArgument(f.Name(), f.arg, ser, data)
	if res != command.Succeeded {
		return res, nil
	}
	if !blocking {
		return f.Execute(arg), nil
	}
	return f.ExecuteAsync(arg, finished), nil
}

type ReadFunctionProxy struct {
	*iface.FunctionRead
	result *Prototype
}

func NewReadFunctionProxy(name string, result *Prototype) *ReadFunctionProxy {
	return &ReadFunctionProxy{FunctionRead: iface.NewFunctionRead(name), result: result}
}

func (f *ReadFunctionProxy) ExecuteSerialized(_ *serial.Serializer, _ []byte, _ bool, _ command.Finished) (command.Result, any) {
	out, res := newOutput(f.Name(), f.result)
	if res != command.Succeeded {
		return res, nil
	}
	return f.Execute(out), out
}

type QualifiedReadFunctionProxy struct {
	*iface.FunctionQualifiedRead
	arg, result *Prototype
}

func NewQualifiedReadFunctionProxy(name string, arg, result *Prototype) *QualifiedReadFunctionProxy {
	return &QualifiedReadFunctionProxy{FunctionQualifiedRead: iface.NewFunctionQualifiedRead(name), arg: arg, result: result}
}

func (f *QualifiedReadFunctionProxy) ExecuteSerialized(ser *serial.Serializer, data []byte, _ bool, _ command.Finished) (command.Result, any) {
	in, res := decodeArgument(f.Name(), f.arg, ser, data)
	if res != command.Succeeded {
		return res, nil
	}
	out, res := newOutput(f.Name(), f.result)
	if res != command.Succeeded {
		return res, nil
	}
	return f.Execute(in, out), out
}

type VoidReturnFunctionProxy struct {
	*iface.FunctionVoidReturn
	result *Prototype
}

func NewVoidReturnFunctionProxy(name string, result *Prototype) *VoidReturnFunctionProxy {
	return &VoidReturnFunctionProxy{FunctionVoidReturn: iface.NewFunctionVoidReturn(name), result: result}
}

func (f *VoidReturnFunctionProxy) ExecuteSerialized(_ *serial.Serializer, _ []byte, _ bool, finished command.Finished) (command.Result, any) {
	ret, res := newOutput(f.Name(), f.result)
	if res != command.Succeeded {
		return res, nil
	}
	return f.ExecuteAsync(ret, finished), ret
}

type WriteReturnFunctionProxy struct {
	*iface.FunctionWriteReturn
	arg, result *Prototype
}

func NewWriteReturnFunctionProxy(name string, arg, result *Prototype) *WriteReturnFunctionProxy {
	return &WriteReturnFunctionProxy{FunctionWriteReturn: iface.NewFunctionWriteReturn(name), arg: arg, result: result}
}

func (f *WriteReturnFunctionProxy) ExecuteSerialized(ser *serial.Serializer, data []byte, _ bool, finished command.Finished) (command.Result, any) {
	in, res := decodeArgument(f.Name(), f.arg, ser, data)
	if res != command.Succeeded {
		return res, nil
	}
	ret, res := newOutput(f.Name(), f.result)
	if res != command.Succeeded {
		return res, nil
	}
	return f.ExecuteAsync(in, ret, finished), ret
}
