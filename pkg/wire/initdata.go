package wire

import (
	"fmt"
	"log/slog"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/semver"
	"github.com/morezero/component-runtime/pkg/serial"
)

const initLogPrefix = "wire:initdata"

// ProtocolVersion is the version of the handle-addressed protocol spoken by
// this package. Peers sharing the major version interoperate.
const ProtocolVersion = "1.0.0"

// Registered names of the wire types.
const (
	InitDataTypeName = "wire.InitData"
	HandleTypeName   = "wire.Handle"
)

// Names of the control operations every server exposes.
const (
	GetInterfaceDescription = "GetInterfaceDescription"
	GetHandleVoid           = "GetHandleVoid"
	GetHandleWrite          = "GetHandleWrite"
	GetHandleRead           = "GetHandleRead"
	GetHandleQualifiedRead  = "GetHandleQualifiedRead"
	GetHandleVoidReturn     = "GetHandleVoidReturn"
	GetHandleWriteReturn    = "GetHandleWriteReturn"
	EventEnable             = "EventEnable"
	EventDisable            = "EventDisable"
	// KeepAlive does nothing; a client sends it so the server keeps its
	// session while no other traffic flows.
	KeepAlive = "KeepAlive"
)

// InitData is the answer to GetInitData: the server's protocol version and
// packet size plus the handles of its control operations.
type InitData struct {
	ProtocolVersion         string `json:"protocolVersion"`
	PacketSize              int    `json:"packetSize"`
	GetInterfaceDescription Handle `json:"getInterfaceDescription"`
	GetHandleVoid           Handle `json:"getHandleVoid"`
	GetHandleWrite          Handle `json:"getHandleWrite"`
	GetHandleRead           Handle `json:"getHandleRead"`
	GetHandleQualifiedRead  Handle `json:"getHandleQualifiedRead"`
	GetHandleVoidReturn     Handle `json:"getHandleVoidReturn"`
	GetHandleWriteReturn    Handle `json:"getHandleWriteReturn"`
	EventEnable             Handle `json:"eventEnable"`
	EventDisable            Handle `json:"eventDisable"`
	KeepAlive               Handle `json:"keepAlive,omitempty"`
}

// GetHandle returns the handle of the GetHandle operation for kind.
func (d *InitData) GetHandle(kind command.Kind) Handle {
	switch kind {
	case command.KindVoid:
		return d.GetHandleVoid
	case command.KindWrite:
		return d.GetHandleWrite
	case command.KindRead:
		return d.GetHandleRead
	case command.KindQualifiedRead:
		return d.GetHandleQualifiedRead
	case command.KindVoidReturn:
		return d.GetHandleVoidReturn
	case command.KindWriteReturn:
		return d.GetHandleWriteReturn
	}
	return Handle{}
}

// SetControl stores the handle of a control operation by name.
func (d *InitData) SetControl(name string, h Handle) {
	switch name {
	case GetInterfaceDescription:
		d.GetInterfaceDescription = h
	case GetHandleVoid:
		d.GetHandleVoid = h
	case GetHandleWrite:
		d.GetHandleWrite = h
	case GetHandleRead:
		d.GetHandleRead = h
	case GetHandleQualifiedRead:
		d.GetHandleQualifiedRead = h
	case GetHandleVoidReturn:
		d.GetHandleVoidReturn = h
	case GetHandleWriteReturn:
		d.GetHandleWriteReturn = h
	case EventEnable:
		d.EventEnable = h
	case EventDisable:
		d.EventDisable = h
	case KeepAlive:
		d.KeepAlive = h
	}
}

// GetHandleName is the control operation resolving commands of kind.
func GetHandleName(kind command.Kind) string {
	return "GetHandle" + kind.String()
}

// Check compares the server's data with what the client speaks. A
// mismatch is logged and the connection proceeds; it returns false when
// anything differed.
func (d *InitData) Check(packetSize int) bool {
	ok := true
	compatible, err := semver.Compatible(ProtocolVersion, d.ProtocolVersion)
	if err != nil || !compatible {
		slog.Warn(fmt.Sprintf("%s - server protocol %q, client protocol %q (err=%v)", initLogPrefix, d.ProtocolVersion, ProtocolVersion, err))
		ok = false
	}
	if d.PacketSize != packetSize {
		slog.Warn(fmt.Sprintf("%s - server packet size %d, client packet size %d", initLogPrefix, d.PacketSize, packetSize))
		ok = false
	}
	return ok
}

// RegisterTypes adds the wire types to r.
func RegisterTypes(r *serial.Registry) error {
	if err := serial.RegisterType[InitData](r, InitDataTypeName); err != nil {
		return err
	}
	return serial.RegisterType[Handle](r, HandleTypeName)
}
