// Package iface models provided and required interfaces and the
// connections that bind one to the other.
package iface

import (
	"errors"

	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/serial"
)

var (
	ErrDuplicateName    = errors.New("name already used in interface")
	ErrNotFound         = errors.New("name not found in interface")
	ErrKindMismatch     = errors.New("command kind mismatch")
	ErrAlreadyConnected = errors.New("required interface already connected")
)

// DescriptionTypeName is the registered name of Description.
const DescriptionTypeName = "iface.Description"

// CommandInfo names a command and the registered names of its argument and
// result types. Unused type fields are empty.
type CommandInfo struct {
	Name         string `json:"name"`
	ArgumentType string `json:"argumentType,omitempty"`
	ResultType   string `json:"resultType,omitempty"`
}

// EventInfo names an event and, for write events, its payload type.
type EventInfo struct {
	Name         string `json:"name"`
	ArgumentType string `json:"argumentType,omitempty"`
}

// Description is everything a remote peer needs to build a proxy of a
// provided interface.
type Description struct {
	InterfaceName string        `json:"interfaceName"`
	MailboxSize   int           `json:"mailboxSize"`
	Void          []CommandInfo `json:"void,omitempty"`
	Write         []CommandInfo `json:"write,omitempty"`
	Read          []CommandInfo `json:"read,omitempty"`
	QualifiedRead []CommandInfo `json:"qualifiedRead,omitempty"`
	VoidReturn    []CommandInfo `json:"voidReturn,omitempty"`
	WriteReturn   []CommandInfo `json:"writeReturn,omitempty"`
	EventsVoid    []EventInfo   `json:"eventsVoid,omitempty"`
	EventsWrite   []EventInfo   `json:"eventsWrite,omitempty"`
}

// Commands returns the entries of one kind.
func (d *Description) Commands(kind command.Kind) []CommandInfo {
	switch kind {
	case command.KindVoid:
		return d.Void
	case command.KindWrite:
		return d.Write
	case command.KindRead:
		return d.Read
	case command.KindQualifiedRead:
		return d.QualifiedRead
	case command.KindVoidReturn:
		return d.VoidReturn
	case command.KindWriteReturn:
		return d.WriteReturn
	}
	return nil
}

func (d *Description) add(kind command.Kind, info CommandInfo) {
	switch kind {
	case command.KindVoid:
		d.Void = append(d.Void, info)
	case command.KindWrite:
		d.Write = append(d.Write, info)
	case command.KindRead:
		d.Read = append(d.Read, info)
	case command.KindQualifiedRead:
		d.QualifiedRead = append(d.QualifiedRead, info)
	case command.KindVoidReturn:
		d.VoidReturn = append(d.VoidReturn, info)
	case command.KindWriteReturn:
		d.WriteReturn = append(d.WriteReturn, info)
	}
}

// RegisterTypes adds the package's wire types to r.
func RegisterTypes(r *serial.Registry) error {
	return serial.RegisterType[Description](r, DescriptionTypeName)
}
