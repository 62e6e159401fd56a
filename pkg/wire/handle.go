// Package wire holds the building blocks of the handle-addressed protocol:
// the 10-byte handle codec, the per-process handle table, packetization and
// the init data exchanged when a client first contacts a server.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/morezero/component-runtime/pkg/command"
)

// HandleSize is the encoded size of a Handle.
const HandleSize = 10

// Marker is the first byte of every encoded handle.
const Marker byte = ' '

// Handle tags. Lower-case void and write tags request a response.
const (
	TagVoid          byte = 'V'
	TagVoidBlocking  byte = 'v'
	TagWrite         byte = 'W'
	TagWriteBlocking byte = 'w'
	TagRead          byte = 'R'
	TagQualifiedRead byte = 'Q'
	TagVoidReturn    byte = 'r'
	TagWriteReturn   byte = 'q'
	TagInit          byte = 'I'
)

var (
	ErrShortMessage = errors.New("message shorter than a handle")
	ErrBadMarker    = errors.New("handle marker byte invalid")
	ErrBadTag       = errors.New("handle tag invalid")
)

// Handle names an entry of a peer's handle table: a kind tag and an index.
type Handle struct {
	Tag   byte   `json:"tag"`
	Index uint64 `json:"index"`
}

// InitHandle addresses the get-init-data operation of every server.
var InitHandle = Handle{Tag: TagInit}

// IsZero reports whether h was never assigned.
func (h Handle) IsZero() bool { return h.Tag == 0 && h.Index == 0 }

// AppendTo appends the encoded handle to b.
func (h Handle) AppendTo(b []byte) []byte {
	b = append(b, Marker, h.Tag)
	return binary.BigEndian.AppendUint64(b, h.Index)
}

// Bytes encodes h.
func (h Handle) Bytes() []byte { return h.AppendTo(make([]byte, 0, HandleSize)) }

// Blocking reports whether the tag asks for a response.
func (h Handle) Blocking() bool {
	switch h.Tag {
	case TagVoid, TagWrite:
		return false
	}
	return true
}

// WithTag returns h with another tag, as when a caller asks for the
// blocking form of a void or write handle.
func (h Handle) WithTag(tag byte) Handle {
	h.Tag = tag
	return h
}

func (h Handle) String() string {
	return fmt.Sprintf("%c:%d", h.Tag, h.Index)
}

// ParseHandle decodes the handle at the start of b.
func ParseHandle(b []byte) (Handle, error) {
	if len(b) < HandleSize {
		return Handle{}, ErrShortMessage
	}
	if b[0] != Marker {
		return Handle{}, ErrBadMarker
	}
	h := Handle{Tag: b[1], Index: binary.BigEndian.Uint64(b[2:HandleSize])}
	if !validTag(h.Tag) {
		return Handle{}, fmt.Errorf("%w: %q", ErrBadTag, h.Tag)
	}
	return h, nil
}

func validTag(tag byte) bool {
	switch tag {
	case TagVoid, TagVoidBlocking, TagWrite, TagWriteBlocking, TagRead,
		TagQualifiedRead, TagVoidReturn, TagWriteReturn, TagInit:
		return true
	}
	return false
}

// BaseTag folds blocking variants onto their non-blocking tag.
func BaseTag(tag byte) byte {
	switch tag {
	case TagVoidBlocking:
		return TagVoid
	case TagWriteBlocking:
		return TagWrite
	}
	return tag
}

// TagFor returns the tag addressing a command of the given kind.
func TagFor(kind command.Kind, blocking bool) byte {
	switch kind {
	case command.KindVoid:
		if blocking {
			return TagVoidBlocking
		}
		return TagVoid
	case command.KindWrite:
		if blocking {
			return TagWriteBlocking
		}
		return TagWrite
	case command.KindRead:
		return TagRead
	case command.KindQualifiedRead:
		return TagQualifiedRead
	case command.KindVoidReturn:
		return TagVoidReturn
	case command.KindWriteReturn:
		return TagWriteReturn
	}
	return 0
}

// KindOf maps a tag to the command kind it addresses.
func KindOf(tag byte) (command.Kind, bool) {
	switch BaseTag(tag) {
	case TagVoid:
		return command.KindVoid, true
	case TagWrite:
		return command.KindWrite, true
	case TagRead:
		return command.KindRead, true
	case TagQualifiedRead:
		return command.KindQualifiedRead, true
	case TagVoidReturn:
		return command.KindVoidReturn, true
	case TagWriteReturn:
		return command.KindWriteReturn, true
	}
	return 0, false
}

// EncodeEventRequest builds the payload of EventEnable and EventDisable:
// the receiver handle followed by the event name.
func EncodeEventRequest(receiver Handle, event string) string {
	return string(receiver.AppendTo(nil)) + event
}

// DecodeEventRequest splits an EventEnable or EventDisable payload.
func DecodeEventRequest(s string) (Handle, string, error) {
	h, err := ParseHandle([]byte(s))
	if err != nil {
		return Handle{}, "", err
	}
	if BaseTag(h.Tag) != TagVoid && BaseTag(h.Tag) != TagWrite {
		return Handle{}, "", fmt.Errorf("%w: event receiver %q", ErrBadTag, h.Tag)
	}
	return h, s[HandleSize:], nil
}
